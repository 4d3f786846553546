package room

import (
	"sort"

	"github.com/clinicore/session-coordinator/internal/domain"
)

type orderMode int

const (
	orderArrival   orderMode = iota // server sequence, arrival order
	orderStartTime                  // author-supplied audio offset
)

// logChannel is the generic append-only, deduplicated, bounded event log
// behind the chat, annotation and transcription channels. Only touched from
// the room loop.
type logChannel struct {
	name domain.Channel
	mode orderMode
	cap  int

	seq     uint64
	entries []domain.LogEntry
	seen    map[string]struct{}

	// high-water marks of what eviction has discarded, so backfill can say
	// whether it reaches back far enough.
	evictedSeq     uint64
	evictedStartMs int64
	evictedAny     bool
}

func newLogChannel(name domain.Channel, mode orderMode, capacity int) *logChannel {
	if capacity <= 0 {
		capacity = 500
	}
	return &logChannel{
		name: name,
		mode: mode,
		cap:  capacity,
		seen: make(map[string]struct{}),
	}
}

// append stores the entry unless its ID was already accepted. Entries beyond
// the retained window evict the oldest; the dedup set is trimmed with them,
// so idempotency holds within the window, which is all reconnecting clients
// can catch up on anyway.
func (l *logChannel) append(e domain.LogEntry) (domain.LogEntry, bool) {
	if _, dup := l.seen[e.ID]; dup {
		if stored, ok := l.byID(e.ID); ok {
			return stored, false
		}
		return e, false
	}

	l.seq++
	e.Seq = l.seq
	l.seen[e.ID] = struct{}{}

	switch l.mode {
	case orderStartTime:
		// Segments may arrive slightly out of recording order; insert at the
		// sorted position, stable on equal offsets.
		idx := sort.Search(len(l.entries), func(i int) bool {
			return l.entries[i].StartMs > e.StartMs
		})
		l.entries = append(l.entries, domain.LogEntry{})
		copy(l.entries[idx+1:], l.entries[idx:])
		l.entries[idx] = e
	default:
		l.entries = append(l.entries, e)
	}

	if len(l.entries) > l.cap {
		old := l.entries[0]
		l.entries = l.entries[1:]
		delete(l.seen, old.ID)
		l.evictedAny = true
		if old.Seq > l.evictedSeq {
			l.evictedSeq = old.Seq
		}
		if old.StartMs > l.evictedStartMs {
			l.evictedStartMs = old.StartMs
		}
	}
	return e, true
}

func (l *logChannel) byID(entryID string) (domain.LogEntry, bool) {
	for _, e := range l.entries {
		if e.ID == entryID {
			return e, true
		}
	}
	return domain.LogEntry{}, false
}

// delete removes the entry by ID. Receivers are told to remove by ID as well,
// since positions are not stable once eviction has happened.
func (l *logChannel) delete(entryID string) bool {
	for i, e := range l.entries {
		if e.ID == entryID {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			delete(l.seen, entryID)
			return true
		}
	}
	return false
}

// backfillSeq returns entries with Seq > since in stored order. complete is
// false when eviction has discarded part of the requested range; the caller
// must then fall back to the durable store for full history.
func (l *logChannel) backfillSeq(since uint64) (out []domain.LogEntry, complete bool) {
	complete = since >= l.evictedSeq
	for _, e := range l.entries {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out, complete
}

// backfillStart is the transcription variant: entries with StartMs > since,
// already in StartMs order.
func (l *logChannel) backfillStart(sinceMs int64) (out []domain.LogEntry, complete bool) {
	complete = !l.evictedAny || sinceMs >= l.evictedStartMs
	for _, e := range l.entries {
		if e.StartMs > sinceMs {
			out = append(out, e)
		}
	}
	return out, complete
}

func (l *logChannel) snapshot() []domain.LogEntry {
	out := make([]domain.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
