package room

import (
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

const admissionIntervalSamples = 8

// waitingRoom is the FIFO admission queue. Positions are derived from slice
// order; the estimated wait is position times a rolling average of recent
// admission intervals. Only touched from the room loop.
type waitingRoom struct {
	entries []domain.WaitingEntry
	queued  map[string]struct{}

	intervals []time.Duration // most recent admission intervals, capped
	seed      time.Duration
	lastAdmit time.Time
}

func newWaitingRoom(seed time.Duration) *waitingRoom {
	if seed <= 0 {
		seed = 90 * time.Second
	}
	return &waitingRoom{
		queued: make(map[string]struct{}),
		seed:   seed,
	}
}

func (w *waitingRoom) avgInterval() time.Duration {
	if len(w.intervals) == 0 {
		return w.seed
	}
	var sum time.Duration
	for _, d := range w.intervals {
		sum += d
	}
	return sum / time.Duration(len(w.intervals))
}

func (w *waitingRoom) position(userID string) int {
	for i, e := range w.entries {
		if e.UserID == userID {
			return i
		}
	}
	return -1
}

// enqueue appends the user unless already queued; re-enqueue is an idempotent
// no-op that reports the current position.
func (w *waitingRoom) enqueue(e domain.WaitingEntry) (domain.EnqueueResult, bool) {
	if _, dup := w.queued[e.UserID]; dup {
		pos := w.position(e.UserID)
		return domain.EnqueueResult{Position: pos, EstimatedWait: w.estimate(pos)}, false
	}
	w.entries = append(w.entries, e)
	w.queued[e.UserID] = struct{}{}
	pos := len(w.entries) - 1
	return domain.EnqueueResult{Position: pos, EstimatedWait: w.estimate(pos)}, true
}

func (w *waitingRoom) estimate(pos int) time.Duration {
	if pos < 0 {
		return 0
	}
	return time.Duration(pos) * w.avgInterval()
}

func (w *waitingRoom) isQueued(userID string) bool {
	_, ok := w.queued[userID]
	return ok
}

// remove takes the user out of the queue and returns the views of every entry
// whose position shifted down, so callers can notify only the affected users.
func (w *waitingRoom) remove(userID string) (removed domain.WaitingEntry, affected []domain.WaitingView, ok bool) {
	idx := w.position(userID)
	if idx < 0 {
		return domain.WaitingEntry{}, nil, false
	}
	removed = w.entries[idx]
	w.entries = append(w.entries[:idx], w.entries[idx+1:]...)
	delete(w.queued, userID)

	for i := idx; i < len(w.entries); i++ {
		affected = append(affected, w.viewAt(i))
	}
	return removed, affected, true
}

// admit removes the entry and feeds the admission interval into the rolling
// average used for wait estimates.
func (w *waitingRoom) admit(userID string, now time.Time) (domain.WaitingEntry, []domain.WaitingView, bool) {
	removed, affected, ok := w.remove(userID)
	if !ok {
		return domain.WaitingEntry{}, nil, false
	}
	if !w.lastAdmit.IsZero() {
		w.intervals = append(w.intervals, now.Sub(w.lastAdmit))
		if len(w.intervals) > admissionIntervalSamples {
			w.intervals = w.intervals[len(w.intervals)-admissionIntervalSamples:]
		}
	}
	w.lastAdmit = now
	return removed, affected, true
}

func (w *waitingRoom) viewAt(i int) domain.WaitingView {
	e := w.entries[i]
	return domain.WaitingView{
		UserID:        e.UserID,
		DisplayName:   e.DisplayName,
		Position:      i,
		EstimatedWait: w.estimate(i),
		EnqueuedAt:    e.EnqueuedAt,
	}
}

func (w *waitingRoom) list() []domain.WaitingView {
	out := make([]domain.WaitingView, 0, len(w.entries))
	for i := range w.entries {
		out = append(out, w.viewAt(i))
	}
	return out
}
