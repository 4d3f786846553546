package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// Registry owns the lifecycle of every live room: lazy creation on first use,
// grace-delayed destruction once the last subscriber is gone, and flushing
// transcripts to the Clinical Records Store on the way out. At most one live
// Room exists per room ID; operations on a destroyed ID transparently get a
// fresh one.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*roomHandle

	opts    Options
	records RecordsStore
	relay   RelayClient
	tokens  TokenIssuer
}

type roomHandle struct {
	room  *Room
	timer *time.Timer // armed grace-destroy, nil while subscribed
	gen   uint64      // bumps on every arm, so a stale timer can tell
}

func NewRegistry(opts Options, records RecordsStore, relay RelayClient, tokens TokenIssuer) *Registry {
	return &Registry{
		rooms:   make(map[string]*roomHandle),
		opts:    opts.withDefaults(),
		records: records,
		relay:   relay,
		tokens:  tokens,
	}
}

// Get returns the live room for the ID, creating it if needed.
func (g *Registry) Get(roomID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getLocked(roomID)
}

func (g *Registry) getLocked(roomID string) *Room {
	if h, ok := g.rooms[roomID]; ok {
		return h.room
	}
	r := newRoom(roomID, g.opts, g.records, g.relay, g.tokens, g.roomIdle)
	g.rooms[roomID] = &roomHandle{room: r}
	slog.Info("room created", "room", roomID)
	return r
}

// Subscribe attaches a session to the room, creating the room on first use
// and cancelling any pending grace-destroy.
func (g *Registry) Subscribe(ctx context.Context, roomID string, sess Session, since uint64) (*Subscription, error) {
	g.mu.Lock()
	r := g.getLocked(roomID)
	if h := g.rooms[roomID]; h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	g.mu.Unlock()

	sub, err := r.Subscribe(ctx, sess, since)
	if err == domain.ErrRoomClosed {
		// Lost the race against a firing grace timer; the next lookup gets a
		// fresh room.
		g.mu.Lock()
		if h, ok := g.rooms[roomID]; ok && h.room == r {
			delete(g.rooms, roomID)
		}
		r = g.getLocked(roomID)
		g.mu.Unlock()
		return r.Subscribe(ctx, sess, since)
	}
	return sub, err
}

// roomIdle runs (indirectly) from the room loop when the subscriber count
// hits zero; it arms the grace-destroy timer without blocking the loop.
func (g *Registry) roomIdle(r *Room) {
	go func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		h, ok := g.rooms[r.id]
		if !ok || h.room != r || h.timer != nil {
			return
		}
		h.gen++
		gen := h.gen
		h.timer = time.AfterFunc(g.opts.GracePeriod, func() {
			g.destroyIfIdle(r, gen)
		})
		slog.Debug("room idle, destroy armed", "room", r.id, "grace", g.opts.GracePeriod)
	}()
}

// destroyIfIdle runs when a grace timer fires. A subscriber can attach after
// the timer was armed (Subscribe found no timer to cancel because the arming
// goroutine had not taken the lock yet), so the room is checked for life one
// more time before teardown; a live subscriber aborts the destroy and the
// handle goes back into the map.
func (g *Registry) destroyIfIdle(r *Room, gen uint64) {
	g.mu.Lock()
	h, ok := g.rooms[r.id]
	if !ok || h.room != r || h.timer == nil || h.gen != gen {
		g.mu.Unlock()
		return
	}
	delete(g.rooms, r.id)
	g.mu.Unlock()

	if n, err := r.subscriberCount(); err == nil && n > 0 {
		g.mu.Lock()
		if _, taken := g.rooms[r.id]; !taken {
			h.timer = nil
			g.rooms[r.id] = h
			g.mu.Unlock()
			slog.Debug("room destroy aborted, live subscriber", "room", r.id, "count", n)
			// A leave while the handle was out of the map could not arm a
			// new timer; re-arm here if the room went empty again.
			if n, err := r.subscriberCount(); err == nil && n == 0 {
				g.roomIdle(r)
			}
			return
		}
		// A fresh room already took the ID; tear the unlinked one down.
		g.mu.Unlock()
		slog.Warn("room destroyed with late subscribers", "room", r.id, "count", n)
	}

	ts, err := r.collectTeardown()
	if err != nil {
		slog.Warn("room teardown collect failed", "room", r.id, "err", err)
		r.stop()
		return
	}
	r.stop()
	slog.Info("room destroyed", "room", r.id)

	go g.flush(r.id, ts)
}

// flush hands the dead room's transcripts and recording metadata to the
// Clinical Records Store. Best-effort: the store wrapper retries, and a final
// failure is logged, never raised.
func (g *Registry) flush(roomID string, ts teardownState) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(ts.chat) > 0 {
		if err := g.records.PersistChatTranscript(ctx, roomID, ts.chat); err != nil {
			slog.Error("persist chat transcript failed", "room", roomID, "entries", len(ts.chat), "err", err)
		}
	}
	if len(ts.transcription) > 0 {
		if err := g.records.PersistFinalTranscript(ctx, roomID, ts.transcription); err != nil {
			slog.Error("persist final transcript failed", "room", roomID, "entries", len(ts.transcription), "err", err)
		}
	}
	if ts.recording.RecordingID != "" {
		if err := g.records.PersistRecordingMetadata(ctx, roomID, ts.recording); err != nil {
			slog.Error("persist recording metadata failed", "room", roomID, "recording", ts.recording.RecordingID, "err", err)
		}
	}
}

// Shutdown tears down every live room, flushing each synchronously.
func (g *Registry) Shutdown(ctx context.Context) {
	g.mu.Lock()
	handles := make([]*roomHandle, 0, len(g.rooms))
	for id, h := range g.rooms {
		if h.timer != nil {
			h.timer.Stop()
		}
		handles = append(handles, h)
		delete(g.rooms, id)
	}
	g.mu.Unlock()

	for _, h := range handles {
		ts, err := h.room.collectTeardown()
		h.room.stop()
		if err != nil {
			slog.Warn("room teardown collect failed", "room", h.room.id, "err", err)
			continue
		}
		g.flush(h.room.id, ts)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Count reports the number of live rooms, for health reporting.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
