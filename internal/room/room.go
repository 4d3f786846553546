package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

const cmdBuffer = 128

// Room owns all live state for one appointment. Every mutation and read goes
// through the room's event loop, so no two operations on the same room ever
// interleave; rooms run fully independent of each other.
type Room struct {
	id        string
	createdAt time.Time

	cmds chan func()
	quit chan struct{}

	bus      *bus
	presence *presence
	waiting  *waitingRoom
	recorder *recorder
	logs     map[domain.Channel]*logChannel
	quality  *qualityAggregator

	opts    Options
	records RecordsStore
	relay   RelayClient
	tokens  TokenIssuer

	// onEmpty fires on the loop when the subscriber count reaches zero; it
	// must not call back into the loop synchronously.
	onEmpty func(*Room)
}

func newRoom(id string, opts Options, records RecordsStore, relay RelayClient, tokens TokenIssuer, onEmpty func(*Room)) *Room {
	r := &Room{
		id:        id,
		createdAt: time.Now(),
		cmds:      make(chan func(), cmdBuffer),
		quit:      make(chan struct{}),
		bus:       newBus(id, opts.BusWindow),
		presence:  newPresence(),
		waiting:   newWaitingRoom(opts.AdmissionSeed),
		recorder:  newRecorder(),
		logs: map[domain.Channel]*logChannel{
			domain.ChannelChat:          newLogChannel(domain.ChannelChat, orderArrival, opts.LogWindow),
			domain.ChannelAnnotation:    newLogChannel(domain.ChannelAnnotation, orderArrival, opts.LogWindow),
			domain.ChannelTranscription: newLogChannel(domain.ChannelTranscription, orderStartTime, opts.LogWindow),
		},
		quality: newQualityAggregator(),
		opts:    opts,
		records: records,
		relay:   relay,
		tokens:  tokens,
		onEmpty: onEmpty,
	}
	go r.run()
	return r
}

func (r *Room) ID() string { return r.id }

func (r *Room) run() {
	for {
		select {
		case fn := <-r.cmds:
			fn()
		case <-r.quit:
			return
		}
	}
}

// exec runs fn on the room loop and waits for it to finish.
func (r *Room) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case r.cmds <- wrapped:
	case <-r.quit:
		return domain.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-r.quit:
		return domain.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop terminates the loop. Only the registry calls this, once, after the
// room has been unlinked.
func (r *Room) stop() {
	close(r.quit)
}

func (r *Room) collaboratorCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.opts.CollaboratorTimeout)
}

// Subscription is a live attachment of one client session to the room.
type Subscription struct {
	Room     *Room
	Session  Session
	Events   <-chan domain.Event
	Backfill []domain.Event
	// Complete is false when the catch-up window no longer reaches back to
	// the requested sequence; the client must re-sync from Snapshot.
	Complete bool
	Snapshot domain.RoomSnapshot
}

// Subscribe attaches a session to the room bus. since > 0 requests catch-up
// of events after that sequence.
func (r *Room) Subscribe(ctx context.Context, sess Session, since uint64) (*Subscription, error) {
	var sub *Subscription
	err := r.exec(ctx, func() {
		ch := r.bus.subscribe(sess)
		var events []domain.Event
		complete := true
		if since > 0 {
			events, complete = r.bus.backfill(since)
		}
		sub = &Subscription{
			Room:     r,
			Session:  sess,
			Events:   ch,
			Backfill: events,
			Complete: complete,
			Snapshot: r.snapshotNow(),
		}
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Detach drops the session from the bus immediately and schedules presence
// and waiting-room reclamation after the grace period, so a quick reconnect
// is invisible to other participants.
func (r *Room) Detach(sessionID string) {
	_ = r.exec(context.Background(), func() {
		sess, ok := r.bus.session(sessionID)
		if !ok {
			return
		}
		r.bus.unsubscribe(sessionID)

		if r.presence.hasSession(sessionID) || r.waiting.isQueued(sess.UserID) {
			userID := sess.UserID
			time.AfterFunc(r.opts.GracePeriod, func() {
				r.reclaim(sessionID, userID)
			})
		}
		if r.bus.count() == 0 && r.onEmpty != nil {
			r.onEmpty(r)
		}
	})
}

// reclaim runs after the grace period for a detached session. A reconnect
// shows up as a fresh session for the same user, so dropping the stale one
// only surfaces participant_left when it really was the user's last.
func (r *Room) reclaim(sessionID, userID string) {
	_ = r.exec(context.Background(), func() {
		if view, last, ok := r.presence.leaveSession(sessionID); ok && last {
			r.bus.publish(domain.EventParticipantLeft, domain.ParticipantEventPayload{Participant: view})
			if rating, changed := r.quality.drop(userID); changed {
				r.bus.publish(domain.EventQualityChanged, domain.QualityChangedPayload{Rating: rating})
			}
		}
		if r.waiting.isQueued(userID) && !r.bus.userSubscribed(userID) {
			if _, affected, ok := r.waiting.remove(userID); ok {
				r.notifyPositions(affected)
			}
		}
	})
}

func (r *Room) notifyPositions(views []domain.WaitingView) {
	for _, v := range views {
		r.bus.sendToUser(v.UserID, domain.EventWaitingPositionChange, domain.WaitingPositionPayload{
			UserID:        v.UserID,
			Position:      v.Position,
			EstimatedWait: v.EstimatedWait,
		})
	}
}

func (r *Room) snapshotNow() domain.RoomSnapshot {
	return domain.RoomSnapshot{
		RoomID:       r.id,
		State:        domain.RoomActive,
		CreatedAt:    r.createdAt,
		Seq:          r.bus.seq,
		Participants: r.presence.participants(),
		Waiting:      r.waiting.list(),
		Recording:    r.recorder.snapshot(),
		Quality:      r.quality.rating(),
	}
}

func (r *Room) subscriberCount() (int, error) {
	var n int
	err := r.exec(context.Background(), func() { n = r.bus.count() })
	return n, err
}

// teardownState is what the registry hands to the Clinical Records Store when
// the room dies.
type teardownState struct {
	chat          []domain.LogEntry
	transcription []domain.LogEntry
	recording     domain.RecordingSession
}

// collectTeardown snapshots persistable state and stops any recording still
// running. Called by the registry right before the loop is stopped.
func (r *Room) collectTeardown() (teardownState, error) {
	var ts teardownState
	err := r.exec(context.Background(), func() {
		now := time.Now()
		if err := r.recorder.stop(now); err == nil {
			rec := r.recorder.snapshot()
			if rec.RecordingID != "" {
				go func() {
					ctx, cancel := r.collaboratorCtx()
					defer cancel()
					if err := r.relay.StopRecording(ctx, r.id, rec.RecordingID); err != nil {
						slog.Warn("relay stop on teardown failed", "room", r.id, "err", err)
					}
				}()
			}
		}
		ts = teardownState{
			chat:          r.logs[domain.ChannelChat].snapshot(),
			transcription: r.logs[domain.ChannelTranscription].snapshot(),
			recording:     r.recorder.snapshot(),
		}
	})
	return ts, err
}
