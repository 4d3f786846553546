package room

import (
	"log/slog"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// Session identifies one subscribed client connection. Several sessions may
// carry the same UserID.
type Session struct {
	ID          string
	UserID      string
	DisplayName string
	Role        domain.Role
}

const subscriberBuffer = 64

type subscriber struct {
	sess Session
	ch   chan domain.Event
}

// bus is the room-scoped fan-out primitive. It is only ever touched from the
// owning room's event loop, so it needs no locking. Room-wide publishes get a
// monotonic sequence and are retained in a fixed-size ring for reconnect
// catch-up; directly addressed sends bypass both.
type bus struct {
	roomID  string
	subs    map[string]*subscriber            // session ID -> subscriber
	byUser  map[string]map[string]*subscriber // user ID -> session ID -> subscriber
	seq     uint64
	ring    []domain.Event
	ringCap int
}

func newBus(roomID string, window int) *bus {
	if window <= 0 {
		window = 256
	}
	return &bus{
		roomID:  roomID,
		subs:    make(map[string]*subscriber),
		byUser:  make(map[string]map[string]*subscriber),
		ringCap: window,
	}
}

func (b *bus) subscribe(sess Session) <-chan domain.Event {
	sub := &subscriber{sess: sess, ch: make(chan domain.Event, subscriberBuffer)}
	b.subs[sess.ID] = sub

	us, ok := b.byUser[sess.UserID]
	if !ok {
		us = make(map[string]*subscriber)
		b.byUser[sess.UserID] = us
	}
	us[sess.ID] = sub

	return sub.ch
}

func (b *bus) unsubscribe(sessionID string) {
	sub, ok := b.subs[sessionID]
	if !ok {
		return
	}
	delete(b.subs, sessionID)
	if us, ok := b.byUser[sub.sess.UserID]; ok {
		delete(us, sessionID)
		if len(us) == 0 {
			delete(b.byUser, sub.sess.UserID)
		}
	}
	close(sub.ch)
}

func (b *bus) session(sessionID string) (Session, bool) {
	sub, ok := b.subs[sessionID]
	if !ok {
		return Session{}, false
	}
	return sub.sess, true
}

func (b *bus) userSubscribed(userID string) bool {
	return len(b.byUser[userID]) > 0
}

func (b *bus) count() int { return len(b.subs) }

// publish assigns the next sequence, records the event in the catch-up ring
// and fans it out to every subscriber. Sends are best-effort: a subscriber
// whose buffer is full misses the event and must rely on backfill.
func (b *bus) publish(evtType string, payload any) domain.Event {
	b.seq++
	evt := domain.Event{
		Type:    evtType,
		RoomID:  b.roomID,
		Seq:     b.seq,
		At:      time.Now(),
		Payload: payload,
	}

	b.ring = append(b.ring, evt)
	if len(b.ring) > b.ringCap {
		b.ring = b.ring[len(b.ring)-b.ringCap:]
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			slog.Warn("room event dropped for slow subscriber",
				"room", b.roomID, "session", sub.sess.ID, "type", evtType, "seq", evt.Seq)
		}
	}
	return evt
}

// sendToUser delivers an event to every session of one user only. These
// events carry no sequence and are not replayable.
func (b *bus) sendToUser(userID, evtType string, payload any) {
	evt := domain.Event{
		Type:    evtType,
		RoomID:  b.roomID,
		At:      time.Now(),
		Payload: payload,
	}
	for _, sub := range b.byUser[userID] {
		select {
		case sub.ch <- evt:
		default:
			slog.Warn("room event dropped for slow subscriber",
				"room", b.roomID, "session", sub.sess.ID, "type", evtType)
		}
	}
}

// backfill returns retained events with Seq > since. complete is false when
// the window no longer reaches back to since, in which case the caller must
// re-sync from a full snapshot.
func (b *bus) backfill(since uint64) (events []domain.Event, complete bool) {
	if since >= b.seq {
		return nil, true
	}
	if len(b.ring) == 0 || b.ring[0].Seq > since+1 {
		complete = false
	} else {
		complete = true
	}
	for _, evt := range b.ring {
		if evt.Seq > since {
			events = append(events, evt)
		}
	}
	return events, complete
}
