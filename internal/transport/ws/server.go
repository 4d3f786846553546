package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/clinicore/session-coordinator/internal/domain"
	"github.com/clinicore/session-coordinator/internal/room"
)

type Server struct {
	upgrader  websocket.Upgrader
	registry  *room.Registry
	pingEvery time.Duration
}

func NewServer(registry *room.Registry) *Server {
	return &Server{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws/rooms/{id}?access_token=...&user_id=...&display_name=...&role=...&since=...
//
// Token validity is the gateway's business; the coordinator trusts the
// identity headers it is handed. since > 0 asks for event catch-up after that
// sequence.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("access_token")) == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}
	userID := strings.TrimSpace(q.Get("user_id"))
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusUnauthorized)
		return
	}
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	role := domain.Role(q.Get("role"))
	if role == "" {
		role = domain.RolePatient
	}
	if !role.Valid() {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}
	var since uint64
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}

	sess := room.Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		DisplayName: strings.TrimSpace(q.Get("display_name")),
		Role:        role,
	}

	sub, err := s.registry.Subscribe(r.Context(), roomID, sess, since)
	if err != nil {
		slog.Warn("ws subscribe failed", "room", roomID, "user", userID, "err", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	rm := sub.Room

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "room", roomID, "user", userID, "err", err)
		rm.Detach(sess.ID)
		return
	}
	c := newWsConn(conn)

	if err := c.Send(Message{Type: TypeState, Payload: StatePayload{
		Snapshot: sub.Snapshot,
		Backfill: sub.Backfill,
		Complete: sub.Complete,
	}}); err != nil {
		slog.Warn("ws send initial state failed", "room", roomID, "user", userID, "err", err)
	}

	go s.writeLoop(r.Context(), c, sub)
	s.readLoop(r.Context(), c, rm, sess)

	rm.Detach(sess.ID)
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "room", roomID, "user", userID, "err", err)
	}
}

// writeLoop pumps room events and keepalive pings to the client until the
// subscription channel closes or the connection dies.
func (s *Server) writeLoop(ctx context.Context, c *wsConn, sub *room.Subscription) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := c.Send(Message{Type: evt.Type, Payload: evt}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, rm *room.Room, sess room.Session) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		var p CommandPayload
		if decode(msg.Payload, &p) != nil {
			continue
		}
		s.dispatch(ctx, c, rm, sess, msg.Type, p)
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, rm *room.Room, sess room.Session, cmd string, p CommandPayload) {
	ack := AckPayload{CmdID: p.CmdID, Cmd: cmd}
	var err error

	switch cmd {
	case TypePresenceJoin:
		_, err = rm.Join(ctx, sess.ID, p.AdmissionToken)

	case TypePresenceLeave:
		err = rm.Leave(ctx, sess.ID)

	case TypeWaitingEnqueue:
		var res domain.EnqueueResult
		res, err = rm.Enqueue(ctx, sess)
		if err == nil {
			pos := res.Position
			ack.Position = &pos
			ack.WaitMs = res.EstimatedWait.Milliseconds()
		}

	case TypeWaitingLeave:
		err = rm.LeaveQueue(ctx, sess.UserID)

	case TypeWaitingAdmit:
		err = rm.Admit(ctx, p.UserID, sess.UserID)

	case TypeRecordingStart:
		_, err = rm.StartRecording(ctx, domain.RecordingQuality(p.Quality))

	case TypeRecordingPause:
		_, err = rm.PauseRecording(ctx)

	case TypeRecordingResume:
		_, err = rm.ResumeRecording(ctx)

	case TypeRecordingStop:
		_, err = rm.StopRecording(ctx)

	case TypeRecordingSetQuality:
		err = rm.SetRecordingQuality(ctx, domain.RecordingQuality(p.Quality))

	case TypeLogAppend:
		var entry domain.LogEntry
		var accepted bool
		entry, accepted, err = rm.Append(ctx, domain.Channel(p.Channel), room.AppendInput{
			ID:       p.EntryID,
			AuthorID: sess.UserID,
			StartMs:  p.StartMs,
			Payload:  p.Body,
		})
		if err == nil {
			ack.EntryID = entry.ID
			ack.Seq = entry.Seq
			ack.Duplicate = !accepted
		}

	case TypeLogDelete:
		err = rm.DeleteEntry(ctx, domain.Channel(p.Channel), p.EntryID, sess.UserID)

	case TypeQualityReport:
		if p.Sample == nil {
			err = errors.New("missing sample")
			break
		}
		err = rm.ReportQuality(ctx, domain.QualitySample{
			UserID:    sess.UserID,
			Network:   p.Sample.Network,
			Audio:     p.Sample.Audio,
			Video:     p.Sample.Video,
			LatencyMs: p.Sample.LatencyMs,
			JitterMs:  p.Sample.JitterMs,
			LossPct:   p.Sample.LossPct,
			AudioKbps: p.Sample.AudioKbps,
			VideoKbps: p.Sample.VideoKbps,
		})

	default:
		// ignore unknown commands
		return
	}

	if err != nil {
		ep := ErrorPayload{CmdID: p.CmdID, Cmd: cmd, Reason: err.Error()}
		var ite *domain.InvalidTransitionError
		if errors.As(err, &ite) {
			ep.RecordingState = ite.State
		}
		_ = c.Send(Message{Type: TypeError, Payload: ep})
		return
	}
	_ = c.Send(Message{Type: TypeAck, Payload: ack})
}

// --- helpers ---

func decode(payload any, dst any) error {
	if payload == nil {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}
