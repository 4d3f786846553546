package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// Join registers the subscribed session in presence. Clinicians enter
// directly; everyone else must present an unexpired admission token handed
// out by waiting-room admission. A user already in the room needs no token:
// a second tab or an in-grace reconnect just attaches another session. Only
// the user's first live session publishes participant_joined.
func (r *Room) Join(ctx context.Context, sessionID, admissionToken string) (domain.Participant, error) {
	var sess Session
	var found, present bool
	if err := r.exec(ctx, func() {
		if sess, found = r.bus.session(sessionID); found {
			present = r.presence.hasUser(sess.UserID)
		}
	}); err != nil {
		return domain.Participant{}, err
	}
	if !found {
		return domain.Participant{}, domain.ErrSessionClosed
	}

	if sess.Role != domain.RoleClinician && !present {
		tctx, cancel := r.collaboratorCtx()
		ok, err := r.tokens.Redeem(tctx, r.id, sess.UserID, admissionToken)
		cancel()
		if err != nil {
			return domain.Participant{}, fmt.Errorf("redeem admission token: %w", err)
		}
		if !ok {
			return domain.Participant{}, domain.ErrAdmissionRequired
		}
	}

	var view domain.Participant
	err := r.exec(ctx, func() {
		ps := domain.ParticipantSession{
			SessionID:   sessionID,
			UserID:      sess.UserID,
			DisplayName: sess.DisplayName,
			Role:        sess.Role,
			ConnectedAt: time.Now(),
		}
		var first bool
		view, first = r.presence.join(ps)
		if _, affected, ok := r.waiting.remove(sess.UserID); ok {
			r.notifyPositions(affected)
		}
		if first {
			r.bus.publish(domain.EventParticipantJoined, domain.ParticipantEventPayload{Participant: view})
		}
	})
	return view, err
}

// Leave removes the session from presence; participant_left is published only
// when it was the user's final session.
func (r *Room) Leave(ctx context.Context, sessionID string) error {
	return r.exec(ctx, func() {
		view, last, ok := r.presence.leaveSession(sessionID)
		if !ok {
			return
		}
		if last {
			r.bus.publish(domain.EventParticipantLeft, domain.ParticipantEventPayload{Participant: view})
			if rating, changed := r.quality.drop(view.UserID); changed {
				r.bus.publish(domain.EventQualityChanged, domain.QualityChangedPayload{Rating: rating})
			}
		}
	})
}

// IsClinician reports whether the user currently holds clinician presence.
func (r *Room) IsClinician(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := r.exec(ctx, func() { ok = r.presence.isClinician(userID) })
	return ok, err
}

func (r *Room) Participants(ctx context.Context) ([]domain.Participant, error) {
	var out []domain.Participant
	err := r.exec(ctx, func() { out = r.presence.participants() })
	return out, err
}

// Enqueue puts the session's user into the admission queue. Re-enqueue is an
// idempotent no-op reporting the current position; clinicians are rejected.
func (r *Room) Enqueue(ctx context.Context, sess Session) (domain.EnqueueResult, error) {
	var res domain.EnqueueResult
	var opErr error
	err := r.exec(ctx, func() {
		if sess.Role == domain.RoleClinician || r.presence.isClinician(sess.UserID) {
			opErr = domain.ErrClinicianQueued
			return
		}
		var added bool
		res, added = r.waiting.enqueue(domain.WaitingEntry{
			UserID:      sess.UserID,
			DisplayName: sess.DisplayName,
			Role:        sess.Role,
			EnqueuedAt:  time.Now(),
		})
		if added {
			r.bus.publish(domain.EventWaitingJoined, domain.WaitingJoinedPayload{
				UserID:      sess.UserID,
				DisplayName: sess.DisplayName,
				QueueLength: len(r.waiting.entries),
			})
		}
	})
	if err != nil {
		return domain.EnqueueResult{}, err
	}
	return res, opErr
}

// LeaveQueue removes the user from the admission queue; idempotent.
func (r *Room) LeaveQueue(ctx context.Context, userID string) error {
	return r.exec(ctx, func() {
		if _, affected, ok := r.waiting.remove(userID); ok {
			r.notifyPositions(affected)
		}
	})
}

// Admit lets a clinician pull a queued user into the call. The admitted user
// gets a single-use token their subsequent Join must present; only entries
// whose position shifted are notified, not the whole room.
func (r *Room) Admit(ctx context.Context, userID, clinicianID string) error {
	var opErr error
	if err := r.exec(ctx, func() {
		switch {
		case !r.presence.isClinician(clinicianID):
			opErr = domain.ErrNotClinician
		case !r.waiting.isQueued(userID):
			opErr = domain.ErrNotQueued
		}
	}); err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	tctx, cancel := r.collaboratorCtx()
	token, err := r.tokens.Issue(tctx, r.id, userID)
	cancel()
	if err != nil {
		return fmt.Errorf("issue admission token: %w", err)
	}

	if err := r.exec(ctx, func() {
		_, affected, ok := r.waiting.admit(userID, time.Now())
		if !ok {
			opErr = domain.ErrNotQueued
			return
		}
		r.bus.publish(domain.EventWaitingAdmitted, domain.WaitingAdmittedPayload{
			UserID:     userID,
			AdmittedBy: clinicianID,
		})
		// The token itself goes only to the admitted user's sessions.
		r.bus.sendToUser(userID, domain.EventWaitingAdmitted, domain.WaitingAdmittedPayload{
			UserID:         userID,
			AdmittedBy:     clinicianID,
			AdmissionToken: token,
		})
		r.notifyPositions(affected)
	}); err != nil {
		return err
	}
	return opErr
}

func (r *Room) WaitingList(ctx context.Context) ([]domain.WaitingView, error) {
	var out []domain.WaitingView
	err := r.exec(ctx, func() { out = r.waiting.list() })
	return out, err
}

// StartRecording reserves the idle->recording transition, obtains a recording
// handle from the media relay and commits. A relay failure rolls the state
// machine back to idle.
func (r *Room) StartRecording(ctx context.Context, quality domain.RecordingQuality) (domain.RecordingSession, error) {
	var opErr error
	var effective domain.RecordingQuality
	if err := r.exec(ctx, func() {
		if quality != "" {
			if !quality.Valid() {
				opErr = fmt.Errorf("unknown quality tier %q", quality)
				return
			}
			r.recorder.setQuality(quality)
		}
		if opErr = r.recorder.start(time.Now()); opErr == nil {
			effective = r.recorder.snapshot().Quality
		}
	}); err != nil {
		return domain.RecordingSession{}, err
	}
	if opErr != nil {
		return domain.RecordingSession{}, opErr
	}

	rctx, cancel := r.collaboratorCtx()
	recordingID, err := r.relay.StartRecording(rctx, r.id, effective)
	cancel()
	if err != nil {
		_ = r.exec(context.Background(), func() { r.recorder.abortStart() })
		return domain.RecordingSession{}, fmt.Errorf("relay start recording: %w", err)
	}

	var snap domain.RecordingSession
	err = r.exec(ctx, func() {
		r.recorder.commitStart(recordingID)
		snap = r.recorder.snapshot()
		r.bus.publish(domain.EventRecordingStarted, domain.RecordingEventPayload{Recording: snap})
	})
	return snap, err
}

func (r *Room) PauseRecording(ctx context.Context) (domain.RecordingSession, error) {
	return r.recordingTransition(ctx, domain.EventRecordingPaused, r.recorder.pause)
}

func (r *Room) ResumeRecording(ctx context.Context) (domain.RecordingSession, error) {
	return r.recordingTransition(ctx, domain.EventRecordingResumed, r.recorder.resume)
}

func (r *Room) StopRecording(ctx context.Context) (domain.RecordingSession, error) {
	snap, err := r.recordingTransition(ctx, domain.EventRecordingStopped, r.recorder.stop)
	if err == nil && snap.RecordingID != "" {
		go func() {
			sctx, cancel := r.collaboratorCtx()
			defer cancel()
			if err := r.relay.StopRecording(sctx, r.id, snap.RecordingID); err != nil {
				slog.Warn("relay stop recording failed", "room", r.id, "recording", snap.RecordingID, "err", err)
			}
		}()
	}
	return snap, err
}

func (r *Room) recordingTransition(ctx context.Context, evtType string, fn func(time.Time) error) (domain.RecordingSession, error) {
	var snap domain.RecordingSession
	var opErr error
	err := r.exec(ctx, func() {
		if opErr = fn(time.Now()); opErr != nil {
			return
		}
		snap = r.recorder.snapshot()
		r.bus.publish(evtType, domain.RecordingEventPayload{Recording: snap})
	})
	if err != nil {
		return domain.RecordingSession{}, err
	}
	return snap, opErr
}

// SetRecordingQuality stages the tier for the next start and forwards the
// hint to the media relay, best-effort.
func (r *Room) SetRecordingQuality(ctx context.Context, quality domain.RecordingQuality) error {
	if !quality.Valid() {
		return fmt.Errorf("unknown quality tier %q", quality)
	}
	if err := r.exec(ctx, func() { r.recorder.setQuality(quality) }); err != nil {
		return err
	}
	go func() {
		hctx, cancel := r.collaboratorCtx()
		defer cancel()
		if err := r.relay.SetQualityHint(hctx, r.id, quality); err != nil {
			slog.Debug("relay quality hint failed", "room", r.id, "err", err)
		}
	}()
	return nil
}

func (r *Room) Recording(ctx context.Context) (domain.RecordingSession, error) {
	var snap domain.RecordingSession
	err := r.exec(ctx, func() { snap = r.recorder.snapshot() })
	return snap, err
}

// AppendInput is one entry offered to a log channel. ID is the author's
// idempotency key; empty means the coordinator assigns one. StartMs is only
// meaningful for transcription.
type AppendInput struct {
	ID       string
	AuthorID string
	StartMs  int64
	Payload  json.RawMessage
}

// Append validates, deduplicates and stores the entry, broadcasting it on
// acceptance. A duplicate ID is success without a second broadcast.
func (r *Room) Append(ctx context.Context, ch domain.Channel, in AppendInput) (domain.LogEntry, bool, error) {
	if !ch.Valid() {
		return domain.LogEntry{}, false, domain.ErrUnknownChannel
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	var entry domain.LogEntry
	var accepted bool
	var opErr error
	err := r.exec(ctx, func() {
		// Transcription segments come from the transcription collaborator on
		// behalf of a speaker who may have just dropped; they skip the
		// membership check.
		if ch != domain.ChannelTranscription && !r.presence.hasUser(in.AuthorID) {
			opErr = domain.ErrNotInRoom
			return
		}
		entry, accepted = r.logs[ch].append(domain.LogEntry{
			ID:       in.ID,
			RoomID:   r.id,
			AuthorID: in.AuthorID,
			StartMs:  in.StartMs,
			Payload:  in.Payload,
			Created:  time.Now(),
		})
		if accepted {
			r.bus.publish(domain.EventLogAppended, domain.LogAppendedPayload{Channel: ch, Entry: entry})
		}
	})
	if err != nil {
		return domain.LogEntry{}, false, err
	}
	return entry, accepted, opErr
}

// DeleteEntry removes an annotation if the requester authored it or holds
// clinician presence, publishing a tombstone. Chat and transcription entries
// are never deletable.
func (r *Room) DeleteEntry(ctx context.Context, ch domain.Channel, entryID, requesterID string) error {
	if !ch.Valid() {
		return domain.ErrUnknownChannel
	}
	if ch != domain.ChannelAnnotation {
		return domain.ErrDeleteForbidden
	}
	var opErr error
	err := r.exec(ctx, func() {
		lg := r.logs[ch]
		entry, ok := lg.byID(entryID)
		if !ok {
			opErr = domain.ErrEntryNotFound
			return
		}
		if entry.AuthorID != requesterID && !r.presence.isClinician(requesterID) {
			opErr = domain.ErrDeleteForbidden
			return
		}
		lg.delete(entryID)
		r.bus.publish(domain.EventLogDeleted, domain.LogDeletedPayload{
			Channel:   ch,
			EntryID:   entryID,
			DeletedBy: requesterID,
		})
	})
	if err != nil {
		return err
	}
	return opErr
}

// LogBackfill returns entries after the given point: a sequence number for
// chat and annotation, a start offset in milliseconds for transcription.
// complete=false means the retained window has been outlived and the durable
// store is the only source for older history.
func (r *Room) LogBackfill(ctx context.Context, ch domain.Channel, since int64) ([]domain.LogEntry, bool, error) {
	if !ch.Valid() {
		return nil, false, domain.ErrUnknownChannel
	}
	var out []domain.LogEntry
	var complete bool
	err := r.exec(ctx, func() {
		lg := r.logs[ch]
		if lg.mode == orderStartTime {
			out, complete = lg.backfillStart(since)
		} else {
			s := since
			if s < 0 {
				s = 0
			}
			out, complete = lg.backfillSeq(uint64(s))
		}
	})
	if err != nil {
		return nil, false, err
	}
	return out, complete, nil
}

// ReportQuality overwrites the participant's latest sample. The room
// classification is broadcast only when it changes.
func (r *Room) ReportQuality(ctx context.Context, sample domain.QualitySample) error {
	if !sample.Network.Valid() || !sample.Audio.Valid() || !sample.Video.Valid() {
		return fmt.Errorf("invalid quality rating in sample from %q", sample.UserID)
	}
	var opErr error
	err := r.exec(ctx, func() {
		if !r.presence.hasUser(sample.UserID) {
			opErr = domain.ErrNotInRoom
			return
		}
		if sample.At.IsZero() {
			sample.At = time.Now()
		}
		if rating, changed := r.quality.report(sample); changed {
			r.bus.publish(domain.EventQualityChanged, domain.QualityChangedPayload{Rating: rating})
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// QualitySamples returns the raw latest sample per participant; served on
// demand, never pushed.
func (r *Room) QualitySamples(ctx context.Context) ([]domain.QualitySample, error) {
	var out []domain.QualitySample
	err := r.exec(ctx, func() { out = r.quality.snapshot() })
	return out, err
}

func (r *Room) Snapshot(ctx context.Context) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := r.exec(ctx, func() { snap = r.snapshotNow() })
	return snap, err
}
