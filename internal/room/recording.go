package room

import (
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// recorder is the per-room recording state machine. Quality set while a
// recording runs is staged and takes effect on the next start. Only touched
// from the room loop.
type recorder struct {
	cur         domain.RecordingSession
	nextQuality domain.RecordingQuality
	pausedAt    time.Time
	starting    bool // reserved start, relay commit pending
}

func newRecorder() *recorder {
	return &recorder{
		cur:         domain.RecordingSession{State: domain.RecordingIdle, Quality: domain.QualityTierStandard},
		nextQuality: domain.QualityTierStandard,
	}
}

// start opens a fresh instance. Valid from idle or from a stopped previous
// instance; rejected while recording or paused. The instance stays reserved
// until commitStart or abortStart, and pause/stop are rejected in that
// window so no transition can run against an uncommitted instance.
func (r *recorder) start(now time.Time) error {
	switch r.cur.State {
	case domain.RecordingIdle, domain.RecordingStopped:
	default:
		return &domain.InvalidTransitionError{Op: "start", State: r.cur.State}
	}
	r.cur = domain.RecordingSession{
		State:     domain.RecordingActive,
		Quality:   r.nextQuality,
		StartedAt: now,
	}
	r.starting = true
	return nil
}

// commitStart attaches the relay's recording handle after a successful start.
func (r *recorder) commitStart(recordingID string) {
	r.cur.RecordingID = recordingID
	r.starting = false
}

// abortStart rolls a reserved start back to idle when the relay call failed.
func (r *recorder) abortStart() {
	r.cur = domain.RecordingSession{State: domain.RecordingIdle, Quality: r.nextQuality}
	r.starting = false
}

func (r *recorder) pause(now time.Time) error {
	if r.starting || r.cur.State != domain.RecordingActive {
		return &domain.InvalidTransitionError{Op: "pause", State: r.cur.State}
	}
	r.cur.State = domain.RecordingPaused
	r.pausedAt = now
	return nil
}

func (r *recorder) resume(now time.Time) error {
	if r.cur.State != domain.RecordingPaused {
		return &domain.InvalidTransitionError{Op: "resume", State: r.cur.State}
	}
	r.cur.State = domain.RecordingActive
	r.cur.PausedFor += now.Sub(r.pausedAt)
	return nil
}

func (r *recorder) stop(now time.Time) error {
	if r.starting {
		return &domain.InvalidTransitionError{Op: "stop", State: r.cur.State}
	}
	switch r.cur.State {
	case domain.RecordingActive:
	case domain.RecordingPaused:
		r.cur.PausedFor += now.Sub(r.pausedAt)
	default:
		return &domain.InvalidTransitionError{Op: "stop", State: r.cur.State}
	}
	r.cur.State = domain.RecordingStopped
	r.cur.StoppedAt = now
	return nil
}

// setQuality stages the tier for the next start; the running instance keeps
// the tier it was started with.
func (r *recorder) setQuality(q domain.RecordingQuality) {
	r.nextQuality = q
}

func (r *recorder) snapshot() domain.RecordingSession { return r.cur }
