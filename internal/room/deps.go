package room

import (
	"context"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// RecordsStore is the Clinical Records Store collaborator. Called on room
// teardown, best-effort: failures are logged, never fatal to live operation.
type RecordsStore interface {
	PersistChatTranscript(ctx context.Context, roomID string, entries []domain.LogEntry) error
	PersistFinalTranscript(ctx context.Context, roomID string, entries []domain.LogEntry) error
	PersistRecordingMetadata(ctx context.Context, roomID string, rec domain.RecordingSession) error
}

// RelayClient is the Media Relay Service collaborator. The coordinator only
// reads a recording handle from it and forwards quality hints; it never
// brokers media.
type RelayClient interface {
	StartRecording(ctx context.Context, roomID string, quality domain.RecordingQuality) (recordingID string, err error)
	StopRecording(ctx context.Context, roomID, recordingID string) error
	SetQualityHint(ctx context.Context, roomID string, quality domain.RecordingQuality) error
}

// TokenIssuer mints and redeems single-use admission tokens handed out by
// waiting-room admission and checked on presence join.
type TokenIssuer interface {
	Issue(ctx context.Context, roomID, userID string) (string, error)
	Redeem(ctx context.Context, roomID, userID, token string) (bool, error)
}

type Options struct {
	// GracePeriod delays reclaiming disconnected sessions and empty rooms, to
	// absorb brief reconnects.
	GracePeriod time.Duration
	// LogWindow caps retained entries per log channel.
	LogWindow int
	// BusWindow caps retained events for reconnect catch-up.
	BusWindow int
	// AdmissionSeed seeds the rolling average behind wait estimates.
	AdmissionSeed time.Duration
	// CollaboratorTimeout bounds outbound relay and token calls.
	CollaboratorTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = 30 * time.Second
	}
	if o.LogWindow <= 0 {
		o.LogWindow = 500
	}
	if o.BusWindow <= 0 {
		o.BusWindow = 256
	}
	if o.AdmissionSeed <= 0 {
		o.AdmissionSeed = 90 * time.Second
	}
	if o.CollaboratorTimeout <= 0 {
		o.CollaboratorTimeout = 5 * time.Second
	}
	return o
}
