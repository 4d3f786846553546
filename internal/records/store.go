package records

import (
	"context"
	"log/slog"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// Store is the coordinator-side surface of the Clinical Records Store. The
// coordinator hands over transcripts and recording metadata when a room dies;
// retention and auditability are the store's concern from then on.
type Store interface {
	PersistChatTranscript(ctx context.Context, roomID string, entries []domain.LogEntry) error
	PersistFinalTranscript(ctx context.Context, roomID string, entries []domain.LogEntry) error
	PersistRecordingMetadata(ctx context.Context, roomID string, rec domain.RecordingSession) error
}

// Noop drops everything; used when no store is configured (dev setups).
type Noop struct{}

func (Noop) PersistChatTranscript(_ context.Context, roomID string, entries []domain.LogEntry) error {
	slog.Debug("records store disabled, dropping chat transcript", "room", roomID, "entries", len(entries))
	return nil
}

func (Noop) PersistFinalTranscript(_ context.Context, roomID string, entries []domain.LogEntry) error {
	slog.Debug("records store disabled, dropping final transcript", "room", roomID, "entries", len(entries))
	return nil
}

func (Noop) PersistRecordingMetadata(_ context.Context, roomID string, rec domain.RecordingSession) error {
	slog.Debug("records store disabled, dropping recording metadata", "room", roomID, "recording", rec.RecordingID)
	return nil
}
