package records

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

const (
	retryAttempts = 3
	retryBase     = 500 * time.Millisecond
)

// WithRetry wraps a store with bounded exponential backoff. Room teardown is
// the only caller, so the extra latency costs nobody anything live.
func WithRetry(inner Store) Store {
	return &retryStore{inner: inner}
}

type retryStore struct {
	inner Store
}

func (r *retryStore) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	delay := retryBase
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		slog.Warn("records store call failed",
			"op", op, "attempt", attempt, "err", err)
		if attempt == retryAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func (r *retryStore) PersistChatTranscript(ctx context.Context, roomID string, entries []domain.LogEntry) error {
	return r.do(ctx, "chat_transcript", func(ctx context.Context) error {
		return r.inner.PersistChatTranscript(ctx, roomID, entries)
	})
}

func (r *retryStore) PersistFinalTranscript(ctx context.Context, roomID string, entries []domain.LogEntry) error {
	return r.do(ctx, "final_transcript", func(ctx context.Context) error {
		return r.inner.PersistFinalTranscript(ctx, roomID, entries)
	})
}

func (r *retryStore) PersistRecordingMetadata(ctx context.Context, roomID string, rec domain.RecordingSession) error {
	return r.do(ctx, "recording_metadata", func(ctx context.Context) error {
		return r.inner.PersistRecordingMetadata(ctx, roomID, rec)
	})
}
