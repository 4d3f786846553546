package records

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// flakyStore fails the first failures calls of each method, then succeeds.
type flakyStore struct {
	failures int
	calls    int
}

func (f *flakyStore) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("store unavailable")
	}
	return nil
}

func (f *flakyStore) PersistChatTranscript(context.Context, string, []domain.LogEntry) error {
	return f.attempt()
}

func (f *flakyStore) PersistFinalTranscript(context.Context, string, []domain.LogEntry) error {
	return f.attempt()
}

func (f *flakyStore) PersistRecordingMetadata(context.Context, string, domain.RecordingSession) error {
	return f.attempt()
}

func TestRetryPassesThroughOnSuccess(t *testing.T) {
	inner := &flakyStore{}
	s := WithRetry(inner)

	if err := s.PersistChatTranscript(context.Background(), "visit-1", nil); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want exactly 1", inner.calls)
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyStore{failures: 1}
	s := WithRetry(inner)

	if err := s.PersistFinalTranscript(context.Background(), "visit-1", nil); err != nil {
		t.Fatalf("second attempt should have succeeded: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("calls = %d, want 2", inner.calls)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	inner := &flakyStore{failures: retryAttempts + 1}
	s := WithRetry(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.PersistRecordingMetadata(ctx, "visit-1", domain.RecordingSession{}); err == nil {
		t.Fatal("expected the final error to surface")
	}
	if inner.calls != retryAttempts {
		t.Fatalf("calls = %d, want %d", inner.calls, retryAttempts)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	inner := &flakyStore{failures: 100}
	s := WithRetry(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.PersistChatTranscript(ctx, "visit-1", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want the context deadline", err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, cancellation should beat the backoff", inner.calls)
	}
}
