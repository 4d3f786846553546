package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clinicore/session-coordinator/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	chat       map[string][]domain.LogEntry
	transcript map[string][]domain.LogEntry
	recordings map[string]domain.RecordingSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chat:       make(map[string][]domain.LogEntry),
		transcript: make(map[string][]domain.LogEntry),
		recordings: make(map[string]domain.RecordingSession),
	}
}

func (f *fakeStore) PersistChatTranscript(_ context.Context, roomID string, entries []domain.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chat[roomID] = entries
	return nil
}

func (f *fakeStore) PersistFinalTranscript(_ context.Context, roomID string, entries []domain.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcript[roomID] = entries
	return nil
}

func (f *fakeStore) PersistRecordingMetadata(_ context.Context, roomID string, rec domain.RecordingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings[roomID] = rec
	return nil
}

func (f *fakeStore) chatFor(roomID string) []domain.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chat[roomID]
}

func (f *fakeStore) transcriptFor(roomID string) []domain.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript[roomID]
}

func (f *fakeStore) recordingFor(roomID string) (domain.RecordingSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recordings[roomID]
	return rec, ok
}

type fakeRelay struct {
	mu        sync.Mutex
	failStart bool
	started   int
	stopped   []string
	hints     []domain.RecordingQuality
}

func (f *fakeRelay) StartRecording(_ context.Context, roomID string, _ domain.RecordingQuality) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return "", errors.New("relay unavailable")
	}
	f.started++
	return fmt.Sprintf("rec-%d", f.started), nil
}

func (f *fakeRelay) StopRecording(_ context.Context, _, recordingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, recordingID)
	return nil
}

func (f *fakeRelay) SetQualityHint(_ context.Context, _ string, quality domain.RecordingQuality) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hints = append(f.hints, quality)
	return nil
}

func (f *fakeRelay) stoppedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func (f *fakeRelay) hintCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hints)
}

type fakeTokens struct {
	mu        sync.Mutex
	failIssue bool
	n         int
	live      map[string]string
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{live: make(map[string]string)}
}

func (f *fakeTokens) Issue(_ context.Context, roomID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIssue {
		return "", errors.New("issuer unavailable")
	}
	f.n++
	token := fmt.Sprintf("tok-%d", f.n)
	f.live[roomID+":"+userID] = token
	return token, nil
}

func (f *fakeTokens) Redeem(_ context.Context, roomID, userID, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := roomID + ":" + userID
	if token == "" || f.live[k] != token {
		return false, nil
	}
	delete(f.live, k)
	return true, nil
}

func newTestRoom(t *testing.T, opts Options) (*Room, *fakeStore, *fakeRelay, *fakeTokens) {
	t.Helper()
	store := newFakeStore()
	relay := &fakeRelay{}
	tok := newFakeTokens()
	r := newRoom("room-"+t.Name(), opts.withDefaults(), store, relay, tok, nil)
	t.Cleanup(r.stop)
	return r, store, relay, tok
}

// waitEventMatch drains ch until an event of the given type satisfying pred
// shows up, skipping everything else.
func waitEventMatch(t *testing.T, ch <-chan domain.Event, evtType string, pred func(domain.Event) bool) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", evtType)
			}
			if evt.Type == evtType && pred(evt) {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", evtType)
		}
	}
}

func waitEvent(t *testing.T, ch <-chan domain.Event, evtType string) domain.Event {
	t.Helper()
	return waitEventMatch(t, ch, evtType, func(domain.Event) bool { return true })
}

// expectNoEvent asserts that no event of the given type arrives within the
// window.
func expectNoEvent(t *testing.T, ch <-chan domain.Event, evtType string, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type == evtType {
				t.Fatalf("unexpected %s event: %+v", evtType, evt)
			}
		case <-deadline:
			return
		}
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}

func subscribeUser(t *testing.T, r *Room, sessionID, userID string, role domain.Role) *Subscription {
	t.Helper()
	sub, err := r.Subscribe(context.Background(), Session{
		ID:          sessionID,
		UserID:      userID,
		DisplayName: "user " + userID,
		Role:        role,
	}, 0)
	if err != nil {
		t.Fatalf("subscribe %s: %v", sessionID, err)
	}
	return sub
}

func joinClinician(t *testing.T, r *Room, sessionID, userID string) *Subscription {
	t.Helper()
	sub := subscribeUser(t, r, sessionID, userID, domain.RoleClinician)
	if _, err := r.Join(context.Background(), sessionID, ""); err != nil {
		t.Fatalf("clinician join: %v", err)
	}
	return sub
}
