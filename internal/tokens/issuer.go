package tokens

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Issuer mints single-use admission tokens. A token is bound to one
// room/user pair, expires after the TTL and is gone after one redemption.
type Issuer interface {
	Issue(ctx context.Context, roomID, userID string) (string, error)
	Redeem(ctx context.Context, roomID, userID, token string) (bool, error)
}

const DefaultTTL = 2 * time.Minute

type memEntry struct {
	token   string
	expires time.Time
}

// Memory is the in-process issuer used when Redis is not configured. Expiry
// is checked lazily on redeem, plus a sweep on every issue so abandoned
// tokens do not pile up.
type Memory struct {
	mu    sync.Mutex
	ttl   time.Duration
	byKey map[string]memEntry
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, byKey: make(map[string]memEntry)}
}

func key(roomID, userID string) string { return roomID + ":" + userID }

func (m *Memory) Issue(_ context.Context, roomID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for k, e := range m.byKey {
		if now.After(e.expires) {
			delete(m.byKey, k)
		}
	}

	token := uuid.New().String()
	m.byKey[key(roomID, userID)] = memEntry{token: token, expires: now.Add(m.ttl)}
	return token, nil
}

func (m *Memory) Redeem(_ context.Context, roomID, userID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(roomID, userID)
	e, ok := m.byKey[k]
	if !ok || e.token != token {
		return false, nil
	}
	delete(m.byKey, k)
	if time.Now().After(e.expires) {
		return false, nil
	}
	return true, nil
}
