package domain

import "time"

// WaitingEntry is one unadmitted user in a room's admission queue. Position is
// derived from queue order, never stored.
type WaitingEntry struct {
	UserID      string
	DisplayName string
	Role        Role
	EnqueuedAt  time.Time
}

type WaitingView struct {
	UserID        string        `json:"user_id"`
	DisplayName   string        `json:"display_name"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait_ns"`
	EnqueuedAt    time.Time     `json:"enqueued_at"`
}

type EnqueueResult struct {
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait_ns"`
}
