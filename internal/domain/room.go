package domain

import "time"

type RoomState string

const (
	RoomActive  RoomState = "active"
	RoomClosing RoomState = "closing"
)

// RoomSnapshot is the full state a (re)connecting client syncs from.
type RoomSnapshot struct {
	RoomID       string           `json:"room_id"`
	State        RoomState        `json:"state"`
	CreatedAt    time.Time        `json:"created_at"`
	Seq          uint64           `json:"seq"`
	Participants []Participant    `json:"participants"`
	Waiting      []WaitingView    `json:"waiting"`
	Recording    RecordingSession `json:"recording"`
	Quality      Rating           `json:"quality"`
}
