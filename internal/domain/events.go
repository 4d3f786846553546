package domain

import "time"

// Event types fanned out to room subscribers.
const (
	EventParticipantJoined     = "participant_joined"
	EventParticipantLeft       = "participant_left"
	EventWaitingJoined         = "waiting_room_joined"
	EventWaitingPositionChange = "waiting_room_position_changed"
	EventWaitingAdmitted       = "waiting_room_admitted"
	EventRecordingStarted      = "recording_started"
	EventRecordingPaused       = "recording_paused"
	EventRecordingResumed      = "recording_resumed"
	EventRecordingStopped      = "recording_stopped"
	EventLogAppended           = "log_entry_appended"
	EventLogDeleted            = "log_entry_deleted"
	EventQualityChanged        = "quality_changed"
)

// Event is one room-scoped broadcast. Seq is a per-room monotonic sequence
// assigned on acceptance; all subscribers observe events in Seq order.
// Directly addressed events (admission token, position updates) carry Seq 0
// and are not part of the reconnect catch-up window.
type Event struct {
	Type    string    `json:"type"`
	RoomID  string    `json:"room_id"`
	Seq     uint64    `json:"seq,omitempty"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type ParticipantEventPayload struct {
	Participant Participant `json:"participant"`
}

type WaitingJoinedPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	QueueLength int    `json:"queue_length"`
}

type WaitingPositionPayload struct {
	UserID        string        `json:"user_id"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait_ns"`
}

type WaitingAdmittedPayload struct {
	UserID         string `json:"user_id"`
	AdmittedBy     string `json:"admitted_by"`
	AdmissionToken string `json:"admission_token"`
}

type RecordingEventPayload struct {
	Recording RecordingSession `json:"recording"`
}

type LogAppendedPayload struct {
	Channel Channel  `json:"channel"`
	Entry   LogEntry `json:"entry"`
}

type LogDeletedPayload struct {
	Channel   Channel `json:"channel"`
	EntryID   string  `json:"entry_id"`
	DeletedBy string  `json:"deleted_by"`
}

type QualityChangedPayload struct {
	Rating Rating `json:"rating"`
}
