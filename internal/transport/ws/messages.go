package ws

import (
	"encoding/json"

	"github.com/clinicore/session-coordinator/internal/domain"
)

// Frame types the coordinator sends. Room events are forwarded under their
// own event type (participant_joined, recording_started, ...).
const (
	TypeState = "state" // snapshot + reconnect backfill, first frame after subscribe
	TypeAck   = "ack"   // command accepted
	TypeError = "error" // command rejected, with reason and authoritative state
)

// Command types clients send.
const (
	TypePresenceJoin        = "presence_join"
	TypePresenceLeave       = "presence_leave"
	TypeWaitingEnqueue      = "waiting_enqueue"
	TypeWaitingLeave        = "waiting_leave"
	TypeWaitingAdmit        = "waiting_admit"
	TypeRecordingStart      = "recording_start"
	TypeRecordingPause      = "recording_pause"
	TypeRecordingResume     = "recording_resume"
	TypeRecordingStop       = "recording_stop"
	TypeRecordingSetQuality = "recording_set_quality"
	TypeLogAppend           = "log_append"
	TypeLogDelete           = "log_delete"
	TypeQualityReport       = "quality_report"
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type StatePayload struct {
	Snapshot domain.RoomSnapshot `json:"snapshot"`
	Backfill []domain.Event      `json:"backfill,omitempty"`
	// Complete is false when the requested `since` fell outside the retained
	// window; the client must rebuild from the snapshot and fetch older log
	// history from the durable store.
	Complete bool `json:"complete"`
}

type CommandPayload struct {
	CmdID          string          `json:"cmd_id,omitempty"`
	AdmissionToken string          `json:"admission_token,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Quality        string          `json:"quality,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	EntryID        string          `json:"entry_id,omitempty"`
	StartMs        int64           `json:"start_ms,omitempty"`
	Body           json.RawMessage `json:"body,omitempty"`
	Sample         *SamplePayload  `json:"sample,omitempty"`
}

type SamplePayload struct {
	Network   domain.Rating `json:"network"`
	Audio     domain.Rating `json:"audio"`
	Video     domain.Rating `json:"video"`
	LatencyMs int           `json:"latency_ms"`
	JitterMs  int           `json:"jitter_ms"`
	LossPct   float64       `json:"loss_pct"`
	AudioKbps int           `json:"audio_kbps"`
	VideoKbps int           `json:"video_kbps"`
}

type AckPayload struct {
	CmdID   string `json:"cmd_id,omitempty"`
	Cmd     string `json:"cmd"`
	EntryID string `json:"entry_id,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	// Duplicate marks an idempotent retry that changed nothing.
	Duplicate bool  `json:"duplicate,omitempty"`
	Position  *int  `json:"position,omitempty"`
	WaitMs    int64 `json:"wait_ms,omitempty"`
}

type ErrorPayload struct {
	CmdID  string `json:"cmd_id,omitempty"`
	Cmd    string `json:"cmd"`
	Reason string `json:"reason"`
	// RecordingState is set on invalid recording transitions so the client
	// can reconcile without a round trip.
	RecordingState domain.RecordingState `json:"recording_state,omitempty"`
}
