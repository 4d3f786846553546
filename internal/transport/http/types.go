package http

import (
	"encoding/json"

	"github.com/clinicore/session-coordinator/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
	// RecordingState accompanies invalid recording transitions.
	RecordingState domain.RecordingState `json:"recording_state,omitempty"`
}

type AdmitRequest struct {
	UserID string `json:"user_id"`
}

type RecordingRequest struct {
	Quality string `json:"quality"`
}

type AppendRequest struct {
	EntryID string `json:"entry_id,omitempty"`
	// AuthorID may be set only on the transcription channel, where the
	// speech-to-text collaborator appends on behalf of a speaker.
	AuthorID string          `json:"author_id,omitempty"`
	StartMs  int64           `json:"start_ms,omitempty"`
	Body     json.RawMessage `json:"body"`
}

type AppendResponse struct {
	Entry     domain.LogEntry `json:"entry"`
	Duplicate bool            `json:"duplicate"`
}

type BackfillResponse struct {
	Channel string            `json:"channel"`
	Entries []domain.LogEntry `json:"entries"`
	// Complete is false when older entries were evicted from the live window
	// and must be fetched from the clinical records store instead.
	Complete bool `json:"complete"`
}

type WaitingListResponse struct {
	Items []domain.WaitingView `json:"items"`
}

type ParticipantsResponse struct {
	Items []domain.Participant `json:"items"`
}

type QualityResponse struct {
	Rating  domain.Rating          `json:"rating"`
	Samples []domain.QualitySample `json:"samples"`
}

type QualityReportRequest struct {
	Network   domain.Rating `json:"network"`
	Audio     domain.Rating `json:"audio"`
	Video     domain.Rating `json:"video"`
	LatencyMs int           `json:"latency_ms"`
	JitterMs  int           `json:"jitter_ms"`
	LossPct   float64       `json:"loss_pct"`
	AudioKbps int           `json:"audio_kbps"`
	VideoKbps int           `json:"video_kbps"`
}
