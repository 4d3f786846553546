package domain

import "time"

type RecordingState string

const (
	RecordingIdle    RecordingState = "idle"
	RecordingActive  RecordingState = "recording"
	RecordingPaused  RecordingState = "paused"
	RecordingStopped RecordingState = "stopped"
)

type RecordingQuality string

const (
	QualityTierLow      RecordingQuality = "low"
	QualityTierStandard RecordingQuality = "standard"
	QualityTierHigh     RecordingQuality = "high"
)

func (q RecordingQuality) Valid() bool {
	switch q {
	case QualityTierLow, QualityTierStandard, QualityTierHigh:
		return true
	}
	return false
}

// RecordingSession is one recording lifecycle. stopped is terminal: a new
// start produces a fresh instance.
type RecordingSession struct {
	RecordingID string           `json:"recording_id,omitempty"`
	State       RecordingState   `json:"state"`
	Quality     RecordingQuality `json:"quality"`
	StartedAt   time.Time        `json:"started_at,omitzero"`
	StoppedAt   time.Time        `json:"stopped_at,omitzero"`
	PausedFor   time.Duration    `json:"paused_for_ns"`
}
