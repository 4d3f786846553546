package domain

import "time"

// Rating is a coarse per-dimension quality grade reported by clients.
type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingFair      Rating = "fair"
	RatingPoor      Rating = "poor"
)

func (r Rating) Valid() bool {
	switch r {
	case RatingExcellent, RatingGood, RatingFair, RatingPoor:
		return true
	}
	return false
}

// rank orders ratings worst-first so the room classification can take a min.
func (r Rating) rank() int {
	switch r {
	case RatingPoor:
		return 0
	case RatingFair:
		return 1
	case RatingGood:
		return 2
	default:
		return 3
	}
}

// Worse reports whether r is a worse grade than other.
func (r Rating) Worse(other Rating) bool { return r.rank() < other.rank() }

// QualitySample supersedes the previous sample from the same participant.
type QualitySample struct {
	UserID    string    `json:"user_id"`
	Network   Rating    `json:"network"`
	Audio     Rating    `json:"audio"`
	Video     Rating    `json:"video"`
	LatencyMs int       `json:"latency_ms"`
	JitterMs  int       `json:"jitter_ms"`
	LossPct   float64   `json:"loss_pct"`
	AudioKbps int       `json:"audio_kbps"`
	VideoKbps int       `json:"video_kbps"`
	At        time.Time `json:"at"`
}

// Worst is the sample's own classification: the worst of its dimensions.
func (s QualitySample) Worst() Rating {
	w := s.Network
	if s.Audio.Worse(w) {
		w = s.Audio
	}
	if s.Video.Worse(w) {
		w = s.Video
	}
	return w
}
