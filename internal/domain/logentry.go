package domain

import (
	"encoding/json"
	"time"
)

type Channel string

const (
	ChannelChat          Channel = "chat"
	ChannelAnnotation    Channel = "annotation"
	ChannelTranscription Channel = "transcription"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelChat, ChannelAnnotation, ChannelTranscription:
		return true
	}
	return false
}

// LogEntry is the generic shape shared by the chat, annotation and
// transcription channels. ID is author-assigned and is the dedup key; Seq is
// assigned by the coordinator on acceptance. Transcription entries order by
// StartMs (audio offset) instead of Seq.
type LogEntry struct {
	ID       string          `json:"id"`
	RoomID   string          `json:"room_id"`
	AuthorID string          `json:"author_id"`
	Seq      uint64          `json:"seq"`
	StartMs  int64           `json:"start_ms,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	Created  time.Time       `json:"created_at"`
}
