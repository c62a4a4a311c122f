package events

import (
	"encoding/json"
	"time"
)

// Frame is the wire shape of every socket event, both directions.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewFrame marshals payload into a Frame ready for the wire.
func NewFrame(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Payload: raw, SentAt: time.Now().UTC()})
}
