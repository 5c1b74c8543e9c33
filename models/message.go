package models

import (
	"fmt"
	"time"
)

// Marker names attached to a source message. Markers are a projection of the
// ledger, never the source of truth.
const (
	MarkerInProgress   = "in_progress"
	MarkerPlatformDone = "platform_done"
	MarkerFullyDone    = "fully_done"
)

// MessageRef identifies a chat message by channel and timestamp. Its Key is
// the ledger's idempotency key.
type MessageRef struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
}

func (ref MessageRef) Key() string {
	return fmt.Sprintf("%s/%s", ref.Channel, ref.Timestamp)
}

// Message is a raw chat message with its current marker set.
type Message struct {
	Ref     MessageRef `json:"ref"`
	Text    string     `json:"text"`
	SentAt  time.Time  `json:"sent_at"`
	Markers []string   `json:"markers"`
}

func (m *Message) HasMarker(name string) bool {
	for _, marker := range m.Markers {
		if marker == name {
			return true
		}
	}
	return false
}
