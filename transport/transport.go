package transport

import (
	"context"
	"time"

	"github.com/nordlys/erasure/models"
)

// MessageTransport is the orchestrator's view of the chat system: list the
// messages of a date window and maintain the marker projection on them.
// Marker writes may fail without consequence; the ledger stays authoritative
// and the next pass recomputes the delta.
type MessageTransport interface {
	ListMessages(ctx context.Context, channel string, from, to time.Time) ([]models.Message, error)
	AddMarker(ctx context.Context, ref models.MessageRef, marker string) error
	RemoveMarker(ctx context.Context, ref models.MessageRef, marker string) error
}
