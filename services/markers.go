package services

import (
	"context"

	"github.com/nordlys/erasure/models"
	"github.com/nordlys/erasure/transport"
	"github.com/nordlys/erasure/utils"
)

// MarkerDelta is the minimal set of marker writes needed to bring a message's
// marker projection in line with its ledger row.
type MarkerDelta struct {
	Add    []string
	Remove []string
}

// ComputeMarkerDelta derives the delta from ledger state alone. Because it is
// a pure function of the row, a failed write self-heals: the next pass
// computes the same missing markers again. Markers only accumulate until full
// completion collapses them to the single terminal fully_done.
func ComputeMarkerDelta(row *models.DeletionRequest, msg *models.Message) MarkerDelta {
	var delta MarkerDelta

	if row.IsFullyCompleted {
		if !msg.HasMarker(models.MarkerFullyDone) {
			delta.Add = append(delta.Add, models.MarkerFullyDone)
		}
		if msg.HasMarker(models.MarkerInProgress) {
			delta.Remove = append(delta.Remove, models.MarkerInProgress)
		}
		if msg.HasMarker(models.MarkerPlatformDone) {
			delta.Remove = append(delta.Remove, models.MarkerPlatformDone)
		}
		return delta
	}

	if !msg.HasMarker(models.MarkerInProgress) {
		delta.Add = append(delta.Add, models.MarkerInProgress)
	}
	if row.AllProvidersCompleted() && !msg.HasMarker(models.MarkerPlatformDone) {
		delta.Add = append(delta.Add, models.MarkerPlatformDone)
	}

	return delta
}

// MarkerSynchronizer applies marker deltas through the transport. Write
// failures are logged and counted, never fatal.
type MarkerSynchronizer struct {
	transport transport.MessageTransport
	logger    *utils.Logger
}

func CreateMarkerSynchronizer(tp transport.MessageTransport) *MarkerSynchronizer {
	return &MarkerSynchronizer{
		transport: tp,
		logger:    utils.NewLogger("markers"),
	}
}

// Sync reconciles the message's markers with the ledger row. Returns the
// number of failed marker writes.
func (s *MarkerSynchronizer) Sync(ctx context.Context, row *models.DeletionRequest, msg *models.Message) int {
	delta := ComputeMarkerDelta(row, msg)
	failures := 0

	for _, marker := range delta.Add {
		if err := s.transport.AddMarker(ctx, msg.Ref, marker); err != nil {
			failures++
			s.logger.Warn(ctx, "failed to add marker", map[string]interface{}{
				"error":   err.Error(),
				"marker":  marker,
				"message": msg.Ref.Key(),
			})
		}
	}
	for _, marker := range delta.Remove {
		if err := s.transport.RemoveMarker(ctx, msg.Ref, marker); err != nil {
			failures++
			s.logger.Warn(ctx, "failed to remove marker", map[string]interface{}{
				"error":   err.Error(),
				"marker":  marker,
				"message": msg.Ref.Key(),
			})
		}
	}

	return failures
}
