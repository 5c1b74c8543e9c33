package services

import (
	"context"
	"time"
)

// ActivityReader is the analytical-store read surface the gate and the
// mediation batch need. Both lookups take the whole subject set of a pass.
type ActivityReader interface {
	LastActivityDates(ctx context.Context, subjectIDs []string) (map[string]time.Time, error)
	DeviceIdentifiers(ctx context.Context, subjectIDs []string) (map[string][]string, error)
}

// EligibilityGate defers subjects that were active too recently: deleting a
// still-active player's data would be re-populated by new events within days.
type EligibilityGate struct {
	activity ActivityReader
	window   time.Duration
}

func CreateEligibilityGate(activity ActivityReader, window time.Duration) *EligibilityGate {
	return &EligibilityGate{
		activity: activity,
		window:   window,
	}
}

// Check fetches the last-activity date for every subject in one batch and
// returns the eligibility decision per subject, keyed by subject id. A
// subject with no activity on record is eligible. The reference date is
// explicit so passes stay deterministic and testable.
func (g *EligibilityGate) Check(ctx context.Context, subjectIDs []string, refDate time.Time) (map[string]bool, error) {
	lastActivity, err := g.activity.LastActivityDates(ctx, subjectIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[string]bool, len(subjectIDs))
	for _, id := range subjectIDs {
		last, known := lastActivity[id]
		result[id] = !known || refDate.Sub(last) >= g.window
	}
	return result, nil
}
