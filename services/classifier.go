package services

import (
	"strings"

	"github.com/nordlys/erasure/models"
)

// Token variants that make a message a deletion-request candidate. All three
// groups must match, case-insensitively, anywhere in the text.
var (
	deleteTokens = []string{"delete", "deletion", "erase", "erasure"}
	userTokens   = []string{"user", "player", "account"}
	ticketTokens = []string{"ticket"}
)

// Classification buckets one pass's candidate messages by lifecycle phase.
// Messages carrying the fully_done marker are excluded entirely.
type Classification struct {
	New      []models.Message
	InFlight []models.Message
}

type Classifier struct{}

func CreateClassifier() *Classifier {
	return &Classifier{}
}

// IsCandidate reports whether the text reads as a deletion request: it must
// mention deleting, a user, and a ticket. Anything else is silently skipped.
func (c *Classifier) IsCandidate(text string) bool {
	lower := strings.ToLower(text)
	return containsAny(lower, deleteTokens) &&
		containsAny(lower, userTokens) &&
		containsAny(lower, ticketTokens)
}

// Classify partitions a message batch into new and in-flight candidates
// based on text and current marker set. Pure; no side effects.
func (c *Classifier) Classify(messages []models.Message) Classification {
	var result Classification

	for _, msg := range messages {
		if msg.HasMarker(models.MarkerFullyDone) {
			continue
		}
		if !c.IsCandidate(msg.Text) {
			continue
		}

		if msg.HasMarker(models.MarkerInProgress) {
			result.InFlight = append(result.InFlight, msg)
		} else {
			result.New = append(result.New, msg)
		}
	}

	return result
}

func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}
