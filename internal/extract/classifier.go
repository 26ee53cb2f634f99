package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/Gymmando/gymmando/internal/workout"
)

// uuidPattern captures an explicit record id in the opening utterance,
// e.g. "delete workout 1b4e28ba-2fa1-11d2-883f-0016d3cca427".
var uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

// Phrase tables are checked against the normalized utterance. Multi-word
// entries match as substrings on word boundaries; ordering matters only
// between tables, not within one.
var (
	readPhrases = []string{
		"show", "list", "history", "what did i", "what have i",
		"look at", "see my", "my workouts", "my last workouts",
		"my recent", "how many",
	}
	deletePhrases = []string{
		"delete", "remove", "scratch", "erase", "undo my last",
		"get rid of",
	}
	updatePhrases = []string{
		"update", "change", "correct", "fix", "edit", "actually it was",
		"i meant",
	}
)

// RuleClassifier decides intent from surface keywords. It never errs:
// an utterance matching nothing is treated as logging a new workout,
// which is by far the common case.
type RuleClassifier struct{}

// NewRuleClassifier returns a keyword-based intent classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Classify returns the intent and, when the utterance names one, the id
// of the record it targets.
func (c *RuleClassifier) Classify(_ context.Context, utterance string) (workout.Intent, string, error) {
	norm := " " + strings.ToLower(workout.NormalizeText(utterance)) + " "
	targetID := uuidPattern.FindString(utterance)

	switch {
	case matchesAny(norm, deletePhrases):
		return workout.IntentDelete, targetID, nil
	case matchesAny(norm, updatePhrases):
		return workout.IntentUpdate, targetID, nil
	case matchesAny(norm, readPhrases):
		return workout.IntentRead, targetID, nil
	}
	return workout.IntentCreate, targetID, nil
}

// matchesAny reports whether any phrase occurs in s on word boundaries.
// s must be padded with spaces on both ends.
func matchesAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, " "+p+" ") {
			return true
		}
	}
	return false
}
