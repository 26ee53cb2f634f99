package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/Gymmando/gymmando/internal/gateway"
	"github.com/Gymmando/gymmando/internal/workout"
)

// cancelPhrases end the conversation from any non-terminal state.
// Matched against the whole normalized utterance, not substrings, so
// "don't stop now" does not cancel by accident.
var cancelPhrases = map[string]struct{}{
	"cancel":      {},
	"never mind":  {},
	"nevermind":   {},
	"stop":        {},
	"forget it":   {},
	"forget that": {},
	"quit":        {},
	"abort":       {},
	"discard":     {},
	"discard it":  {},
}

var affirmPhrases = map[string]struct{}{
	"yes":      {},
	"y":        {},
	"yep":      {},
	"yeah":     {},
	"yup":      {},
	"sure":     {},
	"ok":       {},
	"okay":     {},
	"correct":  {},
	"confirm":  {},
	"save":     {},
	"save it":  {},
	"do it":    {},
	"go ahead": {},
}

// denyPhrases reject the confirmation without ending the conversation;
// the session returns to extraction with the record intact.
var denyPhrases = map[string]struct{}{
	"no":    {},
	"n":     {},
	"nope":  {},
	"nah":   {},
	"wrong": {},
}

// fieldSynonyms maps spoken names to record fields. Users rarely say
// "weightDescription"; they say "the weight" or "the load".
var fieldSynonyms = map[string]workout.Field{
	"exercise":    workout.FieldExercise,
	"movement":    workout.FieldExercise,
	"lift":        workout.FieldExercise,
	"name":        workout.FieldExercise,
	"sets":        workout.FieldSets,
	"set":         workout.FieldSets,
	"reps":        workout.FieldReps,
	"rep":         workout.FieldReps,
	"repetitions": workout.FieldReps,
	"weight":      workout.FieldWeight,
	"load":        workout.FieldWeight,
	"kilos":       workout.FieldWeight,
	"pounds":      workout.FieldWeight,
	"rest":        workout.FieldRestTime,
	"break":       workout.FieldRestTime,
	"pause":       workout.FieldRestTime,
	"comments":    workout.FieldComments,
	"comment":     workout.FieldComments,
	"notes":       workout.FieldComments,
	"note":        workout.FieldComments,
}

// changeVerbs introduce a correction during confirmation.
var changeVerbs = map[string]struct{}{
	"change": {},
	"fix":    {},
	"edit":   {},
	"update": {},
	"adjust": {},
	"redo":   {},
}

// jwFieldThreshold is the Jaro-Winkler score above which a token counts
// as a field name. Tuned loose enough to absorb typos ("wieght") while
// rejecting ordinary vocabulary.
const jwFieldThreshold = 0.88

// normalize lowercases, collapses whitespace and strips edge
// punctuation so "Cancel." and "cancel" compare equal.
func normalize(s string) string {
	s = strings.ToLower(workout.NormalizeText(s))
	return strings.Trim(s, " .,!?")
}

func isCancel(utterance string) bool {
	_, ok := cancelPhrases[normalize(utterance)]
	return ok
}

func isAffirmative(utterance string) bool {
	_, ok := affirmPhrases[normalize(utterance)]
	return ok
}

func isNegative(utterance string) bool {
	_, ok := denyPhrases[normalize(utterance)]
	return ok
}

// parseChangeRequest detects a confirmation-stage correction such as
// "change the weight" or "fix the reps and the rest". It returns the
// named fields in stable order, or nil when the utterance is not a
// change request.
func parseChangeRequest(utterance string) []workout.Field {
	tokens := strings.Fields(normalize(utterance))
	for i, tok := range tokens {
		tokens[i] = strings.Trim(tok, ".,!?")
	}
	if len(tokens) < 2 {
		return nil
	}

	hasVerb := false
	for _, tok := range tokens {
		if _, ok := changeVerbs[tok]; ok {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		return nil
	}

	seen := make(map[workout.Field]bool)
	for _, tok := range tokens {
		if f, ok := matchField(tok); ok {
			seen[f] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}

	var fields []workout.Field
	for _, f := range append(workout.RequiredFields, workout.OptionalFields...) {
		if seen[f] {
			fields = append(fields, f)
		}
	}
	return fields
}

// readNouns are utterance words that mark the end of an exercise mention
// in a read request ("show me my squat workouts").
var readNouns = map[string]struct{}{
	"workout": {}, "workouts": {},
	"session": {}, "sessions": {},
	"log": {}, "logs": {},
	"record": {}, "records": {},
	"history": {},
}

// readStopwords never form part of an exercise name.
var readStopwords = map[string]struct{}{
	"my": {}, "me": {}, "the": {}, "a": {}, "all": {}, "of": {},
	"last": {}, "latest": {}, "recent": {}, "past": {}, "previous": {},
	"show": {}, "list": {}, "get": {}, "see": {}, "view": {}, "what": {},
	"are": {}, "were": {}, "read": {}, "from": {},
	"i": {}, "did": {}, "do": {}, "have": {},
	"today": {}, "yesterday": {}, "this": {}, "week": {}, "month": {},
}

// parseReadFilter pulls an exercise-name filter and an optional date
// window out of a read request. Only the words immediately before a
// marker noun count as the exercise, so "show me my bench press
// workouts" filters on "bench press" while "show me my workouts"
// filters on nothing. now anchors relative date phrases like
// "yesterday".
func parseReadFilter(utterance string, now time.Time) gateway.ReadFilter {
	norm := normalize(utterance)
	f := gateway.ReadFilter{}
	f.Since, f.Until = parseDateWindow(norm, now)

	tokens := strings.Fields(norm)
	for i, tok := range tokens {
		tokens[i] = strings.Trim(tok, ".,!?")
	}

	for i, tok := range tokens {
		if _, ok := readNouns[tok]; !ok {
			continue
		}
		var name []string
		for j := i - 1; j >= 0; j-- {
			if _, stop := readStopwords[tokens[j]]; stop {
				break
			}
			name = append([]string{tokens[j]}, name...)
		}
		if len(name) > 0 {
			f.Exercise = strings.Join(name, " ")
			break
		}
	}
	return f
}

// parseDateWindow maps a relative date phrase in the normalized
// utterance to a created_at window. Zero times mean unbounded; weeks
// start on Monday.
func parseDateWindow(norm string, now time.Time) (since, until time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekday := (int(day.Weekday()) + 6) % 7

	switch {
	case strings.Contains(norm, "yesterday"):
		return day.AddDate(0, 0, -1), day
	case strings.Contains(norm, "today"):
		return day, time.Time{}
	case strings.Contains(norm, "this week"):
		return day.AddDate(0, 0, -weekday), time.Time{}
	case strings.Contains(norm, "last week"):
		start := day.AddDate(0, 0, -weekday-7)
		return start, start.AddDate(0, 0, 7)
	case strings.Contains(norm, "this month"):
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), time.Time{}
	}
	return time.Time{}, time.Time{}
}

// matchField resolves a single token to a record field, tolerating
// typos and transcription slips. Exact synonym lookup first, then
// phonetic equality, then Jaro-Winkler similarity.
func matchField(token string) (workout.Field, bool) {
	if f, ok := fieldSynonyms[token]; ok {
		return f, true
	}
	if len(token) < 3 {
		return "", false
	}

	tp, ts := matchr.DoubleMetaphone(token)
	bestScore := 0.0
	var best workout.Field
	for syn, f := range fieldSynonyms {
		sp, ss := matchr.DoubleMetaphone(syn)
		if tp != "" && (tp == sp || tp == ss) || ts != "" && (ts == sp || ts == ss) {
			return f, true
		}
		if s := matchr.JaroWinkler(token, syn, false); s > bestScore {
			bestScore = s
			best = f
		}
	}
	if bestScore >= jwFieldThreshold {
		return best, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Reply text
// ---------------------------------------------------------------------------

func missingPrompt(missing []workout.Field) string {
	labels := make([]string, len(missing))
	for i, f := range missing {
		labels[i] = f.Label()
	}
	return "I need a bit more info. Could you tell me the " + joinNatural(labels) + "?"
}

func confirmPrompt(s *Session) string {
	switch s.Intent {
	case workout.IntentDelete:
		if s.TargetID != "" {
			return "Are you sure you want to delete that workout?"
		}
		return "Are you sure you want to delete your most recent workout?"
	case workout.IntentUpdate:
		return "Here's the change I'll make:\n" + describeLines(s.Record) + "\nShall I update your workout?"
	default:
		return "Here's what I have:\n" + describeLines(s.Record) + "\nShall I save it?"
	}
}

func committedText(s *Session, res *gateway.Result) string {
	// A gateway is not obliged to echo the record back.
	if res == nil || res.Workout == nil {
		switch s.Intent {
		case workout.IntentDelete:
			return "Done, I've deleted that workout."
		case workout.IntentUpdate:
			return "Got it! I've updated your workout."
		default:
			return "Got it! I've logged your workout."
		}
	}
	switch s.Intent {
	case workout.IntentDelete:
		return fmt.Sprintf("Done, I've deleted your %s workout.", res.Workout.Exercise)
	case workout.IntentUpdate:
		return "Got it! I've updated: " + summarizeWorkout(*res.Workout)
	default:
		return "Got it! I've logged: " + summarizeWorkout(*res.Workout)
	}
}

func readText(workouts []gateway.Workout) string {
	if len(workouts) == 0 {
		return "You don't have any logged workouts yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here are your last %d workouts:\n", len(workouts))
	for i, w := range workouts {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, w.CreatedAt.Format("Jan 2"), summarizeWorkout(w))
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizeWorkout(w gateway.Workout) string {
	s := fmt.Sprintf("%s, %d sets of %d reps at %s", w.Exercise, w.Sets, w.Reps, w.Weight)
	if w.RestSeconds != nil {
		s += fmt.Sprintf(", %ds rest", *w.RestSeconds)
	}
	if w.Comments != nil {
		s += fmt.Sprintf(" (%s)", *w.Comments)
	}
	return s
}

func describeLines(r workout.Record) string {
	var b strings.Builder
	for _, fv := range workout.Describe(r) {
		fmt.Fprintf(&b, "- %s: %s\n", fv.Field.Label(), fv.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinNatural(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
