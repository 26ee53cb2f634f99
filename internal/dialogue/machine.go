package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Gymmando/gymmando/internal/gateway"
	"github.com/Gymmando/gymmando/internal/observe"
	"github.com/Gymmando/gymmando/internal/workout"
)

// Extractor pulls workout fields out of a single utterance. The
// accumulated record is passed as context so relative corrections
// ("actually make that 4") can resolve. Fields the utterance does not
// mention are absent from the returned record.
type Extractor interface {
	Extract(ctx context.Context, utterance string, prior workout.Record) (workout.Record, error)
}

// Classifier decides what the user wants to do. It runs once per
// session, on the opening utterance. The returned target id is non-empty
// only when the utterance names a specific record.
type Classifier interface {
	Classify(ctx context.Context, utterance string) (workout.Intent, string, error)
}

// advance runs one turn of the conversation. The caller holds the
// session lock.
func (m *Manager) advance(ctx context.Context, s *Session, utterance string) Reply {
	if isCancel(utterance) {
		s.State = StateCancelled
		return m.reply(s, "No problem, I've cancelled that. Nothing was saved.")
	}

	if s.State == StateInit {
		clsStart := time.Now()
		intent, targetID, err := m.classifier.Classify(ctx, utterance)
		m.metrics.ClassificationDuration.Record(ctx, time.Since(clsStart).Seconds())
		if err != nil {
			// An unreadable opening still starts a conversation; assume
			// the common case and let extraction sort out the rest.
			slog.Warn("dialogue: classification failed, assuming create",
				"session", s.ID, "err", err)
			m.metrics.Degradation(ctx, "classify")
			intent, targetID = workout.IntentCreate, ""
		}
		s.Intent = intent
		s.intentSet = true
		s.TargetID = targetID

		switch intent {
		case workout.IntentRead:
			// Reads have nothing to extract or confirm.
			s.readFilter = parseReadFilter(utterance, m.now())
			return m.commit(ctx, s)
		case workout.IntentDelete:
			s.State = StateConfirming
			return m.reply(s, confirmPrompt(s))
		default:
			s.State = StateExtracting
			// The opening utterance usually carries fields already.
		}
	}

	switch s.State {
	case StateExtracting:
		return m.extractTurn(ctx, s, utterance)
	case StateConfirming:
		return m.confirmTurn(ctx, s, utterance)
	}

	// Committing is never left pending between turns, so reaching here
	// means a state was added without a handler.
	slog.Error("dialogue: utterance in unhandled state", "session", s.ID, "state", s.State)
	s.State = StateFailed
	return m.reply(s, "Sorry, something went wrong with this conversation.")
}

func (m *Manager) extractTurn(ctx context.Context, s *Session, utterance string) Reply {
	rec, err := m.extractor.Extract(ctx, utterance, s.snapshot())
	if err != nil {
		slog.Warn("dialogue: extraction failed", "session", s.ID, "err", err)
		m.metrics.Degradation(ctx, "extract")
		return m.reply(s, "Sorry, I didn't quite catch that. Could you say it again?")
	}
	s.Record = workout.Merge(s.Record, rec)

	// A correction pass only asks for the fields the user reopened.
	if len(s.reopened) > 0 {
		for f := range s.reopened {
			if s.Record.Has(f) {
				delete(s.reopened, f)
			}
		}
		if len(s.reopened) > 0 {
			return m.reply(s, missingPrompt(pendingFields(s.reopened)))
		}
		s.State = StateConfirming
		return m.reply(s, confirmPrompt(s))
	}

	if s.Intent == workout.IntentUpdate {
		// Any single field is enough to update; the target record
		// already holds the rest.
		if !anyPresent(s.Record) {
			return m.reply(s, "What would you like to change? The sets, reps, weight or something else?")
		}
		s.State = StateConfirming
		return m.reply(s, confirmPrompt(s))
	}

	if missing := workout.Missing(s.Record); len(missing) > 0 {
		return m.reply(s, missingPrompt(missing))
	}
	s.State = StateConfirming
	return m.reply(s, confirmPrompt(s))
}

func (m *Manager) confirmTurn(ctx context.Context, s *Session, utterance string) Reply {
	switch {
	case isAffirmative(utterance):
		return m.commit(ctx, s)
	case isNegative(utterance):
		// A plain "no" means something is wrong, not "throw it away".
		// Everything captured so far is kept; only the cancel phrases
		// end the conversation.
		s.State = StateExtracting
		return m.reply(s, "Okay, what should I change? You can also say cancel to discard it.")
	}

	if fields := parseChangeRequest(utterance); len(fields) > 0 {
		s.State = StateExtracting
		s.reopened = make(map[workout.Field]bool, len(fields))
		labels := make([]string, len(fields))
		for i, f := range fields {
			s.Record.Clear(f)
			s.reopened[f] = true
			labels[i] = f.Label()
		}
		return m.reply(s, "Sure. What should the "+joinNatural(labels)+" be?")
	}

	return m.reply(s, "Sorry, I didn't follow. "+confirmPrompt(s))
}

// commit calls the gateway exactly once for the session and moves it to
// a terminal state. The committed flag never resets, so a session that
// reaches this point can never write twice.
func (m *Manager) commit(ctx context.Context, s *Session) Reply {
	ctx, span := observe.StartSpan(ctx, "dialogue.commit",
		trace.WithAttributes(attribute.String("intent", string(s.Intent))))
	defer span.End()

	if s.committed {
		slog.Error("dialogue: commit requested twice", "session", s.ID)
		s.State = StateFailed
		return m.reply(s, "Sorry, something went wrong with this conversation.")
	}
	s.committed = true
	s.State = StateCommitting

	res, err := m.gw.Execute(ctx, gateway.Request{
		Intent:     s.Intent,
		OwnerID:    s.OwnerID,
		TargetID:   s.TargetID,
		Record:     s.snapshot(),
		ReadFilter: s.readFilter,
	})
	if err != nil {
		s.State = StateFailed
		m.metrics.CommitFinished(ctx, string(s.Intent), "error")
		if errors.Is(err, gateway.ErrNoTarget) {
			verb := "update"
			if s.Intent == workout.IntentDelete {
				verb = "delete"
			}
			return m.reply(s, "I couldn't find a workout of yours to "+verb+". Try logging one first.")
		}
		slog.Error("dialogue: commit failed", "session", s.ID, "intent", s.Intent, "err", err)
		return m.reply(s, "Sorry, I couldn't save that right now. Please try again in a bit.")
	}

	s.State = StateComplete
	m.metrics.CommitFinished(ctx, string(s.Intent), "ok")
	if s.Intent == workout.IntentRead {
		return m.reply(s, readText(res.Workouts))
	}
	return m.reply(s, committedText(s, res))
}

func (m *Manager) reply(s *Session, text string) Reply {
	return Reply{
		SessionID: s.ID,
		State:     s.State,
		Text:      text,
		Done:      s.State.Terminal(),
		Intent:    s.Intent,
	}
}

func anyPresent(r workout.Record) bool {
	for _, f := range append(workout.RequiredFields, workout.OptionalFields...) {
		if r.Has(f) {
			return true
		}
	}
	return false
}

// pendingFields orders a reopened set by schema position for prompts.
func pendingFields(set map[workout.Field]bool) []workout.Field {
	var fields []workout.Field
	for _, f := range append(workout.RequiredFields, workout.OptionalFields...) {
		if set[f] {
			fields = append(fields, f)
		}
	}
	return fields
}
