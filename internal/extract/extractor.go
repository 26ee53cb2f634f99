// Package extract turns free-form workout utterances into structured
// fields using an LLM, and classifies what the user wants to do with
// them. Model output is never trusted: everything crosses a strict
// decode and validation boundary before it reaches the dialogue layer.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/Gymmando/gymmando/internal/observe"
	"github.com/Gymmando/gymmando/internal/workout"
	"github.com/Gymmando/gymmando/pkg/provider/llm"
	"github.com/Gymmando/gymmando/pkg/types"
)

// systemPrompt instructs the model to emit only explicitly mentioned
// fields. Omission is meaningful downstream: an absent key never
// overwrites a previously captured value.
const systemPrompt = `You extract workout data from a user's message.
Respond with a single JSON object. Include ONLY the fields the user explicitly mentioned:
  "exerciseName": string, the exercise performed
  "setCount": integer, number of sets
  "repCount": integer, repetitions per set
  "weightDescription": string, the weight exactly as stated (e.g. "60 kg", "bodyweight", "band level 3")
  "restSeconds": integer, rest between sets in seconds
  "comments": string, any remarks about the workout
Never guess missing fields. Never add other keys. No prose, no code fences.`

// contextPreamble introduces the accumulated record so the model can
// resolve relative corrections ("actually make that 4") against it.
const contextPreamble = `Data captured so far (resolve references like "that" or "it" against these values, and re-emit a field only if the user changes or mentions it):`

const defaultMaxTokens = 256

// payload is the closed shape the model must produce. Pointer fields
// distinguish "absent" from zero values.
type payload struct {
	ExerciseName      *string `json:"exerciseName"`
	SetCount          *int    `json:"setCount"`
	RepCount          *int    `json:"repCount"`
	WeightDescription *string `json:"weightDescription"`
	RestSeconds       *int    `json:"restSeconds"`
	Comments          *string `json:"comments"`
}

// Extractor pulls workout fields out of utterances via an LLM provider.
type Extractor struct {
	provider     llm.Provider
	providerName string
	metrics      *observe.Metrics
	maxTokens    int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxTokens caps the completion size for extraction calls.
func WithMaxTokens(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithMetrics attaches instrument recording to the extractor.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithProviderName sets the provider label used on LLM latency and
// error instruments.
func WithProviderName(name string) Option {
	return func(e *Extractor) {
		if name != "" {
			e.providerName = name
		}
	}
}

// NewExtractor builds an Extractor on top of the given LLM provider.
func NewExtractor(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		provider:     provider,
		providerName: "llm",
		metrics:      observe.DefaultMetrics(),
		maxTokens:    defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract sends the utterance to the model and converts the reply into a
// partial record. The prior record is rendered into the system prompt so
// the model can interpret corrections relative to it. Fields the model
// did not return stay absent. Runs at temperature zero so repeated
// extraction of the same utterance is stable.
func (e *Extractor) Extract(ctx context.Context, utterance string, prior workout.Record) (workout.Record, error) {
	start := time.Now()
	defer func() {
		e.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())
	}()

	llmStart := time.Now()
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: promptWithContext(prior),
		Messages: []types.Message{
			{Role: "user", Content: utterance},
		},
		Temperature:  0,
		MaxTokens:    e.maxTokens,
		JSONResponse: e.provider.Capabilities().SupportsJSONOutput,
	})
	e.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds(),
		metric.WithAttributes(observe.Attr("provider", e.providerName)))
	if err != nil {
		e.metrics.RecordProviderError(ctx, e.providerName, "completion")
		return workout.Record{}, fmt.Errorf("extract: completion: %w", err)
	}

	p, err := decodePayload(resp.Content)
	if err != nil {
		return workout.Record{}, fmt.Errorf("extract: %w", err)
	}
	return p.record(), nil
}

// promptWithContext appends the non-empty prior fields to the system
// prompt. An empty record yields the base prompt unchanged.
func promptWithContext(prior workout.Record) string {
	fields := workout.Captured(prior)
	if len(fields) == 0 {
		return systemPrompt
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	b.WriteString(contextPreamble)
	for _, fv := range fields {
		fmt.Fprintf(&b, "\n  %s: %s", fv.Field.Label(), fv.Value)
	}
	return b.String()
}

// decodePayload parses the model reply into the closed payload shape.
// Code fences and prose around the JSON object are tolerated; unknown
// keys are not.
func decodePayload(content string) (payload, error) {
	raw := isolateJSON(content)
	if raw == "" {
		return payload{}, fmt.Errorf("no JSON object in model reply")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return payload{}, fmt.Errorf("decode model reply: %w", err)
	}
	return p, nil
}

// isolateJSON returns the outermost JSON object embedded in s, or the
// empty string if none is present.
func isolateJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	open := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if open < 0 || end < open {
		return ""
	}
	return s[open : end+1]
}

// record converts the decoded payload into a partial record. Set
// silently drops values that fail validation (negative counts, blank
// text), so a half-garbage reply still contributes its sane fields.
func (p payload) record() workout.Record {
	var r workout.Record
	if p.ExerciseName != nil {
		r.Set(workout.FieldExercise, *p.ExerciseName)
	}
	if p.SetCount != nil {
		r.Set(workout.FieldSets, *p.SetCount)
	}
	if p.RepCount != nil {
		r.Set(workout.FieldReps, *p.RepCount)
	}
	if p.WeightDescription != nil {
		r.Set(workout.FieldWeight, *p.WeightDescription)
	}
	if p.RestSeconds != nil {
		r.Set(workout.FieldRestTime, *p.RestSeconds)
	}
	if p.Comments != nil {
		r.Set(workout.FieldComments, *p.Comments)
	}
	return r
}
