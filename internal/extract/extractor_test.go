package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Gymmando/gymmando/internal/observe"
	"github.com/Gymmando/gymmando/internal/workout"
	"github.com/Gymmando/gymmando/pkg/provider/llm"
	"github.com/Gymmando/gymmando/pkg/provider/llm/mock"
)

func reply(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content}
}

// ── Extract ──────────────────────────────────────────────────────────────────

func TestExtract(t *testing.T) {
	t.Parallel()

	t.Run("parses a full reply", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply(
			`{"exerciseName":"squats","setCount":3,"repCount":20,"weightDescription":"60 kg"}`,
		)}
		e := NewExtractor(p)

		rec, err := e.Extract(context.Background(), "I did 3 sets of 20 squats at 60 kg", workout.Record{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !workout.Complete(rec) {
			t.Fatalf("expected complete record, missing %v", workout.Missing(rec))
		}
		if *rec.Exercise != "squats" || *rec.Sets != 3 || *rec.Reps != 20 || *rec.Weight != "60 kg" {
			t.Fatalf("unexpected record: %+v", rec)
		}
	})

	t.Run("prior record rendered as prompt context", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply(`{"setCount":4}`)}
		e := NewExtractor(p)

		ex, sets := "squats", 3
		prior := workout.Record{Exercise: &ex, Sets: &sets}
		if _, err := e.Extract(context.Background(), "actually make that 4", prior); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(p.CompleteCalls) != 1 {
			t.Fatalf("provider called %d times, want 1", len(p.CompleteCalls))
		}
		sp := p.CompleteCalls[0].Req.SystemPrompt
		if !strings.Contains(sp, "Data captured so far") {
			t.Fatalf("system prompt should carry the context preamble: %q", sp)
		}
		if !strings.Contains(sp, "exercise: squats") || !strings.Contains(sp, "sets: 3") {
			t.Fatalf("system prompt should list captured fields: %q", sp)
		}
	})

	t.Run("empty prior record adds no context", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply(`{"setCount":5}`)}
		e := NewExtractor(p)

		if _, err := e.Extract(context.Background(), "5 sets", workout.Record{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sp := p.CompleteCalls[0].Req.SystemPrompt; sp != systemPrompt {
			t.Fatalf("empty record must not change the prompt: %q", sp)
		}
	})

	t.Run("absent keys stay absent", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply(`{"setCount":5}`)}
		e := NewExtractor(p)

		rec, err := e.Extract(context.Background(), "5 sets", workout.Record{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Sets == nil || *rec.Sets != 5 {
			t.Fatalf("want sets=5, got %+v", rec)
		}
		if rec.Exercise != nil || rec.Reps != nil || rec.Weight != nil {
			t.Fatalf("unmentioned fields must stay absent: %+v", rec)
		}
	})

	t.Run("tolerates code fences and prose", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply(
			"Here you go:\n```json\n{\"exerciseName\":\"bench press\"}\n```",
		)}
		e := NewExtractor(p)

		rec, err := e.Extract(context.Background(), "bench press", workout.Record{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Exercise == nil || *rec.Exercise != "bench press" {
			t.Fatalf("unexpected record: %+v", rec)
		}
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply(`{"exerciseName":"squats","calories":300}`)}
		e := NewExtractor(p)

		if _, err := e.Extract(context.Background(), "squats", workout.Record{}); err == nil {
			t.Fatal("expected decode error for unknown key")
		}
	})

	t.Run("rejects a reply with no JSON", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply("I cannot help with that.")}
		e := NewExtractor(p)

		if _, err := e.Extract(context.Background(), "squats", workout.Record{}); err == nil {
			t.Fatal("expected error for prose-only reply")
		}
	})

	t.Run("drops invalid values but keeps valid ones", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply(
			`{"exerciseName":"deadlift","setCount":-2,"weightDescription":"  "}`,
		)}
		e := NewExtractor(p)

		rec, err := e.Extract(context.Background(), "deadlifts", workout.Record{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Exercise == nil || *rec.Exercise != "deadlift" {
			t.Fatalf("valid field should survive: %+v", rec)
		}
		if rec.Sets != nil {
			t.Fatal("negative set count must be dropped")
		}
		if rec.Weight != nil {
			t.Fatal("blank weight must be dropped")
		}
	})

	t.Run("propagates provider errors", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteErr: errors.New("rate limited")}
		e := NewExtractor(p)

		if _, err := e.Extract(context.Background(), "squats", workout.Record{}); err == nil {
			t.Fatal("expected provider error")
		}
	})

	t.Run("requests greedy decoding", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: reply(`{}`)}
		e := NewExtractor(p)

		if _, err := e.Extract(context.Background(), "squats", workout.Record{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(p.CompleteCalls) != 1 {
			t.Fatalf("want 1 call, got %d", len(p.CompleteCalls))
		}
		req := p.CompleteCalls[0].Req
		if req.Temperature != 0 {
			t.Errorf("extraction must run at temperature 0, got %v", req.Temperature)
		}
		if req.SystemPrompt == "" {
			t.Error("extraction request is missing a system prompt")
		}
	})
}

// ── Metrics ──────────────────────────────────────────────────────────────────

func metricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestExtractRecordsProviderMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	t.Run("completion latency carries the provider label", func(t *testing.T) {
		p := &mock.Provider{CompleteResponse: reply(`{"setCount":3}`)}
		e := NewExtractor(p, WithMetrics(m), WithProviderName("openai"))

		if _, err := e.Extract(context.Background(), "3 sets", workout.Record{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		met := metricByName(rm, "gymmando.llm.duration")
		if met == nil {
			t.Fatal("llm duration histogram not recorded")
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Fatalf("llm duration has no data points: %+v", met.Data)
		}
		if v, _ := hist.DataPoints[0].Attributes.Value("provider"); v.AsString() != "openai" {
			t.Errorf("provider attribute = %q, want %q", v.AsString(), "openai")
		}
	})

	t.Run("failed completion increments the error counter", func(t *testing.T) {
		p := &mock.Provider{CompleteErr: errors.New("rate limited")}
		e := NewExtractor(p, WithMetrics(m), WithProviderName("openai"))

		if _, err := e.Extract(context.Background(), "3 sets", workout.Record{}); err == nil {
			t.Fatal("expected provider error")
		}

		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		met := metricByName(rm, "gymmando.provider.errors")
		if met == nil {
			t.Fatal("provider error counter not recorded")
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Fatalf("provider errors has no data points: %+v", met.Data)
		}
		if got := sum.DataPoints[0].Value; got != 1 {
			t.Errorf("provider errors = %d, want 1", got)
		}
	})
}

// ── isolateJSON ──────────────────────────────────────────────────────────────

func TestIsolateJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! {"a":1} hope that helps`, `{"a":1}`},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"no object", "nothing here", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isolateJSON(tc.in); got != tc.want {
				t.Errorf("isolateJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
