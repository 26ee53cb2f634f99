package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider with an in-memory
// exporter for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestStartSpan(t *testing.T) {
	tp, exp := newTestTracerProvider(t)

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "dialogue.turn")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not put a traced span into the context")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if spans[0].Name != "dialogue.turn" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "dialogue.turn")
	}
}

func TestCorrelationID(t *testing.T) {
	t.Run("no active span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID(background) = %q, want empty", got)
		}
	})

	t.Run("active span yields the hex trace id", func(t *testing.T) {
		tp, _ := newTestTracerProvider(t)
		ctx, span := tp.Tracer("test").Start(context.Background(), "dialogue.commit")
		defer span.End()

		cid := CorrelationID(ctx)
		if len(cid) != 32 {
			t.Fatalf("correlation ID length = %d, want 32", len(cid))
		}
		if strings.Trim(cid, "0123456789abcdef") != "" {
			t.Errorf("correlation ID is not lowercase hex: %q", cid)
		}
	})

	t.Run("distinct turns get distinct ids", func(t *testing.T) {
		tp, _ := newTestTracerProvider(t)
		tracer := tp.Tracer("test")

		ids := make(map[string]struct{}, 100)
		for range 100 {
			ctx, span := tracer.Start(context.Background(), "dialogue.turn")
			cid := CorrelationID(ctx)
			span.End()
			if _, dup := ids[cid]; dup {
				t.Fatalf("duplicate correlation ID: %s", cid)
			}
			ids[cid] = struct{}{}
		}
	})
}

func TestLogger(t *testing.T) {
	capture := func(t *testing.T) *bytes.Buffer {
		t.Helper()
		var buf bytes.Buffer
		slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
		t.Cleanup(func() { slog.SetDefault(slog.Default()) })
		return &buf
	}

	t.Run("inside a span the log line carries trace ids", func(t *testing.T) {
		tp, _ := newTestTracerProvider(t)
		buf := capture(t)

		ctx, span := tp.Tracer("test").Start(context.Background(), "dialogue.turn")
		defer span.End()

		Logger(ctx).Info("session started")

		logged := buf.String()
		if !strings.Contains(logged, "trace_id=") {
			t.Errorf("log output missing trace_id, got: %s", logged)
		}
		if !strings.Contains(logged, "span_id=") {
			t.Errorf("log output missing span_id, got: %s", logged)
		}
	})

	t.Run("outside a span the log line is plain", func(t *testing.T) {
		buf := capture(t)

		Logger(context.Background()).Info("session started")

		if logged := buf.String(); strings.Contains(logged, "trace_id") {
			t.Errorf("log output should not contain trace_id, got: %s", logged)
		}
	})
}

func TestTracer(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer() returned nil")
	}
}
