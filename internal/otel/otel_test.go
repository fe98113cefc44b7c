package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	eventbus "github.com/hanpama/suitetree/internal/eventbus"
	events "github.com/hanpama/suitetree/internal/events"
	runid "github.com/hanpama/suitetree/internal/runid"
)

func TestSetup_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup("", "svc")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestRegister_NestsSpans(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	unsubscribe := Register(tp.Tracer("test"))
	defer unsubscribe()

	ctx, _ := runid.NewContext(context.Background())
	eventbus.Publish(ctx, events.RunStart{Name: "demo"})
	eventbus.Publish(ctx, events.SuiteStart{ID: "suite1", FullName: "demo"})
	eventbus.Publish(ctx, events.SuiteStart{ID: "suite2", ParentID: "suite1", FullName: "db"})
	eventbus.Publish(ctx, events.SpecStart{ID: "spec1", SuiteID: "suite2", FullName: "db query"})
	eventbus.Publish(ctx, events.SpecFinish{ID: "spec1", SuiteID: "suite2", Status: "failed", Err: errors.New("boom")})
	eventbus.Publish(ctx, events.SuiteFinish{ID: "suite2", ParentID: "suite1"})
	eventbus.Publish(ctx, events.SuiteFinish{ID: "suite1"})
	eventbus.Publish(ctx, events.RunFinish{Name: "demo", Failed: 1})

	ended := sr.Ended()
	require.Len(t, ended, 4)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		id := s.Name()
		for _, a := range s.Attributes() {
			if a.Key == "suitetree.node.id" {
				id = a.Value.AsString()
			}
		}
		byName[id] = s
	}
	run := byName["suitetree.run"]
	require.NotNil(t, run)
	require.Equal(t, codes.Error, run.Status().Code)
	require.Equal(t, run.SpanContext().SpanID(), byName["suite1"].Parent().SpanID())
	require.Equal(t, byName["suite1"].SpanContext().SpanID(), byName["suite2"].Parent().SpanID())
	require.Equal(t, byName["suite2"].SpanContext().SpanID(), byName["spec1"].Parent().SpanID())
	require.Equal(t, codes.Error, byName["spec1"].Status().Code)
	require.Equal(t, codes.Unset, byName["suite2"].Status().Code)
}

func TestRegister_SeparatesRuns(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer Register(tp.Tracer("test"))()

	a, _ := runid.NewContext(context.Background())
	b, _ := runid.NewContext(context.Background())
	eventbus.Publish(a, events.SuiteStart{ID: "suite1"})
	eventbus.Publish(b, events.SuiteStart{ID: "suite1"})
	eventbus.Publish(a, events.SuiteFinish{ID: "suite1"})
	require.Len(t, sr.Ended(), 1)
	eventbus.Publish(b, events.SuiteFinish{ID: "suite1"})
	require.Len(t, sr.Ended(), 2)
}
