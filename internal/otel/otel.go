package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/suitetree/internal/eventbus"
	events "github.com/hanpama/suitetree/internal/events"
	runid "github.com/hanpama/suitetree/internal/runid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Register(tp.Tracer("suitetree"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes tracer to run, suite, spec and HTTP events on the
// global bus. Spans nest the way the events do: request, run, suites, specs.
func Register(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	runSpans  sync.Map // rid -> trace.Span
	nodeSpans sync.Map // rid/node id -> trace.Span
}

func nodeKey(ctx context.Context, id string) string {
	rid, _ := runid.FromContext(ctx)
	return rid + "/" + id
}

// parent returns ctx carrying the span stored under key, falling back to
// the run span and then the request span.
func (s *subscriber) parent(ctx context.Context, key string) context.Context {
	rid, _ := runid.FromContext(ctx)
	if key != "" {
		if v, ok := s.nodeSpans.Load(key); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	if v, ok := s.runSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func (s *subscriber) register() func() {
	var unsubs []func()
	add := func(u func()) { unsubs = append(unsubs, u) }

	add(eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := runid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := runid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.RunStart) {
		rid, _ := runid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, ""), "suitetree.run")
		span.SetAttributes(
			attribute.String("suitetree.run.id", rid),
			attribute.String("suitetree.run.name", e.Name),
			attribute.StringSlice("suitetree.run.focus", e.RunnableIDs),
		)
		s.runSpans.Store(rid, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.RunFinish) {
		rid, _ := runid.FromContext(ctx)
		v, ok := s.runSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int("suitetree.passed", e.Passed),
			attribute.Int("suitetree.failed", e.Failed),
			attribute.Int("suitetree.skipped", e.Skipped),
			attribute.Int("suitetree.excluded", e.Excluded),
			attribute.Int("suitetree.suite_errors", e.Errors),
		)
		if e.Failed > 0 || e.Errors > 0 {
			span.SetStatus(codes.Error, "run failed")
		}
		span.End()
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.SuiteStart) {
		parentKey := ""
		if e.ParentID != "" {
			parentKey = nodeKey(ctx, e.ParentID)
		}
		_, span := s.tracer.Start(s.parent(ctx, parentKey), "suitetree.suite")
		span.SetAttributes(
			attribute.String("suitetree.node.id", e.ID),
			attribute.String("suitetree.node.name", e.FullName),
		)
		s.nodeSpans.Store(nodeKey(ctx, e.ID), span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.Exception) {
		if v, ok := s.nodeSpans.Load(nodeKey(ctx, e.NodeID)); ok {
			v.(trace.Span).RecordError(e.Err)
		}
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.SuiteFinish) {
		v, ok := s.nodeSpans.LoadAndDelete(nodeKey(ctx, e.ID))
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("suitetree.error_count", len(e.Errors)))
		if len(e.Errors) > 0 {
			span.SetStatus(codes.Error, e.Errors[0].Error())
		}
		span.End()
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.SpecStart) {
		_, span := s.tracer.Start(s.parent(ctx, nodeKey(ctx, e.SuiteID)), "suitetree.spec")
		span.SetAttributes(
			attribute.String("suitetree.node.id", e.ID),
			attribute.String("suitetree.node.name", e.FullName),
		)
		s.nodeSpans.Store(nodeKey(ctx, e.ID), span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.SpecFinish) {
		v, ok := s.nodeSpans.LoadAndDelete(nodeKey(ctx, e.ID))
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.String("suitetree.spec.status", e.Status))
		if e.Err != nil {
			span.RecordError(e.Err)
			span.SetStatus(codes.Error, e.Err.Error())
		}
		span.End()
	}))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
