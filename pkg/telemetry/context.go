package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is what the engine finds in the context: logger, tracer,
// metrics and events built from one Config.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel := &Telemetry{Config: cfg}
	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if tel.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, err
	}
	return tel, nil
}

// WithContext stores both the telemetry and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))
}

// FromTelemetryContext returns the telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown drains events, stops the metrics server and flushes spans. Every
// component is shut down even if an earlier one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Metrics.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer(t.Logger)
}

// InstrumentedContext carries the span, logger and timer of one operation.
// Span is nil when ctx had no telemetry.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation opens a span named after operation and returns a context
// whose logger carries the operation and trace identifiers.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	ic := &InstrumentedContext{
		Ctx:    ctx,
		Logger: FromContext(ctx).WithField("operation", operation),
		Timer:  NewTimer(),
	}
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ic
	}

	ctx, ic.Span = tel.Tracer.StartSpan(ctx, operation, attrs...)
	if sc := ic.Span.SpanContext(); sc.IsValid() {
		ic.Logger = ic.Logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	ic.Ctx = ic.Logger.WithContext(ctx)
	return ic
}

// SetAttributes annotates the operation span, if there is one.
func (ic *InstrumentedContext) SetAttributes(attrs ...attribute.KeyValue) {
	if ic.Span != nil {
		ic.Span.SetAttributes(attrs...)
	}
}

// End closes the span with an ok or error status.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	endSpan(ic.Span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// RunContext tracks one batch run.
type RunContext struct {
	Ctx   context.Context
	RunID string
	span  trace.Span
	timer *Timer
}

// StartRun tags the logger with runID and, when telemetry is present, opens
// the run span, counts the run and publishes run.started.
func StartRun(ctx context.Context, runID string, total int) *RunContext {
	rc := &RunContext{RunID: runID, timer: NewTimer()}
	if tel := FromTelemetryContext(ctx); tel != nil {
		ctx, rc.span = tel.Tracer.StartRunSpan(ctx, runID)
		tel.Metrics.RecordRunStarted()
		_ = tel.Events.PublishRunStarted(runID, total)
	}
	rc.Ctx = FromContext(ctx).WithRunID(runID).WithContext(ctx)
	return rc
}

// End records the final run status.
func (rc *RunContext) End(status string, err error) {
	if rc.span != nil {
		rc.span.SetAttributes(AttrRunStatus.String(status))
		endSpan(rc.span, err)
	}
	if tel := FromTelemetryContext(rc.Ctx); tel != nil {
		duration := rc.timer.Duration()
		tel.Metrics.RecordRunCompleted(status, duration)
		_ = tel.Events.PublishRunCompleted(rc.RunID, status, duration)
	}
}

// RecordClientCall runs fn inside a client span and counts the call. Failed
// calls are also counted by the code classify returns, "unknown" when it
// has none.
func RecordClientCall(ctx context.Context, resourceType, call string, classify func(error) string, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	spanCtx, span := tel.Tracer.StartClientSpan(ctx, resourceType, call)
	timer := NewTimer()
	err := fn(spanCtx)
	tel.Metrics.RecordClientCall(resourceType, call, timer.Duration())

	if err != nil {
		code := ""
		if classify != nil {
			code = classify(err)
		}
		if code == "" {
			code = "unknown"
		}
		tel.Metrics.RecordClientError(resourceType, call, code)
		span.SetAttributes(AttrErrorCode.String(code))
	}
	endSpan(span, err)
	return err
}
