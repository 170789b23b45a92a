package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tickwork/tickwork/events"
)

// spanEntry tracks an in-flight span and its context.
type spanEntry struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// runState tracks the root span for a run.
type runState struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // needed to parent child spans
}

// pendingEnd buffers a span completion that arrived before the corresponding start.
// The EventBus dispatches each Publish() on worker goroutines, so completion
// events can race ahead of start events.
type pendingEnd struct {
	errMsg string // empty means success
	attrs  []attribute.KeyValue
}

// OTelEventListener converts runtime events into OTel spans in real time:
// one span per dataflow graph, stage, and backtest, plus instant spans for
// market data ingest. It implements the events.Listener function signature
// via its OnEvent method. It is safe for concurrent use and tolerates
// out-of-order event delivery.
type OTelEventListener struct {
	tracer trace.Tracer

	mu          sync.Mutex
	runs        map[string]*runState   // runID → root span + ctx
	inflight    map[string]*spanEntry  // "graph:<runID>" → span + ctx
	pendingEnds map[string]*pendingEnd // buffered completions for out-of-order delivery
}

// NewOTelEventListener creates a listener that creates OTel spans from runtime events.
func NewOTelEventListener(tracer trace.Tracer) *OTelEventListener {
	return &OTelEventListener{
		tracer:      tracer,
		runs:        make(map[string]*runState),
		inflight:    make(map[string]*spanEntry),
		pendingEnds: make(map[string]*pendingEnd),
	}
}

// StartRun creates a root span for the given run, optionally parented
// under the span context in parentCtx.
func (l *OTelEventListener) StartRun(parentCtx context.Context, runID string) {
	ctx, span := l.tracer.Start(parentCtx, "tickwork.run",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("run.id", runID)),
	)
	l.mu.Lock()
	l.runs[runID] = &runState{span: span, ctx: ctx}
	l.mu.Unlock()
}

// EndRun ends the root span for the given run.
func (l *OTelEventListener) EndRun(runID string) {
	l.mu.Lock()
	rs, ok := l.runs[runID]
	if ok {
		delete(l.runs, runID)
	}
	l.mu.Unlock()
	if ok {
		rs.span.End()
	}
}

// OnEvent handles a single runtime event and creates/completes OTel spans accordingly.
// It is safe for concurrent use and can be passed to EventBus.SubscribeAll.
func (l *OTelEventListener) OnEvent(evt *events.Event) {
	//nolint:exhaustive // Only handling span-producing events
	switch evt.Type {
	case events.EventGraphStarted:
		l.startGraph(evt)
	case events.EventGraphCompleted:
		l.completeGraph(evt)
	case events.EventGraphFailed:
		l.failGraph(evt)
	case events.EventStageStarted:
		l.startStage(evt)
	case events.EventStageCompleted:
		l.completeStage(evt)
	case events.EventStageFailed:
		l.failStage(evt)
	case events.EventBacktestStarted:
		l.startBacktest(evt)
	case events.EventBacktestPreloaded:
		l.handlePreloaded(evt)
	case events.EventBacktestCompleted:
		l.completeBacktest(evt)
	case events.EventBacktestFailed:
		l.failBacktest(evt)
	case events.EventDayDownloaded:
		l.handleDayDownloaded(evt)
	case events.EventDaySaved:
		l.handleDaySaved(evt)
	case events.EventOrderEmitted:
		l.handleOrder(evt)
	}
}

// runCtx returns the context for the run (to parent child spans).
// Falls back to context.Background() if the run is unknown.
func (l *OTelEventListener) runCtx(runID string) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rs, ok := l.runs[runID]; ok {
		return rs.ctx
	}
	return context.Background()
}

// parentCtx resolves the parenting context for a new span: the first inflight
// span among keys, then the run root, then background.
func (l *OTelEventListener) parentCtx(runID string, keys ...string) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		if entry, ok := l.inflight[key]; ok {
			return entry.ctx
		}
	}
	if rs, ok := l.runs[runID]; ok {
		return rs.ctx
	}
	return context.Background()
}

// startSpan starts a span under parentCtx and stores it in inflight.
// If a completion was already buffered (out-of-order delivery), the span is
// immediately ended.
func (l *OTelEventListener) startSpan(
	parentCtx context.Context, key, name string, kind trace.SpanKind, attrs ...attribute.KeyValue,
) {
	ctx, span := l.tracer.Start(parentCtx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
	l.mu.Lock()
	pe, havePending := l.pendingEnds[key]
	if havePending {
		delete(l.pendingEnds, key)
	} else {
		l.inflight[key] = &spanEntry{span: span, ctx: ctx}
	}
	l.mu.Unlock()

	if havePending {
		span.SetAttributes(pe.attrs...)
		if pe.errMsg != "" {
			span.SetStatus(codes.Error, pe.errMsg)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// endSpan ends an inflight span and removes it from the map.
// If the span hasn't started yet (out-of-order delivery), the completion is
// buffered and will be applied when startSpan creates the span.
func (l *OTelEventListener) endSpan(key string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	entry, ok := l.inflight[key]
	if ok {
		delete(l.inflight, key)
	} else {
		l.pendingEnds[key] = &pendingEnd{attrs: attrs}
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	entry.span.SetAttributes(attrs...)
	entry.span.SetStatus(codes.Ok, "")
	entry.span.End()
}

// failSpan ends an inflight span with an error status.
// If the span hasn't started yet (out-of-order delivery), the failure is
// buffered and will be applied when startSpan creates the span.
func (l *OTelEventListener) failSpan(key, errMsg string, attrs ...attribute.KeyValue) {
	l.mu.Lock()
	entry, ok := l.inflight[key]
	if ok {
		delete(l.inflight, key)
	} else {
		l.pendingEnds[key] = &pendingEnd{errMsg: errMsg, attrs: attrs}
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	entry.span.SetAttributes(attrs...)
	entry.span.SetStatus(codes.Error, errMsg)
	entry.span.End()
}

// asData extracts event data, handling both value and pointer payloads.
func asData[T any](data any) (*T, bool) {
	if p, ok := data.(*T); ok {
		return p, true
	}
	if v, ok := data.(T); ok {
		return &v, true
	}
	return nil, false
}

// errText renders an event error for span status, tolerating nil errors.
func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// --- Graph ---

func (l *OTelEventListener) startGraph(evt *events.Event) {
	attrs := []attribute.KeyValue{attribute.String("run.id", evt.RunID)}
	if data, ok := asData[events.GraphStartedData](evt.Data); ok {
		attrs = append(attrs,
			attribute.Int("graph.stages", data.StageCount),
			attribute.Int("graph.sources", data.SourceCount),
		)
	}
	l.startSpan(l.runCtx(evt.RunID), "graph:"+evt.RunID, "tickwork.graph",
		trace.SpanKindInternal, attrs...)
}

func (l *OTelEventListener) completeGraph(evt *events.Event) {
	data, ok := asData[events.GraphCompletedData](evt.Data)
	if !ok {
		return
	}
	l.endSpan("graph:"+evt.RunID,
		attribute.Int64("graph.duration_ms", data.Duration.Milliseconds()),
	)
}

func (l *OTelEventListener) failGraph(evt *events.Event) {
	data, ok := asData[events.GraphFailedData](evt.Data)
	if !ok {
		return
	}
	l.failSpan("graph:"+evt.RunID, errText(data.Error),
		attribute.Int64("graph.duration_ms", data.Duration.Milliseconds()),
	)
}

// --- Stage ---

func (l *OTelEventListener) startStage(evt *events.Event) {
	data, ok := asData[events.StageEventData](evt.Data)
	if !ok {
		return
	}
	// Stages nest under their graph span when it is live.
	parent := l.parentCtx(evt.RunID, "graph:"+evt.RunID)
	l.startSpan(parent, "stage:"+evt.RunID+":"+data.Name, "tickwork.stage."+data.Name,
		trace.SpanKindInternal,
		attribute.String("stage.name", data.Name),
		attribute.String("stage.shape", data.Shape),
	)
}

func (l *OTelEventListener) completeStage(evt *events.Event) {
	data, ok := asData[events.StageEventData](evt.Data)
	if !ok {
		return
	}
	l.endSpan("stage:"+evt.RunID+":"+data.Name,
		attribute.Int64("stage.duration_ms", data.Duration.Milliseconds()),
	)
}

func (l *OTelEventListener) failStage(evt *events.Event) {
	data, ok := asData[events.StageEventData](evt.Data)
	if !ok {
		return
	}
	l.failSpan("stage:"+evt.RunID+":"+data.Name, errText(data.Error),
		attribute.Int64("stage.duration_ms", data.Duration.Milliseconds()),
	)
}

// --- Backtest ---

func (l *OTelEventListener) startBacktest(evt *events.Event) {
	attrs := []attribute.KeyValue{attribute.String("run.id", evt.RunID)}
	if data, ok := asData[events.BacktestStartedData](evt.Data); ok {
		attrs = append(attrs,
			attribute.Int("backtest.requests", data.Requests),
			attribute.Bool("backtest.preload", data.Preload),
		)
	}
	l.startSpan(l.runCtx(evt.RunID), "backtest:"+evt.RunID, "tickwork.backtest",
		trace.SpanKindInternal, attrs...)
}

func (l *OTelEventListener) handlePreloaded(evt *events.Event) {
	data, ok := asData[events.BacktestPreloadedData](evt.Data)
	if !ok {
		return
	}

	// The warm-up is a phase of the backtest span, not a span of its own.
	l.mu.Lock()
	if entry, ok := l.inflight["backtest:"+evt.RunID]; ok {
		entry.span.AddEvent("tickwork.preload", trace.WithAttributes(
			attribute.Int("preload.events", data.Events),
			attribute.Int64("preload.duration_ms", data.Duration.Milliseconds()),
		))
	}
	l.mu.Unlock()
}

func (l *OTelEventListener) completeBacktest(evt *events.Event) {
	data, ok := asData[events.BacktestCompletedData](evt.Data)
	if !ok {
		return
	}
	l.endSpan("backtest:"+evt.RunID,
		attribute.Int64("backtest.duration_ms", data.Duration.Milliseconds()),
		attribute.Int("backtest.events", data.Events),
		attribute.Int("backtest.orders", data.Orders),
	)
}

func (l *OTelEventListener) failBacktest(evt *events.Event) {
	data, ok := asData[events.BacktestFailedData](evt.Data)
	if !ok {
		return
	}
	l.failSpan("backtest:"+evt.RunID, errText(data.Error),
		attribute.Int64("backtest.duration_ms", data.Duration.Milliseconds()),
	)
}

// --- Market data ingest ---

func (l *OTelEventListener) handleDayDownloaded(evt *events.Event) {
	data, ok := asData[events.DayEventData](evt.Data)
	if !ok {
		return
	}
	l.instantSpan(evt.RunID, "tickwork.day.download",
		attribute.String("market.symbol", data.Symbol),
		attribute.String("market.product", data.Product),
		attribute.String("market.day", data.Day),
	)
}

func (l *OTelEventListener) handleDaySaved(evt *events.Event) {
	data, ok := asData[events.DayEventData](evt.Data)
	if !ok {
		return
	}
	l.instantSpan(evt.RunID, "tickwork.day.save",
		attribute.String("market.symbol", data.Symbol),
		attribute.String("market.product", data.Product),
		attribute.String("market.day", data.Day),
		attribute.Int("market.items", data.Items),
	)
}

// instantSpan records a point-in-time operation under the run root.
func (l *OTelEventListener) instantSpan(runID, name string, attrs ...attribute.KeyValue) {
	parentCtx := l.runCtx(runID)
	_, span := l.tracer.Start(parentCtx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

// --- Orders ---

func (l *OTelEventListener) handleOrder(evt *events.Event) {
	data, ok := asData[events.OrderEmittedData](evt.Data)
	if !ok {
		return
	}

	evtAttrs := []attribute.KeyValue{
		attribute.String("order.id", data.OrderID),
		attribute.Float64("order.ts", data.Timestamp),
	}

	// Attach to the active backtest span if present, otherwise the run root.
	l.mu.Lock()
	if entry, ok := l.inflight["backtest:"+evt.RunID]; ok {
		entry.span.AddEvent("tickwork.order", trace.WithAttributes(evtAttrs...))
	} else if rs, ok := l.runs[evt.RunID]; ok {
		rs.span.AddEvent("tickwork.order", trace.WithAttributes(evtAttrs...))
	}
	l.mu.Unlock()
}
