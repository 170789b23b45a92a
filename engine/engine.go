package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tickwork/tickwork/events"
	"github.com/tickwork/tickwork/logger"
	"github.com/tickwork/tickwork/market"
)

var (
	// ErrMissingIterator reports an engine built without both iterators.
	ErrMissingIterator = errors.New("engine requires a preloader and an iterator")

	// ErrNoHandlers reports an engine built with nothing to run.
	ErrNoHandlers = errors.New("engine requires at least one handler")
)

// OrderSink receives every order the engine emits.
type OrderSink func(order market.Order) error

// DefaultOrderSink logs emitted orders. Production runs replace it via
// WithOrderSink to route orders to an execution venue or a feed.
func DefaultOrderSink(order market.Order) error {
	logger.OrderEmitted(order.ID, order.Time())
	return nil
}

type (
	convertFunc func(market.Event) ([]market.Event, error)
	eventFunc   func(market.Event) ([]market.Item, error)
	itemFunc    func(market.Item) ([]market.Item, error)
)

// Engine routes replayed market events through the handler tree.
//
// Dispatch tables are built once at construction. Converters are
// single-valued per routing info, last registration winning; event
// handlers accumulate, so several handlers can consume one series.
// Signal and advise handlers are global lists invoked in registration
// order.
//
// Run is not safe for concurrent use.
type Engine struct {
	preloader Iterator
	iterator  Iterator

	tradeConverters map[market.EventInfo]convertFunc
	eventHandlers   map[market.EventInfo][]eventFunc
	signalHandlers  []itemFunc
	adviseHandlers  []itemFunc

	preloadTradeConverters map[market.EventInfo]convertFunc
	preloadConverterOrder  []market.EventInfo
	preloadEventHandlers   map[market.EventInfo][]eventFunc
	preloadEventOrder      []market.EventInfo
	preloadSignalHandlers  []itemFunc

	sink    OrderSink
	emitter *events.Emitter

	requestCount int
	hasPreload   bool

	eventCount int
	orderCount int
}

// Option configures an Engine.
type Option func(*Engine)

// WithOrderSink replaces the terminal order handler.
func WithOrderSink(sink OrderSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithEmitter sets the event emitter used for run lifecycle events.
func WithEmitter(emitter *events.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// New builds an engine over the two iterators and analyzes the handler
// tree, subscribing every request and registering every set callback.
func New(preloader, iterator Iterator, handlers []*Handler, opts ...Option) (*Engine, error) {
	if preloader == nil || iterator == nil {
		return nil, ErrMissingIterator
	}
	if len(handlers) == 0 {
		return nil, ErrNoHandlers
	}

	e := &Engine{
		preloader:              preloader,
		iterator:               iterator,
		tradeConverters:        make(map[market.EventInfo]convertFunc),
		eventHandlers:          make(map[market.EventInfo][]eventFunc),
		preloadTradeConverters: make(map[market.EventInfo]convertFunc),
		preloadEventHandlers:   make(map[market.EventInfo][]eventFunc),
		sink:                   DefaultOrderSink,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.analyze(handlers); err != nil {
		return nil, err
	}
	return e, nil
}

// analyze walks the handler tree, subscribing requests and filling the
// dispatch tables. Children are descended into only when the parent can
// produce signals or advises for them.
func (e *Engine) analyze(handlers []*Handler) error {
	for _, h := range handlers {
		if h == nil {
			continue
		}

		var hasStream, hasPreload bool
		for _, req := range h.Requests {
			if err := req.Validate(); err != nil {
				return fmt.Errorf("handler %q: %w", h.Name, err)
			}

			if req.Stream {
				hasStream = true
				e.requestCount++
				e.iterator.Subscribe(req)

				if h.OnTrade != nil {
					e.tradeConverters[req.Info] = h.OnTrade
				}
				if h.OnEvent != nil {
					e.eventHandlers[req.Info] = append(e.eventHandlers[req.Info], h.OnEvent)
				}
			}

			if req.WantsPreload() {
				hasPreload = true
				e.hasPreload = true
				e.requestCount++
				e.preloader.Subscribe(req)

				if h.OnPreloadTrade != nil {
					if _, exists := e.preloadTradeConverters[req.Info]; !exists {
						e.preloadConverterOrder = append(e.preloadConverterOrder, req.Info)
					}
					e.preloadTradeConverters[req.Info] = h.OnPreloadTrade
				}
				if h.OnPreloadEvent != nil {
					if _, exists := e.preloadEventHandlers[req.Info]; !exists {
						e.preloadEventOrder = append(e.preloadEventOrder, req.Info)
					}
					e.preloadEventHandlers[req.Info] = append(e.preloadEventHandlers[req.Info], h.OnPreloadEvent)
				}
			}
		}

		descend := false
		if hasStream {
			if h.OnSignal != nil {
				e.signalHandlers = append(e.signalHandlers, h.OnSignal)
				descend = true
			}
			if h.OnAdvise != nil {
				e.adviseHandlers = append(e.adviseHandlers, h.OnAdvise)
				descend = true
			}
		}
		if hasPreload && h.OnPreloadSignal != nil {
			e.preloadSignalHandlers = append(e.preloadSignalHandlers, h.OnPreloadSignal)
			descend = true
		}

		if descend {
			if err := e.analyze(h.Children); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run prepares both iterators, replays the preload window, then streams
// the run, dispatching every event down to orders.
func (e *Engine) Run(ctx context.Context) error {
	start := time.Now()
	e.eventCount, e.orderCount = 0, 0

	e.emitter.BacktestStarted(e.requestCount, e.hasPreload)
	logger.Info("Starting backtest", "requests", e.requestCount, "preload", e.hasPreload)

	if err := e.run(ctx); err != nil {
		e.emitter.BacktestFailed(err, time.Since(start))
		logger.Error("Backtest failed", "error", err)
		return err
	}

	e.emitter.BacktestCompleted(time.Since(start), e.eventCount, e.orderCount)
	logger.Info("Backtest complete",
		"events", e.eventCount,
		"orders", e.orderCount,
		"duration", time.Since(start))
	return nil
}

func (e *Engine) run(ctx context.Context) error {
	if err := e.preloader.Run(ctx); err != nil {
		return err
	}
	if err := e.iterator.Run(ctx); err != nil {
		return err
	}

	if err := e.preload(ctx); err != nil {
		return err
	}
	return e.stream(ctx)
}

// preload drains the warm-up iterator into per-series buckets, runs the
// preload converters and event handlers over them, and feeds the
// collected signals to the preload signal handlers. Signal outputs are
// discarded: warming up never places orders.
func (e *Engine) preload(ctx context.Context) error {
	start := time.Now()

	buckets := make(map[market.EventInfo][]market.Event)
	count := 0
	for {
		ev, ok, err := e.preloader.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		buckets[ev.Info] = append(buckets[ev.Info], ev)
		count++
	}

	signals, err := e.preloadEvents(buckets)
	if err != nil {
		return err
	}
	for _, sig := range signals {
		for _, handle := range e.preloadSignalHandlers {
			if _, err := handle(sig); err != nil {
				return err
			}
		}
	}

	e.emitter.BacktestPreloaded(count, time.Since(start))
	if count > 0 {
		logger.Info("Preload complete", "events", count, "signals", len(signals))
	}
	return nil
}

// preloadEvents runs converters first so derived events join their own
// buckets, then collects signals from the preload event handlers.
// Registration order drives both loops so runs stay deterministic.
func (e *Engine) preloadEvents(buckets map[market.EventInfo][]market.Event) ([]market.Item, error) {
	var produced []market.Event
	for _, info := range e.preloadConverterOrder {
		convert := e.preloadTradeConverters[info]
		for _, ev := range buckets[info] {
			out, err := convert(ev)
			if err != nil {
				return nil, err
			}
			produced = append(produced, out...)
		}
	}
	for _, ev := range produced {
		buckets[ev.Info] = append(buckets[ev.Info], ev)
	}

	var signals []market.Item
	for _, info := range e.preloadEventOrder {
		for _, handle := range e.preloadEventHandlers[info] {
			for _, ev := range buckets[info] {
				out, err := handle(ev)
				if err != nil {
					return nil, err
				}
				signals = append(signals, out...)
			}
		}
	}
	return signals, nil
}

// stream replays the run, dispatching each event as it arrives.
func (e *Engine) stream(ctx context.Context) error {
	for {
		ev, ok, err := e.iterator.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		e.eventCount++
		if err := e.process(ev); err != nil {
			return err
		}
	}
}

// process expands the event through its trade converter, then dispatches
// the original and every derived event to the event handlers registered
// under each event's own routing info.
func (e *Engine) process(ev market.Event) error {
	expanded := []market.Event{ev}
	if convert, ok := e.tradeConverters[ev.Info]; ok {
		derived, err := convert(ev)
		if err != nil {
			return err
		}
		expanded = append(expanded, derived...)
	}

	for _, event := range expanded {
		for _, handle := range e.eventHandlers[event.Info] {
			signals, err := handle(event)
			if err != nil {
				return err
			}
			for _, sig := range signals {
				if err := e.processSignal(sig); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// processSignal offers the signal to every signal handler. Orders are
// emitted directly; everything else is treated as an advise.
func (e *Engine) processSignal(sig market.Item) error {
	for _, handle := range e.signalHandlers {
		items, err := handle(sig)
		if err != nil {
			return err
		}
		for _, item := range items {
			if order, ok := item.(market.Order); ok {
				if err := e.emitOrder(order); err != nil {
					return err
				}
				continue
			}
			if err := e.processAdvise(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// processAdvise offers the advise to every advise handler and emits the
// orders they produce.
func (e *Engine) processAdvise(adv market.Item) error {
	for _, handle := range e.adviseHandlers {
		items, err := handle(adv)
		if err != nil {
			return err
		}
		for _, item := range items {
			order, ok := item.(market.Order)
			if !ok {
				logger.Debug("Dropping non-order advise output", "type", fmt.Sprintf("%T", item))
				continue
			}
			if err := e.emitOrder(order); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitOrder hands the order to the sink, assigning an ID when the handler
// left it blank.
func (e *Engine) emitOrder(order market.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	e.orderCount++
	e.emitter.OrderEmitted(order.ID, order.Time())
	return e.sink(order)
}
