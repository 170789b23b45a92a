// Package engine runs market-event backtests. Handlers declare which
// series they need and which processing phases they take part in; the
// engine analyzes the handler tree, subscribes two iterators (one for the
// preload window, one for the run), and routes every replayed event
// through converter, event, signal, and advise callbacks down to emitted
// orders.
package engine

import (
	"github.com/tickwork/tickwork/market"
)

// Handler is one strategy component. A nil callback means the handler
// does not take part in that phase; the engine registers only the
// callbacks that are set, under the routing infos of the handler's
// requests.
//
// The stream callbacks fire once per replayed event during the run. The
// preload callbacks fire over the warm-up window before the run starts,
// so stateful handlers can seed indicators without emitting orders.
type Handler struct {
	// Name identifies the handler in logs and errors.
	Name string

	// Requests declares the series this handler consumes. Each request
	// must ask for streaming, a preload window, or both.
	Requests []market.Request

	// OnTrade converts a raw event into derived events, typically trades
	// into candles. Converted events are dispatched to event handlers
	// under their own routing info, after the original event.
	OnTrade func(market.Event) ([]market.Event, error)

	// OnEvent turns an event into signals.
	OnEvent func(market.Event) ([]market.Item, error)

	// OnSignal turns a signal into orders and advises. Orders are emitted
	// directly; anything else is offered to advise handlers.
	OnSignal func(market.Item) ([]market.Item, error)

	// OnAdvise turns an advise into orders.
	OnAdvise func(market.Item) ([]market.Item, error)

	// OnPreloadTrade, OnPreloadEvent, and OnPreloadSignal mirror the
	// stream callbacks over the preload window. Preload signal outputs
	// are discarded: the warm-up never places orders.
	OnPreloadTrade  func(market.Event) ([]market.Event, error)
	OnPreloadEvent  func(market.Event) ([]market.Item, error)
	OnPreloadSignal func(market.Item) ([]market.Item, error)

	// Children are analyzed only when this handler produces something
	// for them to consume: signals or advises on the stream side, or
	// signals on the preload side.
	Children []*Handler
}
