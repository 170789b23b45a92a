package market

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Item is the sum type of everything that flows through the engines:
// produced events, signals, advises, orders, and the concrete data payloads
// (trades, candles, order books).
type Item interface {
	// Time returns the item timestamp in epoch milliseconds.
	Time() float64

	// ProducerID identifies the component that produced the item.
	ProducerID() int64
}

// Meta carries the fields common to every stream item. Embed it to satisfy
// the Item interface.
type Meta struct {
	Timestamp float64 `json:"ts"`
	Producer  int64   `json:"producer,omitempty"`
}

// Time returns the item timestamp in epoch milliseconds.
func (m Meta) Time() float64 { return m.Timestamp }

// ProducerID identifies the component that produced the item.
func (m Meta) ProducerID() int64 { return m.Producer }

// producerSeq hands out process-unique producer IDs.
var producerSeq atomic.Int64

// NextProducerID returns a process-unique producer identifier.
// Iterators, providers, and stores take one at construction so emitted
// items can be traced back to their source.
func NextProducerID() int64 {
	return producerSeq.Add(1)
}

// Event is a produced market event: a payload routed under an EventInfo.
type Event struct {
	Meta
	Info EventInfo
	Data Item
}

// NewEvent wraps a payload item into an Event routed under info.
// The event timestamp mirrors the payload timestamp.
func NewEvent(info EventInfo, data Item, producer int64) Event {
	return Event{
		Meta: Meta{Timestamp: data.Time(), Producer: producer},
		Info: info,
		Data: data,
	}
}

// Signal is the output of an event handler, consumed by signal handlers.
// Strategy-specific data rides in Payload.
type Signal struct {
	Meta
	Payload any
}

// Advise is the output of a signal handler, consumed by advise handlers.
type Advise struct {
	Meta
	Payload any
}

// Order is the terminal item surfaced to the outside world.
type Order struct {
	Meta
	ID      string
	Payload any
}

// NewOrder builds an Order with a fresh UUID.
func NewOrder(ts float64, producer int64, payload any) Order {
	return Order{
		Meta:    Meta{Timestamp: ts, Producer: producer},
		ID:      uuid.NewString(),
		Payload: payload,
	}
}

// Trade is a single executed trade.
type Trade struct {
	Meta
	IsBuy   bool    `json:"is_buy"`
	Size    float64 `json:"size"`
	Price   float64 `json:"price"`
	TradeID string  `json:"trade_id"`
}

// OHLC is a candle. Timestamp is close-time, Start is open-time, both in
// epoch milliseconds.
type OHLC struct {
	Meta
	Start    float64 `json:"start"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume,omitempty"`
	Turnover float64 `json:"turnover,omitempty"`
}

// PriceVolume is one order book price level.
type PriceVolume struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Orderbook is a full snapshot or an incremental delta of the book.
type Orderbook struct {
	Meta
	Kind BookKind      `json:"kind"`
	Asks []PriceVolume `json:"asks"`
	Bids []PriceVolume `json:"bids"`
}
