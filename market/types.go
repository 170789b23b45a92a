// Package market defines the data model shared by the dataflow and backtest
// engines: event routing keys, the stream item variants, market requests,
// and time interval helpers.
//
// All timestamps in the runtime are epoch milliseconds held as float64;
// connectors normalize exchange-native units on ingest and the store scales
// them for persistence.
package market

import (
	"fmt"
	"strings"
)

// DataType identifies the kind of market data an EventInfo routes.
type DataType int

const (
	// TypeTick is a single price tick.
	TypeTick DataType = iota

	// TypeTrade is an executed trade.
	TypeTrade

	// TypeOrderbook is an order book snapshot or delta.
	TypeOrderbook

	// TypeKline is an OHLC candle with a period in minutes.
	TypeKline
)

// String returns the string representation of the data type.
func (t DataType) String() string {
	switch t {
	case TypeTick:
		return "TICK"
	case TypeTrade:
		return "TRADE"
	case TypeOrderbook:
		return "ORDERBOOK"
	case TypeKline:
		return "KLINE"
	default:
		return "UNKNOWN"
	}
}

// BookKind distinguishes full order book snapshots from incremental deltas.
type BookKind int

const (
	// BookSnapshot is a full book state.
	BookSnapshot BookKind = iota

	// BookDelta is an incremental book update.
	BookDelta
)

// String returns the string representation of the book kind.
func (k BookKind) String() string {
	switch k {
	case BookSnapshot:
		return "SNAPSHOT"
	case BookDelta:
		return "DELTA"
	default:
		return "UNKNOWN"
	}
}

// ParseBookKind maps a wire value ("snapshot", "delta", any case) to a BookKind.
func ParseBookKind(s string) (BookKind, error) {
	switch strings.ToUpper(s) {
	case "SNAPSHOT":
		return BookSnapshot, nil
	case "DELTA":
		return BookDelta, nil
	default:
		return 0, fmt.Errorf("%w: book kind %q", ErrUnknownKind, s)
	}
}

// EventInfo is the routing key for market events: a symbol, a data type,
// and a candle period in minutes (zero for non-KLINE types).
// It is a comparable value type and is used directly as a map key.
type EventInfo struct {
	Symbol string
	Type   DataType
	Period int
}

// Kline builds a KLINE EventInfo for the symbol and period.
func Kline(symbol string, period int) EventInfo {
	return EventInfo{Symbol: symbol, Type: TypeKline, Period: period}
}

// Trades builds a TRADE EventInfo for the symbol.
func Trades(symbol string) EventInfo {
	return EventInfo{Symbol: symbol, Type: TypeTrade}
}

// Book builds an ORDERBOOK EventInfo for the symbol.
func Book(symbol string) EventInfo {
	return EventInfo{Symbol: symbol, Type: TypeOrderbook}
}

// String renders the info as "SYMBOL:TYPE" or "SYMBOL:KLINE:period".
func (i EventInfo) String() string {
	if i.Type == TypeKline {
		return fmt.Sprintf("%s:%s:%d", i.Symbol, i.Type, i.Period)
	}
	return fmt.Sprintf("%s:%s", i.Symbol, i.Type)
}
