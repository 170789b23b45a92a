// Package connector defines the exchange connector contract: per-day
// downloads of trades and order books, and batched candle downloads over an
// interval. Implementations live in subpackages (bybit).
package connector

import (
	"context"
	"errors"
	"time"

	"github.com/tickwork/tickwork/market"
)

// Common errors
var (
	// ErrNotImplemented is returned when an operation does not support the
	// requested data type.
	ErrNotImplemented = errors.New("data type not supported")

	// ErrTransport wraps HTTP and download failures. The core performs no
	// automatic retries.
	ErrTransport = errors.New("transport failure")

	// ErrCorruptArchive is returned for archives that are not .zip/.gz,
	// zip files without exactly one member, or unparseable rows.
	ErrCorruptArchive = errors.New("corrupt archive")
)

// Connector fetches market data from an exchange.
//
// GetDay yields Trade or Orderbook items for one UTC day. GetDays yields
// OHLC items spanning the interval and is meaningful only for data types
// where CanBatchDownload reports true.
type Connector interface {
	CanBatchDownload(dataType market.DataType) bool
	GetDay(ctx context.Context, info market.EventInfo, day time.Time) ([]market.Item, error)
	GetDays(ctx context.Context, info market.EventInfo, interval market.Interval) ([]market.Item, error)
}
