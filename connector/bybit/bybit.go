// Package bybit implements the exchange connector for Bybit linear
// contracts. Candles come from the v5 REST API with backwards pagination;
// trades and order books come from Bybit's daily archive downloads, cached
// on disk and parsed line by line.
package bybit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/tickwork/tickwork/connector"
	"github.com/tickwork/tickwork/events"
	"github.com/tickwork/tickwork/logger"
	"github.com/tickwork/tickwork/market"
)

// Defaults for a Connector constructed without options.
const (
	DefaultRestURL     = "https://api.bybit.com"
	DefaultDownloadURL = "https://api2.bybit.com/quote/public/support/download/list-files"
	DefaultCacheDir    = "downloads"
	DefaultTimeout     = 30 * time.Second

	// DefaultRatePerSecond and DefaultRateBurst bound outbound REST calls.
	DefaultRatePerSecond = 5
	DefaultRateBurst     = 5
)

// Connector downloads Bybit market data. It is safe for concurrent use;
// REST calls share one rate limiter and archive downloads are cached under
// the cache directory.
type Connector struct {
	restURL     string
	downloadURL string
	cacheDir    string

	client  *http.Client
	limiter *rate.Limiter
	emitter *events.Emitter
}

// Option configures a Connector.
type Option func(*Connector)

// WithRestURL overrides the REST API base URL (tests point this at a local
// server).
func WithRestURL(url string) Option {
	return func(c *Connector) {
		c.restURL = url
	}
}

// WithDownloadURL overrides the archive download-list endpoint.
func WithDownloadURL(url string) Option {
	return func(c *Connector) {
		c.downloadURL = url
	}
}

// WithCacheDir sets the directory archives are downloaded into. Files
// already present are reused without contacting the exchange.
func WithCacheDir(dir string) Option {
	return func(c *Connector) {
		c.cacheDir = dir
	}
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.client = client
	}
}

// WithRateLimit bounds outbound request rate. Non-positive values are
// ignored.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Connector) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithEmitter sets the event emitter used for download lifecycle events.
func WithEmitter(emitter *events.Emitter) Option {
	return func(c *Connector) {
		c.emitter = emitter
	}
}

// New creates a Bybit connector. All HTTP traffic goes through an
// otelhttp-instrumented transport so downloads show up in traces.
func New(opts ...Option) *Connector {
	c := &Connector{
		restURL:     DefaultRestURL,
		downloadURL: DefaultDownloadURL,
		cacheDir:    DefaultCacheDir,
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRatePerSecond), DefaultRateBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanBatchDownload reports whether GetDays is meaningful for the data type.
// Only candles support interval-sized downloads; trades and order books are
// published as daily archives.
func (c *Connector) CanBatchDownload(dataType market.DataType) bool {
	return dataType == market.TypeKline
}

// GetDay downloads one UTC day of trades or order book messages.
func (c *Connector) GetDay(ctx context.Context, info market.EventInfo, day time.Time) ([]market.Item, error) {
	dayStr := market.FormatDay(day)
	logger.Download(info.Symbol, info.Type.String(), dayStr)

	var (
		items []market.Item
		err   error
	)
	switch info.Type {
	case market.TypeTrade, market.TypeOrderbook:
		items, err = c.downloadDay(ctx, info, day)
	default:
		return nil, fmt.Errorf("%w: GetDay %s", connector.ErrNotImplemented, info.Type)
	}
	if err != nil {
		return nil, err
	}

	c.emitter.DayDownloaded(info.Symbol, info.Type.String(), dayStr, len(items))
	logger.Debug("Downloaded market data",
		"symbol", info.Symbol,
		"product", info.Type.String(),
		"day", dayStr,
		"items", len(items))
	return items, nil
}

// GetDays downloads candles spanning the interval, inclusive of both days.
func (c *Connector) GetDays(ctx context.Context, info market.EventInfo, interval market.Interval) ([]market.Item, error) {
	if info.Type != market.TypeKline {
		return nil, fmt.Errorf("%w: GetDays %s", connector.ErrNotImplemented, info.Type)
	}

	logger.Download(info.Symbol, info.Type.String(), market.FormatDay(interval.Start),
		"end_day", market.FormatDay(interval.End),
		"period", info.Period)

	startMs, _ := market.DayBounds(interval.Start)
	_, endMs := market.DayBounds(interval.End)

	items, err := c.klines(ctx, info.Symbol, info.Period, int64(startMs), int64(endMs))
	if err != nil {
		return nil, err
	}

	c.emitter.DayDownloaded(info.Symbol, info.Type.String(), market.FormatDay(interval.Start), len(items))
	return items, nil
}

// productID maps a data type to Bybit's archive product identifier.
func productID(dataType market.DataType) string {
	if dataType == market.TypeOrderbook {
		return "orderbook"
	}
	return "trade"
}
