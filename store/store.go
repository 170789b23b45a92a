// Package store persists market data in Redis.
//
// Each (symbol, type, period) series lives in a sorted set scored by a
// scaled timestamp: trades and order book messages in microseconds,
// candles in seconds. Members are JSON-encoded items, so re-saving a day
// is idempotent. Order books are split into snapshot and delta sets and
// reads reconstruct the book state at the requested start time. A
// companion set per series records which UTC days have been downloaded.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickwork/tickwork/logger"
	"github.com/tickwork/tickwork/market"
)

// saveChunkSize bounds how many members ride in one ZADD round-trip.
const saveChunkSize = 1000

var (
	// ErrNotImplemented reports a data type the store cannot persist.
	ErrNotImplemented = errors.New("data type not supported")

	// ErrNoSnapshot reports an order book read with no snapshot at or
	// before the interval start.
	ErrNoSnapshot = errors.New("no order book snapshot before interval")
)

// Store is a Redis-backed market data store. It is safe for concurrent use.
type Store struct {
	client   *redis.Client
	prefix   string
	producer int64
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix sets the key prefix for Redis keys. Default is "tickwork".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis-backed market data store.
//
// Example:
//
//	store := store.New(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    store.WithKeyPrefix("myapp"),
//	)
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:   client,
		prefix:   "tickwork",
		producer: market.NextProducerID(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping verifies the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// timeScale returns the factor converting runtime milliseconds into the
// stored score unit for the data type: microseconds for trades and order
// books, seconds for candles.
func timeScale(dataType market.DataType) (float64, error) {
	switch dataType {
	case market.TypeTrade, market.TypeOrderbook:
		return 1000, nil
	case market.TypeKline:
		return 0.001, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNotImplemented, dataType)
	}
}

// score converts a runtime millisecond timestamp into a stored score.
// Truncation matches on write and read, so range bounds stay consistent.
func score(ts, scale float64) float64 {
	return float64(int64(ts * scale))
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// dataKey is the sorted set holding a series. Order book series take a
// kind suffix ("snapshot" or "delta").
func (s *Store) dataKey(info market.EventInfo, suffix ...string) string {
	key := fmt.Sprintf("%s:data:%s", s.prefix, info)
	for _, part := range suffix {
		key += ":" + part
	}
	return key
}

// registryKey is the set of downloaded day strings for a series.
func (s *Store) registryKey(info market.EventInfo) string {
	return fmt.Sprintf("%s:downloaded:%s", s.prefix, info)
}

// IsDownloaded reports whether the UTC day is marked downloaded for the
// series.
func (s *Store) IsDownloaded(ctx context.Context, info market.EventInfo, day time.Time) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.registryKey(info), market.FormatDay(day)).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember failed: %w", err)
	}
	return ok, nil
}

// SetDownloaded marks or unmarks the UTC day as downloaded for the series.
func (s *Store) SetDownloaded(ctx context.Context, info market.EventInfo, day time.Time, downloaded bool) error {
	key := s.registryKey(info)
	dayStr := market.FormatDay(day)

	var err error
	if downloaded {
		err = s.client.SAdd(ctx, key, dayStr).Err()
	} else {
		err = s.client.SRem(ctx, key, dayStr).Err()
	}
	if err != nil {
		return fmt.Errorf("redis registry update failed: %w", err)
	}
	return nil
}

// Save persists items under the series identified by info. Items must be
// the concrete payload type for the series: Trade, OHLC, or Orderbook.
func (s *Store) Save(ctx context.Context, info market.EventInfo, items []market.Item) error {
	if len(items) == 0 {
		return nil
	}

	var err error
	switch info.Type {
	case market.TypeTrade, market.TypeKline:
		err = s.saveSeries(ctx, info, s.dataKey(info), items)
	case market.TypeOrderbook:
		err = s.saveOrderbook(ctx, info, items)
	default:
		return fmt.Errorf("%w: %s", ErrNotImplemented, info.Type)
	}
	if err != nil {
		return err
	}

	logger.Saved(info.Symbol, info.Type.String(), len(items))
	return nil
}

// saveSeries adds items to one sorted set in chunked round-trips.
func (s *Store) saveSeries(ctx context.Context, info market.EventInfo, key string, items []market.Item) error {
	scale, err := timeScale(info.Type)
	if err != nil {
		return err
	}

	members := make([]redis.Z, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		members = append(members, redis.Z{
			Score:  score(item.Time(), scale),
			Member: string(data),
		})
	}

	for start := 0; start < len(members); start += saveChunkSize {
		end := min(start+saveChunkSize, len(members))
		if err := s.client.ZAdd(ctx, key, members[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis zadd failed: %w", err)
		}
	}
	return nil
}

// saveOrderbook splits messages into snapshot and delta sets.
func (s *Store) saveOrderbook(ctx context.Context, info market.EventInfo, items []market.Item) error {
	var snapshots, deltas []market.Item
	for _, item := range items {
		book, ok := item.(market.Orderbook)
		if !ok {
			return fmt.Errorf("%w: order book series holds %T", ErrNotImplemented, item)
		}
		switch book.Kind {
		case market.BookSnapshot:
			snapshots = append(snapshots, item)
		case market.BookDelta:
			deltas = append(deltas, item)
		default:
			return fmt.Errorf("%w: book kind %d", market.ErrUnknownKind, book.Kind)
		}
	}

	if len(snapshots) > 0 {
		if err := s.saveSeries(ctx, info, s.dataKey(info, "snapshot"), snapshots); err != nil {
			return err
		}
	}
	if len(deltas) > 0 {
		if err := s.saveSeries(ctx, info, s.dataKey(info, "delta"), deltas); err != nil {
			return err
		}
	}
	return nil
}

// decodeFunc turns a stored member back into an item owned by producer.
type decodeFunc func(data []byte, producer int64) (market.Item, error)

func decodeTrade(data []byte, producer int64) (market.Item, error) {
	var t market.Trade
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trade: %w", err)
	}
	t.Producer = producer
	return t, nil
}

func decodeOHLC(data []byte, producer int64) (market.Item, error) {
	var c market.OHLC
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candle: %w", err)
	}
	c.Producer = producer
	return c, nil
}

func decodeOrderbook(data []byte, producer int64) (market.Item, error) {
	var b market.Orderbook
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order book: %w", err)
	}
	b.Producer = producer
	return b, nil
}

// Get loads items for the series over the closed interval. Trade and
// candle series return their stored items in time order; order book
// series return a reconstructed snapshot valid at the interval start
// followed by the deltas inside the interval.
func (s *Store) Get(ctx context.Context, info market.EventInfo, interval market.Interval) ([]market.Item, error) {
	switch info.Type {
	case market.TypeTrade:
		return s.getSeries(ctx, info, s.dataKey(info), interval, decodeTrade)
	case market.TypeKline:
		return s.getSeries(ctx, info, s.dataKey(info), interval, decodeOHLC)
	case market.TypeOrderbook:
		return s.getOrderbook(ctx, info, interval)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, info.Type)
	}
}

// getSeries reads one sorted set over the closed interval.
func (s *Store) getSeries(ctx context.Context, info market.EventInfo, key string, interval market.Interval, decode decodeFunc) ([]market.Item, error) {
	scale, err := timeScale(info.Type)
	if err != nil {
		return nil, err
	}

	vals, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(score(interval.StartMillis(), scale)),
		Max: formatScore(score(interval.EndMillis(), scale)),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}

	items := make([]market.Item, 0, len(vals))
	for _, v := range vals {
		item, err := decode([]byte(v), s.producer)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// getOrderbook reconstructs the book state at the interval start and
// streams the deltas inside the interval after it.
//
// The reconstruction folds every delta strictly between the closest
// snapshot and the interval start into the snapshot's levels. A level
// updated to zero or negative volume disappears from the book. The
// emitted snapshot keeps the stored snapshot's timestamp, which is the
// time the book state was last known exactly.
func (s *Store) getOrderbook(ctx context.Context, info market.EventInfo, interval market.Interval) ([]market.Item, error) {
	scale, err := timeScale(info.Type)
	if err != nil {
		return nil, err
	}
	snapKey := s.dataKey(info, "snapshot")
	deltaKey := s.dataKey(info, "delta")
	startScore := score(interval.StartMillis(), scale)
	endScore := score(interval.EndMillis(), scale)

	vals, err := s.client.ZRevRangeByScore(ctx, snapKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatScore(startScore),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrangebyscore failed: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s at %s", ErrNoSnapshot, info, interval.Start.UTC().Format(time.RFC3339))
	}

	var snap market.Orderbook
	if err := json.Unmarshal([]byte(vals[0]), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order book: %w", err)
	}

	book := make(bookState)
	book.apply(snap)

	snapScore := score(snap.Time(), scale)
	between, err := s.client.ZRangeByScore(ctx, deltaKey, &redis.ZRangeBy{
		Min: "(" + formatScore(snapScore),
		Max: "(" + formatScore(startScore),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}
	for _, v := range between {
		var delta market.Orderbook
		if err := json.Unmarshal([]byte(v), &delta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order book: %w", err)
		}
		book.apply(delta)
	}

	items := []market.Item{book.snapshot(snap.Time(), s.producer)}

	inRange, err := s.client.ZRangeByScore(ctx, deltaKey, &redis.ZRangeBy{
		Min: formatScore(startScore),
		Max: formatScore(endScore),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore failed: %w", err)
	}
	for _, v := range inRange {
		item, err := decodeOrderbook([]byte(v), s.producer)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// bookLevel is one resting price level during reconstruction.
type bookLevel struct {
	isAsk  bool
	volume float64
}

// bookState folds snapshots and deltas into the current set of levels,
// keyed by price.
type bookState map[float64]bookLevel

func (b bookState) apply(msg market.Orderbook) {
	for _, lvl := range msg.Asks {
		b.set(lvl, true)
	}
	for _, lvl := range msg.Bids {
		b.set(lvl, false)
	}
}

func (b bookState) set(lvl market.PriceVolume, isAsk bool) {
	if lvl.Volume <= 0 {
		delete(b, lvl.Price)
		return
	}
	b[lvl.Price] = bookLevel{isAsk: isAsk, volume: lvl.Volume}
}

// snapshot renders the folded state as a full snapshot message. Asks come
// out in ascending price order, bids descending, best quotes first on
// both sides.
func (b bookState) snapshot(ts float64, producer int64) market.Orderbook {
	out := market.Orderbook{
		Meta: market.Meta{Timestamp: ts, Producer: producer},
		Kind: market.BookSnapshot,
	}
	for price, lvl := range b {
		pv := market.PriceVolume{Price: price, Volume: lvl.volume}
		if lvl.isAsk {
			out.Asks = append(out.Asks, pv)
		} else {
			out.Bids = append(out.Bids, pv)
		}
	}
	sort.Slice(out.Asks, func(i, j int) bool { return out.Asks[i].Price < out.Asks[j].Price })
	sort.Slice(out.Bids, func(i, j int) bool { return out.Bids[i].Price > out.Bids[j].Price })
	return out
}
