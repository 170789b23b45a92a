// Package history serves market events over arbitrary time intervals,
// downloading whatever the store is missing on the way.
//
// The provider tracks downloads at UTC-day granularity. Day-archive data
// types are fetched one day at a time; batch-capable types coalesce the
// missing days into maximal runs so one exchange request covers each gap.
package history

import (
	"context"
	"time"

	"github.com/tickwork/tickwork/connector"
	"github.com/tickwork/tickwork/events"
	"github.com/tickwork/tickwork/logger"
	"github.com/tickwork/tickwork/market"
)

// Store is the persistence surface the provider needs. *store.Store
// satisfies it.
type Store interface {
	IsDownloaded(ctx context.Context, info market.EventInfo, day time.Time) (bool, error)
	SetDownloaded(ctx context.Context, info market.EventInfo, day time.Time, downloaded bool) error
	Save(ctx context.Context, info market.EventInfo, items []market.Item) error
	Get(ctx context.Context, info market.EventInfo, interval market.Interval) ([]market.Item, error)
}

// Provider hydrates the store from a connector and reads events back out.
// It is safe for concurrent use if its store and connector are.
type Provider struct {
	store    Store
	conn     connector.Connector
	emitter  *events.Emitter
	producer int64

	// now is the clock used to clamp future-reaching intervals.
	now func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithEmitter sets the event emitter used for persistence lifecycle events.
func WithEmitter(emitter *events.Emitter) Option {
	return func(p *Provider) {
		p.emitter = emitter
	}
}

// New creates a history provider over the given store and connector.
func New(store Store, conn connector.Connector, opts ...Option) *Provider {
	p := &Provider{
		store:    store,
		conn:     conn,
		producer: market.NextProducerID(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns every event for the series inside the closed interval,
// oldest first. Days not yet downloaded are fetched from the exchange,
// saved, and marked before the store is read.
func (p *Provider) Get(ctx context.Context, info market.EventInfo, interval market.Interval) ([]market.Event, error) {
	if err := interval.Validate(); err != nil {
		return nil, err
	}
	interval = interval.Clamp(p.now())

	logger.Info("Loading history",
		"series", info.String(),
		"start", interval.Start.UTC().Format(time.RFC3339),
		"end", interval.End.UTC().Format(time.RFC3339))

	days := interval.Days()
	if p.conn.CanBatchDownload(info.Type) {
		if err := p.fillBatch(ctx, info, days); err != nil {
			return nil, err
		}
	} else {
		if err := p.fillByDay(ctx, info, days); err != nil {
			return nil, err
		}
	}

	return p.load(ctx, info, interval)
}

// fillByDay downloads each missing day separately.
func (p *Provider) fillByDay(ctx context.Context, info market.EventInfo, days []time.Time) error {
	for _, day := range days {
		downloaded, err := p.store.IsDownloaded(ctx, info, day)
		if err != nil {
			return err
		}
		if downloaded {
			continue
		}

		items, err := p.conn.GetDay(ctx, info, day)
		if err != nil {
			return err
		}
		if err := p.saveRun(ctx, info, []time.Time{day}, items); err != nil {
			return err
		}
	}
	return nil
}

// fillBatch coalesces missing days into maximal runs and downloads each
// run with a single connector request.
func (p *Provider) fillBatch(ctx context.Context, info market.EventInfo, days []time.Time) error {
	runs, err := p.missingRuns(ctx, info, days)
	if err != nil {
		return err
	}

	for _, run := range runs {
		span := market.NewInterval(run[0], run[len(run)-1])
		items, err := p.conn.GetDays(ctx, info, span)
		if err != nil {
			return err
		}
		if err := p.saveRun(ctx, info, run, items); err != nil {
			return err
		}
	}
	return nil
}

// missingRuns partitions the missing days into maximal consecutive runs.
// Days already downloaded break a run; the days around them never share a
// request.
func (p *Provider) missingRuns(ctx context.Context, info market.EventInfo, days []time.Time) ([][]time.Time, error) {
	var runs [][]time.Time
	var run []time.Time

	for _, day := range days {
		downloaded, err := p.store.IsDownloaded(ctx, info, day)
		if err != nil {
			return nil, err
		}
		if downloaded {
			if len(run) > 0 {
				runs = append(runs, run)
				run = nil
			}
			continue
		}
		run = append(run, day)
	}
	if len(run) > 0 {
		runs = append(runs, run)
	}
	return runs, nil
}

// saveRun persists one downloaded run and marks each of its days.
func (p *Provider) saveRun(ctx context.Context, info market.EventInfo, run []time.Time, items []market.Item) error {
	if err := p.store.Save(ctx, info, items); err != nil {
		return err
	}
	for _, day := range run {
		if err := p.store.SetDownloaded(ctx, info, day, true); err != nil {
			return err
		}
	}
	p.emitter.DaySaved(info.Symbol, info.Type.String(), market.FormatDay(run[0]), len(items))
	return nil
}

// load reads the interval from the store and wraps items as events routed
// under info.
func (p *Provider) load(ctx context.Context, info market.EventInfo, interval market.Interval) ([]market.Event, error) {
	items, err := p.store.Get(ctx, info, interval)
	if err != nil {
		return nil, err
	}

	out := make([]market.Event, 0, len(items))
	for _, item := range items {
		out = append(out, market.NewEvent(info, item, p.producer))
	}
	return out, nil
}
