package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tickwork/tickwork/logger"
	"github.com/tickwork/tickwork/market"
)

// Iterator feeds market events to the engine, one pass at a time.
type Iterator interface {
	// Subscribe registers interest in a series. All subscriptions happen
	// before Run.
	Subscribe(req market.Request)

	// Run prepares the pass. Next blocks until the first Run completes.
	Run(ctx context.Context) error

	// Next returns the next event of the pass. ok is false once the pass
	// is exhausted; calling Next again starts the following pass from the
	// beginning.
	Next(ctx context.Context) (ev market.Event, ok bool, err error)
}

// History supplies the events of one series over an interval.
// *history.Provider satisfies it.
type History interface {
	Get(ctx context.Context, info market.EventInfo, interval market.Interval) ([]market.Event, error)
}

// BacktestIterator replays stored history for every subscribed series,
// merged into canonical order: ascending payload timestamp, then
// ascending candle period so shorter candles lead equal timestamps.
//
// Subscribe and Run are not safe to call concurrently with Next; the
// ready gate only orders Next after the first completed Run.
type BacktestIterator struct {
	history  History
	interval market.Interval

	seen    map[market.EventInfo]bool
	sources []market.EventInfo

	ready     chan struct{}
	readyOnce sync.Once
	events    []market.Event
	pos       int
}

// NewBacktestIterator creates an iterator replaying the closed interval.
func NewBacktestIterator(history History, interval market.Interval) *BacktestIterator {
	return &BacktestIterator{
		history:  history,
		interval: interval,
		seen:     make(map[market.EventInfo]bool),
		ready:    make(chan struct{}),
	}
}

// Subscribe registers the request's series. Duplicate subscriptions
// collapse; sources keep first-seen order so every run collects the same
// way.
func (it *BacktestIterator) Subscribe(req market.Request) {
	if it.seen[req.Info] {
		return
	}
	it.seen[req.Info] = true
	it.sources = append(it.sources, req.Info)
}

// Run loads every subscribed series over the interval and merges the
// events into canonical order. It can be called again to reload.
func (it *BacktestIterator) Run(ctx context.Context) error {
	logger.Info("Starting iterator",
		"start", it.interval.Start.UTC().Format(time.RFC3339),
		"end", it.interval.End.UTC().Format(time.RFC3339),
		"sources", len(it.sources))

	var events []market.Event
	for _, info := range it.sources {
		got, err := it.history.Get(ctx, info, it.interval)
		if err != nil {
			return err
		}
		events = append(events, got...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		ti, tj := events[i].Data.Time(), events[j].Data.Time()
		if ti != tj {
			return ti < tj
		}
		return events[i].Info.Period < events[j].Info.Period
	})

	it.events = events
	it.pos = 0
	it.readyOnce.Do(func() { close(it.ready) })

	logger.Info("Iterator ready", "events", len(events))
	return nil
}

// Next returns the next event in canonical order. Exhausting the pass
// rewinds to the start, so the iterator can replay again.
func (it *BacktestIterator) Next(ctx context.Context) (market.Event, bool, error) {
	select {
	case <-it.ready:
	case <-ctx.Done():
		return market.Event{}, false, ctx.Err()
	}

	if it.pos >= len(it.events) {
		it.pos = 0
		return market.Event{}, false, nil
	}

	ev := it.events[it.pos]
	it.pos++
	return ev, true, nil
}
