package engine

import (
	"context"
	"time"

	"github.com/tickwork/tickwork/market"
)

// ReplayIterator is a BacktestIterator that paces delivery at wall-clock
// speed. The first event of a pass anchors the historical timeline to the
// present; every later event is held back until its shifted timestamp
// comes due. Events that are already late release immediately.
type ReplayIterator struct {
	*BacktestIterator

	// timeShift maps historical milliseconds onto the current clock for
	// the running pass.
	timeShift float64
	anchored  bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewReplayIterator creates a paced iterator replaying the closed interval.
func NewReplayIterator(history History, interval market.Interval) *ReplayIterator {
	return &ReplayIterator{
		BacktestIterator: NewBacktestIterator(history, interval),
		now:              time.Now,
		sleep:            sleepContext,
	}
}

// Next returns the next event once its shifted timestamp has passed.
// Pass exhaustion drops the anchor, so the next pass re-aligns to the
// clock.
func (it *ReplayIterator) Next(ctx context.Context) (market.Event, bool, error) {
	ev, ok, err := it.BacktestIterator.Next(ctx)
	if err != nil || !ok {
		it.anchored = false
		return ev, ok, err
	}

	eventTime := ev.Data.Time()
	if !it.anchored {
		it.timeShift = market.Millis(it.now()) - eventTime
		it.anchored = true
	}

	target := eventTime + it.timeShift
	wait := time.Duration((target - market.Millis(it.now())) * float64(time.Millisecond))
	if err := it.sleep(ctx, wait); err != nil {
		return market.Event{}, false, err
	}
	return ev, true, nil
}

// sleepContext blocks for d or until the context ends. Non-positive
// durations return immediately.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
