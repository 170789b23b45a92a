package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickwork/tickwork/market"
)

// fakeClock stands in for time.Now and sleepContext. Sleeping advances
// the clock, so the iterator observes time passing without waiting.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

func newPacedIterator(hist History, clock *fakeClock) *ReplayIterator {
	it := NewReplayIterator(hist, testInterval())
	it.now = clock.Now
	it.sleep = clock.Sleep
	return it
}

func TestReplayPacesEventsByTimestampGap(t *testing.T) {
	t.Parallel()

	info := market.Trades("BTCUSDT")
	hist := &stubHistory{series: map[market.EventInfo][]market.Event{
		info: {
			tradeEvent(info, 1000, 1),
			tradeEvent(info, 1100, 2),
			tradeEvent(info, 1300, 3),
		},
	}}
	clock := &fakeClock{now: time.Date(2023, 10, 5, 12, 0, 0, 0, time.UTC)}

	it := newPacedIterator(hist, clock)
	it.Subscribe(market.Request{Info: info, Stream: true})
	require.NoError(t, it.Run(context.Background()))

	for i := 0; i < 3; i++ {
		_, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
	}

	// The first event anchors the timeline, so its wait is zero; the
	// rest wait out their historical gaps.
	require.Equal(t, []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}, clock.slept)
}

func TestReplayReanchorsEachPass(t *testing.T) {
	t.Parallel()

	info := market.Trades("BTCUSDT")
	hist := &stubHistory{series: map[market.EventInfo][]market.Event{
		info: {tradeEvent(info, 1000, 1), tradeEvent(info, 1100, 2)},
	}}
	clock := &fakeClock{now: time.Date(2023, 10, 5, 12, 0, 0, 0, time.UTC)}

	it := newPacedIterator(hist, clock)
	it.Subscribe(market.Request{Info: info, Stream: true})
	require.NoError(t, it.Run(context.Background()))

	for i := 0; i < 2; i++ {
		_, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok, "pass exhausted")

	// A long pause between passes must not become a wait: the next pass
	// anchors afresh on its first event.
	clock.now = clock.now.Add(time.Hour)
	_, ok, err = it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), clock.slept[len(clock.slept)-1])
}

func TestReplayLateEventsReleaseImmediately(t *testing.T) {
	t.Parallel()

	info := market.Trades("BTCUSDT")
	hist := &stubHistory{series: map[market.EventInfo][]market.Event{
		info: {tradeEvent(info, 1000, 1), tradeEvent(info, 1100, 2)},
	}}
	clock := &fakeClock{now: time.Date(2023, 10, 5, 12, 0, 0, 0, time.UTC)}

	it := newPacedIterator(hist, clock)
	it.Subscribe(market.Request{Info: info, Stream: true})
	require.NoError(t, it.Run(context.Background()))

	_, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// Processing overran the next event's due time by 400ms. The raw
	// wait handed to sleep goes negative; sleepContext treats it as an
	// immediate release.
	clock.now = clock.now.Add(500 * time.Millisecond)
	_, ok, err = it.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -400*time.Millisecond, clock.slept[len(clock.slept)-1])
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), -time.Second))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Minute), context.Canceled)
}
