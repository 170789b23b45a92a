package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFOWithInBandEOS(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newQueue(3)

	require.NoError(t, q.put(ctx, "first"))
	require.NoError(t, q.put(ctx, "second"))
	require.NoError(t, q.putEOS(ctx))

	item, eos, err := q.get(ctx)
	require.NoError(t, err)
	assert.False(t, eos)
	assert.Equal(t, "first", item)

	item, eos, err = q.get(ctx)
	require.NoError(t, err)
	assert.False(t, eos)
	assert.Equal(t, "second", item)

	// EOS cannot overtake data queued before it.
	_, eos, err = q.get(ctx)
	require.NoError(t, err)
	assert.True(t, eos)
}

func TestQueuePutBlocksWhenFullUntilCancelled(t *testing.T) {
	t.Parallel()

	q := newQueue(1)
	require.NoError(t, q.put(context.Background(), "occupies"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := q.put(ctx, "blocked")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueGetBlocksWhenEmptyUntilCancelled(t *testing.T) {
	t.Parallel()

	q := newQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := q.get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
