package flow

import "context"

// eosToken is the end-of-stream control value. It travels through the same
// channel as data so that it cannot overtake items queued before it.
type eosToken struct{}

// queue is the bounded inbound buffer of one stage. Multiple upstream
// producers share it; the owning stage is the single consumer. Producers
// block while the queue is full, which is the only source of back-pressure
// in a graph.
type queue struct {
	ch chan Item
}

func newQueue(capacity int) *queue {
	return &queue{ch: make(chan Item, capacity)}
}

// put enqueues one item, waiting for space. It fails only when ctx is
// cancelled.
func (q *queue) put(ctx context.Context, item Item) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// putEOS enqueues the end-of-stream token. Each upstream sends it exactly
// once, after its last data item.
func (q *queue) putEOS(ctx context.Context) error {
	return q.put(ctx, eosToken{})
}

// get dequeues the next value in FIFO order. eos reports whether the value
// was an end-of-stream token rather than data.
func (q *queue) get(ctx context.Context) (item Item, eos bool, err error) {
	select {
	case v := <-q.ch:
		if _, ok := v.(eosToken); ok {
			return nil, true, nil
		}
		return v, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
