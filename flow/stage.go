package flow

import (
	"context"
	"fmt"
)

const unknownShape = "unknown"

// Item is the unit of data flowing along graph edges. Stages accept and
// produce opaque items; payload types are an agreement between the user
// functions on either end of an edge.
type Item = any

// Emit forwards one produced item downstream. It blocks while outbound
// queues are full and fails only on cancellation.
type Emit func(Item) error

// Shape defines the calling convention of the user function a stage wraps.
//
// The shape is fixed by the constructor used to create the stage. Do not
// attempt to classify arbitrary functions at run time.
type Shape int

const (
	// ShapeFunction wraps func(Item) (Item, error).
	// Exactly one output per input.
	// Examples: decode, enrich, single-value source.
	ShapeFunction Shape = iota

	// ShapeGenerator wraps func(Item, Emit) error.
	// Zero or more outputs per input, produced through Emit.
	// Examples: splitter, windower, bulk source.
	ShapeGenerator

	// ShapeCoroutine wraps func(ctx, Item) (Item, error).
	// One output per input with cancellation awareness.
	// Examples: remote lookup, store read.
	ShapeCoroutine

	// ShapeAsyncGenerator wraps func(ctx, Item, Emit) error.
	// Zero or more outputs per input with cancellation awareness.
	// Examples: paged fetch, long-lived feed source.
	ShapeAsyncGenerator
)

// String returns the diagram tag of the shape.
func (s Shape) String() string {
	switch s {
	case ShapeFunction:
		return "function"
	case ShapeGenerator:
		return "generator"
	case ShapeCoroutine:
		return "coroutine"
	case ShapeAsyncGenerator:
		return "async generator"
	default:
		return unknownShape
	}
}

// Stage is a node of the dataflow graph. It owns its inbound queue; edges
// are recorded as ordered stage lists on both endpoints.
//
// A stage with no inbound edges is a source: its function runs once per
// graph run with a nil input. A stage with no outbound edges is a sink:
// whatever it produces is discarded and only side effects remain.
type Stage struct {
	name  string
	shape Shape

	applyFn    func(Item) (Item, error)
	yieldFn    func(Item, Emit) error
	applyCtxFn func(context.Context, Item) (Item, error)
	yieldCtxFn func(context.Context, Item, Emit) error

	inbound  []*Stage
	outbound []*Stage

	// queue is created by Run so capacity follows the graph config and a
	// graph can be run again after completion.
	queue *queue
}

// Apply creates a function-shaped stage: exactly one output per input.
func Apply(name string, fn func(Item) (Item, error)) *Stage {
	return &Stage{name: name, shape: ShapeFunction, applyFn: fn}
}

// Yield creates a generator-shaped stage: zero or more outputs per input,
// emitted through the supplied Emit.
func Yield(name string, fn func(Item, Emit) error) *Stage {
	return &Stage{name: name, shape: ShapeGenerator, yieldFn: fn}
}

// ApplyCtx creates a coroutine-shaped stage: one output per input, with the
// run context passed through for cancellation and deadlines.
func ApplyCtx(name string, fn func(context.Context, Item) (Item, error)) *Stage {
	return &Stage{name: name, shape: ShapeCoroutine, applyCtxFn: fn}
}

// YieldCtx creates an async-generator-shaped stage: zero or more outputs per
// input, with the run context passed through.
func YieldCtx(name string, fn func(context.Context, Item, Emit) error) *Stage {
	return &Stage{name: name, shape: ShapeAsyncGenerator, yieldCtxFn: fn}
}

// Name returns the stage name. Names identify stages within a graph.
func (s *Stage) Name() string {
	return s.name
}

// Shape returns the stage's calling convention.
func (s *Stage) Shape() Shape {
	return s.shape
}

// IsSource reports whether the stage has no inbound edges.
func (s *Stage) IsSource() bool {
	return len(s.inbound) == 0
}

// IsSink reports whether the stage has no outbound edges.
func (s *Stage) IsSink() bool {
	return len(s.outbound) == 0
}

// invoke runs the user function on one input, routing produced items
// through emit.
func (s *Stage) invoke(ctx context.Context, input Item, emit Emit) error {
	switch s.shape {
	case ShapeFunction:
		out, err := s.applyFn(input)
		if err != nil {
			return err
		}
		return emit(out)
	case ShapeGenerator:
		return s.yieldFn(input, emit)
	case ShapeCoroutine:
		out, err := s.applyCtxFn(ctx, input)
		if err != nil {
			return err
		}
		return emit(out)
	case ShapeAsyncGenerator:
		return s.yieldCtxFn(ctx, input, emit)
	default:
		return fmt.Errorf("unknown stage shape %d", s.shape)
	}
}

// forwarder returns the Emit that copies one item into every outbound
// queue in edge order. Sinks have no outbound queues, so their outputs
// vanish here.
func (s *Stage) forwarder(ctx context.Context) Emit {
	return func(item Item) error {
		for _, next := range s.outbound {
			if err := next.queue.put(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}
}

// forwardEOS signals end-of-stream once to every outbound queue.
func (s *Stage) forwardEOS(ctx context.Context) error {
	for _, next := range s.outbound {
		if err := next.queue.putEOS(ctx); err != nil {
			return err
		}
	}
	return nil
}
