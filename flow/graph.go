// Package flow implements a streaming dataflow graph. User functions wrapped
// in stages are connected by bounded queues and run concurrently, one
// goroutine per stage. Items travel edges in FIFO order; end-of-stream
// propagates once every upstream has finished, so a run terminates exactly
// when all sources are exhausted or a stage fails.
package flow

import (
	"fmt"

	"github.com/tickwork/tickwork/events"
)

// Graph is a registry of stages and the edges between them. Construction is
// append-only: attach and connect stages, then call Run. A Graph must not be
// modified while a run is in progress.
type Graph struct {
	config  *Config
	stages  []*Stage // registration order, used for diagrams and startup
	byName  map[string]*Stage
	emitter *events.Emitter
}

// NewGraph creates an empty graph with default configuration.
func NewGraph() *Graph {
	return NewGraphWithConfig(DefaultConfig())
}

// NewGraphWithConfig creates an empty graph with custom configuration.
func NewGraphWithConfig(config *Config) *Graph {
	if config == nil {
		config = DefaultConfig()
	}
	return &Graph{
		config: config,
		byName: make(map[string]*Stage),
	}
}

// WithEmitter sets the event emitter used for run and stage lifecycle events.
func (g *Graph) WithEmitter(emitter *events.Emitter) *Graph {
	g.emitter = emitter
	return g
}

// Attach registers a stage. When a stage with the same name is already
// registered, the registered one is returned and the argument is discarded,
// so attaching is idempotent per name.
func (g *Graph) Attach(stage *Stage) *Stage {
	if existing, ok := g.byName[stage.name]; ok {
		return existing
	}
	g.byName[stage.name] = stage
	g.stages = append(g.stages, stage)
	return stage
}

// Connect attaches both stages and adds a directed edge from one to the
// other. Items emitted by from are delivered to to's inbound queue.
// Connecting a stage to itself is an error.
func (g *Graph) Connect(from, to *Stage) error {
	from = g.Attach(from)
	to = g.Attach(to)

	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfConnection, from.name)
	}

	from.outbound = append(from.outbound, to)
	to.inbound = append(to.inbound, from)
	return nil
}

// Pipe chains stages linearly: each stage's output feeds the next stage's
// input. A single stage is merely attached.
func (g *Graph) Pipe(stages ...*Stage) error {
	if len(stages) == 0 {
		return nil
	}

	prev := g.Attach(stages[0])
	for _, stage := range stages[1:] {
		if err := g.Connect(prev, stage); err != nil {
			return err
		}
		prev = g.byName[stage.name]
	}
	return nil
}

// Stages returns the registered stages in registration order.
func (g *Graph) Stages() []*Stage {
	out := make([]*Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

// validate checks the graph structure before a run.
func (g *Graph) validate() error {
	if len(g.stages) == 0 {
		return ErrNoStages
	}

	if err := g.config.Validate(); err != nil {
		return err
	}

	names := make(map[string]bool, len(g.stages))
	for _, stage := range g.stages {
		if names[stage.name] {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, stage.name)
		}
		names[stage.name] = true
	}

	return g.detectCycles()
}

// detectCycles checks if the graph contains cycles. Cycles would deadlock
// under bounded queues, so Run refuses them up front.
func (g *Graph) detectCycles() error {
	detector := &cycleDetector{
		visited:  make(map[*Stage]bool),
		recStack: make(map[*Stage]bool),
	}

	for _, stage := range g.stages {
		if detector.hasCycleFrom(stage) {
			return fmt.Errorf("%w: via stage %s", ErrCyclicGraph, stage.name)
		}
	}

	return nil
}

// cycleDetector implements DFS-based cycle detection for a directed graph.
type cycleDetector struct {
	visited  map[*Stage]bool
	recStack map[*Stage]bool
}

// hasCycleFrom checks if there's a cycle reachable from the given stage.
func (d *cycleDetector) hasCycleFrom(stage *Stage) bool {
	if d.visited[stage] {
		return false
	}
	return d.dfs(stage)
}

// dfs performs depth-first search to detect cycles.
func (d *cycleDetector) dfs(stage *Stage) bool {
	d.visited[stage] = true
	d.recStack[stage] = true

	if d.hasNeighborCycle(stage) {
		return true
	}

	d.recStack[stage] = false
	return false
}

// hasNeighborCycle checks if any downstream neighbor creates a cycle.
func (d *cycleDetector) hasNeighborCycle(stage *Stage) bool {
	for _, next := range stage.outbound {
		if d.recStack[next] {
			return true
		}
		if !d.visited[next] && d.dfs(next) {
			return true
		}
	}
	return false
}
