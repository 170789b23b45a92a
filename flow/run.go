package flow

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tickwork/tickwork/logger"
)

// Run validates the graph, then executes it: one goroutine per stage, all
// under an errgroup derived from ctx. It blocks until every stage has
// terminated and returns the first stage failure, if any. A failing stage
// does not forward end-of-stream; the shared context is cancelled instead
// and the remaining stages abort their queue waits.
func (g *Graph) Run(ctx context.Context) error {
	if err := g.validate(); err != nil {
		return err
	}

	sources := 0
	for _, stage := range g.stages {
		if stage.IsSource() {
			sources++
		}
	}

	start := time.Now()
	g.emitter.GraphStarted(len(g.stages), sources)
	logger.Debug("Running dataflow graph",
		"stages", len(g.stages),
		"sources", sources,
		"queue_capacity", g.config.QueueCapacity)

	// Fresh queues per run so capacity tracks config and a finished graph
	// can be run again.
	for _, stage := range g.stages {
		stage.queue = newQueue(g.config.QueueCapacity)
	}

	group, runCtx := errgroup.WithContext(ctx)
	for _, stage := range g.stages {
		group.Go(func() error {
			return g.runStage(runCtx, stage)
		})
	}

	if err := group.Wait(); err != nil {
		g.emitter.GraphFailed(err, time.Since(start))
		return err
	}

	g.emitter.GraphCompleted(time.Since(start))
	return nil
}

// runStage executes a single stage, wrapping it with events and error
// handling.
func (g *Graph) runStage(ctx context.Context, stage *Stage) error {
	start := time.Now()
	g.emitter.StageStarted(stage.name, stage.shape.String())

	err := g.stageLoop(ctx, stage)
	duration := time.Since(start)

	if err != nil {
		g.emitter.StageFailed(stage.name, stage.shape.String(), err, duration)
		logger.Error("Stage failed",
			"stage", stage.name,
			"shape", stage.shape.String(),
			"error", err)
		return NewStageError(stage.name, stage.shape, err)
	}

	g.emitter.StageCompleted(stage.name, stage.shape.String(), duration)
	return nil
}

// stageLoop drives one stage to completion.
//
// Sources run the user function once with a nil input. Every other stage
// drains its inbound queue, counting down one active upstream per
// end-of-stream token; data items are handed to the user function and the
// results fan out to all outbound queues. When the last upstream finishes,
// the stage forwards a single end-of-stream to each outbound and returns.
func (g *Graph) stageLoop(ctx context.Context, stage *Stage) error {
	emit := stage.forwarder(ctx)

	if stage.IsSource() {
		if err := stage.invoke(ctx, nil, emit); err != nil {
			return err
		}
		return stage.forwardEOS(ctx)
	}

	active := len(stage.inbound)
	for active > 0 {
		item, eos, err := stage.queue.get(ctx)
		if err != nil {
			return err
		}
		if eos {
			active--
			continue
		}
		if err := stage.invoke(ctx, item, emit); err != nil {
			return err
		}
	}

	return stage.forwardEOS(ctx)
}
