// Package prometheus exports runtime metrics for dataflow graphs, backtest
// runs, market data ingest, and the replay feed.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tickwork"

var (
	// stageDuration is a histogram of stage processing duration in seconds.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Histogram of stage processing duration in seconds",
			Buckets:   prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		},
		[]string{"stage", "shape"},
	)

	// stageRunsTotal is a counter of stage completions by outcome.
	stageRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Total number of stage completions",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	// graphsActive is a gauge of currently running dataflow graphs.
	graphsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graphs_active",
			Help:      "Number of currently running dataflow graphs",
		},
	)

	// graphDuration is a histogram of total graph run duration.
	graphDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_duration_seconds",
			Help:      "Histogram of total dataflow graph run duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"}, // status: success, error
	)

	// backtestsActive is a gauge of currently running backtests.
	backtestsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backtests_active",
			Help:      "Number of currently running backtests",
		},
	)

	// backtestDuration is a histogram of total backtest run duration.
	backtestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_duration_seconds",
			Help:      "Histogram of total backtest run duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"}, // status: success, error
	)

	// preloadDuration is a histogram of backtest warm-up duration.
	preloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "preload_duration_seconds",
			Help:      "Histogram of backtest warm-up duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// replayEventsTotal is a counter of events replayed by completed backtests.
	replayEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_events_total",
			Help:      "Total number of events replayed by completed backtests",
		},
	)

	// ordersEmittedTotal is a counter of orders emitted by the engine.
	ordersEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_emitted_total",
			Help:      "Total number of orders emitted",
		},
	)

	// daysDownloadedTotal is a counter of market data days fetched from the exchange.
	daysDownloadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "days_downloaded_total",
			Help:      "Total number of market data days fetched from the exchange",
		},
		[]string{"symbol", "product"},
	)

	// itemsSavedTotal is a counter of market data items persisted to the store.
	itemsSavedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_saved_total",
			Help:      "Total number of market data items persisted to the store",
		},
		[]string{"symbol", "product"},
	)

	// feedClients is a gauge of connected replay feed subscribers.
	feedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_clients",
			Help:      "Number of connected replay feed subscribers",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		stageDuration,
		stageRunsTotal,
		graphsActive,
		graphDuration,
		backtestsActive,
		backtestDuration,
		preloadDuration,
		replayEventsTotal,
		ordersEmittedTotal,
		daysDownloadedTotal,
		itemsSavedTotal,
		feedClients,
	}
)

// RecordStageDuration records the duration of a stage run.
func RecordStageDuration(stage, shape string, durationSeconds float64) {
	stageDuration.WithLabelValues(stage, shape).Observe(durationSeconds)
}

// RecordStageRun records a stage completion.
func RecordStageRun(stage, status string) {
	stageRunsTotal.WithLabelValues(stage, status).Inc()
}

// RecordGraphStart records a dataflow graph start.
func RecordGraphStart() {
	graphsActive.Inc()
}

// RecordGraphEnd records a dataflow graph completion.
func RecordGraphEnd(status string, durationSeconds float64) {
	graphsActive.Dec()
	graphDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordBacktestStart records a backtest start.
func RecordBacktestStart() {
	backtestsActive.Inc()
}

// RecordBacktestEnd records a backtest completion.
func RecordBacktestEnd(status string, durationSeconds float64) {
	backtestsActive.Dec()
	backtestDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordPreload records the duration of a backtest warm-up phase.
func RecordPreload(durationSeconds float64) {
	preloadDuration.Observe(durationSeconds)
}

// RecordReplayEvents records the events replayed by a completed backtest.
func RecordReplayEvents(count int) {
	if count > 0 {
		replayEventsTotal.Add(float64(count))
	}
}

// RecordOrderEmitted records an emitted order.
func RecordOrderEmitted() {
	ordersEmittedTotal.Inc()
}

// RecordDayDownloaded records a day of market data fetched from the exchange.
func RecordDayDownloaded(symbol, product string) {
	daysDownloadedTotal.WithLabelValues(symbol, product).Inc()
}

// RecordItemsSaved records market data items persisted to the store.
func RecordItemsSaved(symbol, product string, items int) {
	if items > 0 {
		itemsSavedTotal.WithLabelValues(symbol, product).Add(float64(items))
	}
}

// SetFeedClients records the current replay feed subscriber count.
func SetFeedClients(clients int) {
	feedClients.Set(float64(clients))
}
