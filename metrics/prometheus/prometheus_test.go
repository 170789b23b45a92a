package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/tickwork/tickwork/events"
)

func TestRecordStageDuration(t *testing.T) {
	// Reset metrics for test isolation
	stageDuration.Reset()

	RecordStageDuration("parse", "function", 0.5)
	RecordStageDuration("parse", "function", 1.0)
	RecordStageDuration("aggregate", "generator", 0.2)

	// Verify histogram count using CollectAndCount
	count := testutil.CollectAndCount(stageDuration)
	if count == 0 {
		t.Error("Expected non-zero histogram observations")
	}
}

func TestRecordStageRun(t *testing.T) {
	stageRunsTotal.Reset()

	RecordStageRun("parse", "success")
	RecordStageRun("parse", "success")
	RecordStageRun("parse", "error")

	successCount := testutil.ToFloat64(stageRunsTotal.WithLabelValues("parse", "success"))
	errorCount := testutil.ToFloat64(stageRunsTotal.WithLabelValues("parse", "error"))

	if successCount != 2 {
		t.Errorf("Expected 2 success runs, got %f", successCount)
	}
	if errorCount != 1 {
		t.Errorf("Expected 1 error run, got %f", errorCount)
	}
}

func TestRecordGraphStartEnd(t *testing.T) {
	graphsActive.Set(0)
	graphDuration.Reset()

	RecordGraphStart()
	active := testutil.ToFloat64(graphsActive)
	if active != 1 {
		t.Errorf("Expected 1 active graph, got %f", active)
	}

	RecordGraphStart()
	active = testutil.ToFloat64(graphsActive)
	if active != 2 {
		t.Errorf("Expected 2 active graphs, got %f", active)
	}

	RecordGraphEnd("success", 5.0)
	active = testutil.ToFloat64(graphsActive)
	if active != 1 {
		t.Errorf("Expected 1 active graph after end, got %f", active)
	}

	RecordGraphEnd("error", 2.0)
	active = testutil.ToFloat64(graphsActive)
	if active != 0 {
		t.Errorf("Expected 0 active graphs after end, got %f", active)
	}
}

func TestRecordBacktestStartEnd(t *testing.T) {
	backtestsActive.Set(0)
	backtestDuration.Reset()

	RecordBacktestStart()
	active := testutil.ToFloat64(backtestsActive)
	if active != 1 {
		t.Errorf("Expected 1 active backtest, got %f", active)
	}

	RecordBacktestEnd("success", 12.0)
	active = testutil.ToFloat64(backtestsActive)
	if active != 0 {
		t.Errorf("Expected 0 active backtests after end, got %f", active)
	}
}

func TestRecordReplayEvents(t *testing.T) {
	// Counters cannot be reset; track the delta instead.
	before := testutil.ToFloat64(replayEventsTotal)

	RecordReplayEvents(100)
	RecordReplayEvents(50)
	RecordReplayEvents(0) // ignored

	delta := testutil.ToFloat64(replayEventsTotal) - before
	if delta != 150 {
		t.Errorf("Expected 150 replayed events, got %f", delta)
	}
}

func TestRecordOrderEmitted(t *testing.T) {
	before := testutil.ToFloat64(ordersEmittedTotal)

	RecordOrderEmitted()
	RecordOrderEmitted()
	RecordOrderEmitted()

	delta := testutil.ToFloat64(ordersEmittedTotal) - before
	if delta != 3 {
		t.Errorf("Expected 3 emitted orders, got %f", delta)
	}
}

func TestRecordDayDownloaded(t *testing.T) {
	daysDownloadedTotal.Reset()

	RecordDayDownloaded("BTCUSDT", "trade")
	RecordDayDownloaded("BTCUSDT", "trade")
	RecordDayDownloaded("ETHUSDT", "orderbook")

	btcCount := testutil.ToFloat64(daysDownloadedTotal.WithLabelValues("BTCUSDT", "trade"))
	ethCount := testutil.ToFloat64(daysDownloadedTotal.WithLabelValues("ETHUSDT", "orderbook"))

	if btcCount != 2 {
		t.Errorf("Expected 2 BTCUSDT trade days, got %f", btcCount)
	}
	if ethCount != 1 {
		t.Errorf("Expected 1 ETHUSDT orderbook day, got %f", ethCount)
	}
}

func TestRecordItemsSaved(t *testing.T) {
	itemsSavedTotal.Reset()

	RecordItemsSaved("BTCUSDT", "trade", 1000)
	RecordItemsSaved("BTCUSDT", "trade", 500)
	RecordItemsSaved("BTCUSDT", "trade", 0) // ignored

	saved := testutil.ToFloat64(itemsSavedTotal.WithLabelValues("BTCUSDT", "trade"))
	if saved != 1500 {
		t.Errorf("Expected 1500 saved items, got %f", saved)
	}
}

func TestSetFeedClients(t *testing.T) {
	SetFeedClients(3)
	clients := testutil.ToFloat64(feedClients)
	if clients != 3 {
		t.Errorf("Expected 3 feed clients, got %f", clients)
	}

	SetFeedClients(1)
	clients = testutil.ToFloat64(feedClients)
	if clients != 1 {
		t.Errorf("Expected 1 feed client, got %f", clients)
	}
}

func TestNewExporter(t *testing.T) {
	exporter := NewExporter(":9091")
	if exporter == nil {
		t.Fatal("Expected non-nil exporter")
	}
	if exporter.Registry() == nil {
		t.Error("Expected non-nil registry")
	}
}

func TestNewExporterWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	exporter := NewExporterWithRegistry(":9092", reg)

	if exporter.Registry() != reg {
		t.Error("Expected custom registry to be used")
	}
}

func TestExporterHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Inc()

	exporter := NewExporterWithRegistry(":9093", reg)
	handler := exporter.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	resp := rec.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test_counter") {
		t.Error("Expected response to contain test_counter metric")
	}
}

func TestExporterScrapeParses(t *testing.T) {
	// Round-trip through the exposition format: what the handler serves must
	// parse back into well-formed metric families.
	RecordOrderEmitted()
	RecordStageRun("scrape", "success")

	exporter := NewExporter(":9095")
	handler := exporter.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	resp := rec.Result()
	defer resp.Body.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("Scrape output did not parse: %v", err)
	}

	fam, ok := families["tickwork_orders_emitted_total"]
	if !ok {
		t.Fatal("Expected tickwork_orders_emitted_total family in scrape output")
	}
	if fam.GetType() != dto.MetricType_COUNTER {
		t.Errorf("Expected counter type, got %v", fam.GetType())
	}
	// Package-level collectors accumulate across tests, so only a floor holds.
	if len(fam.GetMetric()) == 0 || fam.GetMetric()[0].GetCounter().GetValue() < 1 {
		t.Error("Expected at least one emitted order in scrape output")
	}

	if _, ok := families["tickwork_stage_runs_total"]; !ok {
		t.Error("Expected tickwork_stage_runs_total family in scrape output")
	}
}

func TestExporterRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	exporter := NewExporterWithRegistry(":9094", reg)

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custom_counter",
		Help: "Custom counter",
	})

	err := exporter.Register(counter)
	if err != nil {
		t.Errorf("Expected no error registering counter, got %v", err)
	}

	// Registering again should fail
	err = exporter.Register(counter)
	if err == nil {
		t.Error("Expected error when registering duplicate counter")
	}
}

func TestExporterMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	exporter := NewExporterWithRegistry(":9095", reg)

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "must_register_counter",
		Help: "Must register counter",
	})

	// Should not panic
	exporter.MustRegister(counter)
}

func TestExporterStartShutdown(t *testing.T) {
	exporter := NewExporterWithRegistry(":0", prometheus.NewRegistry())

	// Start in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- exporter.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	// Shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := exporter.Shutdown(ctx)
	if err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}

	// Start should have returned with ErrServerClosed
	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for server to stop")
	}
}

func TestExporterDoubleStart(t *testing.T) {
	exporter := NewExporterWithRegistry(":0", prometheus.NewRegistry())

	go func() {
		_ = exporter.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	// Second start should return nil immediately
	err := exporter.Start()
	if err != nil {
		t.Errorf("Expected nil on double start, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = exporter.Shutdown(ctx)
}

func TestMetricsListener(t *testing.T) {
	// Reset all resettable metrics
	graphsActive.Set(0)
	graphDuration.Reset()
	backtestsActive.Set(0)
	backtestDuration.Reset()
	stageDuration.Reset()
	stageRunsTotal.Reset()
	daysDownloadedTotal.Reset()
	itemsSavedTotal.Reset()

	listener := NewMetricsListener()

	// Graph lifecycle
	listener.Handle(&events.Event{
		Type: events.EventGraphStarted,
		Data: events.GraphStartedData{StageCount: 3, SourceCount: 1},
	})
	active := testutil.ToFloat64(graphsActive)
	if active != 1 {
		t.Errorf("Expected 1 active graph after start event, got %f", active)
	}

	listener.Handle(&events.Event{
		Type: events.EventGraphCompleted,
		Data: events.GraphCompletedData{Duration: 5 * time.Second},
	})
	active = testutil.ToFloat64(graphsActive)
	if active != 0 {
		t.Errorf("Expected 0 active graphs after completed event, got %f", active)
	}

	graphsActive.Inc() // Simulate another graph start
	listener.Handle(&events.Event{
		Type: events.EventGraphFailed,
		Data: events.GraphFailedData{Duration: 2 * time.Second},
	})
	active = testutil.ToFloat64(graphsActive)
	if active != 0 {
		t.Errorf("Expected 0 active graphs after failed event, got %f", active)
	}

	// Stage lifecycle
	listener.Handle(&events.Event{
		Type: events.EventStageCompleted,
		Data: events.StageCompletedData{
			Name:     "parse",
			Shape:    "function",
			Duration: 500 * time.Millisecond,
		},
	})
	successCount := testutil.ToFloat64(stageRunsTotal.WithLabelValues("parse", "success"))
	if successCount != 1 {
		t.Errorf("Expected 1 stage success, got %f", successCount)
	}

	listener.Handle(&events.Event{
		Type: events.EventStageFailed,
		Data: events.StageFailedData{
			Name:     "parse",
			Shape:    "function",
			Duration: 200 * time.Millisecond,
		},
	})
	errorCount := testutil.ToFloat64(stageRunsTotal.WithLabelValues("parse", "error"))
	if errorCount != 1 {
		t.Errorf("Expected 1 stage error, got %f", errorCount)
	}

	// Backtest lifecycle
	replayBefore := testutil.ToFloat64(replayEventsTotal)
	listener.Handle(&events.Event{
		Type: events.EventBacktestStarted,
		Data: events.BacktestStartedData{Requests: 2, Preload: true},
	})
	active = testutil.ToFloat64(backtestsActive)
	if active != 1 {
		t.Errorf("Expected 1 active backtest after start event, got %f", active)
	}

	listener.Handle(&events.Event{
		Type: events.EventBacktestPreloaded,
		Data: events.BacktestPreloadedData{Events: 500, Duration: time.Second},
	})

	listener.Handle(&events.Event{
		Type: events.EventBacktestCompleted,
		Data: events.BacktestCompletedData{
			Duration: 10 * time.Second,
			Events:   1200,
			Orders:   7,
		},
	})
	active = testutil.ToFloat64(backtestsActive)
	if active != 0 {
		t.Errorf("Expected 0 active backtests after completed event, got %f", active)
	}
	replayed := testutil.ToFloat64(replayEventsTotal) - replayBefore
	if replayed != 1200 {
		t.Errorf("Expected 1200 replayed events, got %f", replayed)
	}

	backtestsActive.Inc() // Simulate another backtest start
	listener.Handle(&events.Event{
		Type: events.EventBacktestFailed,
		Data: events.BacktestFailedData{Duration: 3 * time.Second},
	})
	active = testutil.ToFloat64(backtestsActive)
	if active != 0 {
		t.Errorf("Expected 0 active backtests after failed event, got %f", active)
	}

	// Market data ingest
	listener.Handle(&events.Event{
		Type: events.EventDayDownloaded,
		Data: events.DayDownloadedData{
			Symbol:  "BTCUSDT",
			Product: "trade",
			Day:     "2023-10-01",
		},
	})
	downloaded := testutil.ToFloat64(daysDownloadedTotal.WithLabelValues("BTCUSDT", "trade"))
	if downloaded != 1 {
		t.Errorf("Expected 1 downloaded day, got %f", downloaded)
	}

	listener.Handle(&events.Event{
		Type: events.EventDaySaved,
		Data: events.DaySavedData{
			Symbol:  "BTCUSDT",
			Product: "trade",
			Day:     "2023-10-01",
			Items:   2500,
		},
	})
	saved := testutil.ToFloat64(itemsSavedTotal.WithLabelValues("BTCUSDT", "trade"))
	if saved != 2500 {
		t.Errorf("Expected 2500 saved items, got %f", saved)
	}

	// Orders
	ordersBefore := testutil.ToFloat64(ordersEmittedTotal)
	listener.Handle(&events.Event{
		Type: events.EventOrderEmitted,
		Data: events.OrderEmittedData{OrderID: "o-1", Timestamp: 1000},
	})
	orders := testutil.ToFloat64(ordersEmittedTotal) - ordersBefore
	if orders != 1 {
		t.Errorf("Expected 1 emitted order, got %f", orders)
	}

	// Feed subscribers
	listener.Handle(&events.Event{
		Type: events.EventFeedClientConnected,
		Data: events.FeedClientConnectedData{RemoteAddr: "10.0.0.1:5000", Clients: 2},
	})
	clients := testutil.ToFloat64(feedClients)
	if clients != 2 {
		t.Errorf("Expected 2 feed clients, got %f", clients)
	}

	listener.Handle(&events.Event{
		Type: events.EventFeedClientDisconnected,
		Data: events.FeedClientDisconnectedData{RemoteAddr: "10.0.0.1:5000", Clients: 1},
	})
	clients = testutil.ToFloat64(feedClients)
	if clients != 1 {
		t.Errorf("Expected 1 feed client after disconnect, got %f", clients)
	}
}

func TestMetricsListenerFunction(t *testing.T) {
	listener := NewMetricsListener()
	fn := listener.Listener()

	if fn == nil {
		t.Error("Expected non-nil listener function")
	}

	// Verify it's callable
	graphsActive.Set(0)
	fn(&events.Event{
		Type: events.EventGraphStarted,
		Data: events.GraphStartedData{},
	})

	active := testutil.ToFloat64(graphsActive)
	if active != 1 {
		t.Errorf("Expected 1 active graph via listener function, got %f", active)
	}
}

func TestMetricsListenerIgnoresUnmeteredEvents(t *testing.T) {
	listener := NewMetricsListener()

	// These should not panic
	listener.Handle(&events.Event{
		Type: events.EventStageStarted,
		Data: events.StageStartedData{Name: "parse"},
	})

	listener.Handle(&events.Event{
		Type: events.EventType("custom.event"),
		Data: nil,
	})
}

func TestMetricsListenerNilData(t *testing.T) {
	listener := NewMetricsListener()

	// These should not panic even with nil data
	listener.Handle(&events.Event{
		Type: events.EventGraphCompleted,
		Data: nil,
	})

	listener.Handle(&events.Event{
		Type: events.EventStageCompleted,
		Data: nil,
	})

	listener.Handle(&events.Event{
		Type: events.EventBacktestCompleted,
		Data: nil,
	})
}
