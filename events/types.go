package events

import "time"

// EventType identifies the type of event emitted by the runtime.
type EventType string

const (
	// EventGraphStarted marks dataflow graph start.
	EventGraphStarted EventType = "graph.started"
	// EventGraphCompleted marks dataflow graph completion.
	EventGraphCompleted EventType = "graph.completed"
	// EventGraphFailed marks dataflow graph failure.
	EventGraphFailed EventType = "graph.failed"

	// EventStageStarted marks stage start.
	EventStageStarted EventType = "stage.started"
	// EventStageCompleted marks stage completion.
	EventStageCompleted EventType = "stage.completed"
	// EventStageFailed marks stage failure.
	EventStageFailed EventType = "stage.failed"

	// EventBacktestStarted marks the start of a backtest run.
	EventBacktestStarted EventType = "backtest.started"
	// EventBacktestPreloaded marks the end of the warm-up phase.
	EventBacktestPreloaded EventType = "backtest.preloaded"
	// EventBacktestCompleted marks backtest completion.
	EventBacktestCompleted EventType = "backtest.completed"
	// EventBacktestFailed marks backtest failure.
	EventBacktestFailed EventType = "backtest.failed"

	// EventDayDownloaded marks a day of market data fetched from the exchange.
	EventDayDownloaded EventType = "day.downloaded"
	// EventDaySaved marks a day of market data persisted to the store.
	EventDaySaved EventType = "day.saved"

	// EventOrderEmitted marks an order leaving the engine.
	EventOrderEmitted EventType = "order.emitted"

	// EventFeedClientConnected marks a feed subscriber attaching.
	EventFeedClientConnected EventType = "feed.client.connected"
	// EventFeedClientDisconnected marks a feed subscriber detaching.
	EventFeedClientDisconnected EventType = "feed.client.disconnected"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a runtime event delivered to listeners.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	Data      EventData
}

// baseEventData provides a shared marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// --- Graph events (kept separate: each phase has distinct fields) ---

// GraphStartedData contains data for graph start events.
type GraphStartedData struct {
	baseEventData
	StageCount  int
	SourceCount int
}

// GraphCompletedData contains data for graph completion events.
type GraphCompletedData struct {
	baseEventData
	Duration time.Duration
}

// GraphFailedData contains data for graph failure events.
type GraphFailedData struct {
	baseEventData
	Error    error
	Duration time.Duration
}

// --- Stage events (consolidated) ---

// StageEventData is the unified payload for all stage lifecycle events
// (started, completed, failed). Duration and Error are zero-valued when
// not applicable to the current phase.
type StageEventData struct {
	baseEventData
	Name     string
	Shape    string // stage shape (function, generator, coroutine, async generator)
	Duration time.Duration
	Error    error
}

type (
	// StageStartedData is an alias for StageEventData.
	StageStartedData = StageEventData
	// StageCompletedData is an alias for StageEventData.
	StageCompletedData = StageEventData
	// StageFailedData is an alias for StageEventData.
	StageFailedData = StageEventData
)

// --- Backtest events ---

// BacktestStartedData contains data for backtest start events.
type BacktestStartedData struct {
	baseEventData
	Requests int
	Preload  bool
}

// BacktestPreloadedData contains data for warm-up completion events.
type BacktestPreloadedData struct {
	baseEventData
	Events   int
	Duration time.Duration
}

// BacktestCompletedData contains data for backtest completion events.
type BacktestCompletedData struct {
	baseEventData
	Duration time.Duration
	Events   int
	Orders   int
}

// BacktestFailedData contains data for backtest failure events.
type BacktestFailedData struct {
	baseEventData
	Error    error
	Duration time.Duration
}

// --- Market data events (consolidated) ---

// DayEventData is the unified payload for per-day market data events
// (downloaded, saved).
type DayEventData struct {
	baseEventData
	Symbol  string
	Product string
	Day     string // YYYY-MM-DD
	Items   int
}

type (
	// DayDownloadedData is an alias for DayEventData.
	DayDownloadedData = DayEventData
	// DaySavedData is an alias for DayEventData.
	DaySavedData = DayEventData
)

// --- Order events ---

// OrderEmittedData contains data for order emission events.
type OrderEmittedData struct {
	baseEventData
	OrderID   string
	Timestamp float64 // epoch milliseconds
}

// --- Feed events (consolidated) ---

// FeedClientData is the unified payload for feed subscriber events
// (connected, disconnected).
type FeedClientData struct {
	baseEventData
	RemoteAddr string
	Clients    int // subscriber count after the change
}

type (
	// FeedClientConnectedData is an alias for FeedClientData.
	FeedClientConnectedData = FeedClientData
	// FeedClientDisconnectedData is an alias for FeedClientData.
	FeedClientDisconnectedData = FeedClientData
)
