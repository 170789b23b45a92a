package events

import "time"

// Emitter provides helpers for publishing runtime events with shared metadata.
// A nil Emitter (or one without a bus) silently drops events, so callers never
// need to guard emission sites.
type Emitter struct {
	bus   *EventBus
	runID string
}

// NewEmitter creates a new event emitter bound to one run.
func NewEmitter(bus *EventBus, runID string) *Emitter {
	return &Emitter{
		bus:   bus,
		runID: runID,
	}
}

// emit publishes an event with shared context fields.
func (e *Emitter) emit(eventType EventType, data EventData) {
	if e == nil || e.bus == nil {
		return
	}

	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Data:      data,
	}

	e.bus.Publish(event)
}

// GraphStarted emits the graph.started event.
func (e *Emitter) GraphStarted(stageCount, sourceCount int) {
	e.emit(EventGraphStarted, GraphStartedData{
		StageCount:  stageCount,
		SourceCount: sourceCount,
	})
}

// GraphCompleted emits the graph.completed event.
func (e *Emitter) GraphCompleted(duration time.Duration) {
	e.emit(EventGraphCompleted, GraphCompletedData{
		Duration: duration,
	})
}

// GraphFailed emits the graph.failed event.
func (e *Emitter) GraphFailed(err error, duration time.Duration) {
	e.emit(EventGraphFailed, GraphFailedData{
		Error:    err,
		Duration: duration,
	})
}

// StageStarted emits the stage.started event.
func (e *Emitter) StageStarted(name, shape string) {
	e.emit(EventStageStarted, StageStartedData{
		Name:  name,
		Shape: shape,
	})
}

// StageCompleted emits the stage.completed event.
func (e *Emitter) StageCompleted(name, shape string, duration time.Duration) {
	e.emit(EventStageCompleted, StageCompletedData{
		Name:     name,
		Shape:    shape,
		Duration: duration,
	})
}

// StageFailed emits the stage.failed event.
func (e *Emitter) StageFailed(name, shape string, err error, duration time.Duration) {
	e.emit(EventStageFailed, StageFailedData{
		Name:     name,
		Shape:    shape,
		Error:    err,
		Duration: duration,
	})
}

// BacktestStarted emits the backtest.started event.
func (e *Emitter) BacktestStarted(requests int, preload bool) {
	e.emit(EventBacktestStarted, BacktestStartedData{
		Requests: requests,
		Preload:  preload,
	})
}

// BacktestPreloaded emits the backtest.preloaded event.
func (e *Emitter) BacktestPreloaded(eventCount int, duration time.Duration) {
	e.emit(EventBacktestPreloaded, BacktestPreloadedData{
		Events:   eventCount,
		Duration: duration,
	})
}

// BacktestCompleted emits the backtest.completed event.
func (e *Emitter) BacktestCompleted(duration time.Duration, eventCount, orderCount int) {
	e.emit(EventBacktestCompleted, BacktestCompletedData{
		Duration: duration,
		Events:   eventCount,
		Orders:   orderCount,
	})
}

// BacktestFailed emits the backtest.failed event.
func (e *Emitter) BacktestFailed(err error, duration time.Duration) {
	e.emit(EventBacktestFailed, BacktestFailedData{
		Error:    err,
		Duration: duration,
	})
}

// DayDownloaded emits the day.downloaded event.
func (e *Emitter) DayDownloaded(symbol, product, day string, items int) {
	e.emit(EventDayDownloaded, DayDownloadedData{
		Symbol:  symbol,
		Product: product,
		Day:     day,
		Items:   items,
	})
}

// DaySaved emits the day.saved event.
func (e *Emitter) DaySaved(symbol, product, day string, items int) {
	e.emit(EventDaySaved, DaySavedData{
		Symbol:  symbol,
		Product: product,
		Day:     day,
		Items:   items,
	})
}

// OrderEmitted emits the order.emitted event.
func (e *Emitter) OrderEmitted(orderID string, timestamp float64) {
	e.emit(EventOrderEmitted, OrderEmittedData{
		OrderID:   orderID,
		Timestamp: timestamp,
	})
}

// FeedClientConnected emits the feed.client.connected event.
func (e *Emitter) FeedClientConnected(remoteAddr string, clients int) {
	e.emit(EventFeedClientConnected, FeedClientConnectedData{
		RemoteAddr: remoteAddr,
		Clients:    clients,
	})
}

// FeedClientDisconnected emits the feed.client.disconnected event.
func (e *Emitter) FeedClientDisconnected(remoteAddr string, clients int) {
	e.emit(EventFeedClientDisconnected, FeedClientDisconnectedData{
		RemoteAddr: remoteAddr,
		Clients:    clients,
	})
}
