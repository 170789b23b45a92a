package prometheus

import (
	"github.com/tickwork/tickwork/events"
)

// Status constants for metric labels.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// MetricsListener records runtime events as Prometheus metrics.
// It implements the events.Listener signature and should be registered
// with an EventBus using SubscribeAll.
type MetricsListener struct{}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{}
}

// Handle processes an event and records relevant metrics.
// This method is designed to be used with EventBus.SubscribeAll.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventGraphStarted:
		RecordGraphStart()
	case events.EventGraphCompleted:
		l.handleGraphCompleted(event)
	case events.EventGraphFailed:
		l.handleGraphFailed(event)
	case events.EventStageCompleted:
		l.handleStageCompleted(event)
	case events.EventStageFailed:
		l.handleStageFailed(event)
	case events.EventBacktestStarted:
		RecordBacktestStart()
	case events.EventBacktestPreloaded:
		l.handleBacktestPreloaded(event)
	case events.EventBacktestCompleted:
		l.handleBacktestCompleted(event)
	case events.EventBacktestFailed:
		l.handleBacktestFailed(event)
	case events.EventDayDownloaded:
		l.handleDayDownloaded(event)
	case events.EventDaySaved:
		l.handleDaySaved(event)
	case events.EventOrderEmitted:
		RecordOrderEmitted()
	case events.EventFeedClientConnected, events.EventFeedClientDisconnected:
		l.handleFeedClients(event)
	default:
		// Ignore events that don't have metrics
	}
}

func (l *MetricsListener) handleGraphCompleted(event *events.Event) {
	if data, ok := event.Data.(events.GraphCompletedData); ok {
		RecordGraphEnd(statusSuccess, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleGraphFailed(event *events.Event) {
	if data, ok := event.Data.(events.GraphFailedData); ok {
		RecordGraphEnd(statusError, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleStageCompleted(event *events.Event) {
	if data, ok := event.Data.(events.StageEventData); ok {
		RecordStageDuration(data.Name, data.Shape, data.Duration.Seconds())
		RecordStageRun(data.Name, statusSuccess)
	}
}

func (l *MetricsListener) handleStageFailed(event *events.Event) {
	if data, ok := event.Data.(events.StageEventData); ok {
		RecordStageDuration(data.Name, data.Shape, data.Duration.Seconds())
		RecordStageRun(data.Name, statusError)
	}
}

func (l *MetricsListener) handleBacktestPreloaded(event *events.Event) {
	if data, ok := event.Data.(events.BacktestPreloadedData); ok {
		RecordPreload(data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleBacktestCompleted(event *events.Event) {
	if data, ok := event.Data.(events.BacktestCompletedData); ok {
		RecordBacktestEnd(statusSuccess, data.Duration.Seconds())
		RecordReplayEvents(data.Events)
	}
}

func (l *MetricsListener) handleBacktestFailed(event *events.Event) {
	if data, ok := event.Data.(events.BacktestFailedData); ok {
		RecordBacktestEnd(statusError, data.Duration.Seconds())
	}
}

func (l *MetricsListener) handleDayDownloaded(event *events.Event) {
	if data, ok := event.Data.(events.DayEventData); ok {
		RecordDayDownloaded(data.Symbol, data.Product)
	}
}

func (l *MetricsListener) handleDaySaved(event *events.Event) {
	if data, ok := event.Data.(events.DayEventData); ok {
		RecordItemsSaved(data.Symbol, data.Product, data.Items)
	}
}

func (l *MetricsListener) handleFeedClients(event *events.Event) {
	if data, ok := event.Data.(events.FeedClientData); ok {
		SetFeedClients(data.Clients)
	}
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
