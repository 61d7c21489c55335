// Package events is a small typed pub/sub bus used to fan out
// transfer-progress and remote-change notifications to whatever is
// watching (a CLI progress renderer, the eventstream reconnect loop).
// Grounded on internal/events bus: same
// subscribe/publish/unsubscribe mechanics and non-blocking buffered
// delivery, with the job-pipeline event payloads replaced by this
// repository's transfer and repo domain.
package events

import ("sync"
	"sync/atomic"
	"time"

	"github.com/koofr/vault-core/internal/constants")

// EventType defines the types of events that can be emitted.
type EventType string

const (EventLog EventType = "log"
	EventTransferQueued EventType = "transfer_queued"
	EventTransferStarted EventType = "transfer_started"
	EventTransferProgress EventType = "transfer_progress"
	EventTransferCompleted EventType = "transfer_completed"
	EventTransferFailed EventType = "transfer_failed"
	EventTransferCancelled EventType = "transfer_cancelled"
	EventRemoteChange EventType = "remote_change")

// LogLevel defines log severity levels.
type LogLevel int

const (DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	EventType EventType
	Time time.Time
}

func (e BaseEvent) Type() EventType { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// LogEvent represents log messages routed through the bus instead of
// straight to the logger (used by eventstream to surface reconnects).
type LogEvent struct {
	BaseEvent
	Level LogLevel
	Message string
	Error error
}

// TransferEvent mirrors a transfer's lifecycle for a UI or CLI progress
// renderer, decoupled from the engine's own transfers.Transfer so
// renderers don't need to import the scheduler internals.
type TransferEvent struct {
	BaseEvent
	TransferID int32
	Category string // display category of the transfer's name (see transfers.Category)
	Name string
	BytesDone int64
	BytesTotal int64
	Speed float64 // bytes/sec
	Error error
}

// RemoteChangeEvent is what internal/eventstream publishes when the
// server signals a repo's files may have changed: the engine is opaque
// to it, but internal/repofiles uses it to re-issue RefreshListing.
type RemoteChangeEvent struct {
	BaseEvent
	RepoID string
	Path string // empty means the whole repo's tree may have changed
}

// EventBus manages event subscriptions and publishing.
type EventBus struct {
	subscribers map[EventType][]chan Event
	all []chan Event // subscribers to all events
	mu sync.RWMutex
	bufferSize int
	closed bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with the specified buffer size.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all: make([]chan Event, 0),
		bufferSize: bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events.
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers, non-blocking: a full
// buffer drops the event rather than stalling the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all subscriber channels.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishLog is a convenience method for publishing log events.
func (eb *EventBus) PublishLog(level LogLevel, message string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: BaseEvent{EventType: EventLog, Time: time.Now()},
		Level: level,
		Message: message,
		Error: err,
	})
}

// PublishRemoteChange is a convenience method for eventstream to
// announce a possible remote change for (repoID, path).
func (eb *EventBus) PublishRemoteChange(repoID, path string) {
	eb.Publish(&RemoteChangeEvent{
		BaseEvent: BaseEvent{EventType: EventRemoteChange, Time: time.Now()},
		RepoID: repoID,
		Path: path,
	})
}

// Unsubscribe removes a subscription channel from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from every event type
// and from the all-events list.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}
	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// DroppedEventCount returns the number of events dropped due to full
// subscriber buffers, useful for tuning buffer sizes.
func (eb *EventBus) DroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
