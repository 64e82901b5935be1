package events

import (
	"sync"
	"time"

	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/gateway"
)

// EventType labels a system event
type EventType string

const (
	EventOrderUpdate    EventType = "ORDER_UPDATE"
	EventTradeClosed    EventType = "TRADE_CLOSED"
	EventMonitorStarted EventType = "MONITOR_STARTED"
	EventMonitorStopped EventType = "MONITOR_STOPPED"
	EventRateLimited    EventType = "RATE_LIMITED"
	EventError          EventType = "ERROR"
)

// Event is one system event. Data carries the typed payload for the
// event type: gateway.OrderEvent for order updates, engine.ExitLogEntry
// for closed trades.
type Event struct {
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Subscriber handles events. Handlers run on their own goroutine, so a
// slow subscriber never blocks the publisher.
type Subscriber func(Event)

// EventBus decouples the stream, the scheduler, and the admin surface
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a handler for one event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a handler for every event
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish fans an event out to its subscribers
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishOrderEvent publishes one asynchronous order status change
func (eb *EventBus) PublishOrderEvent(ev gateway.OrderEvent) {
	eb.Publish(Event{
		Type:      EventOrderUpdate,
		UserID:    ev.UserID,
		Timestamp: ev.Timestamp,
		Data:      ev,
	})
}

// PublishTradeClosed publishes one settled exit
func (eb *EventBus) PublishTradeClosed(userID string, entry engine.ExitLogEntry) {
	eb.Publish(Event{
		Type:   EventTradeClosed,
		UserID: userID,
		Data:   entry,
	})
}

// PublishError publishes a component failure for operator visibility
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
