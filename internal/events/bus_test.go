package events

import (
	"testing"
	"time"

	"hma-trading-bot/internal/gateway"
)

// TestPublishReachesTypedSubscriber verifies typed subscription and the
// payload surviving the trip
func TestPublishReachesTypedSubscriber(t *testing.T) {
	eb := NewEventBus()
	got := make(chan Event, 1)

	eb.Subscribe(EventOrderUpdate, func(ev Event) { got <- ev })
	eb.PublishOrderEvent(gateway.OrderEvent{
		UserID:  "user1",
		OrderID: "ORD-1",
		Type:    gateway.EventFilled,
	})

	select {
	case ev := <-got:
		order, ok := ev.Data.(gateway.OrderEvent)
		if !ok {
			t.Fatalf("payload type = %T, want gateway.OrderEvent", ev.Data)
		}
		if order.OrderID != "ORD-1" || ev.UserID != "user1" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never called")
	}
}

// TestSubscriberOnlySeesItsType verifies type filtering
func TestSubscriberOnlySeesItsType(t *testing.T) {
	eb := NewEventBus()
	got := make(chan Event, 2)

	eb.Subscribe(EventTradeClosed, func(ev Event) { got <- ev })
	eb.Publish(Event{Type: EventError})
	eb.Publish(Event{Type: EventTradeClosed})

	select {
	case ev := <-got:
		if ev.Type != EventTradeClosed {
			t.Errorf("type = %s, want TRADE_CLOSED", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never called")
	}

	select {
	case ev := <-got:
		t.Errorf("unexpected second delivery: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestSubscribeAllSeesEverything verifies the firehose subscription
func TestSubscribeAllSeesEverything(t *testing.T) {
	eb := NewEventBus()
	got := make(chan Event, 2)

	eb.SubscribeAll(func(ev Event) { got <- ev })
	eb.Publish(Event{Type: EventMonitorStarted})
	eb.Publish(Event{Type: EventRateLimited})

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-got:
			seen[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatal("missing delivery")
		}
	}
	if !seen[EventMonitorStarted] || !seen[EventRateLimited] {
		t.Errorf("seen = %v", seen)
	}
}
