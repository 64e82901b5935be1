package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockGateway is an in-memory OrderGateway for tests and dry runs.
// Placed orders are recorded and acked with sequential ids; failures
// and recovery responses are scripted by the test.
type MockGateway struct {
	mu sync.Mutex

	nextID     int
	Placed     []OrderSpec
	Cancelled  []string
	PlaceErr   error
	CancelErr  error
	RecoverErr error

	// Recovery maps order id -> scripted event returned by
	// RecoverOrderStatuses. Unknown ids produce no event.
	Recovery map[string]OrderEvent
}

func NewMockGateway() *MockGateway {
	return &MockGateway{Recovery: make(map[string]OrderEvent)}
}

func (m *MockGateway) PlaceOrder(_ context.Context, spec OrderSpec) (OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PlaceErr != nil {
		return OrderAck{}, m.PlaceErr
	}

	m.nextID++
	m.Placed = append(m.Placed, spec)
	return OrderAck{
		OrderID:  fmt.Sprintf("ORD-%d", m.nextID),
		Status:   "OPEN",
		PlacedAt: time.Now(),
	}, nil
}

func (m *MockGateway) CancelOrder(_ context.Context, _, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.Cancelled = append(m.Cancelled, orderID)
	return nil
}

func (m *MockGateway) RecoverOrderStatuses(_ context.Context, _ string, orderIDs []string) ([]OrderEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecoverErr != nil {
		return nil, m.RecoverErr
	}

	var events []OrderEvent
	for _, id := range orderIDs {
		if ev, ok := m.Recovery[id]; ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// LastOrderID returns the id acked for the most recent placement
func (m *MockGateway) LastOrderID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextID == 0 {
		return ""
	}
	return fmt.Sprintf("ORD-%d", m.nextID)
}

// PlacedCount returns how many orders were placed
func (m *MockGateway) PlacedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Placed)
}
