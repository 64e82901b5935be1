package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// OrderEventStream maintains the push WebSocket connection that delivers
// asynchronous order events. It reconnects on failure and hands every
// decoded event to the registered callback. The scheduler keeps it
// connected only while at least one user is monitoring or holds positions.
type OrderEventStream struct {
	mu sync.RWMutex

	url       string
	apiKey    string
	wsConn    *websocket.Conn
	isRunning bool
	stopChan  chan struct{}

	onOrderEvent func(OrderEvent)

	reconnects     int
	lastMessageAt  time.Time
}

// NewOrderEventStream creates a stream client for the given endpoint
func NewOrderEventStream(url, apiKey string) *OrderEventStream {
	return &OrderEventStream{
		url:    url,
		apiKey: apiKey,
	}
}

// SetOrderEventCallback sets the callback invoked for every decoded event
func (s *OrderEventStream) SetOrderEventCallback(cb func(OrderEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOrderEvent = cb
}

// Start opens the connection and begins delivering events
func (s *OrderEventStream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.connect()
	go s.keepAliveLoop()

	log.Printf("[ORDER-STREAM] Started")
}

// Stop closes the connection and halts reconnection attempts
func (s *OrderEventStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.isRunning = false
	close(s.stopChan)

	if s.wsConn != nil {
		s.wsConn.Close()
	}

	log.Printf("[ORDER-STREAM] Stopped")
}

// IsRunning returns true while the stream is active
func (s *OrderEventStream) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// LastMessageAt returns when the last message arrived
func (s *OrderEventStream) LastMessageAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMessageAt
}

// connect dials and re-dials the endpoint while the stream is running
func (s *OrderEventStream) connect() {
	for {
		s.mu.RLock()
		if !s.isRunning {
			s.mu.RUnlock()
			return
		}
		url := s.url
		s.mu.RUnlock()

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			log.Printf("[ORDER-STREAM] Connection failed: %v, retrying in 5s", err)
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			select {
			case <-s.stopChan:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		s.mu.Lock()
		s.wsConn = conn
		s.reconnects = 0
		s.mu.Unlock()

		log.Printf("[ORDER-STREAM] Connected")

		s.readLoop(conn)

		s.mu.RLock()
		isRunning := s.isRunning
		s.mu.RUnlock()
		if !isRunning {
			return
		}

		log.Printf("[ORDER-STREAM] Connection lost, reconnecting in 3s")
		select {
		case <-s.stopChan:
			return
		case <-time.After(3 * time.Second):
		}
	}
}

// readLoop reads messages until the connection drops
func (s *OrderEventStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ORDER-STREAM] Connection closed normally")
			} else {
				log.Printf("[ORDER-STREAM] Read error: %v", err)
			}
			return
		}
		s.handleMessage(message)
	}
}

// handleMessage decodes and dispatches one stream message
func (s *OrderEventStream) handleMessage(message []byte) {
	var event OrderEvent
	if err := json.Unmarshal(message, &event); err != nil {
		log.Printf("[ORDER-STREAM] Failed to parse event: %v", err)
		return
	}
	if event.OrderID == "" {
		return
	}

	s.mu.Lock()
	s.lastMessageAt = time.Now()
	cb := s.onOrderEvent
	s.mu.Unlock()

	if cb != nil {
		cb(event)
	}
}

// keepAliveLoop pings the connection so idle intermediaries keep it open
func (s *OrderEventStream) keepAliveLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.wsConn
			s.mu.RUnlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Printf("[ORDER-STREAM] Keepalive ping failed: %v", err)
			}
		}
	}
}
