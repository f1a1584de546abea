package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now (configure CORS properly in production)
		return true
	},
}

// WSMessage is the wire format for stream events. The per-tick sample event
// carries the latest value per enabled channel, in fixed channel order.
type WSMessage struct {
	Event string    `json:"event"`
	Raw   []float64 `json:"raw,omitempty"`
}

const (
	eventSample             = "update_data"
	eventAnalysisStopped    = "analysis_stopped"
	eventClientConnected    = "client_connected"
	eventClientDisconnected = "client_disconnected"
)

// subscriber is one WebSocket client. Each subscriber has a dedicated
// writer goroutine fed by a buffered channel so a slow client never blocks
// distribution; when the buffer is full the message is dropped.
type subscriber struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
}

// Hub fans published samples out to WebSocket subscribers. Delivery is
// fire-and-forget, at-most-once per sample.
type Hub struct {
	name    string
	mu      sync.RWMutex
	subs    map[string]*subscriber
	metrics *Metrics
}

// NewHub creates an empty hub
func NewHub(name string) *Hub {
	return &Hub{
		name: name,
		subs: make(map[string]*subscriber),
	}
}

// SetMetrics attaches Prometheus metrics (optional)
func (h *Hub) SetMetrics(m *Metrics) {
	h.metrics = m
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PublishSample broadcasts the per-tick sample event
func (h *Hub) PublishSample(raw []float64) {
	h.BroadcastJSON(WSMessage{Event: eventSample, Raw: raw})
}

// PublishEvent broadcasts a lifecycle event
func (h *Hub) PublishEvent(event string) {
	h.BroadcastJSON(WSMessage{Event: event})
}

// BroadcastJSON marshals v once and queues it to every subscriber without
// blocking. Subscribers whose buffers are full miss the message.
func (h *Hub) BroadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Hub[%s]: marshal broadcast: %v", h.name, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.sendCh <- data:
		default:
			if h.metrics != nil {
				h.metrics.PublishDrops.Inc()
			}
		}
	}
}

// HandleWebSocket upgrades the request and serves the subscriber until it
// disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Hub[%s]: upgrade failed: %v", h.name, err)
		return
	}

	sub := &subscriber{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	h.add(sub)
	log.Printf("Hub[%s]: subscriber %s connected from %s", h.name, sub.id, r.RemoteAddr)
	h.PublishEvent(eventClientConnected)

	go sub.writeLoop(h)

	// Read loop: the stream is one-way, reads only detect disconnects and
	// answer pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(sub)
	close(sub.done)
	conn.Close()
	log.Printf("Hub[%s]: subscriber %s disconnected", h.name, sub.id)
	h.PublishEvent(eventClientDisconnected)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveSubscribers.Inc()
		h.metrics.ConnectionsTotal.Inc()
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveSubscribers.Dec()
	}
}

// writeLoop owns all writes to the connection
func (sub *subscriber) writeLoop(h *Hub) {
	for {
		select {
		case <-sub.done:
			return
		case data := <-sub.sendCh:
			sub.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			if h.metrics != nil {
				h.metrics.MessagesSent.Inc()
			}
		}
	}
}
