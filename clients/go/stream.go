package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventSample          = "update_data"
	eventAnalysisStopped = "analysis_stopped"
)

// StreamMessage is one event from the server's sample feed
type StreamMessage struct {
	Event string    `json:"event"`
	Raw   []float64 `json:"raw,omitempty"`
}

// StreamSubscriber maintains the WebSocket subscription to /ws and feeds
// incoming samples into a ChartModel. When the server announces
// analysis_stopped the chart drops back to the Stopped state.
type StreamSubscriber struct {
	wsURL string
	chart *ChartModel

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewStreamSubscriber builds a subscriber for the server at baseURL
func NewStreamSubscriber(baseURL string, chart *ChartModel) (*StreamSubscriber, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return &StreamSubscriber{wsURL: u.String(), chart: chart}, nil
}

// Connect dials the sample feed and starts the read loop
func (s *StreamSubscriber) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", s.wsURL, err)
	}

	s.conn = conn
	s.done = make(chan struct{})
	go s.readLoop(conn, s.done)
	return nil
}

// Close tears down the subscription and waits for the read loop to exit
func (s *StreamSubscriber) Close() {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	<-done
}

func (s *StreamSubscriber) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Stream: connection lost: %v", err)
			}
			return
		}

		var msg StreamMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("Stream: discarding malformed message: %v", err)
			continue
		}
		s.handle(msg)
	}
}

func (s *StreamSubscriber) handle(msg StreamMessage) {
	switch msg.Event {
	case eventSample:
		s.chart.Append(msg.Raw)
	case eventAnalysisStopped:
		s.chart.SetRunning(false)
	}
}
