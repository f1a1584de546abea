package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d subscribers", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDeliversSamples(t *testing.T) {
	hub := NewHub("test")
	conn := dialHub(t, hub)
	waitForSubscribers(t, hub, 1)

	hub.PublishSample([]float64{1.0, 2.0, 3.0})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == eventSample {
			assert.Equal(t, []float64{1.0, 2.0, 3.0}, msg.Raw)
			return
		}
		// Skip the connect notification
	}
}

func TestHubDeliversLifecycleEvents(t *testing.T) {
	hub := NewHub("test")
	conn := dialHub(t, hub)
	waitForSubscribers(t, hub, 1)

	hub.PublishEvent(eventAnalysisStopped)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == eventAnalysisStopped {
			assert.Empty(t, msg.Raw)
			return
		}
	}
}

func TestHubBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub("test")
	// Nothing to deliver to; must not panic or block
	hub.PublishSample([]float64{1.0})
	hub.PublishEvent(eventAnalysisStopped)
	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestHubRemovesDisconnectedSubscriber(t *testing.T) {
	hub := NewHub("test")
	conn := dialHub(t, hub)
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)
}
