package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeServer(t *testing.T, handler http.HandlerFunc) (*ControlClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewControlClient(server.URL), server
}

func TestStartAnalysisConflictMapsToErrConflict(t *testing.T) {
	client, _ := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"status": "Board conflict detected"})
	})

	err := client.StartAnalysis()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "Board conflict detected")
}

func TestCalibrateReturnsVector(t *testing.T) {
	client, _ := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calibrate", r.URL.Path)
		json.NewEncoder(w).Encode(map[string][]float64{"values": {1.0, 2.0, 3.0}})
	})

	values, err := client.Calibrate()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0, 2.0, 3.0}, values)
}

func TestUpdateSettingsOmitsUnsetFields(t *testing.T) {
	var received map[string]interface{}
	client, _ := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	})

	lowcut := 1.5
	require.NoError(t, client.UpdateSettings(SettingsUpdate{Lowcut: &lowcut}))

	assert.Equal(t, map[string]interface{}{"lowcut": 1.5}, received)
}

func TestStatusDecodesPayload(t *testing.T) {
	client, _ := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Status{
			State:      "running",
			SampleRate: 250,
			Channels:   []Channel{{Name: "Ch1", Color: "#ff0000"}},
		})
	})

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, "running", status.State)
	assert.Equal(t, 250, status.SampleRate)
	require.Len(t, status.Channels, 1)
	assert.Equal(t, "Ch1", status.Channels[0].Name)
}

func TestExportCSVPassesRowCount(t *testing.T) {
	client, _ := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "250", r.URL.Query().Get("num_rows"))
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("REF,BIASOUT,Ch1\n1,2,3\n"))
	})

	var buf bytes.Buffer
	n, err := client.ExportCSV(&buf, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.True(t, strings.HasPrefix(buf.String(), "REF,"))
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestStreamSubscriberFeedsChart(t *testing.T) {
	feed := make(chan StreamMessage, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for msg := range feed {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(feed) })

	chart := NewChartModel()
	chart.Rebuild(testChannels(2))
	require.NoError(t, chart.SetRunning(true))

	sub, err := NewStreamSubscriber(server.URL, chart)
	require.NoError(t, err)
	require.NoError(t, sub.Connect())
	t.Cleanup(sub.Close)

	feed <- StreamMessage{Event: eventSample, Raw: []float64{5.0, 6.0}}
	waitFor(t, func() bool {
		snapshot := chart.Snapshot()
		return len(snapshot) == 2 && len(snapshot[0].Points()) == 1
	})
	assert.Equal(t, []float64{5.0}, chart.Snapshot()[0].Points())

	feed <- StreamMessage{Event: eventAnalysisStopped}
	waitFor(t, func() bool { return chart.State() == ViewStopped })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
