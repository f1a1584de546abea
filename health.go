package main

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthResponse represents the /api/health payload
type HealthResponse struct {
	Status        string  `json:"status"`
	StreamState   string  `json:"stream_state"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Load1Min      float64 `json:"load_1min"`
	Load5Min      float64 `json:"load_5min"`
	Load15Min     float64 `json:"load_15min"`
	MemoryPercent float64 `json:"memory_percent"`
}

// handleHealthAPI handles GET /api/health. System metrics are best-effort;
// a probe failure still reports the stream state.
func handleHealthAPI(w http.ResponseWriter, r *http.Request, streamer *Streamer) {
	response := HealthResponse{
		Status:        "ok",
		StreamState:   streamer.State().String(),
		UptimeSeconds: time.Since(StartTime).Seconds(),
	}

	if avg, err := load.Avg(); err == nil {
		response.Load1Min = avg.Load1
		response.Load5Min = avg.Load5
		response.Load15Min = avg.Load15
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		response.MemoryPercent = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, response)
}
