package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
)

const defaultExportRows = 5000

// StatusResponse represents the /api/status payload
type StatusResponse struct {
	State         string    `json:"state"`
	Settings      Settings  `json:"settings"`
	Channels      []Channel `json:"channels"`
	Calibration   []float64 `json:"calibration"`
	Subscribers   int       `json:"subscribers"`
	ArchivedRows  int       `json:"archived_rows"`
	SampleRate    int       `json:"sample_rate"`
	PollIntervalM int       `json:"poll_interval_ms"`
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: error encoding response: %v", err)
	}
}

// writeStatus writes a plain status message
func writeStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": message})
}

// requireMethod rejects requests with the wrong method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeStatus(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// handleStartAnalysis handles POST /start-analysis
func handleStartAnalysis(w http.ResponseWriter, r *http.Request, streamer *Streamer) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := streamer.Start(); err != nil {
		if errors.Is(err, ErrBoardBusy) {
			// Distinguished, recoverable conflict: the caller retries after
			// freeing the board.
			writeStatus(w, http.StatusConflict, "Board conflict detected. Please resolve before starting the stream.")
			return
		}
		log.Printf("API: start failed: %v", err)
		writeStatus(w, http.StatusInternalServerError, "Failed to start analysis")
		return
	}

	writeStatus(w, http.StatusOK, "Analysis started")
}

// handleStopAnalysis handles POST /stop-analysis
func handleStopAnalysis(w http.ResponseWriter, r *http.Request, streamer *Streamer) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	streamer.Stop()
	writeStatus(w, http.StatusOK, "Analysis stopped")
}

// CalibrateResponse represents a successful calibration result
type CalibrateResponse struct {
	Values []float64 `json:"values"`
}

// handleCalibrate handles POST /calibrate
func handleCalibrate(w http.ResponseWriter, r *http.Request, streamer *Streamer) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	values, err := streamer.Calibrate()
	if err != nil {
		if errors.Is(err, ErrStreaming) || errors.Is(err, ErrBoardBusy) {
			writeStatus(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("API: calibration failed: %v", err)
		writeStatus(w, http.StatusInternalServerError, "Calibration failed")
		return
	}

	writeJSON(w, http.StatusOK, CalibrateResponse{Values: values})
}

// handleUpdateSettings handles POST /update-settings with a partial
// settings object; unspecified fields retain their previous values.
func handleUpdateSettings(w http.ResponseWriter, r *http.Request, streamer *Streamer) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var update SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid settings payload")
		return
	}

	if _, err := streamer.UpdateSettings(update); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	writeStatus(w, http.StatusOK, "Settings updated")
}

// handleExportData handles GET /export-data?num_rows=N. Serves up to N most
// recent archived rows as a CSV attachment; N clamps to the available data.
func handleExportData(w http.ResponseWriter, r *http.Request, streamer *Streamer, metrics *Metrics) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	numRows := defaultExportRows
	if param := r.URL.Query().Get("num_rows"); param != "" {
		n, err := strconv.Atoi(param)
		if err != nil {
			writeStatus(w, http.StatusBadRequest, "num_rows must be an integer")
			return
		}
		numRows = n
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment;filename=eeg_data.csv")

	if err := streamer.Export().WriteCSV(w, numRows); err != nil {
		// Headers may already be out; all we can do is log.
		log.Printf("API: error exporting data: %v", err)
		return
	}
	if metrics != nil {
		metrics.ExportsTotal.Inc()
	}
}

// handleStatus handles GET /api/status
func handleStatus(w http.ResponseWriter, r *http.Request, streamer *Streamer, hub *Hub, config *Config) {
	settings := streamer.Settings()
	response := StatusResponse{
		State:         streamer.State().String(),
		Settings:      settings,
		Channels:      settings.ChannelSet(config.Channels.Colors),
		Calibration:   streamer.Calibration(),
		Subscribers:   hub.SubscriberCount(),
		ArchivedRows:  streamer.Export().Len(),
		SampleRate:    config.Board.SampleRate,
		PollIntervalM: config.Board.PollIntervalMs,
	}
	writeJSON(w, http.StatusOK, response)
}
