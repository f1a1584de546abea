package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrConflict indicates the server refused the request because the board is
// busy or a stream is already in progress. The caller should surface the
// server's message to the user and retry once the conflict clears.
var ErrConflict = errors.New("server reported a conflict")

// Settings mirrors the server's pipeline settings object
type Settings struct {
	BandpassEnabled           bool    `json:"bandpass_filter_enabled"`
	BaselineCorrectionEnabled bool    `json:"baseline_correction_enabled"`
	SmoothingEnabled          bool    `json:"smoothing_enabled"`
	RefEnabled                bool    `json:"ref_enabled"`
	BiasoutEnabled            bool    `json:"biasout_enabled"`
	Lowcut                    float64 `json:"lowcut"`
	Highcut                   float64 `json:"highcut"`
	Order                     int     `json:"order"`
	EnabledChannels           int     `json:"enabled_channels"`
	RefNormThreshold          float64 `json:"ref_norm_threshold"`
}

// SettingsUpdate carries a partial settings change; nil fields are left
// unchanged on the server.
type SettingsUpdate struct {
	BandpassEnabled           *bool    `json:"bandpass_filter_enabled,omitempty"`
	BaselineCorrectionEnabled *bool    `json:"baseline_correction_enabled,omitempty"`
	SmoothingEnabled          *bool    `json:"smoothing_enabled,omitempty"`
	RefEnabled                *bool    `json:"ref_enabled,omitempty"`
	BiasoutEnabled            *bool    `json:"biasout_enabled,omitempty"`
	Lowcut                    *float64 `json:"lowcut,omitempty"`
	Highcut                   *float64 `json:"highcut,omitempty"`
	Order                     *int     `json:"order,omitempty"`
	EnabledChannels           *int     `json:"enabled_channels,omitempty"`
	RefNormThreshold          *float64 `json:"ref_norm_threshold,omitempty"`
}

// Channel describes one plotted series as reported by /api/status
type Channel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Status mirrors the server's /api/status payload
type Status struct {
	State          string    `json:"state"`
	Settings       Settings  `json:"settings"`
	Channels       []Channel `json:"channels"`
	Calibration    []float64 `json:"calibration"`
	Subscribers    int       `json:"subscribers"`
	ArchivedRows   int       `json:"archived_rows"`
	SampleRate     int       `json:"sample_rate"`
	PollIntervalMs int       `json:"poll_interval_ms"`
}

// ControlClient drives the server's HTTP control surface
type ControlClient struct {
	baseURL string
	http    *http.Client
}

// NewControlClient creates a client for the server at baseURL,
// e.g. "http://raspberrypi:5000".
func NewControlClient(baseURL string) *ControlClient {
	return &ControlClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type statusBody struct {
	Status string `json:"status"`
}

// decodeError turns a non-2xx response into an error, mapping 409 to
// ErrConflict so callers can distinguish recoverable contention.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := string(bytes.TrimSpace(body))
	var sb statusBody
	if json.Unmarshal(body, &sb) == nil && sb.Status != "" {
		message = sb.Status
	}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrConflict, message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, message)
}

func (c *ControlClient) post(path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// StartAnalysis asks the server to begin streaming
func (c *ControlClient) StartAnalysis() error {
	return c.post("/start-analysis", nil, nil)
}

// StopAnalysis asks the server to stop streaming
func (c *ControlClient) StopAnalysis() error {
	return c.post("/stop-analysis", nil, nil)
}

// Calibrate runs a calibration pass and returns the per-channel means
func (c *ControlClient) Calibrate() ([]float64, error) {
	var result struct {
		Values []float64 `json:"values"`
	}
	if err := c.post("/calibrate", nil, &result); err != nil {
		return nil, err
	}
	return result.Values, nil
}

// UpdateSettings applies a partial settings change
func (c *ControlClient) UpdateSettings(update SettingsUpdate) error {
	return c.post("/update-settings", update, nil)
}

// Status fetches the current server state
func (c *ControlClient) Status() (*Status, error) {
	resp, err := c.http.Get(c.baseURL + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ExportCSV downloads up to numRows of archived raw data and writes the CSV
// to w. numRows <= 0 requests the server default.
func (c *ControlClient) ExportCSV(w io.Writer, numRows int) (int64, error) {
	exportURL := c.baseURL + "/export-data"
	if numRows > 0 {
		exportURL += "?num_rows=" + url.QueryEscape(fmt.Sprintf("%d", numRows))
	}

	resp, err := c.http.Get(exportURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}
