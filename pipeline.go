package main

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// StreamState is the single source of truth for whether the acquisition
// loop is alive.
type StreamState int

const (
	StateIdle StreamState = iota
	StateRunning
)

func (s StreamState) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// ErrStreaming indicates an operation that requires exclusive use of the
// acquisition path was attempted while the stream is running.
var ErrStreaming = errors.New("stream is running")

// Settings holds the channel selection and filter settings. Replaced
// wholesale on each settings update; the loop snapshots it once per
// iteration, so changes take effect on the next window.
type Settings struct {
	EnabledChannels           int     `json:"enabled_channels"`
	RefEnabled                bool    `json:"ref_enabled"`
	BiasoutEnabled            bool    `json:"biasout_enabled"`
	BandpassEnabled           bool    `json:"bandpass_filter_enabled"`
	BaselineCorrectionEnabled bool    `json:"baseline_correction_enabled"`
	SmoothingEnabled          bool    `json:"smoothing_enabled"`
	Lowcut                    float64 `json:"lowcut"`
	Highcut                   float64 `json:"highcut"`
	Order                     int     `json:"order"`
}

// SettingsUpdate is a partial settings object; nil fields retain their
// previous values. Field names match the control surface JSON.
type SettingsUpdate struct {
	EnabledChannels           *int     `json:"enabled_channels"`
	RefEnabled                *bool    `json:"ref_enabled"`
	BiasoutEnabled            *bool    `json:"biasout_enabled"`
	BandpassEnabled           *bool    `json:"bandpass_filter_enabled"`
	BaselineCorrectionEnabled *bool    `json:"baseline_correction_enabled"`
	SmoothingEnabled          *bool    `json:"smoothing_enabled"`
	Lowcut                    *float64 `json:"lowcut"`
	Highcut                   *float64 `json:"highcut"`
	Order                     *int     `json:"order"`
}

// merged returns a copy of s with the update's non-nil fields applied
func (s Settings) merged(u SettingsUpdate) Settings {
	if u.EnabledChannels != nil {
		s.EnabledChannels = *u.EnabledChannels
	}
	if u.RefEnabled != nil {
		s.RefEnabled = *u.RefEnabled
	}
	if u.BiasoutEnabled != nil {
		s.BiasoutEnabled = *u.BiasoutEnabled
	}
	if u.BandpassEnabled != nil {
		s.BandpassEnabled = *u.BandpassEnabled
	}
	if u.BaselineCorrectionEnabled != nil {
		s.BaselineCorrectionEnabled = *u.BaselineCorrectionEnabled
	}
	if u.SmoothingEnabled != nil {
		s.SmoothingEnabled = *u.SmoothingEnabled
	}
	if u.Lowcut != nil {
		s.Lowcut = *u.Lowcut
	}
	if u.Highcut != nil {
		s.Highcut = *u.Highcut
	}
	if u.Order != nil {
		s.Order = *u.Order
	}
	return s
}

// validate enforces the settings invariants
func (s Settings) validate() error {
	if s.Lowcut >= s.Highcut {
		return fmt.Errorf("lowcut (%g) must be below highcut (%g)", s.Lowcut, s.Highcut)
	}
	if s.Order < 1 {
		return fmt.Errorf("order must be at least 1, got %d", s.Order)
	}
	if s.EnabledChannels < 1 || s.EnabledChannels > maxDataChannels {
		return fmt.Errorf("enabled_channels must be between 1 and %d, got %d", maxDataChannels, s.EnabledChannels)
	}
	return nil
}

// filterEqual reports whether two settings produce the same filter chain
func (s Settings) filterEqual(o Settings) bool {
	return s.Lowcut == o.Lowcut && s.Highcut == o.Highcut && s.Order == o.Order
}

// Channel describes one display channel
type Channel struct {
	Name    string `json:"name"`
	Color   string `json:"color"`
	Enabled bool   `json:"enabled"`
}

// Default display palette, by board channel index
var defaultChannelColors = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#fabebe", "#008080",
}

// ChannelSet returns all board channels in fixed order with their enabled
// flags under the given settings. Color overrides are looked up by name.
func (s Settings) ChannelSet(colors map[string]string) []Channel {
	names := boardChannelNames()
	set := make([]Channel, len(names))
	for i, name := range names {
		color := defaultChannelColors[i]
		if override, ok := colors[name]; ok {
			color = override
		}
		set[i] = Channel{Name: name, Color: color, Enabled: s.channelEnabled(i)}
	}
	return set
}

// channelEnabled reports whether the board channel at index i is published
func (s Settings) channelEnabled(i int) bool {
	switch i {
	case refChannelIndex:
		return s.RefEnabled
	case biasoutChannelIndex:
		return s.BiasoutEnabled
	default:
		return i-biasoutChannelIndex <= s.EnabledChannels
	}
}

// enabledIndexes returns the board channel indexes published under the
// settings, in fixed channel order.
func (s Settings) enabledIndexes() []int {
	var idx []int
	for i := 0; i < boardChannelCount; i++ {
		if s.channelEnabled(i) {
			idx = append(idx, i)
		}
	}
	return idx
}

// SamplePublisher receives the per-tick published sample and lifecycle
// events. Delivery is fire-and-forget; implementations must not block.
type SamplePublisher interface {
	PublishSample(raw []float64)
	PublishEvent(event string)
}

// Streamer owns the acquire-filter-publish loop and its lifecycle.
// All shared state (settings, calibration, export buffer, stream state) is
// owned here and synchronized through the state transitions; the board
// guard makes the single-producer invariant structural.
type Streamer struct {
	cfg       *Config
	guard     *BoardGuard
	newDriver func() (BoardDriver, error)

	publishers []SamplePublisher
	metrics    *Metrics
	store      *Store

	mu          sync.RWMutex
	state       StreamState
	stopCh      chan struct{}
	doneCh      chan struct{}
	sessionID   string
	settings    Settings
	calibration [boardChannelCount]float64

	export *ExportBuffer
}

// NewStreamer creates a streamer in the Idle state with the config defaults
func NewStreamer(cfg *Config, guard *BoardGuard, newDriver func() (BoardDriver, error)) *Streamer {
	return &Streamer{
		cfg:       cfg,
		guard:     guard,
		newDriver: newDriver,
		settings:  cfg.DefaultSettings(),
		export:    NewExportBuffer(),
	}
}

// AddPublisher registers a sample publisher
func (s *Streamer) AddPublisher(p SamplePublisher) {
	s.publishers = append(s.publishers, p)
}

// SetMetrics attaches Prometheus metrics (optional)
func (s *Streamer) SetMetrics(m *Metrics) {
	s.metrics = m
}

// SetStore attaches the persistence layer (optional)
func (s *Streamer) SetStore(st *Store) {
	s.store = st
}

// State returns the current stream state
func (s *Streamer) State() StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Settings returns a snapshot of the current settings
func (s *Streamer) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Calibration returns a copy of the current calibration vector
func (s *Streamer) Calibration() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]float64, boardChannelCount)
	copy(values, s.calibration[:])
	return values
}

// SetCalibration replaces the calibration vector. Used at startup to
// restore the last persisted vector.
func (s *Streamer) SetCalibration(values []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.calibration[:], values)
}

// Export returns the export buffer
func (s *Streamer) Export() *ExportBuffer {
	return s.export
}

// UpdateSettings merges the partial update into the current settings.
// Takes effect on the next loop iteration.
func (s *Streamer) UpdateSettings(u SettingsUpdate) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.settings.merged(u)
	if err := merged.validate(); err != nil {
		return s.settings, err
	}
	s.settings = merged
	if DebugMode {
		log.Printf("Pipeline: settings updated: %+v", merged)
	}
	return merged, nil
}

// Start transitions Idle -> Running and begins the acquisition loop.
// Idempotent no-op when already Running. Returns ErrBoardBusy when the
// board is held by another session.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return nil
	}

	if err := s.guard.TryAcquire("stream"); err != nil {
		return err
	}

	driver, err := s.newDriver()
	if err != nil {
		s.guard.Release()
		return fmt.Errorf("failed to create board driver: %w", err)
	}
	if err := driver.PrepareSession(); err != nil {
		s.guard.Release()
		return fmt.Errorf("failed to prepare board session: %w", err)
	}
	if err := driver.StartStream(); err != nil {
		if rerr := driver.ReleaseSession(); rerr != nil {
			log.Printf("Pipeline: release after failed start: %v", rerr)
		}
		s.guard.Release()
		return fmt.Errorf("failed to start board stream: %w", err)
	}

	// The guard was free, so any previous loop has fully torn down; the
	// archive can be reset without racing it.
	s.export.Reset()

	s.sessionID = uuid.NewString()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state = StateRunning

	if s.store != nil {
		if err := s.store.RecordSessionStart(s.sessionID, time.Now()); err != nil {
			log.Printf("Pipeline: failed to record session start: %v", err)
		}
	}
	if s.metrics != nil {
		s.metrics.StreamState.Set(1)
	}

	log.Printf("Pipeline: stream started (session %s)", s.sessionID)
	go s.run(driver, s.stopCh, s.doneCh, s.sessionID)
	return nil
}

// Stop transitions Running -> Idle, signals the loop to exit and waits
// briefly for it to release the board. No-op when already Idle.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	close(stopCh)

	// Cooperative cancellation: the loop observes the signal at the top of
	// each iteration, so allow about two iteration periods before giving up
	// the wait. The board guard stays held until the loop actually exits.
	wait := 2*s.pollInterval() + time.Second
	select {
	case <-doneCh:
	case <-time.After(wait):
		log.Printf("Pipeline: timed out waiting for acquisition loop to exit")
	}

	if s.metrics != nil {
		s.metrics.StreamState.Set(0)
	}
}

// Calibrate samples the board for the configured duration and stores the
// per-channel mean as the new calibration vector. Fails without touching
// the previous vector if the stream is running, the board is busy, or the
// adapter errors.
func (s *Streamer) Calibrate() ([]float64, error) {
	s.mu.RLock()
	running := s.state == StateRunning
	s.mu.RUnlock()
	if running {
		return nil, fmt.Errorf("%w: stop the stream before calibrating", ErrStreaming)
	}

	if err := s.guard.TryAcquire("calibration"); err != nil {
		return nil, err
	}
	defer s.guard.Release()

	driver, err := s.newDriver()
	if err != nil {
		return nil, fmt.Errorf("failed to create board driver: %w", err)
	}
	if err := driver.PrepareSession(); err != nil {
		return nil, fmt.Errorf("failed to prepare board session: %w", err)
	}
	defer func() {
		if err := driver.ReleaseSession(); err != nil {
			log.Printf("Calibration: release session: %v", err)
		}
	}()
	if err := driver.StartStream(); err != nil {
		return nil, fmt.Errorf("failed to start board stream: %w", err)
	}
	defer func() {
		if err := driver.StopStream(); err != nil {
			log.Printf("Calibration: stop stream: %v", err)
		}
	}()

	log.Printf("Calibration: sampling for %d ms", s.cfg.Board.CalibrationDurationMs)

	windowSize := s.cfg.Board.SampleRate
	collected := make([][]float64, boardChannelCount)
	deadline := time.Now().Add(time.Duration(s.cfg.Board.CalibrationDurationMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		window, err := driver.PollWindow(windowSize)
		if err != nil {
			log.Printf("Calibration: poll error: %v", err)
			continue
		}
		for ch := 0; ch < boardChannelCount && ch < len(window.Data); ch++ {
			collected[ch] = append(collected[ch], window.Data[ch]...)
		}
	}

	if len(collected[0]) == 0 {
		return nil, errors.New("calibration collected no samples")
	}

	values := make([]float64, boardChannelCount)
	for ch := range collected {
		values[ch] = stat.Mean(collected[ch], nil)
	}

	s.mu.Lock()
	copy(s.calibration[:], values)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveCalibration(values); err != nil {
			log.Printf("Calibration: failed to persist values: %v", err)
		}
	}
	if s.metrics != nil {
		s.metrics.CalibrationsTotal.Inc()
	}
	s.publishEvent("calibration_complete")

	log.Printf("Calibration: values %v", values)
	return values, nil
}

func (s *Streamer) pollInterval() time.Duration {
	return time.Duration(s.cfg.Board.PollIntervalMs) * time.Millisecond
}

// run is the acquisition loop body. Adapter errors mid-loop skip the
// iteration; the loop only exits when stopCh closes, after which it tears
// down the board session and releases the guard.
func (s *Streamer) run(driver BoardDriver, stopCh, doneCh chan struct{}, sessionID string) {
	defer close(doneCh)
	defer func() {
		if err := driver.StopStream(); err != nil {
			log.Printf("Pipeline: stop stream: %v", err)
		}
		if err := driver.ReleaseSession(); err != nil {
			log.Printf("Pipeline: release session: %v", err)
		}
		s.guard.Release()

		if s.store != nil {
			if err := s.store.RecordSessionStop(sessionID, time.Now(), s.export.Len()); err != nil {
				log.Printf("Pipeline: failed to record session stop: %v", err)
			}
		}
		s.publishEvent("analysis_stopped")
		log.Printf("Pipeline: stream stopped (session %s, %d rows archived)", sessionID, s.export.Len())
	}()

	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	windowSize := s.cfg.Board.SampleRate
	threshold := s.cfg.Board.RefNormalizeThreshold
	sampleRate := float64(s.cfg.Board.SampleRate)

	var chain *FilterChain
	var chainSettings Settings
	smoother := newSmoother(smoothingSpan)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		iterStart := time.Now()

		window, err := driver.PollWindow(windowSize)
		if err != nil {
			log.Printf("Pipeline: poll error, skipping iteration: %v", err)
			if s.metrics != nil {
				s.metrics.WindowsDropped.Inc()
			}
			continue
		}
		if len(window.Data) == 0 || len(window.Data[0]) == 0 {
			if DebugMode {
				log.Printf("Pipeline: empty window, skipping iteration")
			}
			continue
		}

		// Raw values are archived unmodified, before any filtering.
		s.export.AppendWindow(window)

		settings := s.Settings()
		calibration := s.Calibration()

		if chain == nil || !settings.filterEqual(chainSettings) {
			chain = NewFilterChain(sampleRate, settings)
			chainSettings = settings
		}

		raw := processWindow(window, settings, calibration, chain, threshold, smoother)
		for _, p := range s.publishers {
			p.PublishSample(raw)
		}

		if s.metrics != nil {
			s.metrics.SamplesProcessed.Add(float64(len(window.Data[0])))
			s.metrics.LoopDuration.Observe(time.Since(iterStart).Seconds())
		}
	}
}

func (s *Streamer) publishEvent(event string) {
	for _, p := range s.publishers {
		p.PublishEvent(event)
	}
}

// smoothingSpan is the number of published values averaged when smoothing
// is enabled.
const smoothingSpan = 4

// smoother keeps the trailing published values per channel for the optional
// moving-average smoothing. Owned by the loop goroutine.
type smoother struct {
	span    int
	history [][]float64
}

func newSmoother(span int) *smoother {
	return &smoother{span: span, history: make([][]float64, boardChannelCount)}
}

// smooth records the value for the channel and returns the trailing average
func (m *smoother) smooth(ch int, v float64) float64 {
	h := append(m.history[ch], v)
	if len(h) > m.span {
		h = h[len(h)-m.span:]
	}
	m.history[ch] = h
	return stat.Mean(h, nil)
}

// processWindow applies the configured processing to one window and returns
// the published sample: the most recent value per enabled channel, in fixed
// channel order. The window's raw values are never modified in place.
func processWindow(window SampleWindow, settings Settings, calibration []float64, chain *FilterChain, refThreshold float64, sm *smoother) []float64 {
	processed := make([][]float64, boardChannelCount)
	for ch := 0; ch < boardChannelCount && ch < len(window.Data); ch++ {
		data := append([]float64(nil), window.Data[ch]...)

		// Baseline correction runs on the unfiltered signal so a channel
		// sitting exactly at its calibration offset reads as zero whether or
		// not the band-pass is enabled.
		if settings.BaselineCorrectionEnabled {
			for i := range data {
				data[i] -= calibration[ch]
			}
		}

		if settings.BandpassEnabled {
			// Detrend, band-pass, then the two notch bands, in that order.
			data = chain.Apply(data)
		}

		processed[ch] = data
	}

	// Publish-time REF normalization; the archived values stay raw.
	ref := processed[refChannelIndex]
	if mean := stat.Mean(ref, nil); mean > refThreshold {
		std := stat.StdDev(ref, nil)
		if std > 0 {
			for i := range ref {
				ref[i] = (ref[i] - mean) / std
			}
		}
	}

	raw := make([]float64, 0, boardChannelCount)
	for _, ch := range settings.enabledIndexes() {
		v := processed[ch][len(processed[ch])-1]
		if settings.SmoothingEnabled {
			v = sm.smooth(ch, v)
		}
		raw = append(raw, v)
	}
	return raw
}
