package main

import (
	"fmt"
	"sync"
)

// chartWindowSize caps how many points each series retains; once full, the
// oldest point falls off as each new one arrives.
const chartWindowSize = 100

// ViewState tracks what the visualizer is doing. Calibrating is only
// reachable from Stopped, and always returns to Stopped.
type ViewState int

const (
	ViewStopped ViewState = iota
	ViewRunning
	ViewCalibrating
)

func (s ViewState) String() string {
	switch s {
	case ViewRunning:
		return "running"
	case ViewCalibrating:
		return "calibrating"
	default:
		return "stopped"
	}
}

// Series is one plotted channel: a rolling window of recent values plus a
// visibility flag. Hiding a series stops drawing it but keeps its data, so
// re-showing it restores the curve without a gap.
type Series struct {
	Name    string
	Color   string
	Visible bool
	points  []float64
}

// Points returns a copy of the current window, oldest first
func (s *Series) Points() []float64 {
	out := make([]float64, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Series) push(v float64) {
	if len(s.points) >= chartWindowSize {
		copy(s.points, s.points[1:])
		s.points[len(s.points)-1] = v
		return
	}
	s.points = append(s.points, v)
}

// ChartModel holds the plotted series and the visualizer state machine.
// The series set is rebuilt only when the channel configuration changes;
// samples and visibility toggles mutate the existing series in place.
type ChartModel struct {
	mu     sync.RWMutex
	state  ViewState
	series []*Series
}

// NewChartModel creates an empty chart in the Stopped state
func NewChartModel() *ChartModel {
	return &ChartModel{}
}

// State returns the current visualizer state
func (m *ChartModel) State() ViewState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetRunning moves Stopped -> Running or Running -> Stopped. Calibrating
// never transitions to Running directly.
func (m *ChartModel) SetRunning(running bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running {
		if m.state == ViewCalibrating {
			return fmt.Errorf("cannot start while calibrating")
		}
		m.state = ViewRunning
		return nil
	}
	if m.state == ViewRunning {
		m.state = ViewStopped
	}
	return nil
}

// BeginCalibration moves Stopped -> Calibrating
func (m *ChartModel) BeginCalibration() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ViewStopped {
		return fmt.Errorf("calibration requires a stopped stream (currently %s)", m.state)
	}
	m.state = ViewCalibrating
	return nil
}

// EndCalibration returns to Stopped regardless of outcome
func (m *ChartModel) EndCalibration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == ViewCalibrating {
		m.state = ViewStopped
	}
}

// Rebuild replaces the series set to match a new channel configuration.
// All accumulated points are discarded; every new series starts visible.
func (m *ChartModel) Rebuild(channels []Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series = make([]*Series, len(channels))
	for i, ch := range channels {
		m.series[i] = &Series{Name: ch.Name, Color: ch.Color, Visible: true}
	}
}

// SeriesCount returns how many series the chart currently plots
func (m *ChartModel) SeriesCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.series)
}

// SeriesNames returns the plotted series names in order
func (m *ChartModel) SeriesNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.series))
	for i, s := range m.series {
		names[i] = s.Name
	}
	return names
}

// Append pushes one sample vector onto the chart. The vector must carry one
// value per series; mismatched updates are dropped (this happens briefly
// when a settings change races an in-flight sample).
func (m *ChartModel) Append(values []float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(values) != len(m.series) {
		return false
	}
	for i, v := range values {
		m.series[i].push(v)
	}
	return true
}

// SetVisible toggles drawing for the named series without touching its data
func (m *ChartModel) SetVisible(name string, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.series {
		if s.Name == name {
			s.Visible = visible
			return nil
		}
	}
	return fmt.Errorf("unknown series %q", name)
}

// Snapshot returns copies of the visible series for rendering
func (m *ChartModel) Snapshot() []Series {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Series, 0, len(m.series))
	for _, s := range m.series {
		if !s.Visible {
			continue
		}
		out = append(out, Series{
			Name:    s.Name,
			Color:   s.Color,
			Visible: true,
			points:  s.Points(),
		})
	}
	return out
}
