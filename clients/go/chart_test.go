package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChannels(n int) []Channel {
	channels := make([]Channel, n)
	for i := range channels {
		channels[i] = Channel{Name: string(rune('A' + i)), Color: "#000000"}
	}
	return channels
}

func TestChartWindowEvictsOldest(t *testing.T) {
	chart := NewChartModel()
	chart.Rebuild(testChannels(1))

	for i := 0; i < chartWindowSize+20; i++ {
		require.True(t, chart.Append([]float64{float64(i)}))
	}

	snapshot := chart.Snapshot()
	require.Len(t, snapshot, 1)
	points := snapshot[0].Points()
	require.Len(t, points, chartWindowSize)
	assert.Equal(t, 20.0, points[0])
	assert.Equal(t, float64(chartWindowSize+19), points[len(points)-1])
}

func TestChartRejectsMismatchedSample(t *testing.T) {
	chart := NewChartModel()
	chart.Rebuild(testChannels(3))

	assert.False(t, chart.Append([]float64{1.0, 2.0}))
	assert.True(t, chart.Append([]float64{1.0, 2.0, 3.0}))
}

func TestChartVisibilityKeepsData(t *testing.T) {
	chart := NewChartModel()
	chart.Rebuild(testChannels(2))
	chart.Append([]float64{1.0, 2.0})
	chart.Append([]float64{3.0, 4.0})

	require.NoError(t, chart.SetVisible("A", false))
	snapshot := chart.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "B", snapshot[0].Name)

	// Re-showing the series restores its accumulated points
	require.NoError(t, chart.SetVisible("A", true))
	snapshot = chart.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, []float64{1.0, 3.0}, snapshot[0].Points())

	assert.Error(t, chart.SetVisible("Z", false))
}

func TestChartRebuildReplacesSeries(t *testing.T) {
	chart := NewChartModel()
	chart.Rebuild(testChannels(4))
	chart.Append([]float64{1.0, 2.0, 3.0, 4.0})

	chart.Rebuild(testChannels(2))
	assert.Equal(t, 2, chart.SeriesCount())
	for _, s := range chart.Snapshot() {
		assert.Empty(t, s.Points())
	}
}

func TestViewStateMachine(t *testing.T) {
	chart := NewChartModel()
	assert.Equal(t, ViewStopped, chart.State())

	require.NoError(t, chart.SetRunning(true))
	assert.Equal(t, ViewRunning, chart.State())

	// Calibration is only reachable from Stopped
	assert.Error(t, chart.BeginCalibration())

	require.NoError(t, chart.SetRunning(false))
	require.NoError(t, chart.BeginCalibration())
	assert.Equal(t, ViewCalibrating, chart.State())

	// No direct Calibrating -> Running transition
	assert.Error(t, chart.SetRunning(true))

	chart.EndCalibration()
	assert.Equal(t, ViewStopped, chart.State())
	require.NoError(t, chart.SetRunning(true))
}
