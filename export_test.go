package main

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func windowOf(rows int, value float64) SampleWindow {
	data := make([][]float64, boardChannelCount)
	for ch := range data {
		data[ch] = make([]float64, rows)
		for i := range data[ch] {
			data[ch][i] = value + float64(i)
		}
	}
	return SampleWindow{Timestamp: time.Now(), Data: data}
}

func TestExportBufferRowsClamp(t *testing.T) {
	buf := NewExportBuffer()
	buf.AppendWindow(windowOf(7, 1.0))
	require.Equal(t, 7, buf.Len())

	tests := []struct {
		request int
		want    int
	}{
		{0, 0},
		{-3, 0},
		{1, 1},
		{7, 7},
		{100, 7},
	}
	for _, tt := range tests {
		assert.Len(t, buf.Rows(tt.request), tt.want, "request %d", tt.request)
	}
}

func TestExportBufferRowsMostRecentFirstInOrder(t *testing.T) {
	buf := NewExportBuffer()
	buf.AppendWindow(windowOf(10, 0.0)) // values 0..9 per channel

	rows := buf.Rows(3)
	require.Len(t, rows, 3)
	// The 3 most recent rows, oldest first
	assert.Equal(t, 7.0, rows[0][0])
	assert.Equal(t, 8.0, rows[1][0])
	assert.Equal(t, 9.0, rows[2][0])
	require.Len(t, rows[0], boardChannelCount)
}

func TestExportBufferReset(t *testing.T) {
	buf := NewExportBuffer()
	buf.AppendWindow(windowOf(5, 1.0))
	require.Equal(t, 5, buf.Len())

	buf.Reset()
	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, buf.Rows(10))
}

func TestExportBufferTail(t *testing.T) {
	buf := NewExportBuffer()
	buf.AppendWindow(windowOf(10, 0.0))

	tail := buf.Tail(4)
	require.Len(t, tail, boardChannelCount)
	assert.Equal(t, []float64{6, 7, 8, 9}, tail[0])
}

func TestWriteCSVClampsAndWritesHeader(t *testing.T) {
	buf := NewExportBuffer()
	buf.AppendWindow(windowOf(3, 10.0))

	var out bytes.Buffer
	require.NoError(t, buf.WriteCSV(&out, 10))

	records, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)

	// Header plus exactly 3 data rows
	require.Len(t, records, 4)
	assert.Equal(t, boardChannelNames(), records[0])
	assert.Len(t, records[1], boardChannelCount)
	assert.Equal(t, "10", records[1][0])
}

func TestWriteCSVEmptyBuffer(t *testing.T) {
	buf := NewExportBuffer()

	var out bytes.Buffer
	require.NoError(t, buf.WriteCSV(&out, 5000))

	records, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1) // header only
}
