package main

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
)

// ExportBuffer archives raw per-channel values collected since the last
// stream start. Values are stored exactly as read from the board; filtering
// and publish-time normalization never touch it. Unbounded until Reset.
type ExportBuffer struct {
	mu       sync.RWMutex
	channels [][]float64
}

// NewExportBuffer creates an empty export buffer
func NewExportBuffer() *ExportBuffer {
	b := &ExportBuffer{}
	b.channels = make([][]float64, boardChannelCount)
	return b
}

// Reset discards all archived values
func (b *ExportBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.channels {
		b.channels[ch] = nil
	}
}

// AppendWindow archives one raw sample window
func (b *ExportBuffer) AppendWindow(w SampleWindow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.channels {
		if ch < len(w.Data) {
			b.channels[ch] = append(b.channels[ch], w.Data[ch]...)
		}
	}
}

// Len returns the number of archived rows
func (b *ExportBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[0])
}

// Rows returns up to n most recent rows, oldest first, indexed
// [row][channel]. n is clamped to the available length; n <= 0 yields no
// rows. The returned rows are copies.
func (b *ExportBuffer) Rows(n int) [][]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	available := len(b.channels[0])
	if n > available {
		n = available
	}
	if n <= 0 {
		return nil
	}

	start := available - n
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, boardChannelCount)
		for ch := range b.channels {
			row[ch] = b.channels[ch][start+i]
		}
		rows[i] = row
	}
	return rows
}

// Tail returns copies of the last n values per channel, indexed
// [channel][sample]. Used by the spectrum snapshot.
func (b *ExportBuffer) Tail(n int) [][]float64 {
	rows := b.Rows(n)
	out := make([][]float64, boardChannelCount)
	for ch := range out {
		out[ch] = make([]float64, len(rows))
		for i, row := range rows {
			out[ch][i] = row[ch]
		}
	}
	return out
}

// WriteCSV writes a header row naming the channels followed by up to n data
// rows, one column per board channel.
func (b *ExportBuffer) WriteCSV(w io.Writer, n int) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(boardChannelNames()); err != nil {
		return err
	}

	for _, row := range b.Rows(n) {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
