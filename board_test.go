package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoardGuardExclusive(t *testing.T) {
	guard := &BoardGuard{}

	require.NoError(t, guard.TryAcquire("stream"))
	assert.Equal(t, "stream", guard.Holder())

	err := guard.TryAcquire("calibration")
	require.ErrorIs(t, err, ErrBoardBusy)

	guard.Release()
	assert.Equal(t, "", guard.Holder())
	assert.NoError(t, guard.TryAcquire("calibration"))
}

func TestBoardGuardReleaseWhenFree(t *testing.T) {
	guard := &BoardGuard{}
	guard.Release() // no-op
	assert.NoError(t, guard.TryAcquire("stream"))
}

func TestSimBoardLifecycle(t *testing.T) {
	board := NewSimBoard(250)

	// Polling before the stream starts is an error
	_, err := board.PollWindow(10)
	assert.Error(t, err)

	require.NoError(t, board.PrepareSession())
	assert.Error(t, board.PrepareSession()) // double prepare

	require.NoError(t, board.StartStream())

	window, err := board.PollWindow(25)
	require.NoError(t, err)
	require.Len(t, window.Data, boardChannelCount)
	for _, ch := range window.Data {
		assert.Len(t, ch, 25)
	}
	assert.False(t, window.Timestamp.IsZero())

	require.NoError(t, board.StopStream())
	require.NoError(t, board.ReleaseSession())

	// A released session can be prepared again
	assert.NoError(t, board.PrepareSession())
}

func TestNewBoardDriver(t *testing.T) {
	driver, err := NewBoardDriver(&BoardConfig{Driver: "sim", SampleRate: 250})
	require.NoError(t, err)
	assert.IsType(t, &SimBoard{}, driver)

	_, err = NewBoardDriver(&BoardConfig{Driver: "spi-direct"})
	assert.Error(t, err)
}

func TestBoardChannelNames(t *testing.T) {
	names := boardChannelNames()
	require.Len(t, names, boardChannelCount)
	assert.Equal(t, "REF", names[refChannelIndex])
	assert.Equal(t, "BIASOUT", names[biasoutChannelIndex])
	assert.Equal(t, "Ch1", names[biasoutChannelIndex+1])
	assert.Equal(t, "Ch8", names[boardChannelCount-1])
}
