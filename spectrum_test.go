package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelBandPowersAlphaTone(t *testing.T) {
	// A 10 Hz tone lands squarely in the alpha band
	samples := sine(10.0, 250.0, 500)
	bands := ChannelBandPowers(samples, 250.0)

	assert.Greater(t, bands.Alpha, bands.Delta)
	assert.Greater(t, bands.Alpha, bands.Theta)
	assert.Greater(t, bands.Alpha, bands.Beta)
	assert.Greater(t, bands.Alpha, bands.Gamma)
}

func TestChannelBandPowersIgnoresDCOffset(t *testing.T) {
	samples := sine(10.0, 250.0, 500)
	offset := append([]float64(nil), samples...)
	for i := range offset {
		offset[i] += 1e4
	}

	plain := ChannelBandPowers(samples, 250.0)
	shifted := ChannelBandPowers(offset, 250.0)

	// The detrend keeps the offset out of the delta band
	assert.InDelta(t, plain.Delta, shifted.Delta, 1e-6*(1+plain.Delta))
	assert.InDelta(t, plain.Alpha, shifted.Alpha, 1e-3*plain.Alpha)
}

func TestChannelBandPowersShortWindow(t *testing.T) {
	assert.Zero(t, ChannelBandPowers(nil, 250.0))
	assert.Zero(t, ChannelBandPowers([]float64{1.0}, 250.0))
}

func TestSpectrumSnapshotChannels(t *testing.T) {
	cfg := newTestConfig()
	cfg.Spectrum.WindowSize = 16

	driver := &fakeDriver{}
	s, pub := newTestStreamer(cfg, driver)
	defer s.Stop()

	hub := NewHub("spectrum")
	b := NewSpectrumBroadcaster(cfg, s, hub)

	// Nothing archived yet: no channels in the snapshot
	assert.Empty(t, b.snapshot().Channels)

	require.NoError(t, s.Start())
	pub.waitSample(t)
	pub.waitSample(t)

	msg := b.snapshot()
	assert.Equal(t, eventSpectrum, msg.Event)
	// Default settings publish the 8 data channels
	require.Len(t, msg.Channels, 8)
	assert.Equal(t, "Ch1", msg.Channels[0].Name)
}
