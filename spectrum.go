package main

import (
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// BandPowers holds the power in each clinical EEG band
type BandPowers struct {
	Delta float64 `json:"delta"` // 0.5-4 Hz
	Theta float64 `json:"theta"` // 4-8 Hz
	Alpha float64 `json:"alpha"` // 8-13 Hz
	Beta  float64 `json:"beta"`  // 13-30 Hz
	Gamma float64 `json:"gamma"` // 30-45 Hz
}

// ChannelSpectrum is the band-power snapshot for one channel
type ChannelSpectrum struct {
	Name  string     `json:"name"`
	Bands BandPowers `json:"bands"`
}

// SpectrumMessage is the wire format for the band-power stream
type SpectrumMessage struct {
	Event    string            `json:"event"`
	Channels []ChannelSpectrum `json:"channels"`
}

const eventSpectrum = "spectrum"

// ChannelBandPowers computes band powers for one channel window. The
// window is detrended before the FFT so the DC offset does not leak into
// the delta band.
func ChannelBandPowers(samples []float64, sampleRate float64) BandPowers {
	var bands BandPowers
	if len(samples) < 2 {
		return bands
	}

	detrended := append([]float64(nil), samples...)
	detrendConstant(detrended)

	fft := fourier.NewFFT(len(detrended))
	coeffs := fft.Coefficients(nil, detrended)

	for i, c := range coeffs {
		freq := fft.Freq(i) * sampleRate
		power := cmplx.Abs(complex128(c))
		power *= power

		switch {
		case freq >= 0.5 && freq < 4:
			bands.Delta += power
		case freq >= 4 && freq < 8:
			bands.Theta += power
		case freq >= 8 && freq < 13:
			bands.Alpha += power
		case freq >= 13 && freq < 30:
			bands.Beta += power
		case freq >= 30 && freq < 45:
			bands.Gamma += power
		}
	}
	return bands
}

// SpectrumBroadcaster periodically computes per-channel band powers from
// the most recent archived samples and pushes them to its hub. Runs only
// while the stream is running and someone is listening.
type SpectrumBroadcaster struct {
	cfg      *Config
	streamer *Streamer
	hub      *Hub
}

// NewSpectrumBroadcaster creates a broadcaster for the given hub
func NewSpectrumBroadcaster(cfg *Config, streamer *Streamer, hub *Hub) *SpectrumBroadcaster {
	return &SpectrumBroadcaster{cfg: cfg, streamer: streamer, hub: hub}
}

// Run pushes snapshots until stopCh closes
func (b *SpectrumBroadcaster) Run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(b.cfg.Spectrum.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		if b.streamer.State() != StateRunning || b.hub.SubscriberCount() == 0 {
			continue
		}

		msg := b.snapshot()
		if len(msg.Channels) > 0 {
			b.hub.BroadcastJSON(msg)
		}
	}
}

func (b *SpectrumBroadcaster) snapshot() SpectrumMessage {
	settings := b.streamer.Settings()
	names := boardChannelNames()
	tail := b.streamer.Export().Tail(b.cfg.Spectrum.WindowSize)
	sampleRate := float64(b.cfg.Board.SampleRate)

	msg := SpectrumMessage{Event: eventSpectrum}
	for _, ch := range settings.enabledIndexes() {
		if len(tail[ch]) < 2 {
			continue
		}
		msg.Channels = append(msg.Channels, ChannelSpectrum{
			Name:  names[ch],
			Bands: ChannelBandPowers(tail[ch], sampleRate),
		})
	}
	return msg
}
