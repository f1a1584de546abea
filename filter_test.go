package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, sampleRate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2.0 * math.Pi * freq * float64(i) / sampleRate)
	}
	return out
}

func rms(samples []float64) float64 {
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func defaultTestSettings() Settings {
	return Settings{
		EnabledChannels: 8,
		Lowcut:          3.0,
		Highcut:         45.0,
		Order:           2,
	}
}

func TestDetrendConstant(t *testing.T) {
	samples := []float64{5.0, 5.0, 5.0, 5.0}
	detrendConstant(samples)
	for _, v := range samples {
		assert.InDelta(t, 0.0, v, 1e-12)
	}

	// Offset removal preserves shape
	samples = []float64{11.0, 9.0, 11.0, 9.0}
	detrendConstant(samples)
	assert.InDelta(t, 1.0, samples[0], 1e-12)
	assert.InDelta(t, -1.0, samples[1], 1e-12)
}

func TestFilterChainRemovesConstantOffset(t *testing.T) {
	chain := NewFilterChain(250.0, defaultTestSettings())

	samples := make([]float64, 500)
	for i := range samples {
		samples[i] = 4321.0
	}

	out := chain.Apply(samples)
	require.Len(t, out, len(samples))
	for _, v := range out {
		assert.InDelta(t, 0.0, v, 1e-6)
	}

	// Input untouched
	assert.Equal(t, 4321.0, samples[0])
}

func TestFilterChainRejectsMainsInterference(t *testing.T) {
	sampleRate := 250.0
	for _, freq := range []float64{50.0, 60.0} {
		in := sine(freq, sampleRate, 1000)
		out := NewFilterChain(sampleRate, defaultTestSettings()).Apply(in)

		// Ignore the window edges; the notch transient settles quickly with
		// the zero-phase double pass.
		core := out[100:900]
		assert.Lessf(t, rms(core), 0.1*rms(in), "mains tone at %.0f Hz not rejected", freq)
	}
}

func TestFilterChainPassesInBandSignal(t *testing.T) {
	sampleRate := 250.0
	in := sine(10.0, sampleRate, 1000)
	out := NewFilterChain(sampleRate, defaultTestSettings()).Apply(in)

	core := out[100:900]
	assert.Greater(t, rms(core), 0.5*rms(in))
}

func TestFilterChainClampsHighcutBelowNyquist(t *testing.T) {
	settings := defaultTestSettings()
	settings.Highcut = 500.0 // Above Nyquist for a 250 Hz rate

	chain := NewFilterChain(250.0, settings)
	out := chain.Apply(sine(10.0, 250.0, 500))
	for _, v := range out {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
}

func TestBiQuadLowpassPassesDC(t *testing.T) {
	f := NewBiQuadFilter(BiQuadLowpass, 10.0, 250.0, 0.707)

	var out float64
	for i := 0; i < 500; i++ {
		out = f.Filter(1.0)
	}
	assert.InDelta(t, 1.0, out, 1e-3)
}

func TestBiQuadReset(t *testing.T) {
	f := NewBiQuadFilter(BiQuadHighpass, 1.0, 250.0, 0.707)
	first := f.Filter(1.0)

	f.Filter(0.5)
	f.Reset()
	assert.Equal(t, first, f.Filter(1.0))
}
