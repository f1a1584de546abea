package main

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// BiQuadType represents the type of biquad filter
type BiQuadType int

const (
	BiQuadLowpass BiQuadType = iota
	BiQuadHighpass
	BiQuadBandpass
	BiQuadNotch
)

// The fixed mains-interference rejection bands applied after the band-pass:
// 48-52 Hz and 58-62 Hz, in that order.
const (
	notchLowCenter  = 50.0
	notchHighCenter = 60.0
	notchWidth      = 4.0
)

// BiQuadFilter implements a biquadratic IIR filter
type BiQuadFilter struct {
	a0, a1, a2 float64
	b0, b1, b2 float64
	x1, x2     float64
	y1, y2     float64
}

// NewBiQuadFilter creates a biquad filter configured for the given band
func NewBiQuadFilter(filterType BiQuadType, freq, sampleRate, q float64) *BiQuadFilter {
	f := &BiQuadFilter{}
	f.Configure(filterType, freq, sampleRate, q)
	return f
}

// Configure sets up the filter coefficients
func (f *BiQuadFilter) Configure(filterType BiQuadType, freq, sampleRate, q float64) {
	omega := 2.0 * math.Pi * freq / sampleRate
	sinOmega := math.Sin(omega)
	cosOmega := math.Cos(omega)
	alpha := sinOmega / (2.0 * q)

	switch filterType {
	case BiQuadLowpass:
		f.b0 = (1.0 - cosOmega) / 2.0
		f.b1 = 1.0 - cosOmega
		f.b2 = (1.0 - cosOmega) / 2.0
		f.a0 = 1.0 + alpha
		f.a1 = -2.0 * cosOmega
		f.a2 = 1.0 - alpha

	case BiQuadHighpass:
		f.b0 = (1.0 + cosOmega) / 2.0
		f.b1 = -(1.0 + cosOmega)
		f.b2 = (1.0 + cosOmega) / 2.0
		f.a0 = 1.0 + alpha
		f.a1 = -2.0 * cosOmega
		f.a2 = 1.0 - alpha

	case BiQuadBandpass:
		f.b0 = alpha
		f.b1 = 0.0
		f.b2 = -alpha
		f.a0 = 1.0 + alpha
		f.a1 = -2.0 * cosOmega
		f.a2 = 1.0 - alpha

	case BiQuadNotch:
		f.b0 = 1.0
		f.b1 = -2.0 * cosOmega
		f.b2 = 1.0
		f.a0 = 1.0 + alpha
		f.a1 = -2.0 * cosOmega
		f.a2 = 1.0 - alpha
	}

	// Normalize coefficients
	f.b0 /= f.a0
	f.b1 /= f.a0
	f.b2 /= f.a0
	f.a1 /= f.a0
	f.a2 /= f.a0
	f.a0 = 1.0
}

// Filter processes a single sample through the filter
func (f *BiQuadFilter) Filter(input float64) float64 {
	output := f.b0*input + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2

	// Shift delay line
	f.x2 = f.x1
	f.x1 = input
	f.y2 = f.y1
	f.y1 = output

	return output
}

// Reset clears the filter state
func (f *BiQuadFilter) Reset() {
	f.x1 = 0
	f.x2 = 0
	f.y1 = 0
	f.y2 = 0
}

// FilterChain is the per-channel processing applied when the band-pass is
// enabled: constant detrend, then the configured band-pass, then the two
// mains notches. Each stage runs zero-phase (forward-backward).
type FilterChain struct {
	bandpass  []*BiQuadFilter
	notchLow  []*BiQuadFilter
	notchHigh []*BiQuadFilter
}

// NewFilterChain builds a filter chain for the given sample rate and settings
func NewFilterChain(sampleRate float64, s Settings) *FilterChain {
	highcut := s.Highcut
	// Keep the band edge clear of Nyquist; the biquad design degenerates
	// above it.
	if limit := 0.45 * sampleRate; highcut > limit {
		highcut = limit
	}

	center := math.Sqrt(s.Lowcut * highcut)
	q := center / (highcut - s.Lowcut)

	chain := &FilterChain{}
	for i := 0; i < s.Order; i++ {
		chain.bandpass = append(chain.bandpass, NewBiQuadFilter(BiQuadBandpass, center, sampleRate, q))
		chain.notchLow = append(chain.notchLow, NewBiQuadFilter(BiQuadNotch, notchLowCenter, sampleRate, notchLowCenter/notchWidth))
		chain.notchHigh = append(chain.notchHigh, NewBiQuadFilter(BiQuadNotch, notchHighCenter, sampleRate, notchHighCenter/notchWidth))
	}
	return chain
}

// Apply runs the chain over one channel window and returns the filtered copy.
// The input slice is not modified.
func (c *FilterChain) Apply(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)

	detrendConstant(out)
	zeroPhase(c.bandpass, out)
	zeroPhase(c.notchLow, out)
	zeroPhase(c.notchHigh, out)

	return out
}

// detrendConstant removes the constant offset from the window in place
func detrendConstant(samples []float64) {
	if len(samples) == 0 {
		return
	}
	mean := stat.Mean(samples, nil)
	for i := range samples {
		samples[i] -= mean
	}
}

// zeroPhase runs the cascade forward then backward over the window so the
// net pass introduces no phase shift. Filter state is cleared around each
// pass; windows are processed independently.
func zeroPhase(sections []*BiQuadFilter, samples []float64) {
	runCascade(sections, samples)
	reverse(samples)
	runCascade(sections, samples)
	reverse(samples)
}

func runCascade(sections []*BiQuadFilter, samples []float64) {
	for _, section := range sections {
		section.Reset()
	}
	for i, v := range samples {
		for _, section := range sections {
			v = section.Filter(v)
		}
		samples[i] = v
	}
}

func reverse(samples []float64) {
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
}
