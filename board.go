package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Board channel layout. The acquisition board exposes a reference electrode,
// a bias output and eight data electrodes, in that fixed order. All board
// windows, calibration vectors and export columns use this ordering.
const (
	maxDataChannels     = 8
	boardChannelCount   = maxDataChannels + 2
	refChannelIndex     = 0
	biasoutChannelIndex = 1
)

// ErrBoardBusy indicates the board is already held by another acquisition
// session (streaming or calibration). Surfaced to HTTP callers as 409.
var ErrBoardBusy = errors.New("board is in use by another session")

// boardChannelNames returns the names of all board channels in fixed order
func boardChannelNames() []string {
	names := make([]string, 0, boardChannelCount)
	names = append(names, "REF", "BIASOUT")
	for i := 1; i <= maxDataChannels; i++ {
		names = append(names, fmt.Sprintf("Ch%d", i))
	}
	return names
}

// SampleWindow is one timestamped window of per-channel readings.
// Data is indexed [channel][sample] with boardChannelCount channels.
type SampleWindow struct {
	Timestamp time.Time
	Data      [][]float64
}

// BoardDriver abstracts the acquisition library session lifecycle.
// PollWindow returns up to size samples per channel; implementations may
// return fewer while the hardware ring buffer is filling.
type BoardDriver interface {
	PrepareSession() error
	StartStream() error
	PollWindow(size int) (SampleWindow, error)
	StopStream() error
	ReleaseSession() error
}

// NewBoardDriver creates the driver named in the configuration
func NewBoardDriver(cfg *BoardConfig) (BoardDriver, error) {
	switch cfg.Driver {
	case "sim":
		return NewSimBoard(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unknown board driver: %q", cfg.Driver)
	}
}

// BoardGuard enforces that at most one acquisition session holds the board.
// It replaces ad hoc "is the device free" probing with a scoped
// acquire/release so conflict detection and cleanup are structural.
type BoardGuard struct {
	mu     sync.Mutex
	held   bool
	holder string
}

// TryAcquire claims the board for the named holder. Returns ErrBoardBusy
// if another holder has it.
func (g *BoardGuard) TryAcquire(holder string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return fmt.Errorf("%w (held by %s)", ErrBoardBusy, g.holder)
	}
	g.held = true
	g.holder = holder
	return nil
}

// Release frees the board. Safe to call when not held.
func (g *BoardGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false
	g.holder = ""
}

// Holder returns the current holder name, or "" when free
func (g *BoardGuard) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return ""
	}
	return g.holder
}

// SimBoard synthesizes EEG-shaped windows: a 10 Hz tone plus noise on the
// data channels, a DC offset on REF. Used when no hardware is attached.
type SimBoard struct {
	sampleRate int
	offsets    [boardChannelCount]float64
	phase      float64
	rng        *rand.Rand

	mu       sync.Mutex
	prepared bool
	running  bool
}

// NewSimBoard creates a simulated board driver
func NewSimBoard(sampleRate int) *SimBoard {
	b := &SimBoard{
		sampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	// REF sits well above the normalization threshold so the publish-time
	// normalization path is exercised out of the box.
	b.offsets[refChannelIndex] = 4200.0
	b.offsets[biasoutChannelIndex] = 12.0
	for i := biasoutChannelIndex + 1; i < boardChannelCount; i++ {
		b.offsets[i] = float64(i) * 5.0
	}
	return b
}

func (b *SimBoard) PrepareSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prepared {
		return errors.New("sim board: session already prepared")
	}
	b.prepared = true
	return nil
}

func (b *SimBoard) StartStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.prepared {
		return errors.New("sim board: session not prepared")
	}
	b.running = true
	return nil
}

func (b *SimBoard) PollWindow(size int) (SampleWindow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return SampleWindow{}, errors.New("sim board: stream not started")
	}

	data := make([][]float64, boardChannelCount)
	for ch := range data {
		data[ch] = make([]float64, size)
	}

	dt := 1.0 / float64(b.sampleRate)
	for i := 0; i < size; i++ {
		t := b.phase + float64(i)*dt
		tone := 20.0 * math.Sin(2.0*math.Pi*10.0*t)
		for ch := 0; ch < boardChannelCount; ch++ {
			noise := b.rng.NormFloat64() * 2.0
			data[ch][i] = b.offsets[ch] + tone + noise
		}
	}
	b.phase += float64(size) * dt

	return SampleWindow{Timestamp: time.Now(), Data: data}, nil
}

func (b *SimBoard) StopStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	return nil
}

func (b *SimBoard) ReleaseSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.prepared = false
	return nil
}
