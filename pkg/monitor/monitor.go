package monitor

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

const silenceDB = -100.0

// LevelData is one channel's most recent level measurement
type LevelData struct {
	Channel  int     `json:"channel"`
	RMS      float32 `json:"rms"`  // dBFS
	Peak     float32 `json:"peak"` // dBFS
	PeakHold float32 `json:"peak_hold"`
	Clipping bool    `json:"clipping"`
}

// SpectrumData is the magnitude spectrum of the first monitored channel
type SpectrumData struct {
	Timestamp  int64     `json:"timestamp"`
	SampleRate float64   `json:"sample_rate"`
	Spectrum   []float32 `json:"spectrum"` // dB
	FreqStep   float32   `json:"freq_step"`
}

// Snapshot combines levels and spectrum for the web UI
type Snapshot struct {
	Timestamp int64        `json:"timestamp"`
	Levels    []LevelData  `json:"levels"`
	Spectrum  SpectrumData `json:"spectrum"`
	Buffers   int64        `json:"buffers"`
	Skipped   int64        `json:"skipped"`
	ClipCount int64        `json:"clip_count"`
}

type channelLevel struct {
	rms, peak    float32
	peakHold     float32
	peakHoldTime time.Time
	clipping     bool
}

// LevelMonitor measures the audio passing through a stream. Feed runs on
// the render thread and only ever TryLocks; readers take the lock normally.
type LevelMonitor struct {
	mu sync.Mutex

	sampleRate float64
	fftSize    int
	window     []float64

	levels []channelLevel

	// history of channel 0 for the FFT, written circularly
	history []float32
	pos     int
	filled  bool

	buffers   int64
	clipCount int64
	skipped   atomic.Int64
}

// NewLevelMonitor creates a monitor; fftSize must be a power of two
func NewLevelMonitor(sampleRate float64, fftSize int) *LevelMonitor {
	return &LevelMonitor{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		window:     makeHannWindow(fftSize),
		history:    make([]float32, fftSize),
	}
}

func makeHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// Configure resets the monitor for a stream with the given channel count
// and rate. Call it from the control side before the stream starts.
func (m *LevelMonitor) Configure(channels int, sampleRate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levels = make([]channelLevel, channels)
	for i := range m.levels {
		m.levels[i] = channelLevel{rms: silenceDB, peak: silenceDB, peakHold: silenceDB}
	}
	m.sampleRate = sampleRate
	for i := range m.history {
		m.history[i] = 0
	}
	m.pos, m.filled = 0, false
}

// Feed measures one buffer of channel data. It drops the buffer rather than
// wait when a reader holds the lock, and does not allocate.
func (m *LevelMonitor) Feed(channels [][]float32) {
	if !m.mu.TryLock() {
		m.skipped.Add(1)
		return
	}
	defer m.mu.Unlock()

	m.buffers++
	for i, samples := range channels {
		if i >= len(m.levels) || len(samples) == 0 {
			break
		}
		m.measure(&m.levels[i], samples)
	}
	if len(channels) > 0 {
		m.record(channels[0])
	}
}

func (m *LevelMonitor) measure(l *channelLevel, samples []float32) {
	var sumSquares float64
	var peak float32
	clipping := false

	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
		if s >= 0.98 {
			clipping = true
			m.clipCount++
		}
		sumSquares += float64(s) * float64(s)
	}

	l.rms = toDB(math.Sqrt(sumSquares / float64(len(samples))))
	l.peak = toDB(float64(peak))
	now := time.Now()
	if l.peak > l.peakHold || now.Sub(l.peakHoldTime) > 2*time.Second {
		l.peakHold = l.peak
		l.peakHoldTime = now
	}
	l.clipping = clipping
}

func toDB(v float64) float32 {
	if v <= 0 {
		return silenceDB
	}
	return float32(20.0 * math.Log10(v))
}

func (m *LevelMonitor) record(samples []float32) {
	for _, s := range samples {
		m.history[m.pos] = s
		m.pos++
		if m.pos == len(m.history) {
			m.pos = 0
			m.filled = true
		}
	}
}

// Levels returns the current per-channel levels
func (m *LevelMonitor) Levels() []LevelData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levelsLocked()
}

func (m *LevelMonitor) levelsLocked() []LevelData {
	out := make([]LevelData, len(m.levels))
	for i, l := range m.levels {
		out[i] = LevelData{
			Channel:  i,
			RMS:      l.rms,
			Peak:     l.peak,
			PeakHold: l.peakHold,
			Clipping: l.clipping,
		}
	}
	return out
}

// Spectrum computes the windowed FFT of the most recent fftSize samples of
// channel 0. It returns an empty spectrum until that many have been seen.
func (m *LevelMonitor) Spectrum() SpectrumData {
	m.mu.Lock()
	if !m.filled {
		rate := m.sampleRate
		m.mu.Unlock()
		return SpectrumData{Timestamp: time.Now().UnixMilli(), SampleRate: rate}
	}
	input := make([]complex128, m.fftSize)
	for i := range input {
		s := m.history[(m.pos+i)%m.fftSize]
		input[i] = complex(float64(s)*m.window[i], 0)
	}
	rate := m.sampleRate
	m.mu.Unlock()

	result := fft.FFT(input)
	spectrum := make([]float32, m.fftSize/2)
	for i := range spectrum {
		spectrum[i] = toDB(math.Hypot(real(result[i]), imag(result[i])))
	}

	return SpectrumData{
		Timestamp:  time.Now().UnixMilli(),
		SampleRate: rate,
		Spectrum:   spectrum,
		FreqStep:   float32(rate / float64(m.fftSize)),
	}
}

// PeakFrequency returns the centre frequency of the loudest spectrum bin
func (s SpectrumData) PeakFrequency() float32 {
	best := 0
	for i, v := range s.Spectrum {
		if v > s.Spectrum[best] {
			best = i
		}
	}
	return float32(best) * s.FreqStep
}

// Snapshot returns levels, spectrum and counters together
func (m *LevelMonitor) Snapshot() Snapshot {
	spectrum := m.Spectrum()

	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Timestamp: time.Now().UnixMilli(),
		Levels:    m.levelsLocked(),
		Spectrum:  spectrum,
		Buffers:   m.buffers,
		Skipped:   m.skipped.Load(),
		ClipCount: m.clipCount,
	}
}
