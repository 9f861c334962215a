package asio

import (
	"fmt"
	"math"
)

const (
	// PowerOfTwoGranularity marks drivers whose legal buffer sizes are the
	// powers of two between MinFrames and MaxFrames.
	PowerOfTwoGranularity = -1

	// FramesUnspecified asks for the driver's preferred buffer size.
	FramesUnspecified = 0
)

// BufferGeometry is the driver's legal buffer-size domain, in frames.
type BufferGeometry struct {
	MinFrames       int `json:"min_frames" yaml:"min_frames"`
	MaxFrames       int `json:"max_frames" yaml:"max_frames"`
	PreferredFrames int `json:"preferred_frames" yaml:"preferred_frames"`
	Granularity     int `json:"granularity" yaml:"granularity"`
}

// Validate checks the geometry invariants reported by a driver.
func (g BufferGeometry) Validate() error {
	if g.MinFrames <= 0 {
		return fmt.Errorf("%w: minimum %d frames", ErrInvalidBufferSize, g.MinFrames)
	}
	if g.MinFrames > g.PreferredFrames || g.PreferredFrames > g.MaxFrames {
		return fmt.Errorf("%w: preferred %d outside [%d, %d]",
			ErrInvalidBufferSize, g.PreferredFrames, g.MinFrames, g.MaxFrames)
	}
	if g.Granularity < PowerOfTwoGranularity {
		return fmt.Errorf("%w: granularity %d", ErrInvalidBufferSize, g.Granularity)
	}
	return nil
}

// IsLegal reports whether frames is a buffer size the driver accepts.
func (g BufferGeometry) IsLegal(frames int) bool {
	if frames < g.MinFrames || frames > g.MaxFrames {
		return false
	}
	switch {
	case g.Granularity == PowerOfTwoGranularity:
		return isPowerOfTwo(frames)
	case g.Granularity == 0:
		return frames == g.PreferredFrames
	default:
		return (frames-g.MinFrames)%g.Granularity == 0
	}
}

// Sizes lists every legal buffer size in ascending order, at most limit of
// them when limit is positive.
func (g BufferGeometry) Sizes(limit int) []int {
	if g.Validate() != nil {
		return nil
	}
	var sizes []int
	add := func(n int) bool {
		sizes = append(sizes, n)
		return limit <= 0 || len(sizes) < limit
	}
	switch {
	case g.Granularity == PowerOfTwoGranularity:
		for p := nextPowerOfTwo(g.MinFrames); p != 0 && p <= g.MaxFrames; p <<= 1 {
			if !add(p) || p > math.MaxInt/2 {
				break
			}
		}
	case g.Granularity == 0:
		add(g.PreferredFrames)
	default:
		for n := g.MinFrames; n <= g.MaxFrames; n += g.Granularity {
			if !add(n) || n > g.MaxFrames-g.Granularity {
				break
			}
		}
	}
	return sizes
}

func (g BufferGeometry) String() string {
	return fmt.Sprintf("min=%d max=%d preferred=%d granularity=%d",
		g.MinFrames, g.MaxFrames, g.PreferredFrames, g.Granularity)
}

// ResolveBufferSize maps a requested frame count onto the smallest legal
// buffer size that is not below the clamped request. It is a pure function
// of its arguments.
func ResolveBufferSize(g BufferGeometry, requested int) (int, error) {
	if err := g.Validate(); err != nil {
		return 0, err
	}
	if requested <= FramesUnspecified {
		return g.PreferredFrames, nil
	}

	frames := requested
	if frames < g.MinFrames {
		frames = g.MinFrames
	}
	if frames > g.MaxFrames {
		frames = g.MaxFrames
	}

	switch {
	case g.Granularity == PowerOfTwoGranularity:
		p := nextPowerOfTwo(frames)
		if p == 0 || p > g.MaxFrames {
			return 0, fmt.Errorf("%w: no power of two in [%d, %d] for %d frames",
				ErrInvalidBufferSize, g.MinFrames, g.MaxFrames, requested)
		}
		return p, nil

	case g.Granularity == 0:
		// single fixed size
		return g.PreferredFrames, nil

	default:
		d := frames - g.MinFrames
		steps := d / g.Granularity
		if d%g.Granularity != 0 {
			steps++
		}
		if steps > (g.MaxFrames-g.MinFrames)/g.Granularity {
			return 0, fmt.Errorf("%w: %d frames rounds above maximum %d in steps of %d",
				ErrInvalidBufferSize, requested, g.MaxFrames, g.Granularity)
		}
		return g.MinFrames + steps*g.Granularity, nil
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// nextPowerOfTwo returns the smallest power of two >= n, or 0 when that
// does not fit in an int.
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		if p > math.MaxInt/2 {
			return 0
		}
		p <<= 1
	}
	return p
}
