package asio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBufferSize(t *testing.T) {
	pow2 := BufferGeometry{MinFrames: 64, MaxFrames: 2048, PreferredFrames: 256, Granularity: PowerOfTwoGranularity}
	step := BufferGeometry{MinFrames: 64, MaxFrames: 1024, PreferredFrames: 512, Granularity: 64}
	fixed := BufferGeometry{MinFrames: 64, MaxFrames: 1024, PreferredFrames: 512, Granularity: 0}
	odd := BufferGeometry{MinFrames: 100, MaxFrames: 1000, PreferredFrames: 400, Granularity: 300}
	step64 := BufferGeometry{MinFrames: 64, MaxFrames: 2048, PreferredFrames: 512, Granularity: 64}
	wide := BufferGeometry{MinFrames: 32, MaxFrames: 4096, PreferredFrames: 256, Granularity: PowerOfTwoGranularity}

	tests := []struct {
		name      string
		geometry  BufferGeometry
		requested int
		want      int
	}{
		{"unspecified uses preferred", pow2, FramesUnspecified, 256},
		{"negative uses preferred", pow2, -5, 256},
		{"pow2 rounds up", pow2, 100, 128},
		{"pow2 exact", pow2, 512, 512},
		{"pow2 below min clamps", pow2, 10, 64},
		{"pow2 above max clamps", pow2, 100000, 2048},
		{"step rounds up", step, 500, 512},
		{"step exact", step, 128, 128},
		{"step below min", step, 1, 64},
		{"step above max", step, 5000, 1024},
		{"fixed always preferred", fixed, 100, 512},
		{"fixed above max", fixed, 4096, 512},
		{"odd step", odd, 101, 400},
		{"step of 64 rounds 100 up", step64, 100, 128},
		{"pow2 rounds 500 up", wide, 500, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveBufferSize(tt.geometry, tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, tt.geometry.IsLegal(got), "%d not legal for %s", got, tt.geometry)
		})
	}
}

func TestResolveBufferSizeNoLegalSize(t *testing.T) {
	// max is not reachable from min in whole steps
	g := BufferGeometry{MinFrames: 100, MaxFrames: 900, PreferredFrames: 400, Granularity: 300}
	_, err := ResolveBufferSize(g, 800)
	assert.ErrorIs(t, err, ErrInvalidBufferSize)

	// no power of two between 96 and 120
	g = BufferGeometry{MinFrames: 96, MaxFrames: 120, PreferredFrames: 100, Granularity: PowerOfTwoGranularity}
	_, err = ResolveBufferSize(g, 100)
	assert.ErrorIs(t, err, ErrInvalidBufferSize)
}

func TestResolveBufferSizeRejectsBadGeometry(t *testing.T) {
	bad := []BufferGeometry{
		{MinFrames: 0, MaxFrames: 1024, PreferredFrames: 256, Granularity: -1},
		{MinFrames: 512, MaxFrames: 256, PreferredFrames: 256, Granularity: -1},
		{MinFrames: 64, MaxFrames: 1024, PreferredFrames: 2048, Granularity: -1},
		{MinFrames: 64, MaxFrames: 1024, PreferredFrames: 256, Granularity: -2},
	}
	for _, g := range bad {
		_, err := ResolveBufferSize(g, 128)
		assert.ErrorIs(t, err, ErrInvalidBufferSize, g.String())
	}
}

func TestResolveBufferSizeProperties(t *testing.T) {
	geometries := []BufferGeometry{
		{MinFrames: 64, MaxFrames: 2048, PreferredFrames: 256, Granularity: PowerOfTwoGranularity},
		{MinFrames: 32, MaxFrames: 1024, PreferredFrames: 96, Granularity: 32},
		{MinFrames: 48, MaxFrames: 960, PreferredFrames: 480, Granularity: 48},
		{MinFrames: 128, MaxFrames: 128, PreferredFrames: 128, Granularity: 0},
		{MinFrames: 1, MaxFrames: 4096, PreferredFrames: 1024, Granularity: 1},
	}

	for _, g := range geometries {
		for requested := 1; requested <= 5000; requested += 7 {
			got, err := ResolveBufferSize(g, requested)
			require.NoError(t, err, "%s requested %d", g, requested)

			assert.GreaterOrEqual(t, got, g.MinFrames)
			assert.LessOrEqual(t, got, g.MaxFrames)
			assert.True(t, g.IsLegal(got), "%s requested %d got %d", g, requested, got)

			// idempotent on its own output
			again, err := ResolveBufferSize(g, got)
			require.NoError(t, err)
			assert.Equal(t, got, again)

			// not below the clamped request, unless the driver only has one size
			if g.Granularity != 0 {
				clamped := requested
				if clamped < g.MinFrames {
					clamped = g.MinFrames
				}
				if clamped > g.MaxFrames {
					clamped = g.MaxFrames
				}
				assert.GreaterOrEqual(t, got, clamped)

				// smallest legal size at or above the clamped request
				for n := clamped; n < got; n++ {
					if g.IsLegal(n) {
						t.Fatalf("%s requested %d: got %d but %d is legal", g, requested, got, n)
					}
				}
			}
		}
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, nextPowerOfTwo(0))
	assert.Equal(t, 1, nextPowerOfTwo(1))
	assert.Equal(t, 128, nextPowerOfTwo(65))
	assert.Equal(t, 128, nextPowerOfTwo(128))
	assert.False(t, isPowerOfTwo(0))
	assert.True(t, isPowerOfTwo(1024))
}

func TestBufferGeometrySizes(t *testing.T) {
	pow2 := BufferGeometry{MinFrames: 48, MaxFrames: 512, PreferredFrames: 256, Granularity: PowerOfTwoGranularity}
	assert.Equal(t, []int{64, 128, 256, 512}, pow2.Sizes(0))
	assert.Equal(t, []int{64, 128}, pow2.Sizes(2))

	step := BufferGeometry{MinFrames: 100, MaxFrames: 400, PreferredFrames: 200, Granularity: 100}
	assert.Equal(t, []int{100, 200, 300, 400}, step.Sizes(0))

	fixed := BufferGeometry{MinFrames: 64, MaxFrames: 1024, PreferredFrames: 256, Granularity: 0}
	assert.Equal(t, []int{256}, fixed.Sizes(0))

	for _, n := range step.Sizes(0) {
		assert.True(t, step.IsLegal(n))
	}
	assert.Nil(t, BufferGeometry{}.Sizes(0))
}

func TestResolveBufferSizeHugeGeometry(t *testing.T) {
	tests := []struct {
		name      string
		geometry  BufferGeometry
		requested int
	}{
		{"pow2 up to max int", BufferGeometry{MinFrames: 1, MaxFrames: math.MaxInt, PreferredFrames: 1, Granularity: PowerOfTwoGranularity}, math.MaxInt},
		{"large step", BufferGeometry{MinFrames: 1, MaxFrames: math.MaxInt, PreferredFrames: 1, Granularity: 1 << 40}, math.MaxInt},
		{"step just over max", BufferGeometry{MinFrames: 2, MaxFrames: math.MaxInt, PreferredFrames: 2, Granularity: 3}, math.MaxInt - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			type result struct {
				got int
				err error
			}
			done := make(chan result, 1)
			go func() {
				got, err := ResolveBufferSize(tt.geometry, tt.requested)
				done <- result{got, err}
			}()

			select {
			case r := <-done:
				if r.err != nil {
					assert.ErrorIs(t, r.err, ErrInvalidBufferSize)
					return
				}
				assert.GreaterOrEqual(t, r.got, tt.geometry.MinFrames)
				assert.LessOrEqual(t, r.got, tt.geometry.MaxFrames)
				assert.True(t, tt.geometry.IsLegal(r.got), "got %d", r.got)
			case <-time.After(2 * time.Second):
				t.Fatal("ResolveBufferSize did not return")
			}
		})
	}

	t.Run("small request still resolves", func(t *testing.T) {
		g := BufferGeometry{MinFrames: 1, MaxFrames: math.MaxInt, PreferredFrames: 1, Granularity: PowerOfTwoGranularity}
		got, err := ResolveBufferSize(g, 1000)
		require.NoError(t, err)
		assert.Equal(t, 1024, got)
	})
}

func TestBufferGeometrySizesHugeGeometry(t *testing.T) {
	pow2 := BufferGeometry{MinFrames: 1, MaxFrames: math.MaxInt, PreferredFrames: 1, Granularity: PowerOfTwoGranularity}
	sizes := pow2.Sizes(0)
	require.NotEmpty(t, sizes)
	assert.Len(t, sizes, 63)
	for _, n := range sizes {
		assert.True(t, pow2.IsLegal(n))
	}

	step := BufferGeometry{MinFrames: 1, MaxFrames: math.MaxInt, PreferredFrames: 1, Granularity: math.MaxInt / 4}
	sizes = step.Sizes(0)
	assert.Len(t, sizes, 5)
	for i := 1; i < len(sizes); i++ {
		assert.Greater(t, sizes[i], sizes[i-1])
	}
}

func TestNextPowerOfTwoOverflow(t *testing.T) {
	assert.Equal(t, 0, nextPowerOfTwo(math.MaxInt))
	assert.Equal(t, 1<<62, nextPowerOfTwo(1<<62))
}
