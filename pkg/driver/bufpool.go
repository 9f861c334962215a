package driver

import (
	"sync"
	"sync/atomic"

	"github.com/dougsko/asiod/pkg/logging"
)

// Buffer is one channel's worth of float32 frames borrowed from a pool
type Buffer struct {
	Data []float32
	pool *BufferPool
}

// Reset zeroes the frames
func (b *Buffer) Reset() {
	for i := range b.Data {
		b.Data[i] = 0
	}
}

// Release returns the buffer to its pool
func (b *Buffer) Release() {
	if b.pool != nil {
		b.pool.Put(b)
	}
}

type tier struct {
	frames int
	pool   sync.Pool
	hits   atomic.Int64
	misses atomic.Int64
}

// BufferPool hands out channel buffers in three size classes so that
// re-creating driver buffers after a reset reuses memory
type BufferPool struct {
	tiers     []*tier
	oversized atomic.Int64
}

// NewBufferPool creates a pool with small, medium and large size classes
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	for _, frames := range []int{256, 1024, 4096} {
		t := &tier{frames: frames}
		t.pool.New = func() interface{} {
			t.misses.Add(1)
			return &Buffer{Data: make([]float32, t.frames), pool: p}
		}
		p.tiers = append(p.tiers, t)
	}
	return p
}

// MaxPooledFrames is the largest buffer kept in the pool
func (p *BufferPool) MaxPooledFrames() int {
	return p.tiers[len(p.tiers)-1].frames
}

// Get returns a zeroed buffer of exactly frames samples
func (p *BufferPool) Get(frames int) *Buffer {
	if frames <= 0 {
		frames = 1
	}
	for _, t := range p.tiers {
		if frames <= t.frames {
			b := t.pool.Get().(*Buffer)
			t.hits.Add(1)
			b.Data = b.Data[:frames]
			b.Reset()
			return b
		}
	}

	p.oversized.Add(1)
	logging.Debugf("driver", "Buffer of %d frames exceeds pool classes, allocating directly", frames)
	return &Buffer{Data: make([]float32, frames), pool: p}
}

// Put returns a buffer to the size class its capacity belongs to
func (p *BufferPool) Put(b *Buffer) {
	if b == nil || b.Data == nil {
		return
	}
	capacity := cap(b.Data)
	for _, t := range p.tiers {
		if capacity == t.frames {
			b.Data = b.Data[:capacity]
			t.pool.Put(b)
			return
		}
	}
	// oversized buffers are left to the GC
}

// GetChannels borrows one buffer per channel
func (p *BufferPool) GetChannels(channels, frames int) []*Buffer {
	bufs := make([]*Buffer, channels)
	for i := range bufs {
		bufs[i] = p.Get(frames)
	}
	return bufs
}

// PutChannels releases every buffer in bufs
func (p *BufferPool) PutChannels(bufs []*Buffer) {
	for _, b := range bufs {
		p.Put(b)
	}
}

// Statistics returns per-class hit and miss counts
func (p *BufferPool) Statistics() map[string]int64 {
	names := []string{"small", "medium", "large"}
	stats := make(map[string]int64, 2*len(p.tiers)+1)
	for i, t := range p.tiers {
		stats[names[i]+"_hits"] = t.hits.Load()
		stats[names[i]+"_miss"] = t.misses.Load()
	}
	stats["oversized"] = p.oversized.Load()
	return stats
}

var (
	globalPool     *BufferPool
	globalPoolOnce sync.Once
)

// GlobalBufferPool returns the process-wide pool shared by simulated drivers
func GlobalBufferPool() *BufferPool {
	globalPoolOnce.Do(func() {
		globalPool = NewBufferPool()
	})
	return globalPool
}
