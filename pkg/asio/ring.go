package asio

import (
	"sync/atomic"
	"time"
)

// EventRecord is a flattened copy of a relayed event. It holds no reference
// to driver memory and can be kept after the relay returns.
type EventRecord struct {
	Seq        uint64      `json:"seq"`
	Time       time.Time   `json:"time"`
	Kind       MessageType `json:"kind"`
	Code       int         `json:"code"`
	Direction  Direction   `json:"direction"`
	Value      int         `json:"value"`
	SampleRate float64     `json:"sample_rate,omitempty"`
	Handled    bool        `json:"handled"`
}

type ringSlot struct {
	seq atomic.Uint64
	rec EventRecord
}

// EventRing is a bounded lock-free queue of relayed events. Producers run on
// driver threads; a control goroutine drains it. A full ring drops the new
// record and counts it.
type EventRing struct {
	slots   []ringSlot
	mask    uint64
	head    atomic.Uint64
	tail    atomic.Uint64
	dropped atomic.Uint64
}

// NewEventRing allocates a ring holding at least capacity records.
func NewEventRing(capacity int) *EventRing {
	size := nextPowerOfTwo(capacity)
	if size < 2 {
		size = 2
	}
	r := &EventRing{
		slots: make([]ringSlot, size),
		mask:  uint64(size - 1),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

func (r *EventRing) push(ev DriverEvent, code int, handled bool) bool {
	pos := r.head.Load()
	for {
		slot := &r.slots[pos&r.mask]
		diff := int64(slot.seq.Load()) - int64(pos)
		switch {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				slot.rec = EventRecord{
					Seq:        pos,
					Time:       time.Now(),
					Kind:       ev.kind,
					Code:       code,
					Direction:  ev.direction,
					Value:      ev.value,
					SampleRate: ev.rate,
					Handled:    handled,
				}
				slot.seq.Store(pos + 1)
				return true
			}
			pos = r.head.Load()
		case diff < 0:
			r.dropped.Add(1)
			return false
		default:
			pos = r.head.Load()
		}
	}
}

// Pop removes the oldest record.
func (r *EventRing) Pop() (EventRecord, bool) {
	pos := r.tail.Load()
	for {
		slot := &r.slots[pos&r.mask]
		diff := int64(slot.seq.Load()) - int64(pos+1)
		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				rec := slot.rec
				slot.seq.Store(pos + r.mask + 1)
				return rec, true
			}
			pos = r.tail.Load()
		case diff < 0:
			return EventRecord{}, false
		default:
			pos = r.tail.Load()
		}
	}
}

// Drain pops every queued record into fn and returns how many were read.
func (r *EventRing) Drain(fn func(EventRecord)) int {
	n := 0
	for {
		rec, ok := r.Pop()
		if !ok {
			return n
		}
		fn(rec)
		n++
	}
}

// Dropped is the number of records lost to a full ring.
func (r *EventRing) Dropped() uint64 {
	return r.dropped.Load()
}

// Capacity is the number of records the ring holds.
func (r *EventRing) Capacity() int {
	return len(r.slots)
}
