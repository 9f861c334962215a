package engine

import (
	"fmt"
	"time"

	"github.com/dougsko/asiod/pkg/asio"
	"github.com/dougsko/asiod/pkg/logging"
	"github.com/dougsko/asiod/pkg/protocol"
	"github.com/dougsko/asiod/pkg/storage"
)

// Notification types
const (
	NoticeDriverEvent = "driver_event"
	NoticeStream      = "stream"
)

// EventNotice is a relayed driver event with the device it came from
type EventNotice = protocol.EventNotice

// Notification is pushed to subscribers such as the websocket hub
type Notification struct {
	Type    string       `json:"type"`
	Time    time.Time    `json:"time"`
	Event   *EventNotice `json:"event,omitempty"`
	State   string       `json:"state,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Subscribe returns a channel of notifications and a function that ends the
// subscription. Slow subscribers miss notifications rather than block.
func (e *CoreEngine) Subscribe(buffer int) (<-chan Notification, func()) {
	ch := make(chan Notification, buffer)

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(ch)
		}
	}
}

func (e *CoreEngine) notify(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}

// eventPump drains the stream's event ring and applies auto reset on the
// configured poll interval
func (e *CoreEngine) eventPump() {
	defer e.wg.Done()

	interval := time.Duration(e.config.Stream.PollInterval) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.drainEvents()
			e.checkReset()
		}
	}
}

// drainEvents drains the current stream's ring
func (e *CoreEngine) drainEvents() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream != nil {
		e.drainStream(e.stream, e.sessionID)
	}
}

// drainStream moves every queued record of s to the log, the journal, the
// recent list and subscribers; e.mu must be held
func (e *CoreEngine) drainStream(s *asio.Stream, sessionID int64) {
	device := s.Device()
	name := e.drivers[device].Name()

	s.Events().Drain(func(rec asio.EventRecord) {
		e.relayed++
		notice := EventNotice{Device: device, Driver: name, Record: rec}

		fields := logging.Fields{
			"device":    device,
			"direction": rec.Direction,
			"handled":   rec.Handled,
		}
		switch rec.Kind {
		case asio.SampleRateChanged:
			fields["rate"] = rec.SampleRate
		case asio.BufferSizeChange:
			fields["frames"] = rec.Value
		case asio.Unrecognized:
			fields["code"] = rec.Code
			fields["value"] = rec.Value
		}
		if rec.Kind.RequiresReset() {
			logging.Warn("asio", fmt.Sprintf("Driver event %s: stream reset required", rec.Kind), fields)
		} else {
			logging.Info("asio", fmt.Sprintf("Driver event %s", rec.Kind), fields)
		}

		if e.store != nil {
			if err := e.store.StoreEvent(sessionID, device, name, rec); err != nil {
				logging.Warn("engine", fmt.Sprintf("Failed to journal event: %v", err))
			}
		}

		e.recent = append(e.recent, notice)
		if len(e.recent) > recentEventLimit {
			e.recent = e.recent[len(e.recent)-recentEventLimit:]
		}
		e.notify(Notification{Type: NoticeDriverEvent, Time: rec.Time, Event: &notice})
	})
}

// RecentEvents returns up to limit events, newest first. The journal is
// used when configured, otherwise the in-memory list.
func (e *CoreEngine) RecentEvents(limit int) ([]EventNotice, error) {
	if limit <= 0 {
		limit = 50
	}
	if e.store != nil {
		stored, err := e.store.GetRecentEvents(limit)
		if err != nil {
			return nil, err
		}
		return fromStored(stored), nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.recent)
	if limit > n {
		limit = n
	}
	out := make([]EventNotice, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.recent[i])
	}
	return out, nil
}

func fromStored(stored []storage.StoredEvent) []EventNotice {
	out := make([]EventNotice, len(stored))
	for i, ev := range stored {
		out[i] = EventNotice{Device: ev.Device, Driver: ev.Driver, Record: ev.Record}
	}
	return out
}

// Status reports the stream and engine state
func (e *CoreEngine) Status() (protocol.Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := protocol.Status{
		Device:        e.config.Stream.Device,
		State:         asio.StateClosed.String(),
		AutoReset:     e.config.Stream.AutoReset,
		Resets:        e.resets,
		EventsRelayed: e.relayed,
		Uptime:        time.Since(e.startTime).Round(time.Second).String(),
		StartTime:     e.startTime,
		Version:       Version,
	}
	if e.stream == nil {
		return st, nil
	}

	s := e.stream
	st.Device = s.Device()
	st.Driver = e.drivers[s.Device()].Name()
	st.State = s.State().String()
	st.SampleRate = s.SampleRate()
	st.FramesPerBuffer = s.FramesPerBuffer()
	st.InputChannels = s.InputSelection()
	st.OutputChannels = s.OutputSelection()
	st.PendingReset = s.PendingReset()
	st.EventsDropped = s.Events().Dropped()
	in, out, err := s.Latencies()
	if err != nil {
		return st, err
	}
	st.InputLatency, st.OutputLatency = in, out
	return st, nil
}
