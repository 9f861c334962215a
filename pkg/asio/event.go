package asio

// MessageType is the integer tag the driver uses on its message callback.
type MessageType int

const (
	ResetRequest      MessageType = 1
	SampleRateChanged MessageType = 2
	BufferSizeChange  MessageType = 3
	ResyncRequest     MessageType = 4
	LatenciesChanged  MessageType = 5

	// Unrecognized classifies any tag outside the known set.
	Unrecognized MessageType = 0
)

func (m MessageType) String() string {
	switch m {
	case ResetRequest:
		return "reset_request"
	case SampleRateChanged:
		return "sample_rate_changed"
	case BufferSizeChange:
		return "buffer_size_change"
	case ResyncRequest:
		return "resync_request"
	case LatenciesChanged:
		return "latencies_changed"
	default:
		return "unrecognized"
	}
}

// ParseMessageType is the inverse of MessageType.String.
func ParseMessageType(s string) (MessageType, bool) {
	for _, m := range []MessageType{ResetRequest, SampleRateChanged, BufferSizeChange, ResyncRequest, LatenciesChanged} {
		if m.String() == s {
			return m, true
		}
	}
	return Unrecognized, false
}

// classify maps a raw driver tag onto a known kind.
func classify(code int) MessageType {
	switch m := MessageType(code); m {
	case ResetRequest, SampleRateChanged, BufferSizeChange, ResyncRequest, LatenciesChanged:
		return m
	default:
		return Unrecognized
	}
}

// RequiresReset reports whether the stream has to be closed and reopened to
// apply an event of this kind.
func (m MessageType) RequiresReset() bool {
	switch m {
	case ResetRequest, BufferSizeChange, ResyncRequest, LatenciesChanged:
		return true
	default:
		return false
	}
}

// DriverEvent is one driver notification. It is passed by value and is only
// valid for the duration of the handler call; the payload accessors return
// ok == false for the variants that do not carry them.
type DriverEvent struct {
	kind      MessageType
	direction Direction

	code    int
	value   int
	rate    float64
	aux     uintptr
	payload []float64
}

func newDriverEvent(dir Direction, code, value int, aux uintptr, opt []float64) DriverEvent {
	ev := DriverEvent{kind: classify(code), direction: dir}
	switch ev.kind {
	case SampleRateChanged:
		if len(opt) > 0 {
			ev.rate = opt[0]
		}
	case BufferSizeChange:
		ev.value = value
	case Unrecognized:
		ev.code = code
		ev.value = value
		ev.aux = aux
		ev.payload = opt
	}
	return ev
}

// Kind returns the event variant.
func (e DriverEvent) Kind() MessageType { return e.kind }

// Direction is the stream side whose relay delivered the event.
func (e DriverEvent) Direction() Direction { return e.direction }

// SampleRate is the new rate carried by SampleRateChanged.
func (e DriverEvent) SampleRate() (float64, bool) {
	return e.rate, e.kind == SampleRateChanged
}

// PreferredFrames is the new preferred buffer size carried by BufferSizeChange.
func (e DriverEvent) PreferredFrames() (int, bool) {
	return e.value, e.kind == BufferSizeChange
}

// Raw exposes the untyped fields of an unrecognized message. The float
// slice aliases driver memory and must not be retained.
func (e DriverEvent) Raw() (code, value int, aux uintptr, opt []float64, ok bool) {
	if e.kind != Unrecognized {
		return 0, 0, 0, nil, false
	}
	return e.code, e.value, e.aux, e.payload, true
}

func (m MessageType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MessageType) UnmarshalText(text []byte) error {
	v, _ := ParseMessageType(string(text))
	*m = v
	return nil
}
