package asio

import "fmt"

// Direction selects the input or output side of a device.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// ParseDirection accepts "in"/"input" and "out"/"output".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in", "input":
		return Input, nil
	case "out", "output":
		return Output, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// MaxChannelNameLength is the longest channel name returned, in bytes,
// excluding the terminator the driver reserves.
const MaxChannelNameLength = 31

// ChannelSelection maps each application channel slot to a driver-native
// channel index.
type ChannelSelection []int

// ResolveChannels produces the driver channels used for one direction of a
// stream. Without selectors the first requested native channels are used.
func ResolveChannels(dir Direction, requested, native int, selectors []int) (ChannelSelection, error) {
	if requested < 0 {
		return nil, fmt.Errorf("%w: %s count %d", ErrInvalidChannelCount, dir, requested)
	}
	if requested == 0 {
		return nil, nil
	}

	if selectors == nil {
		if requested > native {
			return nil, fmt.Errorf("%w: %d %s channels requested, device has %d",
				ErrInvalidChannelCount, requested, dir, native)
		}
		selection := make(ChannelSelection, requested)
		for i := range selection {
			selection[i] = i
		}
		return selection, nil
	}

	if len(selectors) != requested {
		return nil, fmt.Errorf("%w: %d %s selectors for %d channels",
			ErrInvalidChannelCount, len(selectors), dir, requested)
	}
	for slot, ch := range selectors {
		if ch < 0 || ch >= native {
			return nil, fmt.Errorf("%w: %s selector %d is channel %d, device has %d",
				ErrInvalidChannelCount, dir, slot, ch, native)
		}
	}

	selection := make(ChannelSelection, requested)
	copy(selection, selectors)
	return selection, nil
}

// channelNames is the per-session name table for one device.
type channelNames struct {
	input  []string
	output []string
}

func (n *channelNames) lookup(dir Direction, index int) (string, bool) {
	names := n.input
	if dir == Output {
		names = n.output
	}
	if index < 0 || index >= len(names) {
		return "", false
	}
	return names[index], true
}

// truncateChannelName clips a driver name to MaxChannelNameLength bytes
// without splitting a UTF-8 sequence.
func truncateChannelName(name string) string {
	if len(name) <= MaxChannelNameLength {
		return name
	}
	cut := MaxChannelNameLength
	for cut > 0 && name[cut]&0xC0 == 0x80 {
		cut--
	}
	return name[:cut]
}

// MarshalText encodes the direction as "input" or "output".
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts the forms ParseDirection does.
func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
