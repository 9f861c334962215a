package asio

import (
	"errors"
	"fmt"
)

// Errors reported synchronously by the host adapter. Callers match them with
// errors.Is; the returned errors usually wrap one of these with detail.
var (
	ErrDeviceUnavailable       = errors.New("asio: device unavailable")
	ErrInvalidBufferSize       = errors.New("asio: invalid buffer size")
	ErrInvalidChannelCount     = errors.New("asio: invalid channel count")
	ErrIncompatibleHostAPI     = errors.New("asio: incompatible stream host API")
	ErrDriverRejectedRate      = errors.New("asio: driver rejected sample rate")
	ErrUnsupportedWhileRunning = errors.New("asio: operation unsupported while stream is running")

	ErrBadStreamState         = errors.New("asio: bad stream state")
	ErrInvalidDevice          = errors.New("asio: invalid device")
	ErrBadIODeviceCombination = errors.New("asio: input and output must use the same device")
	ErrDeviceBusy             = fmt.Errorf("%w: device already has an open stream", ErrDeviceUnavailable)
)
