//go:build asiodebug

package asio

import (
	"bytes"
	"runtime"
	"strconv"
)

const reentryChecks = true

// goroutineID parses the current goroutine's id from its stack header.
// Debug builds only.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
