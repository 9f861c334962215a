package asio

import (
	"fmt"
	"sync/atomic"
)

// guardSlots bounds how many driver threads can be inside a message handler
// at once and still be tracked.
const guardSlots = 8

// reentryGuard records which goroutines are inside a message handler so that
// debug builds can catch handlers calling back into stream control. Each
// delivering goroutine holds its own slot.
type reentryGuard struct {
	owners [guardSlots]atomic.Int64
}

func (g *reentryGuard) enter() {
	if !reentryChecks || g == nil {
		return
	}
	id := goroutineID()
	for i := range g.owners {
		if g.owners[i].CompareAndSwap(0, id) {
			return
		}
	}
}

func (g *reentryGuard) exit() {
	if !reentryChecks || g == nil {
		return
	}
	id := goroutineID()
	for i := range g.owners {
		if g.owners[i].CompareAndSwap(id, 0) {
			return
		}
	}
}

// check panics when op is called from inside a message handler.
func (g *reentryGuard) check(op string) {
	if !reentryChecks || g == nil {
		return
	}
	id := goroutineID()
	if id == 0 {
		return
	}
	for i := range g.owners {
		if g.owners[i].Load() == id {
			panic(fmt.Sprintf("asio: %s called from a driver message handler", op))
		}
	}
}
