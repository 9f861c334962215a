package asio

// MessageHandler receives driver events for a stream. It runs on the
// driver's thread under the same constraints as the render callback: it must
// not block, allocate on a hot path, or call back into this package's
// stream or host functions. Return true when the event was handled.
type MessageHandler func(ev DriverEvent, userData any) bool

// Relay is the single entry point the driver invokes for asynchronous
// notifications on one direction of a stream.
type Relay struct {
	direction Direction
	handler   MessageHandler
	userData  any

	controller *Controller
	ring       *EventRing
	guard      *reentryGuard
}

func newRelay(dir Direction, handler MessageHandler, userData any, c *Controller, ring *EventRing, guard *reentryGuard) *Relay {
	return &Relay{
		direction:  dir,
		handler:    handler,
		userData:   userData,
		controller: c,
		ring:       ring,
		guard:      guard,
	}
}

// OnDriverEvent classifies a raw driver message, hands it to the user
// handler and updates the controller. It never fails; the result is the
// handler's, or false when no handler is registered.
func (r *Relay) OnDriverEvent(code, value int, aux uintptr, opt []float64) bool {
	ev := newDriverEvent(r.direction, code, value, aux, opt)

	handled := false
	if r.handler != nil {
		handled = r.invoke(ev)
	}

	if r.controller != nil {
		r.controller.noteDriverEvent(ev.kind)
	}
	if r.ring != nil {
		r.ring.push(ev, code, handled)
	}
	return handled
}

func (r *Relay) invoke(ev DriverEvent) bool {
	r.guard.enter()
	defer r.guard.exit()
	return r.handler(ev, r.userData)
}
