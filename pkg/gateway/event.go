package gateway

import (
	"fmt"
	"net"
)

// EventKind identifies a gateway event.
type EventKind int

const (
	// Connected reports that the listener is bound and accepting.
	Connected EventKind = iota + 1
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered on the readiness channel.
type Event struct {
	Kind EventKind
	// Addr is the bound listen address.
	Addr net.Addr
}

// EventDeliveryError reports an event the receiver did not take.
type EventDeliveryError struct {
	Event Event
	Err   error
}

func (e *EventDeliveryError) Error() string {
	return fmt.Sprintf("deliver %s event: %v", e.Event.Kind, e.Err)
}

func (e *EventDeliveryError) Unwrap() error { return e.Err }
