// Package event defines the records exchanged with the controller loop.
package event

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/psaab/homegw/pkg/prefix"
)

// Kind identifies an event type.
type Kind int

const (
	KernelStateChange Kind = iota
	RaAttached
	RaDetached
	PrefixAttached
	PrefixDetached
	RaStarted
	RaStopped
	Quit
)

func (k Kind) String() string {
	switch k {
	case KernelStateChange:
		return "kernel-state-change"
	case RaAttached:
		return "ra-attached"
	case RaDetached:
		return "ra-detached"
	case PrefixAttached:
		return "prefix-attached"
	case PrefixDetached:
		return "prefix-detached"
	case RaStarted:
		return "radvd-started"
	case RaStopped:
		return "radvd-stopped"
	case Quit:
		return "quit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Op distinguishes add from remove notifications.
type Op int

const (
	OpAdd Op = iota
	OpDel
)

func (o Op) String() string {
	if o == OpDel {
		return "del"
	}
	return "add"
}

// FamilyV6 is AF_INET6, the only family the controller acts on.
const FamilyV6 = 10

// LinkEvent is a parsed RTM_NEWLINK / RTM_DELLINK notification.
type LinkEvent struct {
	Op     Op
	Index  int
	Name   string
	OperUp bool
}

// AddrEvent is a parsed RTM_NEWADDR / RTM_DELADDR notification.
type AddrEvent struct {
	Op        Op
	Index     int
	Family    int
	Addr      netip.Addr
	PrefixLen int
	Scope     int
}

// RouteEvent is a parsed RTM_NEWROUTE / RTM_DELROUTE notification.
type RouteEvent struct {
	Op     Op
	Index  int
	Family int
	Dst    netip.Prefix
	Gw     netip.Addr
	Table  int
	Type   int
}

// Event is a single item on the controller queue. Exactly one of the
// payload fields is meaningful for a given Kind.
type Event struct {
	Kind Kind

	// KernelStateChange payloads.
	Link  *LinkEvent
	Addr  *AddrEvent
	Route *RouteEvent

	// Ifindex names the link for RaAttached/RaDetached/RaStarted/RaStopped
	// and the WAN link for PrefixAttached/PrefixDetached.
	Ifindex int
	Devname string

	// Prefixes are the delegated blocks for PrefixAttached/PrefixDetached.
	Prefixes []prefix.Prefix
}

func (e Event) String() string {
	switch {
	case e.Link != nil:
		return fmt.Sprintf("%s link-%s %s(%d) up=%t", e.Kind, e.Link.Op, e.Link.Name, e.Link.Index, e.Link.OperUp)
	case e.Addr != nil:
		return fmt.Sprintf("%s addr-%s %s/%d dev %d", e.Kind, e.Addr.Op, e.Addr.Addr, e.Addr.PrefixLen, e.Addr.Index)
	case e.Route != nil:
		return fmt.Sprintf("%s route-%s %s dev %d", e.Kind, e.Route.Op, e.Route.Dst, e.Route.Index)
	case len(e.Prefixes) > 0:
		return fmt.Sprintf("%s %s %v", e.Kind, e.Devname, e.Prefixes)
	case e.Devname != "":
		return fmt.Sprintf("%s %s", e.Kind, e.Devname)
	}
	return e.Kind.String()
}

// Sink receives events produced by a sub-controller.
type Sink func(Event)

// DefaultQueueSize is the capacity of the controller's input channel.
const DefaultQueueSize = 256

// Queue carries events from producers running outside the controller
// loop (kernel feed, signal handler, retry timers) into it.
type Queue struct {
	ch chan Event
}

// NewQueue returns a queue holding at most size pending events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Event, size)}
}

// Post blocks until ev is queued or ctx is done.
func (q *Queue) Post(ctx context.Context, ev Event) error {
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost queues ev if there is room and reports whether it did.
func (q *Queue) TryPost(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// C returns the receive side of the queue.
func (q *Queue) C() <-chan Event {
	return q.ch
}
