// Package controller implements the edge-router event loop.
//
// A single goroutine owns the link, address and route tables together
// with every per-link sub-controller. Kernel notifications, retry
// timers and the shutdown request arrive on an event.Queue; events the
// loop produces itself (lease changes, RA daemon state) are appended to
// a local backlog and processed before the next queued event.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/psaab/homegw/pkg/dhcp"
	"github.com/psaab/homegw/pkg/event"
	"github.com/psaab/homegw/pkg/logging"
	"github.com/psaab/homegw/pkg/netcfg"
	"github.com/psaab/homegw/pkg/proc"
	"github.com/psaab/homegw/pkg/radvd"
	"github.com/psaab/homegw/pkg/tunnel"
)

// Role is the configured function of a link.
type Role int

const (
	RoleWAN Role = iota
	RoleLAN
	RoleDMZ
)

func (r Role) String() string {
	switch r {
	case RoleWAN:
		return "wan"
	case RoleLAN:
		return "lan"
	case RoleDMZ:
		return "dmz"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

const (
	DefaultCallTimeout     = 5 * time.Second
	DefaultTeardownTimeout = 30 * time.Second
)

// Options is the static controller configuration.
type Options struct {
	WAN []string
	LAN []string
	DMZ []string

	// PrefixIndex pins the sub-prefix index of individual devices.
	PrefixIndex map[string]int

	// TunnelLink is the downlink whose sub-prefixes drive tunnels.
	// Empty disables tunnel orchestration.
	TunnelLink string
	Tunnel     tunnel.Options

	DHCPStateDir string
	Radvd        radvd.Options

	// RetryInitial enables re-posting RaAttached after a failed DHCP
	// request or RA daemon start. Zero disables retries.
	RetryInitial time.Duration
	RetryMax     time.Duration

	CallTimeout     time.Duration
	TeardownTimeout time.Duration
}

// Dependencies are the collaborators the controller drives.
type Dependencies struct {
	Net    netcfg.Configurator
	Runner proc.Runner
	DHCP   dhcp.Backend

	// Gateway and Endpoint are required when Options.TunnelLink is set.
	Gateway  tunnel.Gateway
	Endpoint tunnel.Endpoint

	// Registerer receives the controller metrics. Nil skips registration.
	Registerer prometheus.Registerer
	// History records processed events. May be nil.
	History *logging.EventBuffer
}

// Link is one tracked interface.
type Link struct {
	Index       int
	Name        string
	Role        Role
	OperUp      bool
	RaAttached  bool
	PrefixIndex int

	globals map[Address]struct{}
	dhcp    *dhcp.Client
	radvd   *radvd.Controller

	retry      *time.Timer
	retryDelay time.Duration
}

// Address is a kernel-confirmed address. Equality is by value.
type Address struct {
	Index     int
	Family    int
	Addr      netip.Addr
	PrefixLen int
	Scope     int
}

// Route is a kernel-confirmed IPv6 route on a tracked link.
type Route struct {
	Index int
	Dst   netip.Prefix
	Gw    netip.Addr
	Table int
	Type  int
}

// Controller is the edge-router event loop.
type Controller struct {
	opts  Options
	deps  Dependencies
	queue *event.Queue

	roles   map[string]Role
	links   map[int]*Link
	addrs   map[Address]struct{}
	routes  map[Route]struct{}
	indices *indexRegistry
	tunnels *tunnel.Orchestrator

	backlog []event.Event
	metrics *metrics
	status  atomic.Pointer[Status]
	done    chan struct{}
}

// New creates a controller reading external events from q.
func New(opts Options, deps Dependencies, q *event.Queue) *Controller {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = DefaultTeardownTimeout
	}
	if opts.RetryInitial > 0 && opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = opts.RetryInitial
	}

	c := &Controller{
		opts:    opts,
		deps:    deps,
		queue:   q,
		roles:   make(map[string]Role),
		links:   make(map[int]*Link),
		addrs:   make(map[Address]struct{}),
		routes:  make(map[Route]struct{}),
		indices: newIndexRegistry(opts.PrefixIndex),
		metrics: newMetrics(deps.Registerer),
		done:    make(chan struct{}),
	}
	for _, dev := range opts.WAN {
		c.roles[dev] = RoleWAN
	}
	for _, dev := range opts.LAN {
		c.roles[dev] = RoleLAN
	}
	for _, dev := range opts.DMZ {
		c.roles[dev] = RoleDMZ
	}
	if opts.TunnelLink != "" && deps.Gateway != nil && deps.Endpoint != nil {
		c.tunnels = tunnel.New(opts.Tunnel, deps.Gateway, deps.Endpoint)
	}
	c.publish()
	return c
}

// Done is closed once Run has finished teardown.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run processes events until a Quit event is handled or ctx is
// cancelled. Both paths run the full teardown before returning.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	slog.Info("controller started",
		"wan", c.opts.WAN, "lan", c.opts.LAN, "dmz", c.opts.DMZ,
		"tunnel_link", c.opts.TunnelLink)

	for {
		ev, ok := c.next(ctx)
		if !ok {
			slog.Info("controller: context cancelled, shutting down")
			ev = event.Event{Kind: event.Quit}
		}
		if c.dispatch(ctx, ev) {
			return nil
		}
	}
}

// next returns the oldest locally generated event, or waits for the
// queue. It reports false when ctx is done.
func (c *Controller) next(ctx context.Context) (event.Event, bool) {
	if len(c.backlog) > 0 {
		ev := c.backlog[0]
		c.backlog[0] = event.Event{}
		c.backlog = c.backlog[1:]
		return ev, true
	}
	select {
	case ev := <-c.queue.C():
		return ev, true
	case <-ctx.Done():
		return event.Event{}, false
	}
}

// emit is the sink handed to sub-controllers.
func (c *Controller) emit(ev event.Event) {
	c.backlog = append(c.backlog, ev)
}

// dispatch handles one event and reports whether the loop must exit.
func (c *Controller) dispatch(ctx context.Context, ev event.Event) bool {
	c.metrics.events.WithLabelValues(ev.Kind.String()).Inc()
	slog.Debug("controller: event", "event", ev)

	switch ev.Kind {
	case event.KernelStateChange:
		c.handleKernel(ctx, ev)
	case event.RaAttached:
		c.handleRaAttached(ctx, ev)
	case event.RaDetached:
		c.handleRaDetached(ev)
	case event.PrefixAttached:
		c.handlePrefixes(ctx, ev, true)
	case event.PrefixDetached:
		c.handlePrefixes(ctx, ev, false)
	case event.RaStarted, event.RaStopped:
		// Already acted on by the RA controller; recorded for operators.
	case event.Quit:
		c.record(ev)
		c.teardown(ctx)
		c.publish()
		return true
	default:
		slog.Warn("controller: unknown event", "kind", ev.Kind)
	}
	c.record(ev)
	c.publish()
	return false
}

func (c *Controller) record(ev event.Event) {
	if c.deps.History == nil {
		return
	}
	// Route churn would flush everything else out of the buffer.
	if ev.Kind == event.KernelStateChange && ev.Route != nil {
		return
	}
	rec := logging.EventRecord{Kind: ev.Kind.String(), Link: ev.Devname, Detail: ev.String()}
	switch {
	case ev.Link != nil:
		rec.Link = ev.Link.Name
	case ev.Addr != nil:
		if l, ok := c.links[ev.Addr.Index]; ok {
			rec.Link = l.Name
		}
	}
	c.deps.History.Add(rec)
}

// teardown stops every RA daemon, removes tunnels, releases leases and
// leaves all tracked links down and flushed.
func (c *Controller) teardown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.TeardownTimeout)
	defer cancel()

	slog.Info("controller: tearing down")
	links := c.sortedLinks()
	for _, l := range links {
		c.stopRetry(l)
		if l.radvd != nil {
			l.radvd.Stop()
		}
	}
	if c.tunnels != nil {
		if err := c.tunnels.DetachAll(ctx); err != nil {
			c.failure("tunnel-detach", c.opts.TunnelLink, err)
		}
	}
	for _, l := range links {
		if l.dhcp == nil {
			continue
		}
		if err := l.dhcp.Release(ctx); err != nil {
			c.failure("dhcp-release", l.Name, err)
		}
	}
	for _, l := range links {
		c.check("link-down", l.Name, c.deps.Net.SetLinkState(l.Name, false))
		c.check("accept-ra", l.Name, c.deps.Net.SetAcceptRA(l.Name, netcfg.AcceptRAOff))
	}
	for _, l := range links {
		c.check("flush", l.Name, c.deps.Net.FlushAddresses(l.Name))
	}
	// Release emitted PrefixDetached for each lease; the links are
	// already flushed so there is nothing left to act on.
	c.backlog = nil
	slog.Info("controller: teardown complete")
}

// check logs and counts a failed network configuration call. The
// operation is not retried; the next kernel notification reconciles.
func (c *Controller) check(op, dev string, err error) bool {
	if err == nil {
		return true
	}
	c.failure(op, dev, err)
	return false
}

func (c *Controller) failure(op, dev string, err error) {
	c.metrics.failures.WithLabelValues(op).Inc()
	slog.Warn("controller: operation failed", "op", op, "link", dev, "err", err)
}

func (c *Controller) sortedLinks() []*Link {
	links := make([]*Link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	return links
}

func (c *Controller) linkByName(name string) (*Link, bool) {
	for _, l := range c.links {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// indexRegistry hands out sub-prefix indices. An index is assigned the
// first time a device is seen and kept for the life of the process,
// so a link that is removed and recreated keeps its /64.
type indexRegistry struct {
	assigned map[string]int
	used     map[int]bool
	next     int
}

func newIndexRegistry(pins map[string]int) *indexRegistry {
	r := &indexRegistry{assigned: make(map[string]int), used: make(map[int]bool)}
	for dev, n := range pins {
		r.assigned[dev] = n
		r.used[n] = true
	}
	return r
}

func (r *indexRegistry) get(dev string) int {
	if n, ok := r.assigned[dev]; ok {
		return n
	}
	for r.used[r.next] {
		r.next++
	}
	n := r.next
	r.assigned[dev] = n
	r.used[n] = true
	r.next++
	return n
}
