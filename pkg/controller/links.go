package controller

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psaab/homegw/pkg/dhcp"
	"github.com/psaab/homegw/pkg/event"
	"github.com/psaab/homegw/pkg/netcfg"
	"github.com/psaab/homegw/pkg/prefix"
	"github.com/psaab/homegw/pkg/radvd"
)

func (c *Controller) handleKernel(ctx context.Context, ev event.Event) {
	switch {
	case ev.Link != nil:
		if ev.Link.Op == event.OpDel {
			c.linkRemoved(ctx, ev.Link)
		} else {
			c.linkAdded(ctx, ev.Link)
		}
	case ev.Addr != nil:
		c.addrChanged(ev.Addr)
	case ev.Route != nil:
		c.routeChanged(ev.Route)
	default:
		slog.Debug("controller: empty kernel event")
	}
}

func (c *Controller) linkAdded(ctx context.Context, le *event.LinkEvent) {
	if l, ok := c.links[le.Index]; ok {
		if l.Name == le.Name {
			if l.OperUp != le.OperUp {
				slog.Info("link state changed", "link", l.Name, "up", le.OperUp)
			}
			l.OperUp = le.OperUp
			return
		}
		slog.Info("link renamed", "index", le.Index, "old", l.Name, "new", le.Name)
		c.removeLink(ctx, l)
	}

	role, ok := c.roles[le.Name]
	if !ok {
		slog.Debug("ignoring unconfigured link", "link", le.Name, "index", le.Index)
		return
	}
	// Same device recreated under a new index without a DELLINK seen.
	if old, ok := c.linkByName(le.Name); ok {
		c.removeLink(ctx, old)
	}

	c.initLink(le.Name, role)

	l := &Link{
		Index:       le.Index,
		Name:        le.Name,
		Role:        role,
		OperUp:      le.OperUp,
		PrefixIndex: -1,
		globals:     make(map[Address]struct{}),
	}
	switch role {
	case RoleWAN:
		l.dhcp = dhcp.NewClient(le.Name, le.Index, c.opts.DHCPStateDir, c.deps.DHCP, c.deps.Runner, c.emit)
	default:
		l.PrefixIndex = c.indices.get(le.Name)
		l.radvd = radvd.NewController(le.Name, le.Index, c.opts.Radvd, c.deps.Runner, c.emit)
	}
	c.links[le.Index] = l
	c.metrics.links.WithLabelValues(role.String()).Inc()
	slog.Info("link added", "link", l.Name, "index", l.Index, "role", role, "prefix_index", l.PrefixIndex)

	// A downlink appearing after delegation picks up the current prefixes.
	if l.radvd != nil {
		if delegated := c.delegated(); len(delegated) > 0 {
			c.applyPrefixes(ctx, l, delegated, true)
		}
	}
}

// initLink brings dev down, flushes it and brings it back up with the
// accept_ra value for its role.
func (c *Controller) initLink(dev string, role Role) {
	acceptRA := netcfg.AcceptRAOff
	if role == RoleWAN {
		acceptRA = netcfg.AcceptRAAlways
	}
	c.check("link-down", dev, c.deps.Net.SetLinkState(dev, false))
	c.check("accept-ra", dev, c.deps.Net.SetAcceptRA(dev, netcfg.AcceptRAOff))
	c.check("flush", dev, c.deps.Net.FlushAddresses(dev))
	c.check("link-up", dev, c.deps.Net.SetLinkState(dev, true))
	c.check("accept-ra", dev, c.deps.Net.SetAcceptRA(dev, acceptRA))
}

func (c *Controller) linkRemoved(ctx context.Context, le *event.LinkEvent) {
	l, ok := c.links[le.Index]
	if !ok {
		return
	}
	slog.Info("link removed", "link", l.Name, "index", l.Index)
	c.removeLink(ctx, l)
}

// removeLink drops l and everything the tables hold for it. Prefixes
// delegated through a removed uplink are withdrawn from the downlinks
// unless another uplink still holds them, and a removed tunnel link
// takes its tunnels with it.
func (c *Controller) removeLink(ctx context.Context, l *Link) {
	c.stopRetry(l)
	var withdrawn []prefix.Prefix
	switch {
	case l.dhcp != nil:
		withdrawn = l.dhcp.Prefixes()
		l.dhcp.Kill()
	case l.radvd != nil:
		l.radvd.Stop()
	}
	if c.isTunnelLink(l) {
		tctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		if err := c.tunnels.DetachAll(tctx); err != nil {
			c.failure("tunnel-detach", l.Name, err)
		}
		cancel()
	}
	for a := range c.addrs {
		if a.Index == l.Index {
			delete(c.addrs, a)
		}
	}
	for r := range c.routes {
		if r.Index == l.Index {
			delete(c.routes, r)
		}
	}
	delete(c.links, l.Index)
	c.metrics.links.WithLabelValues(l.Role.String()).Dec()

	still := c.delegated()
	withdrawn = slices.DeleteFunc(withdrawn, func(p prefix.Prefix) bool { return prefix.Contains(still, p) })
	if len(withdrawn) > 0 {
		slog.Info("uplink removed, withdrawing prefixes", "link", l.Name, "prefixes", withdrawn)
		c.emit(event.Event{Kind: event.PrefixDetached, Ifindex: l.Index, Devname: l.Name, Prefixes: withdrawn})
	}
}

func (c *Controller) addrChanged(ae *event.AddrEvent) {
	if ae.Family != event.FamilyV6 {
		return
	}
	l, ok := c.links[ae.Index]
	if !ok {
		return
	}
	a := Address{Index: ae.Index, Family: ae.Family, Addr: ae.Addr, PrefixLen: ae.PrefixLen, Scope: ae.Scope}
	if ae.Op == event.OpDel {
		delete(c.addrs, a)
		delete(l.globals, a)
	} else {
		c.addrs[a] = struct{}{}
		if isGlobal(a) {
			l.globals[a] = struct{}{}
		}
	}
	c.updateRaAttached(l)
}

// isGlobal reports whether a counts towards RA attachment.
func isGlobal(a Address) bool {
	return a.Scope == unix.RT_SCOPE_UNIVERSE &&
		a.Addr.Is6() &&
		!a.Addr.IsLinkLocalUnicast() &&
		!a.Addr.IsLoopback() &&
		!a.Addr.IsMulticast()
}

// updateRaAttached emits RaAttached/RaDetached on the 0->1 and 1->0
// transitions of the link's global address count only.
func (c *Controller) updateRaAttached(l *Link) {
	attached := len(l.globals) > 0
	if attached == l.RaAttached {
		return
	}
	l.RaAttached = attached
	kind := event.RaDetached
	if attached {
		kind = event.RaAttached
	}
	slog.Info("link RA state changed", "link", l.Name, "attached", attached)
	c.emit(event.Event{Kind: kind, Ifindex: l.Index, Devname: l.Name})
}

func (c *Controller) routeChanged(re *event.RouteEvent) {
	if re.Family != event.FamilyV6 {
		return
	}
	if _, ok := c.links[re.Index]; !ok {
		return
	}
	r := Route{Index: re.Index, Dst: re.Dst, Gw: re.Gw, Table: re.Table, Type: re.Type}
	if re.Op == event.OpDel {
		delete(c.routes, r)
	} else {
		c.routes[r] = struct{}{}
	}
}

func (c *Controller) lookup(ev event.Event) (*Link, bool) {
	l, ok := c.links[ev.Ifindex]
	if !ok || (ev.Devname != "" && l.Name != ev.Devname) {
		slog.Debug("controller: event for unknown link", "event", ev)
		return nil, false
	}
	return l, true
}

func (c *Controller) handleRaAttached(ctx context.Context, ev event.Event) {
	l, ok := c.lookup(ev)
	if !ok {
		return
	}
	// Retry timers may fire after the link lost its addresses.
	if !l.RaAttached {
		return
	}
	c.stopRetry(l)

	switch {
	case l.dhcp != nil:
		if err := l.dhcp.Request(ctx); err != nil {
			c.failure("dhcp-request", l.Name, err)
			c.scheduleRetry(l)
			return
		}
	case l.radvd != nil:
		if err := l.radvd.Start(); err != nil {
			// An empty prefix set is not a failure; the next delegation
			// restarts the daemon.
			if errors.Is(err, radvd.ErrNoPrefixes) {
				return
			}
			c.failure("radvd-start", l.Name, err)
			c.scheduleRetry(l)
			return
		}
	}
	l.retryDelay = 0
}

func (c *Controller) handleRaDetached(ev event.Event) {
	l, ok := c.lookup(ev)
	if !ok {
		return
	}
	c.stopRetry(l)
	l.retryDelay = 0
	switch {
	case l.dhcp != nil:
		l.dhcp.Kill()
	case l.radvd != nil:
		l.radvd.Stop()
	}
}

// scheduleRetry re-posts RaAttached for l after an exponentially
// growing delay bounded by RetryMax.
func (c *Controller) scheduleRetry(l *Link) {
	if c.opts.RetryInitial <= 0 {
		return
	}
	switch {
	case l.retryDelay == 0:
		l.retryDelay = c.opts.RetryInitial
	default:
		l.retryDelay = min(2*l.retryDelay, c.opts.RetryMax)
	}
	ev := event.Event{Kind: event.RaAttached, Ifindex: l.Index, Devname: l.Name}
	q := c.queue
	l.retry = time.AfterFunc(l.retryDelay, func() {
		if !q.TryPost(ev) {
			slog.Warn("controller: queue full, dropping retry", "link", ev.Devname)
		}
	})
	c.metrics.retries.WithLabelValues(l.Name).Inc()
	slog.Info("controller: retry scheduled", "link", l.Name, "delay", l.retryDelay)
}

func (c *Controller) stopRetry(l *Link) {
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
}
