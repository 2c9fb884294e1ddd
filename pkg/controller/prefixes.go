package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/psaab/homegw/pkg/event"
	"github.com/psaab/homegw/pkg/prefix"
	"github.com/psaab/homegw/pkg/tunnel"
)

// handlePrefixes fans delegated prefixes out to every downlink.
func (c *Controller) handlePrefixes(ctx context.Context, ev event.Event, attach bool) {
	if len(ev.Prefixes) == 0 {
		return
	}
	slog.Info("delegated prefixes changed", "uplink", ev.Devname, "attached", attach, "prefixes", ev.Prefixes)
	for _, l := range c.sortedLinks() {
		if l.radvd == nil {
			continue
		}
		c.applyPrefixes(ctx, l, ev.Prefixes, attach)
	}
}

// applyPrefixes adds or removes l's sub-prefix of each delegated block
// as a kernel address and an announced RA prefix, then restarts the
// RA daemon so its configuration is regenerated.
func (c *Controller) applyPrefixes(ctx context.Context, l *Link, delegated []prefix.Prefix, attach bool) {
	var subs []prefix.Prefix
	for _, p := range delegated {
		sub, err := p.Subprefix(l.PrefixIndex)
		if err != nil {
			c.failure("subprefix", l.Name, err)
			continue
		}
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		return
	}

	// Tunnels are removed before the addresses they depend on.
	if !attach && c.isTunnelLink(l) {
		for _, sub := range subs {
			c.detachTunnel(ctx, sub)
		}
	}

	changed := false
	for _, sub := range subs {
		addr := routerAddress(sub)
		if attach {
			c.addAddress(l, addr)
			changed = l.radvd.AddPrefix(sub) || changed
		} else {
			c.check("addr-del", l.Name, c.deps.Net.DelAddress(l.Name, addr))
			changed = l.radvd.DelPrefix(sub) || changed
		}
	}
	if changed || (attach && !l.radvd.Running()) {
		if err := l.radvd.Restart(); err != nil {
			c.failure("radvd-restart", l.Name, err)
		}
	}

	if attach && c.isTunnelLink(l) {
		for _, sub := range subs {
			c.attachTunnel(ctx, sub)
		}
	}
}

// addAddress installs addr on l unless the kernel already reported it.
// Lease renewals repeat the same delegation, so an existing address is
// not a failure.
func (c *Controller) addAddress(l *Link, addr netip.Prefix) {
	if c.hasAddress(l.Index, addr) {
		return
	}
	err := c.deps.Net.AddAddress(l.Name, addr)
	if errors.Is(err, unix.EEXIST) {
		err = nil
	}
	c.check("addr-add", l.Name, err)
}

func (c *Controller) hasAddress(index int, p netip.Prefix) bool {
	for a := range c.addrs {
		if a.Index == index && a.Addr == p.Addr() && a.PrefixLen == p.Bits() {
			return true
		}
	}
	return false
}

// routerAddress is the address the router holds on a downlink /64.
func routerAddress(sub prefix.Prefix) netip.Prefix {
	return netip.PrefixFrom(sub.Host(tunnel.RouterSuffix), prefix.SubnetBits)
}

func (c *Controller) isTunnelLink(l *Link) bool {
	return c.tunnels != nil && l.Name == c.opts.TunnelLink
}

func (c *Controller) attachTunnel(ctx context.Context, sub prefix.Prefix) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	if err := c.tunnels.Attach(ctx, sub); err != nil {
		c.failure("tunnel-attach", c.opts.TunnelLink, err)
	}
}

func (c *Controller) detachTunnel(ctx context.Context, sub prefix.Prefix) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	if err := c.tunnels.Detach(ctx, sub); err != nil {
		c.failure("tunnel-detach", c.opts.TunnelLink, err)
	}
}

// delegated returns the prefixes currently bound on all uplinks.
func (c *Controller) delegated() []prefix.Prefix {
	var out []prefix.Prefix
	for _, l := range c.sortedLinks() {
		if l.dhcp == nil {
			continue
		}
		for _, p := range l.dhcp.Prefixes() {
			out = prefix.AppendUnique(out, p)
		}
	}
	return out
}
