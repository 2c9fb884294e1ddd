// Package netmon turns kernel rtnetlink notifications into controller
// events.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/psaab/homegw/pkg/event"
)

const (
	netlinkSubBufSize = 128 * 1024 // bytes
	updateChanSize    = 64
)

// Monitor subscribes to link, address and route notifications. The
// first notifications after Run starts are the kernel's full dump of
// existing state.
type Monitor struct {
	queue *event.Queue
}

// New creates a Monitor posting to q.
func New(q *event.Queue) *Monitor {
	return &Monitor{queue: q}
}

// Run subscribes and forwards notifications until ctx is done. An error
// is returned only if the initial subscriptions fail.
func (m *Monitor) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	linkCh, err := linkSubscribe(done)
	if err != nil {
		return err
	}
	addrCh, err := addrSubscribe(done)
	if err != nil {
		return err
	}
	routeCh, err := routeSubscribe(done)
	if err != nil {
		return err
	}
	slog.Info("kernel notification feed subscribed")

	for {
		var ev event.Event
		select {
		case <-ctx.Done():
			return nil

		case u, ok := <-linkCh:
			if !ok {
				slog.Warn("link subscription closed, resubscribing")
				if linkCh, err = linkSubscribe(done); err != nil {
					return err
				}
				continue
			}
			le, ok := ParseLinkUpdate(u)
			if !ok {
				continue
			}
			ev = event.Event{Kind: event.KernelStateChange, Link: &le}

		case u, ok := <-addrCh:
			if !ok {
				slog.Warn("address subscription closed, resubscribing")
				if addrCh, err = addrSubscribe(done); err != nil {
					return err
				}
				continue
			}
			ae, ok := ParseAddrUpdate(u)
			if !ok {
				continue
			}
			ev = event.Event{Kind: event.KernelStateChange, Addr: &ae}

		case u, ok := <-routeCh:
			if !ok {
				slog.Warn("route subscription closed, resubscribing")
				if routeCh, err = routeSubscribe(done); err != nil {
					return err
				}
				continue
			}
			re, ok := ParseRouteUpdate(u)
			if !ok {
				continue
			}
			ev = event.Event{Kind: event.KernelStateChange, Route: &re}
		}

		if err := m.queue.Post(ctx, ev); err != nil {
			return nil
		}
	}
}

func linkSubscribe(done chan struct{}) (chan netlink.LinkUpdate, error) {
	ch := make(chan netlink.LinkUpdate, updateChanSize)
	opts := netlink.LinkSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			slog.Error("link subscription error", "err", err)
		},
	}
	if err := netlink.LinkSubscribeWithOptions(ch, done, opts); err != nil {
		return nil, fmt.Errorf("link subscribe: %w", err)
	}
	return ch, nil
}

func addrSubscribe(done chan struct{}) (chan netlink.AddrUpdate, error) {
	ch := make(chan netlink.AddrUpdate, updateChanSize)
	opts := netlink.AddrSubscribeOptions{
		ListExisting:      true,
		ReceiveBufferSize: netlinkSubBufSize,
		ErrorCallback: func(err error) {
			slog.Error("address subscription error", "err", err)
		},
	}
	if err := netlink.AddrSubscribeWithOptions(ch, done, opts); err != nil {
		return nil, fmt.Errorf("address subscribe: %w", err)
	}
	return ch, nil
}

func routeSubscribe(done chan struct{}) (chan netlink.RouteUpdate, error) {
	ch := make(chan netlink.RouteUpdate, updateChanSize)
	opts := netlink.RouteSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			slog.Error("route subscription error", "err", err)
		},
	}
	if err := netlink.RouteSubscribeWithOptions(ch, done, opts); err != nil {
		return nil, fmt.Errorf("route subscribe: %w", err)
	}
	return ch, nil
}

// ParseLinkUpdate extracts the interface name and operational state.
func ParseLinkUpdate(u netlink.LinkUpdate) (event.LinkEvent, bool) {
	if u.Link == nil {
		return event.LinkEvent{}, false
	}
	attrs := u.Link.Attrs()
	if attrs == nil || attrs.Name == "" {
		slog.Debug("link notification without IFLA_IFNAME, dropped")
		return event.LinkEvent{}, false
	}
	le := event.LinkEvent{
		Index:  attrs.Index,
		Name:   attrs.Name,
		OperUp: attrs.OperState == netlink.OperUp,
	}
	switch u.Header.Type {
	case unix.RTM_NEWLINK:
		le.Op = event.OpAdd
	case unix.RTM_DELLINK:
		le.Op = event.OpDel
	default:
		return event.LinkEvent{}, false
	}
	return le, true
}

// ParseAddrUpdate extracts IFA_ADDRESS, prefix length and scope.
func ParseAddrUpdate(u netlink.AddrUpdate) (event.AddrEvent, bool) {
	addr, ok := netip.AddrFromSlice(u.LinkAddress.IP)
	if !ok {
		slog.Debug("address notification without IFA_ADDRESS, dropped", "index", u.LinkIndex)
		return event.AddrEvent{}, false
	}
	ones, _ := u.LinkAddress.Mask.Size()
	family := unix.AF_INET6
	if addr.Is4() || addr.Is4In6() {
		family = unix.AF_INET
		addr = addr.Unmap()
	}
	ae := event.AddrEvent{
		Op:        event.OpAdd,
		Index:     u.LinkIndex,
		Family:    family,
		Addr:      addr,
		PrefixLen: ones,
		Scope:     u.Scope,
	}
	if !u.NewAddr {
		ae.Op = event.OpDel
	}
	return ae, true
}

// ParseRouteUpdate extracts RTA_DST and the routing metadata.
func ParseRouteUpdate(u netlink.RouteUpdate) (event.RouteEvent, bool) {
	re := event.RouteEvent{
		Index:  u.LinkIndex,
		Family: u.Family,
		Table:  u.Table,
		Type:   u.Route.Type,
	}
	switch u.Type {
	case unix.RTM_NEWROUTE:
		re.Op = event.OpAdd
	case unix.RTM_DELROUTE:
		re.Op = event.OpDel
	default:
		return event.RouteEvent{}, false
	}
	if u.Dst != nil {
		p, ok := ipNetToPrefix(u.Dst)
		if !ok {
			slog.Debug("route notification with malformed RTA_DST, dropped")
			return event.RouteEvent{}, false
		}
		re.Dst = p
	} else if u.Family == unix.AF_INET6 {
		re.Dst = netip.PrefixFrom(netip.IPv6Unspecified(), 0)
	}
	if gw, ok := netip.AddrFromSlice(u.Gw); ok {
		re.Gw = gw.Unmap()
	}
	return re, true
}

func ipNetToPrefix(n *net.IPNet) (netip.Prefix, bool) {
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := n.Mask.Size()
	if bits == 0 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr.Unmap(), ones), true
}
