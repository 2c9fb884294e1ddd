// Package netcfg applies link state, addresses and routes to kernel
// interfaces via netlink.
package netcfg

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vishvananda/netlink"
)

// DefaultSysctlRoot is where per-interface IPv6 tunables live.
const DefaultSysctlRoot = "/proc/sys"

// Accept-RA values for net.ipv6.conf.<dev>.accept_ra.
const (
	AcceptRAOff    = 0
	AcceptRAOn     = 1
	AcceptRAAlways = 2
)

// Configurator changes kernel network state. Callers never assume a
// change took effect; the kernel notification that follows is the
// source of truth.
type Configurator interface {
	SetLinkState(dev string, up bool) error
	SetAcceptRA(dev string, value int) error
	FlushAddresses(dev string) error
	AddAddress(dev string, addr netip.Prefix) error
	DelAddress(dev string, addr netip.Prefix) error
	AddDefaultRoute(dev string, via netip.Addr) error
	DelDefaultRoute(dev string, via netip.Addr) error
}

// Netlink is the netlink-backed Configurator.
type Netlink struct {
	nlHandle   *netlink.Handle
	sysctlRoot string
}

// New opens a netlink handle. sysctlRoot defaults to /proc/sys.
func New(sysctlRoot string) (*Netlink, error) {
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	if sysctlRoot == "" {
		sysctlRoot = DefaultSysctlRoot
	}
	return &Netlink{nlHandle: h, sysctlRoot: sysctlRoot}, nil
}

// Close releases the netlink handle.
func (n *Netlink) Close() {
	if n.nlHandle != nil {
		n.nlHandle.Close()
	}
}

// SetLinkState brings dev up or down.
func (n *Netlink) SetLinkState(dev string, up bool) error {
	link, err := n.nlHandle.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", dev, err)
	}
	if up {
		err = n.nlHandle.LinkSetUp(link)
	} else {
		err = n.nlHandle.LinkSetDown(link)
	}
	if err != nil {
		return fmt.Errorf("set %s up=%t: %w", dev, up, err)
	}
	slog.Debug("link state set", "dev", dev, "up", up)
	return nil
}

// SetAcceptRA writes net.ipv6.conf.<dev>.accept_ra.
func (n *Netlink) SetAcceptRA(dev string, value int) error {
	return WriteAcceptRA(n.sysctlRoot, dev, value)
}

// WriteAcceptRA writes the accept_ra tunable for dev under root.
func WriteAcceptRA(root, dev string, value int) error {
	if value < AcceptRAOff || value > AcceptRAAlways {
		return fmt.Errorf("accept_ra %d out of range", value)
	}
	path := filepath.Join(root, "net", "ipv6", "conf", dev, "accept_ra")
	if err := os.WriteFile(path, []byte(strconv.Itoa(value)+"\n"), 0644); err != nil {
		return fmt.Errorf("accept_ra %s: %w", dev, err)
	}
	return nil
}

// FlushAddresses removes every IPv6 address from dev.
func (n *Netlink) FlushAddresses(dev string) error {
	link, err := n.nlHandle.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", dev, err)
	}
	addrs, err := n.nlHandle.AddrList(link, netlink.FAMILY_V6)
	if err != nil {
		return fmt.Errorf("addr list %s: %w", dev, err)
	}
	var firstErr error
	for i := range addrs {
		if err := n.nlHandle.AddrDel(link, &addrs[i]); err != nil {
			slog.Warn("addr flush: delete failed", "dev", dev, "addr", addrs[i].IPNet, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	slog.Debug("addresses flushed", "dev", dev, "count", len(addrs))
	return firstErr
}

// AddAddress adds addr to dev. An address that is already present is
// replaced, so repeating the call is not an error.
func (n *Netlink) AddAddress(dev string, addr netip.Prefix) error {
	link, err := n.nlHandle.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", dev, err)
	}
	if err := n.nlHandle.AddrReplace(link, &netlink.Addr{IPNet: prefixToIPNet(addr)}); err != nil {
		return fmt.Errorf("addr add %s dev %s: %w", addr, dev, err)
	}
	slog.Info("address added", "dev", dev, "addr", addr)
	return nil
}

// DelAddress removes addr from dev.
func (n *Netlink) DelAddress(dev string, addr netip.Prefix) error {
	link, err := n.nlHandle.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", dev, err)
	}
	if err := n.nlHandle.AddrDel(link, &netlink.Addr{IPNet: prefixToIPNet(addr)}); err != nil {
		return fmt.Errorf("addr del %s dev %s: %w", addr, dev, err)
	}
	slog.Info("address removed", "dev", dev, "addr", addr)
	return nil
}

// AddDefaultRoute installs ::/0 via the given gateway on dev.
func (n *Netlink) AddDefaultRoute(dev string, via netip.Addr) error {
	link, err := n.nlHandle.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", dev, err)
	}
	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)},
		Gw:        net.IP(via.AsSlice()),
	}
	if err := n.nlHandle.RouteReplace(route); err != nil {
		return fmt.Errorf("default route via %s dev %s: %w", via, dev, err)
	}
	slog.Info("default route installed", "dev", dev, "via", via)
	return nil
}

// DelDefaultRoute removes ::/0 via the given gateway from dev.
func (n *Netlink) DelDefaultRoute(dev string, via netip.Addr) error {
	link, err := n.nlHandle.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("link lookup %s: %w", dev, err)
	}
	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       &net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)},
		Gw:        net.IP(via.AsSlice()),
	}
	if err := n.nlHandle.RouteDel(route); err != nil {
		return fmt.Errorf("delete default route via %s dev %s: %w", via, dev, err)
	}
	slog.Info("default route removed", "dev", dev, "via", via)
	return nil
}

// prefixToIPNet converts netip.Prefix to *net.IPNet, keeping host bits.
func prefixToIPNet(p netip.Prefix) *net.IPNet {
	addr := p.Addr()
	bits := p.Bits()
	if addr.Is4() {
		return &net.IPNet{
			IP:   addr.AsSlice(),
			Mask: net.CIDRMask(bits, 32),
		}
	}
	return &net.IPNet{
		IP:   addr.AsSlice(),
		Mask: net.CIDRMask(bits, 128),
	}
}
