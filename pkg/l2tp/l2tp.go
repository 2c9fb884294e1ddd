// Package l2tp is the local tunnel endpoint: L2TPv3 tunnels and sessions
// created with the ip utility, plus client addressing over netlink.
package l2tp

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"

	"github.com/psaab/homegw/pkg/netcfg"
	"github.com/psaab/homegw/pkg/proc"
	"github.com/psaab/homegw/pkg/tunnel"
)

// DefaultIP is the iproute2 binary.
const DefaultIP = "/sbin/ip"

// Endpoint implements tunnel.Endpoint on the local host.
type Endpoint struct {
	ip     string
	runner proc.Runner
	net    netcfg.Configurator
}

var _ tunnel.Endpoint = (*Endpoint)(nil)

// New creates an Endpoint. ipBinary defaults to /sbin/ip.
func New(ipBinary string, runner proc.Runner, nc netcfg.Configurator) *Endpoint {
	if ipBinary == "" {
		ipBinary = DefaultIP
	}
	return &Endpoint{ip: ipBinary, runner: runner, net: nc}
}

func id(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

// TunnelArgs returns the ip arguments creating a UDP encapsulated tunnel.
func TunnelArgs(s tunnel.TunnelSpec) []string {
	return []string{
		"l2tp", "add", "tunnel",
		"tunnel_id", id(s.ID),
		"peer_tunnel_id", id(s.PeerID),
		"encap", "udp",
		"local", s.Local.String(),
		"remote", s.Peer.String(),
		"udp_sport", strconv.Itoa(s.LocalPort),
		"udp_dport", strconv.Itoa(s.PeerPort),
	}
}

// SessionArgs returns the ip arguments creating a session device.
func SessionArgs(name string, tunnelID, sessionID, peerSessionID uint32) []string {
	return []string{
		"l2tp", "add", "session",
		"name", name,
		"tunnel_id", id(tunnelID),
		"session_id", id(sessionID),
		"peer_session_id", id(peerSessionID),
	}
}

// CreateTunnel implements tunnel.Endpoint.
func (e *Endpoint) CreateTunnel(ctx context.Context, s tunnel.TunnelSpec) error {
	if _, err := e.runner.Output(ctx, e.ip, TunnelArgs(s)...); err != nil {
		return err
	}
	slog.Info("l2tp tunnel created", "tunnel_id", s.ID, "peer_tunnel_id", s.PeerID, "remote", s.Peer)
	return nil
}

// DestroyTunnel implements tunnel.Endpoint.
func (e *Endpoint) DestroyTunnel(ctx context.Context, tunnelID uint32) error {
	_, err := e.runner.Output(ctx, e.ip, "l2tp", "del", "tunnel", "tunnel_id", id(tunnelID))
	return err
}

// CreateSession implements tunnel.Endpoint. The session device is
// brought up once created.
func (e *Endpoint) CreateSession(ctx context.Context, name string, tunnelID, sessionID, peerSessionID uint32) error {
	if _, err := e.runner.Output(ctx, e.ip, SessionArgs(name, tunnelID, sessionID, peerSessionID)...); err != nil {
		return err
	}
	if err := e.net.SetLinkState(name, true); err != nil {
		return fmt.Errorf("session %s up: %w", name, err)
	}
	slog.Info("l2tp session created", "dev", name, "tunnel_id", tunnelID, "session_id", sessionID)
	return nil
}

// DestroySession implements tunnel.Endpoint.
func (e *Endpoint) DestroySession(ctx context.Context, tunnelID, sessionID uint32) error {
	_, err := e.runner.Output(ctx, e.ip, "l2tp", "del", "session",
		"tunnel_id", id(tunnelID), "session_id", id(sessionID))
	return err
}

// ConfigureClient implements tunnel.Endpoint.
func (e *Endpoint) ConfigureClient(_ context.Context, dev string, addr netip.Prefix, router netip.Addr) error {
	if err := e.net.AddAddress(dev, addr); err != nil {
		return err
	}
	return e.net.AddDefaultRoute(dev, router)
}

// UnconfigureClient implements tunnel.Endpoint.
func (e *Endpoint) UnconfigureClient(_ context.Context, dev string, addr netip.Prefix, router netip.Addr) error {
	if err := e.net.DelDefaultRoute(dev, router); err != nil {
		slog.Debug("client default route already gone", "dev", dev, "err", err)
	}
	return e.net.DelAddress(dev, addr)
}
