// Package tunnel keeps one L2TP tunnel per delegated client address,
// negotiated with a remote gateway and realised by a local endpoint.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strconv"

	"github.com/psaab/homegw/pkg/prefix"
)

// ErrAttachFailed is returned when a tunnel could not be established.
// No tunnel record is left behind in that case.
var ErrAttachFailed = errors.New("tunnel attach failed")

// Defaults for Options.
const (
	DefaultType           = "l2tp"
	DefaultUDPPort        = 6000
	DefaultFirstTunnelID  = 10
	DefaultFirstSessionID = 1
	DevPrefix             = "l2tpeth"
)

// Host suffixes within a delegated /64.
const (
	RouterSuffix = 1
	ClientSuffix = 2
)

// AttachRequest is sent to the remote gateway.
type AttachRequest struct {
	Type      string
	TunnelID  uint32
	SessionID uint32
	LocalIP   netip.Addr
	LocalPort int
}

// Peer is the remote gateway's side of a tunnel.
type Peer struct {
	IP        netip.Addr
	Port      int
	TunnelID  uint32
	SessionID uint32
}

// Gateway is the remote tunnel gateway.
type Gateway interface {
	Attach(ctx context.Context, req AttachRequest) (Peer, error)
	Detach(ctx context.Context, tunnelType string, tunnelID, sessionID uint32) error
}

// TunnelSpec describes the local half of a tunnel.
type TunnelSpec struct {
	ID        uint32
	PeerID    uint32
	Local     netip.Addr
	Peer      netip.Addr
	LocalPort int
	PeerPort  int
}

// Endpoint creates tunnels and sessions on this host.
type Endpoint interface {
	CreateTunnel(ctx context.Context, spec TunnelSpec) error
	DestroyTunnel(ctx context.Context, id uint32) error
	CreateSession(ctx context.Context, name string, tunnelID, sessionID, peerSessionID uint32) error
	DestroySession(ctx context.Context, tunnelID, sessionID uint32) error
	ConfigureClient(ctx context.Context, dev string, addr netip.Prefix, router netip.Addr) error
	UnconfigureClient(ctx context.Context, dev string, addr netip.Prefix, router netip.Addr) error
}

// Tunnel is an established tunnel.
type Tunnel struct {
	Devname   string
	Type      string
	Subprefix prefix.Prefix
	ClientIP  netip.Addr
	RouterIP  netip.Addr
	TunnelID  uint32
	SessionID uint32
	LocalPort int
	Peer      Peer
}

// Options configure an Orchestrator.
type Options struct {
	Type           string
	ClientDevice   string
	UDPPort        int
	FirstTunnelID  uint32
	FirstSessionID uint32
}

// Orchestrator owns the tunnel table. It is driven only from the
// controller loop.
type Orchestrator struct {
	opts     Options
	gateway  Gateway
	endpoint Endpoint

	nextTunnelID  uint32
	nextSessionID uint32
	tunnels       []Tunnel
}

// New creates an Orchestrator.
func New(opts Options, gw Gateway, ep Endpoint) *Orchestrator {
	if opts.Type == "" {
		opts.Type = DefaultType
	}
	if opts.UDPPort == 0 {
		opts.UDPPort = DefaultUDPPort
	}
	if opts.FirstTunnelID == 0 {
		opts.FirstTunnelID = DefaultFirstTunnelID
	}
	if opts.FirstSessionID == 0 {
		opts.FirstSessionID = DefaultFirstSessionID
	}
	return &Orchestrator{
		opts:          opts,
		gateway:       gw,
		endpoint:      ep,
		nextTunnelID:  opts.FirstTunnelID,
		nextSessionID: opts.FirstSessionID,
	}
}

// Find returns the tunnel owned by client IP ip.
func (o *Orchestrator) Find(ip netip.Addr) (Tunnel, bool) {
	i := o.index(ip)
	if i < 0 {
		return Tunnel{}, false
	}
	return o.tunnels[i], true
}

// Tunnels returns a copy of the tunnel table.
func (o *Orchestrator) Tunnels() []Tunnel { return slices.Clone(o.tunnels) }

func (o *Orchestrator) index(ip netip.Addr) int {
	return slices.IndexFunc(o.tunnels, func(t Tunnel) bool { return t.ClientIP == ip })
}

func clientPrefix(sub prefix.Prefix) netip.Prefix {
	return netip.PrefixFrom(sub.Host(ClientSuffix), prefix.SubnetBits)
}

// Attach establishes the tunnel for the /64 sub. Attaching a sub-prefix
// whose client address already owns a tunnel does nothing.
func (o *Orchestrator) Attach(ctx context.Context, sub prefix.Prefix) error {
	clientIP := sub.Host(ClientSuffix)
	routerIP := sub.Host(RouterSuffix)
	if _, ok := o.Find(clientIP); ok {
		slog.Debug("tunnel already attached", "client", clientIP)
		return nil
	}

	if o.opts.ClientDevice != "" {
		if err := o.endpoint.ConfigureClient(ctx, o.opts.ClientDevice, clientPrefix(sub), routerIP); err != nil {
			slog.Warn("tunnel client addressing failed", "dev", o.opts.ClientDevice, "client", clientIP, "err", err)
		}
	}

	tid := o.nextTunnelID
	sid := o.nextSessionID
	o.nextTunnelID++
	o.nextSessionID++
	t := Tunnel{
		Devname:   DevPrefix + strconv.FormatUint(uint64(tid), 10),
		Type:      o.opts.Type,
		Subprefix: sub,
		ClientIP:  clientIP,
		RouterIP:  routerIP,
		TunnelID:  tid,
		SessionID: sid,
		LocalPort: o.opts.UDPPort,
	}

	peer, err := o.gateway.Attach(ctx, AttachRequest{
		Type:      t.Type,
		TunnelID:  tid,
		SessionID: sid,
		LocalIP:   clientIP,
		LocalPort: t.LocalPort,
	})
	if err != nil {
		o.unconfigureClient(ctx, sub)
		return fmt.Errorf("%w: remote attach for %s: %w", ErrAttachFailed, clientIP, err)
	}
	t.Peer = peer

	if err := o.endpoint.CreateTunnel(ctx, TunnelSpec{
		ID:        tid,
		PeerID:    peer.TunnelID,
		Local:     clientIP,
		Peer:      peer.IP,
		LocalPort: t.LocalPort,
		PeerPort:  peer.Port,
	}); err != nil {
		o.remoteDetach(ctx, t)
		o.unconfigureClient(ctx, sub)
		return fmt.Errorf("%w: create tunnel %d: %w", ErrAttachFailed, tid, err)
	}
	if err := o.endpoint.CreateSession(ctx, t.Devname, tid, sid, peer.SessionID); err != nil {
		if derr := o.endpoint.DestroyTunnel(ctx, tid); derr != nil {
			slog.Warn("tunnel rollback: destroy tunnel failed", "tunnel_id", tid, "err", derr)
		}
		o.remoteDetach(ctx, t)
		o.unconfigureClient(ctx, sub)
		return fmt.Errorf("%w: create session %d/%d: %w", ErrAttachFailed, tid, sid, err)
	}

	o.tunnels = append(o.tunnels, t)
	slog.Info("tunnel attached",
		"dev", t.Devname, "client", clientIP,
		"tunnel_id", tid, "session_id", sid,
		"peer", peer.IP, "peer_tunnel_id", peer.TunnelID, "peer_session_id", peer.SessionID)
	return nil
}

// Detach tears down the tunnel for the /64 sub, if there is one. The
// record is removed even if parts of the teardown fail.
func (o *Orchestrator) Detach(ctx context.Context, sub prefix.Prefix) error {
	clientIP := sub.Host(ClientSuffix)
	i := o.index(clientIP)
	if i < 0 {
		slog.Debug("no tunnel for client", "client", clientIP)
		return nil
	}
	t := o.tunnels[i]
	o.tunnels = slices.Delete(o.tunnels, i, i+1)
	return o.teardown(ctx, t)
}

// DetachAll tears down every tunnel.
func (o *Orchestrator) DetachAll(ctx context.Context) error {
	var errs []error
	for _, t := range o.tunnels {
		errs = append(errs, o.teardown(ctx, t))
	}
	o.tunnels = nil
	return errors.Join(errs...)
}

func (o *Orchestrator) teardown(ctx context.Context, t Tunnel) error {
	var errs []error
	if err := o.gateway.Detach(ctx, t.Type, t.TunnelID, t.SessionID); err != nil {
		errs = append(errs, fmt.Errorf("remote detach %d/%d: %w", t.TunnelID, t.SessionID, err))
	}
	if err := o.endpoint.DestroySession(ctx, t.TunnelID, t.SessionID); err != nil {
		errs = append(errs, fmt.Errorf("destroy session %d/%d: %w", t.TunnelID, t.SessionID, err))
	}
	if err := o.endpoint.DestroyTunnel(ctx, t.TunnelID); err != nil {
		errs = append(errs, fmt.Errorf("destroy tunnel %d: %w", t.TunnelID, err))
	}
	o.unconfigureClient(ctx, t.Subprefix)
	slog.Info("tunnel detached", "dev", t.Devname, "client", t.ClientIP, "tunnel_id", t.TunnelID)
	return errors.Join(errs...)
}

func (o *Orchestrator) remoteDetach(ctx context.Context, t Tunnel) {
	if err := o.gateway.Detach(ctx, t.Type, t.TunnelID, t.SessionID); err != nil {
		slog.Warn("tunnel rollback: remote detach failed", "tunnel_id", t.TunnelID, "err", err)
	}
}

func (o *Orchestrator) unconfigureClient(ctx context.Context, sub prefix.Prefix) {
	if o.opts.ClientDevice == "" {
		return
	}
	if err := o.endpoint.UnconfigureClient(ctx, o.opts.ClientDevice, clientPrefix(sub), sub.Host(RouterSuffix)); err != nil {
		slog.Warn("tunnel client unaddressing failed", "dev", o.opts.ClientDevice, "err", err)
	}
}
