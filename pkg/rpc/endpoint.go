package rpc

import (
	"context"
	"net/netip"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/homegw/pkg/tunnel"
)

// EndpointService is the local tunnel endpoint service name.
const EndpointService = "homegw.v1.TunnelEndpoint"

func endpointMethod(name string, call func(ep tunnel.Endpoint, ctx context.Context, f *fields) error) grpc.MethodDesc {
	return method(EndpointService, name, func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		if err := call(srv.(tunnel.Endpoint), ctx, read(in)); err != nil {
			return nil, toStatus(err)
		}
		return empty(), nil
	})
}

var endpointDesc = grpc.ServiceDesc{
	ServiceName: EndpointService,
	HandlerType: (*tunnel.Endpoint)(nil),
	Methods: []grpc.MethodDesc{
		endpointMethod("CreateTunnel", func(ep tunnel.Endpoint, ctx context.Context, f *fields) error {
			spec := tunnel.TunnelSpec{
				ID:        f.u32("tunnel_id"),
				PeerID:    f.u32("peer_tunnel_id"),
				Local:     f.addr("local_addr"),
				Peer:      f.addr("peer_addr"),
				LocalPort: f.port("local_port"),
				PeerPort:  f.port("peer_port"),
			}
			if err := f.err(); err != nil {
				return err
			}
			return ep.CreateTunnel(ctx, spec)
		}),
		endpointMethod("DestroyTunnel", func(ep tunnel.Endpoint, ctx context.Context, f *fields) error {
			tid := f.u32("tunnel_id")
			if err := f.err(); err != nil {
				return err
			}
			return ep.DestroyTunnel(ctx, tid)
		}),
		endpointMethod("CreateSession", func(ep tunnel.Endpoint, ctx context.Context, f *fields) error {
			name := f.str("name")
			tid, sid, psid := f.u32("tunnel_id"), f.u32("session_id"), f.u32("peer_session_id")
			if err := f.err(); err != nil {
				return err
			}
			return ep.CreateSession(ctx, name, tid, sid, psid)
		}),
		endpointMethod("DestroySession", func(ep tunnel.Endpoint, ctx context.Context, f *fields) error {
			tid, sid := f.u32("tunnel_id"), f.u32("session_id")
			if err := f.err(); err != nil {
				return err
			}
			return ep.DestroySession(ctx, tid, sid)
		}),
		endpointMethod("ConfigureClient", func(ep tunnel.Endpoint, ctx context.Context, f *fields) error {
			dev, addr, router := f.str("dev"), f.prefix("addr"), f.addr("router")
			if err := f.err(); err != nil {
				return err
			}
			return ep.ConfigureClient(ctx, dev, addr, router)
		}),
		endpointMethod("UnconfigureClient", func(ep tunnel.Endpoint, ctx context.Context, f *fields) error {
			dev, addr, router := f.str("dev"), f.prefix("addr"), f.addr("router")
			if err := f.err(); err != nil {
				return err
			}
			return ep.UnconfigureClient(ctx, dev, addr, router)
		}),
	},
}

// RegisterEndpoint serves ep as the tunnel endpoint service.
func RegisterEndpoint(s grpc.ServiceRegistrar, ep tunnel.Endpoint) {
	s.RegisterService(&endpointDesc, ep)
}

// EndpointClient calls a tunnel endpoint agent.
type EndpointClient struct {
	cc grpc.ClientConnInterface
}

var _ tunnel.Endpoint = (*EndpointClient)(nil)

// NewEndpointClient returns a client using cc.
func NewEndpointClient(cc grpc.ClientConnInterface) *EndpointClient {
	return &EndpointClient{cc: cc}
}

func (c *EndpointClient) call(ctx context.Context, name string, fields map[string]any) error {
	_, err := invoke(ctx, c.cc, EndpointService, name, fields)
	return err
}

// CreateTunnel implements tunnel.Endpoint.
func (c *EndpointClient) CreateTunnel(ctx context.Context, s tunnel.TunnelSpec) error {
	return c.call(ctx, "CreateTunnel", map[string]any{
		"tunnel_id":      s.ID,
		"peer_tunnel_id": s.PeerID,
		"local_addr":     s.Local.String(),
		"peer_addr":      s.Peer.String(),
		"local_port":     s.LocalPort,
		"peer_port":      s.PeerPort,
	})
}

// DestroyTunnel implements tunnel.Endpoint.
func (c *EndpointClient) DestroyTunnel(ctx context.Context, tunnelID uint32) error {
	return c.call(ctx, "DestroyTunnel", map[string]any{"tunnel_id": tunnelID})
}

// CreateSession implements tunnel.Endpoint.
func (c *EndpointClient) CreateSession(ctx context.Context, name string, tunnelID, sessionID, peerSessionID uint32) error {
	return c.call(ctx, "CreateSession", map[string]any{
		"name":            name,
		"tunnel_id":       tunnelID,
		"session_id":      sessionID,
		"peer_session_id": peerSessionID,
	})
}

// DestroySession implements tunnel.Endpoint.
func (c *EndpointClient) DestroySession(ctx context.Context, tunnelID, sessionID uint32) error {
	return c.call(ctx, "DestroySession", map[string]any{
		"tunnel_id":  tunnelID,
		"session_id": sessionID,
	})
}

// ConfigureClient implements tunnel.Endpoint.
func (c *EndpointClient) ConfigureClient(ctx context.Context, dev string, addr netip.Prefix, router netip.Addr) error {
	return c.call(ctx, "ConfigureClient", map[string]any{
		"dev":    dev,
		"addr":   addr.String(),
		"router": router.String(),
	})
}

// UnconfigureClient implements tunnel.Endpoint.
func (c *EndpointClient) UnconfigureClient(ctx context.Context, dev string, addr netip.Prefix, router netip.Addr) error {
	return c.call(ctx, "UnconfigureClient", map[string]any{
		"dev":    dev,
		"addr":   addr.String(),
		"router": router.String(),
	})
}
