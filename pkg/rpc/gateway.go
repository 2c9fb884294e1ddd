package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/homegw/pkg/tunnel"
)

// GatewayService is the remote tunnel gateway service name.
const GatewayService = "homegw.v1.TunnelGateway"

var gatewayDesc = grpc.ServiceDesc{
	ServiceName: GatewayService,
	HandlerType: (*tunnel.Gateway)(nil),
	Methods: []grpc.MethodDesc{
		method(GatewayService, "Attach", func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			f := read(in)
			req := tunnel.AttachRequest{
				Type:      f.str("type"),
				TunnelID:  f.u32("tunnel_id"),
				SessionID: f.u32("session_id"),
				LocalIP:   f.addr("local_ip"),
				LocalPort: f.port("local_port"),
			}
			if err := f.err(); err != nil {
				return nil, err
			}
			peer, err := srv.(tunnel.Gateway).Attach(ctx, req)
			if err != nil {
				return nil, toStatus(err)
			}
			return structpb.NewStruct(map[string]any{
				"peer_ip":         peer.IP.String(),
				"peer_port":       peer.Port,
				"peer_tunnel_id":  peer.TunnelID,
				"peer_session_id": peer.SessionID,
			})
		}),
		method(GatewayService, "Detach", func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			f := read(in)
			typ, tid, sid := f.str("type"), f.u32("tunnel_id"), f.u32("session_id")
			if err := f.err(); err != nil {
				return nil, err
			}
			if err := srv.(tunnel.Gateway).Detach(ctx, typ, tid, sid); err != nil {
				return nil, toStatus(err)
			}
			return empty(), nil
		}),
	},
}

// RegisterGateway serves gw as the tunnel gateway service.
func RegisterGateway(s grpc.ServiceRegistrar, gw tunnel.Gateway) {
	s.RegisterService(&gatewayDesc, gw)
}

// GatewayClient calls a remote tunnel gateway.
type GatewayClient struct {
	cc grpc.ClientConnInterface
}

var _ tunnel.Gateway = (*GatewayClient)(nil)

// NewGatewayClient returns a client using cc.
func NewGatewayClient(cc grpc.ClientConnInterface) *GatewayClient {
	return &GatewayClient{cc: cc}
}

// Attach implements tunnel.Gateway.
func (c *GatewayClient) Attach(ctx context.Context, req tunnel.AttachRequest) (tunnel.Peer, error) {
	out, err := invoke(ctx, c.cc, GatewayService, "Attach", map[string]any{
		"type":       req.Type,
		"tunnel_id":  req.TunnelID,
		"session_id": req.SessionID,
		"local_ip":   req.LocalIP.String(),
		"local_port": req.LocalPort,
	})
	if err != nil {
		return tunnel.Peer{}, err
	}
	f := read(out)
	peer := tunnel.Peer{
		IP:        f.addr("peer_ip"),
		Port:      f.port("peer_port"),
		TunnelID:  f.u32("peer_tunnel_id"),
		SessionID: f.u32("peer_session_id"),
	}
	if err := f.err(); err != nil {
		return tunnel.Peer{}, err
	}
	return peer, nil
}

// Detach implements tunnel.Gateway.
func (c *GatewayClient) Detach(ctx context.Context, tunnelType string, tunnelID, sessionID uint32) error {
	_, err := invoke(ctx, c.cc, GatewayService, "Detach", map[string]any{
		"type":       tunnelType,
		"tunnel_id":  tunnelID,
		"session_id": sessionID,
	})
	return err
}
