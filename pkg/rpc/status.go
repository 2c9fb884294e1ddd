package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusService is the daemon's status service name.
const StatusService = "homegw.v1.Status"

type statusSource interface {
	snapshot() (*structpb.Struct, error)
}

type statusServer struct {
	fn func() any
}

// snapshot renders the value returned by fn through its JSON form.
func (s statusServer) snapshot() (*structpb.Struct, error) {
	data, err := json.Marshal(s.fn())
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert status: %w", err)
	}
	return out, nil
}

var statusDesc = grpc.ServiceDesc{
	ServiceName: StatusService,
	HandlerType: (*statusSource)(nil),
	Methods: []grpc.MethodDesc{
		method(StatusService, "GetStatus", func(srv any, _ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			st, err := srv.(statusSource).snapshot()
			if err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			section := in.GetFields()["section"].GetStringValue()
			if section == "" {
				return st, nil
			}
			v, ok := st.GetFields()[section]
			if !ok {
				return nil, status.Errorf(codes.NotFound, "unknown status section %q", section)
			}
			return &structpb.Struct{Fields: map[string]*structpb.Value{section: v}}, nil
		}),
	},
}

// RegisterStatus serves the value returned by snapshot, which must
// marshal to a JSON object.
func RegisterStatus(s grpc.ServiceRegistrar, snapshot func() any) {
	s.RegisterService(&statusDesc, statusServer{fn: snapshot})
}

// StatusClient reads a daemon's status.
type StatusClient struct {
	cc grpc.ClientConnInterface
}

// NewStatusClient returns a client using cc.
func NewStatusClient(cc grpc.ClientConnInterface) *StatusClient {
	return &StatusClient{cc: cc}
}

// GetStatus returns the whole snapshot, or only section when non-empty.
func (c *StatusClient) GetStatus(ctx context.Context, section string) (*structpb.Struct, error) {
	req := map[string]any{}
	if section != "" {
		req["section"] = section
	}
	return invoke(ctx, c.cc, StatusService, "GetStatus", req)
}
