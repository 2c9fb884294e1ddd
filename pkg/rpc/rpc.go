// Package rpc carries the tunnel gateway, tunnel endpoint and status
// calls over gRPC. Messages are google.protobuf.Struct values so no
// generated code is needed.
package rpc

import (
	"context"
	"fmt"
	"math"
	"net/netip"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Dial connects to addr and blocks until the channel is ready or ctx
// ends. Extra options are appended to the insecure transport default.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	conn.Connect()
	for {
		s := conn.GetState()
		if s == connectivity.Ready {
			return conn, nil
		}
		if !conn.WaitForStateChange(ctx, s) {
			conn.Close()
			return nil, fmt.Errorf("connect to %s: %w (last state %s)", addr, ctx.Err(), s)
		}
	}
}

type unaryFunc func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// method adapts fn to a grpc.MethodDesc taking and returning Structs.
func method(service, name string, fn unaryFunc) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func invoke(ctx context.Context, cc grpc.ClientConnInterface, service, name string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", name, err)
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+service+"/"+name, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func empty() *structpb.Struct { return &structpb.Struct{} }

// fields wraps a Struct with typed accessors. The first decode failure
// is kept and reported by err.
type fields struct {
	s    *structpb.Struct
	fail error
}

func read(s *structpb.Struct) *fields { return &fields{s: s} }

func (f *fields) value(key string) *structpb.Value {
	if f.fail != nil {
		return nil
	}
	v, ok := f.s.GetFields()[key]
	if !ok {
		f.fail = fmt.Errorf("missing field %q", key)
		return nil
	}
	return v
}

func (f *fields) str(key string) string {
	v := f.value(key)
	if v == nil {
		return ""
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		f.fail = fmt.Errorf("field %q: want string", key)
		return ""
	}
	return s.StringValue
}

func (f *fields) num(key string, limit float64) float64 {
	v := f.value(key)
	if v == nil {
		return 0
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		f.fail = fmt.Errorf("field %q: want number", key)
		return 0
	}
	x := n.NumberValue
	if x < 0 || x > limit || x != math.Trunc(x) {
		f.fail = fmt.Errorf("field %q: %v out of range", key, x)
		return 0
	}
	return x
}

func (f *fields) u32(key string) uint32 { return uint32(f.num(key, math.MaxUint32)) }

func (f *fields) port(key string) int { return int(f.num(key, math.MaxUint16)) }

func (f *fields) addr(key string) netip.Addr {
	s := f.str(key)
	if f.fail != nil {
		return netip.Addr{}
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		f.fail = fmt.Errorf("field %q: %w", key, err)
	}
	return a
}

func (f *fields) prefix(key string) netip.Prefix {
	s := f.str(key)
	if f.fail != nil {
		return netip.Prefix{}
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		f.fail = fmt.Errorf("field %q: %w", key, err)
	}
	return p
}

// err returns the first decode failure as an InvalidArgument status.
func (f *fields) err() error {
	if f.fail == nil {
		return nil
	}
	return status.Error(codes.InvalidArgument, f.fail.Error())
}

// toStatus maps a collaborator error to a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Unavailable, err.Error())
}
