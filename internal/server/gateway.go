package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "skillgate.v1.Gateway"

// Full method names.
const (
	SubmitMethod       = "/" + ServiceName + "/Submit"
	UndoMethod         = "/" + ServiceName + "/Undo"
	CapabilitiesMethod = "/" + ServiceName + "/Capabilities"
	StatusMethod       = "/" + ServiceName + "/Status"
	PrivilegedMethod   = "/" + ServiceName + "/SetPrivileged"
	WatchMethod        = "/" + ServiceName + "/Watch"
)

// GatewayServer is the server side of skillgate.v1.Gateway. Every message
// is a google.protobuf.Struct so clients need no generated code.
type GatewayServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Undo(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Capabilities(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPrivileged(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterGatewayServer registers srv on s.
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unary(SubmitMethod, GatewayServer.Submit)},
		{MethodName: "Undo", Handler: unary(UndoMethod, GatewayServer.Undo)},
		{MethodName: "Capabilities", Handler: unary(CapabilitiesMethod, GatewayServer.Capabilities)},
		{MethodName: "Status", Handler: unary(StatusMethod, GatewayServer.Status)},
		{MethodName: "SetPrivileged", Handler: unary(PrivilegedMethod, GatewayServer.SetPrivileged)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "skillgate/v1/gateway.proto",
}

type unaryMethod func(GatewayServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GatewayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GatewayServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(GatewayServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// GatewayClient calls skillgate.v1.Gateway.
type GatewayClient struct {
	cc grpc.ClientConnInterface
}

// NewGatewayClient wraps cc.
func NewGatewayClient(cc grpc.ClientConnInterface) *GatewayClient {
	return &GatewayClient{cc: cc}
}

// Submit invokes a capability.
func (c *GatewayClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, SubmitMethod, in, opts...)
}

// Undo reverses a recorded action.
func (c *GatewayClient) Undo(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, UndoMethod, in, opts...)
}

// Capabilities lists registered capabilities.
func (c *GatewayClient) Capabilities(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, CapabilitiesMethod, in, opts...)
}

// Status returns the policy in effect.
func (c *GatewayClient) Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, StatusMethod, in, opts...)
}

// SetPrivileged toggles privileged mode.
func (c *GatewayClient) SetPrivileged(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, PrivilegedMethod, in, opts...)
}

// Watch streams audit entries as they are recorded.
func (c *GatewayClient) Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &gatewayServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *GatewayClient) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// toStruct converts any JSON-encodable value to a Struct. Values pass
// through encoding/json first because structpb only accepts generic maps
// and slices.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode struct: %w", err)
	}
	return structpb.NewStruct(m)
}
