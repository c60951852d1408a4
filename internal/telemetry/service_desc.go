package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "projectilelab.v1.Telemetry"

// Fully qualified method names, usable in interceptors and clients.
const (
	MethodStreamFrames = "/" + ServiceName + "/StreamFrames"
	MethodStreamEvents = "/" + ServiceName + "/StreamEvents"
	MethodControl      = "/" + ServiceName + "/Control"
)

// TelemetryServer is the server API for the lab telemetry service.
type TelemetryServer interface {
	StreamFrames(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
	StreamEvents(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
	Control(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the telemetry service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Control", Handler: controlHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
		{StreamName: "StreamEvents", Handler: streamEventsHandler, ServerStreams: true},
	},
	Metadata: "projectilelab/v1/telemetry.proto",
}

// RegisterTelemetryServer attaches srv to the registrar.
func RegisterTelemetryServer(registrar grpc.ServiceRegistrar, srv TelemetryServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func controlHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).Control(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodControl}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).Control(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamFrames(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamEvents(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// Client is a thin client for the telemetry service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// StreamFrames opens the throttled telemetry stream.
func (c *Client) StreamFrames(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return c.openStream(ctx, &ServiceDesc.Streams[0], MethodStreamFrames, opts...)
}

// StreamEvents opens the event stream.
func (c *Client) StreamEvents(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	return c.openStream(ctx, &ServiceDesc.Streams[1], MethodStreamEvents, opts...)
}

// Control sends one command.
func (c *Client) Control(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodControl, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) openStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
