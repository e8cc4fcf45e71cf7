package remote

import (
	"context"

	"google.golang.org/grpc"

	"github.com/antonkrylov/termhost/internal/wire"
)

// Service and method names. Messages are encoded with the termwire codec.
const (
	TerminalServiceName = "termhost.v1.TerminalService"
	ControlServiceName  = "termhost.v1.ControlService"

	AttachMethod       = "/" + TerminalServiceName + "/Attach"
	PingMethod         = "/" + ControlServiceName + "/Ping"
	VersionMethod      = "/" + ControlServiceName + "/Version"
	ListServicesMethod = "/" + ControlServiceName + "/ListServices"
)

// Attach stream metadata keys.
const (
	MetadataServiceID  = "x-service-id"
	MetadataPersistent = "x-persistent"
)

// TerminalServer is the server side of the terminal service.
type TerminalServer interface {
	Attach(grpc.ServerStream) error
}

// ControlServer is the server side of the control service.
type ControlServer interface {
	Ping(context.Context, *wire.PingRequest) (*wire.PingReply, error)
	Version(context.Context, *wire.Empty) (*wire.VersionReply, error)
	ListServices(context.Context, *wire.Empty) (*wire.ServiceList, error)
}

// AttachStreamDesc describes the bidirectional Attach stream.
var AttachStreamDesc = grpc.StreamDesc{
	StreamName:    "Attach",
	ServerStreams: true,
	ClientStreams: true,
}

var terminalServiceDesc = grpc.ServiceDesc{
	ServiceName: TerminalServiceName,
	HandlerType: (*TerminalServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    AttachStreamDesc.StreamName,
		ServerStreams: true,
		ClientStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			return srv.(TerminalServer).Attach(stream)
		},
	}},
	Metadata: "termhost/v1/terminal.proto",
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ping",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(wire.PingRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req any) (any, error) {
					return srv.(ControlServer).Ping(ctx, req.(*wire.PingRequest))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: PingMethod}, call)
			},
		},
		{
			MethodName: "Version",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(wire.Empty)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req any) (any, error) {
					return srv.(ControlServer).Version(ctx, req.(*wire.Empty))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: VersionMethod}, call)
			},
		},
		{
			MethodName: "ListServices",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(wire.Empty)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req any) (any, error) {
					return srv.(ControlServer).ListServices(ctx, req.(*wire.Empty))
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ListServicesMethod}, call)
			},
		},
	},
	Metadata: "termhost/v1/control.proto",
}

// RegisterTerminalServer registers the terminal service on s.
func RegisterTerminalServer(s grpc.ServiceRegistrar, srv TerminalServer) {
	s.RegisterService(&terminalServiceDesc, srv)
}

// RegisterControlServer registers the control service on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&controlServiceDesc, srv)
}
