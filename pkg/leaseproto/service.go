package leaseproto

import (
	"context"

	"google.golang.org/grpc"
)

// LeaseServiceServer is implemented by the control plane's lease service.
type LeaseServiceServer interface {
	Pull(*PullRequest, LeaseService_PullServer) error
	Ack(context.Context, *AckRequest) (*AckResponse, error)
	Complete(context.Context, *CompleteRequest) (*CompleteResponse, error)
	Fail(context.Context, *FailRequest) (*FailResponse, error)
}

// LeaseService_PullServer is the server-side handle for a Pull stream.
type LeaseService_PullServer interface {
	Send(*LeaseMessage) error
	grpc.ServerStream
}

type leaseServicePullServer struct {
	grpc.ServerStream
}

func (x *leaseServicePullServer) Send(m *LeaseMessage) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterLeaseServiceServer wires srv into s under the LeaseService name.
func RegisterLeaseServiceServer(s grpc.ServiceRegistrar, srv LeaseServiceServer) {
	s.RegisterService(&LeaseService_ServiceDesc, srv)
}

func _LeaseService_Pull_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(PullRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(LeaseServiceServer).Pull(m, &leaseServicePullServer{stream})
}

func _LeaseService_Ack_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LeaseServiceServer).Ack(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/leaseproto.LeaseService/Ack"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LeaseServiceServer).Ack(ctx, req.(*AckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _LeaseService_Complete_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CompleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LeaseServiceServer).Complete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/leaseproto.LeaseService/Complete"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LeaseServiceServer).Complete(ctx, req.(*CompleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _LeaseService_Fail_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FailRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LeaseServiceServer).Fail(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/leaseproto.LeaseService/Fail"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LeaseServiceServer).Fail(ctx, req.(*FailRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// LeaseService_ServiceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc
// plugin would normally emit for this service.
var LeaseService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "leaseproto.LeaseService",
	HandlerType: (*LeaseServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ack", Handler: _LeaseService_Ack_Handler},
		{MethodName: "Complete", Handler: _LeaseService_Complete_Handler},
		{MethodName: "Fail", Handler: _LeaseService_Fail_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Pull", Handler: _LeaseService_Pull_Handler, ServerStreams: true},
	},
	Metadata: "leaseproto/lease_service.go",
}

// LeaseServiceClient is the worker-side stub for the lease service.
type LeaseServiceClient interface {
	Pull(ctx context.Context, in *PullRequest, opts ...grpc.CallOption) (LeaseService_PullClient, error)
	Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error)
	Complete(ctx context.Context, in *CompleteRequest, opts ...grpc.CallOption) (*CompleteResponse, error)
	Fail(ctx context.Context, in *FailRequest, opts ...grpc.CallOption) (*FailResponse, error)
}

type leaseServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLeaseServiceClient wraps cc with the LeaseService stub.
func NewLeaseServiceClient(cc grpc.ClientConnInterface) LeaseServiceClient {
	return &leaseServiceClient{cc}
}

// LeaseService_PullClient is the client-side handle for a Pull stream.
type LeaseService_PullClient interface {
	Recv() (*LeaseMessage, error)
	grpc.ClientStream
}

type leaseServicePullClient struct {
	grpc.ClientStream
}

func (x *leaseServicePullClient) Recv() (*LeaseMessage, error) {
	m := new(LeaseMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *leaseServiceClient) Pull(ctx context.Context, in *PullRequest, opts ...grpc.CallOption) (LeaseService_PullClient, error) {
	stream, err := c.cc.NewStream(ctx, &LeaseService_ServiceDesc.Streams[0], "/leaseproto.LeaseService/Pull", opts...)
	if err != nil {
		return nil, err
	}
	x := &leaseServicePullClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *leaseServiceClient) Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*AckResponse, error) {
	out := new(AckResponse)
	if err := c.cc.Invoke(ctx, "/leaseproto.LeaseService/Ack", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *leaseServiceClient) Complete(ctx context.Context, in *CompleteRequest, opts ...grpc.CallOption) (*CompleteResponse, error) {
	out := new(CompleteResponse)
	if err := c.cc.Invoke(ctx, "/leaseproto.LeaseService/Complete", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *leaseServiceClient) Fail(ctx context.Context, in *FailRequest, opts ...grpc.CallOption) (*FailResponse, error) {
	out := new(FailResponse)
	if err := c.cc.Invoke(ctx, "/leaseproto.LeaseService/Fail", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
