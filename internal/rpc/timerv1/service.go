package timerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Fully-qualified method names, usable in interceptors and tests.
const (
	TimerServiceName                = "ctrlsys.timer.v1.TimerService"
	ControlPlaneServiceName         = "ctrlsys.timer.v1.ControlPlaneService"
	TimerServiceCheckTimer          = "/" + TimerServiceName + "/CheckTimer"
	TimerServiceStreamTimer         = "/" + TimerServiceName + "/StreamTimer"
	ControlPlaneReportTimerComplete = "/" + ControlPlaneServiceName + "/ReportTimerComplete"
)

// TimerServiceServer is implemented by a standalone timer job.
type TimerServiceServer interface {
	CheckTimer(context.Context, *CheckTimerRequest) (*CheckTimerResponse, error)
	StreamTimer(*StreamTimerRequest, grpc.ServerStreamingServer[StreamTimerResponse]) error
}

// TimerService_ServiceDesc describes TimerService for grpc.Server.RegisterService.
var TimerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: TimerServiceName,
	HandlerType: (*TimerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckTimer", Handler: checkTimerHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamTimer", Handler: streamTimerHandler, ServerStreams: true},
	},
	Metadata: "ctrlsys/timer/v1/timer.json",
}

// RegisterTimerServiceServer registers srv on s.
func RegisterTimerServiceServer(s grpc.ServiceRegistrar, srv TimerServiceServer) {
	s.RegisterService(&TimerService_ServiceDesc, srv)
}

func checkTimerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CheckTimerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TimerServiceServer).CheckTimer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TimerServiceCheckTimer}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TimerServiceServer).CheckTimer(ctx, req.(*CheckTimerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamTimerHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamTimerRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TimerServiceServer).StreamTimer(in, &grpc.GenericServerStream[StreamTimerRequest, StreamTimerResponse]{ServerStream: stream})
}

// TimerServiceClient talks to a standalone timer job.
type TimerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTimerServiceClient wraps cc. Every call uses the JSON codec.
func NewTimerServiceClient(cc grpc.ClientConnInterface) *TimerServiceClient {
	return &TimerServiceClient{cc: cc}
}

func (c *TimerServiceClient) CheckTimer(ctx context.Context, in *CheckTimerRequest, opts ...grpc.CallOption) (*CheckTimerResponse, error) {
	out := new(CheckTimerResponse)
	if err := c.cc.Invoke(ctx, TimerServiceCheckTimer, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamTimer opens a server stream. The first message is the current state.
func (c *TimerServiceClient) StreamTimer(ctx context.Context, in *StreamTimerRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[StreamTimerResponse], error) {
	stream, err := c.cc.NewStream(ctx, &TimerService_ServiceDesc.Streams[0], TimerServiceStreamTimer, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[StreamTimerRequest, StreamTimerResponse]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// ControlPlaneServiceServer is implemented by the control plane.
type ControlPlaneServiceServer interface {
	ReportTimerComplete(context.Context, *ReportTimerCompleteRequest) (*ReportTimerCompleteResponse, error)
}

// ControlPlaneService_ServiceDesc describes ControlPlaneService.
var ControlPlaneService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlPlaneServiceName,
	HandlerType: (*ControlPlaneServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReportTimerComplete", Handler: reportTimerCompleteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ctrlsys/timer/v1/timer.json",
}

// RegisterControlPlaneServiceServer registers srv on s.
func RegisterControlPlaneServiceServer(s grpc.ServiceRegistrar, srv ControlPlaneServiceServer) {
	s.RegisterService(&ControlPlaneService_ServiceDesc, srv)
}

func reportTimerCompleteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReportTimerCompleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlPlaneServiceServer).ReportTimerComplete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ControlPlaneReportTimerComplete}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControlPlaneServiceServer).ReportTimerComplete(ctx, req.(*ReportTimerCompleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ControlPlaneServiceClient is used by timer jobs to report completion.
type ControlPlaneServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewControlPlaneServiceClient(cc grpc.ClientConnInterface) *ControlPlaneServiceClient {
	return &ControlPlaneServiceClient{cc: cc}
}

func (c *ControlPlaneServiceClient) ReportTimerComplete(ctx context.Context, in *ReportTimerCompleteRequest, opts ...grpc.CallOption) (*ReportTimerCompleteResponse, error) {
	out := new(ReportTimerCompleteResponse)
	if err := c.cc.Invoke(ctx, ControlPlaneReportTimerComplete, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateTimerID checks a request id against the single timer a job serves.
func ValidateTimerID(requested, served string) error {
	if requested == "" {
		return status.Error(codes.InvalidArgument, "Timer ID cannot be empty")
	}
	if requested != served {
		return status.Errorf(codes.NotFound, "Timer ID '%s' not found. This service manages timer '%s'", requested, served)
	}
	return nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{CallOption()}, opts...)
}
