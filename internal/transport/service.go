package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

const ServiceName = "balancer.Spine"

const (
	infoMethod  = "/" + ServiceName + "/Info"
	resetMethod = "/" + ServiceName + "/Reset"
	stepMethod  = "/" + ServiceName + "/Step"
)

type InfoRequest struct{}

type InfoResponse struct {
	Dt float64 `json:"dt"`
}

type ResetRequest struct{}

type ResetResponse struct {
	Observation spine.Observation `json:"observation"`
}

type StepRequest struct {
	Action spine.Action `json:"action"`
}

type StepResponse struct {
	Result spine.StepResult `json:"result"`
}

// spineService is implemented by Server.
type spineService interface {
	Info(context.Context, *InfoRequest) (*InfoResponse, error)
	Reset(context.Context, *ResetRequest) (*ResetResponse, error)
	Step(context.Context, *StepRequest) (*StepResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*spineService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Info", Handler: infoHandler},
		{MethodName: "Reset", Handler: resetHandler},
		{MethodName: "Step", Handler: stepHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "balancer/spine",
}

func infoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(spineService).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: infoMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(spineService).Info(ctx, req.(*InfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func resetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(spineService).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resetMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(spineService).Reset(ctx, req.(*ResetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func stepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StepRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(spineService).Step(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: stepMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(spineService).Step(ctx, req.(*StepRequest))
	}
	return interceptor(ctx, in, info, handler)
}
