package transport

import (
	"context"
	"log/slog"
	"sync"

	"google.golang.org/grpc"

	"github.com/stephane-caron/proxqp-balancer/internal/logging"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

// Server exposes a spine to remote balancers. Calls are serialized since a
// spine is driven by a single agent.
type Server struct {
	spine  spine.Spine
	logger *slog.Logger
	mu     sync.Mutex
}

func NewServer(sp spine.Spine, logger *slog.Logger) *Server {
	return &Server{spine: sp, logger: logger}
}

// NewGRPCServer returns a gRPC server with the spine service registered
// behind the logging and error interceptors.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(NewLoggingInterceptor(s.logger), ErrorsInterceptor),
	}, opts...)
	srv := grpc.NewServer(opts...)
	s.Register(srv)
	return srv
}

func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&serviceDesc, s)
}

func (s *Server) Info(ctx context.Context, req *InfoRequest) (*InfoResponse, error) {
	return &InfoResponse{Dt: s.spine.Dt()}, nil
}

func (s *Server) Reset(ctx context.Context, req *ResetRequest) (*ResetResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs, err := s.spine.Reset(ctx)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("spine reset", slog.Float64("base_pitch", obs.BasePitch))
	return &ResetResponse{Observation: obs}, nil
}

func (s *Server) Step(ctx context.Context, req *StepRequest) (*StepResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.spine.Step(ctx, req.Action)
	if err != nil {
		return nil, err
	}
	return &StepResponse{Result: res}, nil
}
