package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/stephane-caron/proxqp-balancer/internal/dynamo"
	"github.com/stephane-caron/proxqp-balancer/internal/logging"
	"github.com/stephane-caron/proxqp-balancer/internal/spine"
)

// ErrorsInterceptor translates domain errors into gRPC status codes.
func ErrorsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err == nil {
		return resp, nil
	}
	if _, ok := status.FromError(err); ok {
		return nil, err
	}
	return nil, status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, spine.ErrNotReset):
		return codes.FailedPrecondition
	case errors.Is(err, spine.ErrClosed):
		return codes.Unavailable
	case errors.Is(err, dynamo.ErrParameterBounds), errors.Is(err, dynamo.ErrInvalidState):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

func NewLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		requestLogger := logger.With(slog.String(logging.LogRequestID, uuid.NewString()))
		requestLogger.Debug("Request started", slog.String("method", info.FullMethod))
		ctx = logging.WithLogger(ctx, requestLogger)

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if err != nil {
			requestLogger.Warn("Request completed with error",
				slog.String("method", info.FullMethod),
				slog.String("error", err.Error()),
				slog.Duration("duration", duration),
				slog.String("status", status.Code(err).String()))
		} else {
			requestLogger.Debug("Request completed successfully",
				slog.String("method", info.FullMethod),
				slog.Duration("duration", duration))
		}
		return resp, err
	}
}
