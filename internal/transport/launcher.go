package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
)

// Launch serves srv on lis until ctx is done, SIGINT or SIGTERM is
// received, or the server fails. The server is then stopped gracefully,
// forcibly after shutdownTimeout. A serving error is returned.
func Launch(ctx context.Context, logger *slog.Logger, srv *grpc.Server, lis net.Listener, shutdownTimeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	var wg sync.WaitGroup
	launchServer(ctx, &wg, errChan, srv, lis, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info(fmt.Sprintf("Received %s signal, initiating graceful shutdown...", sig.String()))
	case serveErr = <-errChan:
		logger.Error("Received error, initiating shutdown", slog.String("error", serveErr.Error()))
	case <-ctx.Done():
		logger.Info("Context done, initiating graceful shutdown...")
	}
	cancel()

	stopDone := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		logger.Info("gRPC server stopped gracefully")
	case <-time.After(shutdownTimeout):
		logger.Info("Timeout waiting for gRPC server to stop gracefully, forcing stop")
		srv.Stop()
	}
	wg.Wait()

	logger.Info("Server stopped")
	return serveErr
}

func launchServer(ctx context.Context, wg *sync.WaitGroup, errChan chan error, srv *grpc.Server, lis net.Listener, logger *slog.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from panic in gRPC server", slog.String("error", fmt.Sprintf("%v", r)))
				srv.Stop()
			}
		}()

		logger.Info("Starting spine server", slog.String("address", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil {
			select {
			case <-ctx.Done():
				logger.Info("gRPC server stopped due to graceful shutdown")
			default:
				errChan <- fmt.Errorf("gRPC server failed: %w", err)
			}
		}
	}()
}
