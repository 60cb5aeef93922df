package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 15 * time.Second
)

// HealthRunner keeps health status current until its context ends.
type HealthRunner interface {
	Run(ctx context.Context, interval time.Duration)
}

// Server runs the HTTP API and the gRPC health endpoint side by side.
type Server struct {
	HTTP   *http.Server
	GRPC   *grpc.Server
	Health HealthRunner
	Logger *zap.Logger

	grpcAddr string
}

// New binds handler to httpAddr and grpcSrv to grpcAddr. grpcSrv may be nil.
func New(httpAddr string, handler http.Handler, grpcAddr string, grpcSrv *grpc.Server, health HealthRunner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		HTTP: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		GRPC:     grpcSrv,
		Health:   health,
		Logger:   logger,
		grpcAddr: grpcAddr,
	}
}

// Run serves until ctx is cancelled or a listener fails, then shuts both
// servers down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	var grpcLn net.Listener
	if s.GRPC != nil {
		grpcLn, err = net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve is Run over listeners the caller already opened.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Logger.Info("http listening", zap.String("addr", httpLn.Addr().String()))
		if err := s.HTTP.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	if s.GRPC != nil && grpcLn != nil {
		g.Go(func() error {
			s.Logger.Info("grpc listening", zap.String("addr", grpcLn.Addr().String()))
			if err := s.GRPC.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve grpc: %w", err)
			}
			return nil
		})
	}

	if s.Health != nil {
		g.Go(func() error {
			s.Health.Run(ctx, healthInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if s.GRPC != nil {
			stopped := make(chan struct{})
			go func() {
				s.GRPC.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-shutdownCtx.Done():
				s.GRPC.Stop()
			}
		}
		if err := s.HTTP.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		s.Logger.Info("servers stopped")
		return nil
	})

	return g.Wait()
}
