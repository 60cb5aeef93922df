package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServiceName is the service name reported by the gRPC health service.
const GRPCServiceName = "officener.v1.Api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthReporter keeps the gRPC health status in step with readiness.
type HealthReporter struct {
	health    *health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

// NewGRPCServer returns a gRPC server exposing the standard health service
// and the reporter that drives it.
func NewGRPCServer(r readinessChecker, logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *HealthReporter) {
	if logger == nil {
		logger = zap.NewNop()
	}
	hs := health.NewServer()
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, &HealthReporter{health: hs, readiness: r, logger: logger}
}

// Refresh runs one readiness check and publishes the result.
func (h *HealthReporter) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(GRPCServiceName, status)
	return status == healthpb.HealthCheckResponse_SERVING
}

// Run refreshes the status every interval until ctx is done, then marks the
// server as shutting down.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		h.Refresh(checkCtx)
		cancel()
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}
