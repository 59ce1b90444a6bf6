package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name probes can ask about; "" covers the whole server.
const ServiceName = "neighborhub.chat"

// Probe reports readiness of the process dependencies.
type Probe func(ctx context.Context) error

// HealthServer publishes readiness over the standard gRPC health protocol for
// orchestrators that cannot speak HTTP probes.
type HealthServer struct {
	Probe    Probe
	Interval time.Duration
	Logger   *slog.Logger

	health *health.Server
	server *grpc.Server
}

func NewHealthServer(probe Probe, interval time.Duration, logger *slog.Logger) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{Probe: probe, Interval: interval, Logger: logger, health: hs, server: srv}
}

// Refresh probes once and publishes the resulting status.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.Probe != nil {
		if err := h.Probe(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if h.Logger != nil {
				h.Logger.Warn("readiness probe failed", "error", err)
			}
		}
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve listens on addr until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.ServeListener(ctx, lis)
}

func (h *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	h.Refresh(ctx)
	go h.watch(ctx)
	go func() {
		<-ctx.Done()
		h.health.Shutdown()
		h.server.GracefulStop()
	}()
	if h.Logger != nil {
		h.Logger.Info("grpc health server starting", "addr", lis.Addr().String())
	}
	if err := h.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (h *HealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
