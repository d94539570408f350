package admin

import (
	"context"
	"time"

	"github.com/NordCoder/Sentinel/internal/obs"
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the grpc.health.v1 service whose status follows the substrate.
const ServiceName = "sentinel.Engine"

// NewGRPCServer builds the gRPC server carrying the health service.
func NewGRPCServer(hs *health.Server) *grpc.Server {
	opts := obs.GRPCServerOpts()
	opts = append(opts,
		grpc.ChainUnaryInterceptor(grpcprometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpcprometheus.StreamServerInterceptor),
	)
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, hs)
	grpcprometheus.Register(s)
	return s
}

// HealthReporter pings the substrate and mirrors the result into hs.
type HealthReporter struct {
	log      *zap.Logger
	hs       *health.Server
	ping     obs.HealthCheck
	interval time.Duration
}

func NewHealthReporter(log *zap.Logger, hs *health.Server, ping obs.HealthCheck, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthReporter{log: obs.Component(log, "admin.health"), hs: hs, ping: ping, interval: interval}
}

// Run reports until ctx ends, then marks every service NOT_SERVING.
func (h *HealthReporter) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	last := h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.hs.Shutdown()
			return
		case <-t.C:
			cur := h.Probe(ctx)
			if cur != last {
				h.log.Info("substrate health changed", zap.Stringer("status", cur))
				last = cur
			}
		}
	}
}

// Probe pings once and publishes the status.
func (h *HealthReporter) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	pctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	st := healthpb.HealthCheckResponse_SERVING
	if err := h.ping(pctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn("substrate ping failed", zap.Error(err))
	}
	h.hs.SetServingStatus("", st)
	h.hs.SetServingStatus(ServiceName, st)
	return st
}
