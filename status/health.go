package status

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"simctl/syncchan"
)

// SyncService is the health service name that tracks the manager link.
const SyncService = "simctl.sync"

// healthService is SERVING for SyncService while the sync channel is
// connected and NOT_SERVING otherwise.
type healthService struct {
	h   *health.Server
	log *zap.Logger
}

func newHealthService(link SyncLink, log *zap.Logger) *healthService {
	hs := &healthService{h: health.NewServer(), log: log}
	hs.h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.h.SetServingStatus(SyncService, healthpb.HealthCheckResponse_NOT_SERVING)

	if link != nil {
		hs.update(link.State())
		link.Watch(hs.update)
	}
	return hs
}

func (hs *healthService) update(st syncchan.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == syncchan.StateConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.h.SetServingStatus(SyncService, status)
	hs.log.Debug("health", zap.String("service", SyncService), zap.Stringer("status", status))
}

func (hs *healthService) server() *grpc.Server {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs.h)
	return gs
}

// Health exposes the health server for in-process checks.
func (s *Server) Health() healthpb.HealthServer { return s.health.h }
