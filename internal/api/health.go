package api

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// MonitorService is the health service name reported next to the overall status
const MonitorService = "boardwatch.Monitor"

// HealthServer exposes the standard gRPC health service for orchestrators
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewHealthServer creates a health server that starts out NOT_SERVING
func NewHealthServer(logger zerolog.Logger) *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		logger: logger.With().Str("component", "grpc-health").Logger(),
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.SetServing(false)
	return h
}

// SetServing flips the overall and monitor status
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(MonitorService, status)
	h.logger.Debug().Str("status", status.String()).Msg("health status changed")
}

// Serve blocks serving on lis
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info().Str("address", lis.Addr().String()).Msg("starting gRPC health server")
	return h.server.Serve(lis)
}

// Stop marks everything NOT_SERVING and stops the server
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
