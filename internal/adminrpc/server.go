// Package adminrpc serves the standard gRPC health protocol for the
// gateway's supervisors.
package adminrpc

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// VaultService is the health service name that tracks whether device keys
// are loaded. The overall ("") status stays SERVING while the process runs.
const VaultService = "thermogate.vault"

// VaultStatus reports whether the key vault loaded.
type VaultStatus interface {
	Available() bool
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	vault  VaultStatus
	logger zerolog.Logger
}

func New(vault VaultStatus, logger zerolog.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		vault:  vault,
		logger: logger.With().Str("component", "adminrpc").Logger(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.Refresh()
	return s
}

// Refresh re-reads vault availability. Call it after reloading the vault.
func (s *Server) Refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.vault.Available() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(VaultService, status)
	s.logger.Debug().Stringer("status", status).Msg("vault health updated")
}

// Serve blocks until lis fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("admin gRPC listening")
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
