// Package health reports whether the bridge is accepting players over the
// standard gRPC health protocol.
package health

import (
	"net"

	"example.com/clueless_bridge/internal/dispatch"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name checked alongside the overall "" status.
const Service = "clueless.bridge.Dispatch"

type Server struct {
	grpc   *gogrpc.Server
	health *health.Server
}

// New returns a server that starts out SERVING.
func New() *Server {
	grpcServer := gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	s := &Server{grpc: grpcServer, health: healthServer}
	s.SetServing(true)
	return s
}

// SetServing flips both the overall and the dispatch service status.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// OnStateChange matches dispatch.Config.OnStateChange. A terminated game
// no longer accepts players and reports NOT_SERVING.
func (s *Server) OnStateChange(_, to dispatch.State) {
	s.SetServing(to != dispatch.StateTerminated)
}

// Serve blocks serving health checks on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
