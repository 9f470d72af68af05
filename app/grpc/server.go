package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// DependencyCheck reports whether a backing store is reachable.
type DependencyCheck func(ctx context.Context) error

// Server answers grpc.health.v1 probes by running the dependency checks on
// every call.
type Server struct {
	healthpb.UnimplementedHealthServer
	serviceName string
	checks      map[string]DependencyCheck
}

func NewServer(serviceName string, checks map[string]DependencyCheck) *Server {
	return &Server{serviceName: serviceName, checks: checks}
}

func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	service := req.GetService()
	if service != "" && service != s.serviceName {
		return nil, status.Error(codes.NotFound, "unknown service")
	}

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			loggerWithContext(ctx).WithError(err).WithField("dependency", name).Warn("Health check failed")
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}

	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
