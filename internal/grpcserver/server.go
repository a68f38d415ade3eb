// Package grpcserver exposes the standard gRPC health service for the meter.
package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/boostmeter/internal/trace"
)

// ServiceName is the health service name reported alongside the server-wide "".
const ServiceName = "boostmeter.Meter"

// PollInterval is how often Run refreshes the health status.
const PollInterval = time.Second

// Checker reports whether the meter has been seen within window.
type Checker interface {
	Healthy(window time.Duration) bool
}

// Server hosts the health service.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	checker Checker
	window  time.Duration
}

// New creates a health server. Status starts as NOT_SERVING until Update runs.
func New(checker Checker, window time.Duration) *Server {
	s := &Server{
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
			grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
		),
		health:  health.NewServer(),
		checker: checker,
		window:  window,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("grpc server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Run refreshes the health status every PollInterval until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	s.Update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Update()
		}
	}
}

// Update sets the status from the checker and returns it.
func (s *Server) Update() healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.checker.Healthy(s.window) {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.set(st)
	return st
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop marks the service as shutting down and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
