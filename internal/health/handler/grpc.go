// Package handler serves the standard gRPC health protocol, driven by readiness probes
// against the service's backing stores.
package handler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

// probeTimeout bounds a full readiness probe.
const probeTimeout = 3 * time.Second

// Pinger is used for readiness (e.g. *sql.DB). PingContext returns nil if the dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. OPA evaluator). HealthCheck returns nil if the policy engine is ready.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// PingCheck adapts a Pinger. A nil pinger yields a check that always passes.
func PingCheck(name string, p Pinger) Check {
	return Check{Name: name, Fn: func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		return p.PingContext(ctx)
	}}
}

// PolicyCheck adapts a PolicyChecker. A nil checker yields a check that always passes.
func PolicyCheck(name string, c PolicyChecker) Check {
	return Check{Name: name, Fn: func(ctx context.Context) error {
		if c == nil {
			return nil
		}
		return c.HealthCheck(ctx)
	}}
}

// Server wraps grpc/health.Server. The overall ("") status and each registered service
// name flip between SERVING and NOT_SERVING according to the last probe.
type Server struct {
	health   *health.Server
	checks   []Check
	services []string
	log      logrus.FieldLogger
}

// NewServer returns a health server that reports services as NOT_SERVING until the first Probe.
func NewServer(log logrus.FieldLogger, services []string, checks ...Check) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{health: health.NewServer(), checks: checks, services: services, log: log}
	s.set(healthgrpc.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register registers the grpc.health.v1.Health service on reg.
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	healthgrpc.RegisterHealthServer(reg, s.health)
}

// Probe runs every check and updates serving status. Returns the first failure.
func (s *Server) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	var first error
	for _, c := range s.checks {
		if err := c.Fn(ctx); err != nil {
			s.log.WithError(err).WithField("check", c.Name).Warn("health: readiness check failed")
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		s.set(healthgrpc.HealthCheckResponse_NOT_SERVING)
		return first
	}
	s.set(healthgrpc.HealthCheckResponse_SERVING)
	return nil
}

// Run probes immediately and then every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	_ = s.Probe(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.Probe(ctx)
		}
	}
}

// Shutdown marks everything NOT_SERVING permanently, ahead of GracefulStop.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

func (s *Server) set(st healthgrpc.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	for _, name := range s.services {
		s.health.SetServingStatus(name, st)
	}
}
