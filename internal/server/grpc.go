package server

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"lab-access/backend/internal/audit"
	healthhandler "lab-access/backend/internal/health/handler"
	provisioninghandler "lab-access/backend/internal/provisioning/handler"
	"lab-access/backend/internal/server/interceptors"
	"lab-access/backend/internal/telemetry"
)

// Health check methods are not audited, logged or emitted as telemetry.
var quietMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Provisioner runs the provisioning workflow. If nil, Provision returns Unimplemented.
	Provisioner provisioninghandler.Provisioner
	// Health serves grpc.health.v1. If nil, the health service is not registered.
	Health *healthhandler.Server
}

// Options configures the interceptor chain of NewGRPCServer. Nil fields disable the matching interceptor.
type Options struct {
	Log     logrus.FieldLogger
	Audit   audit.AuditLogger
	Emitter telemetry.EventEmitter
}

// NewGRPCServer returns a gRPC server with OTel stats and the request-id, logging, audit and
// telemetry interceptors installed, in that order.
func NewGRPCServer(opts Options, extra ...grpc.ServerOption) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{
		interceptors.RequestIDUnary(),
		interceptors.LoggingUnary(opts.Log, quietMethods),
	}
	if opts.Audit != nil {
		chain = append(chain, interceptors.AuditUnary(opts.Audit, quietMethods))
	}
	if opts.Emitter != nil {
		chain = append(chain, interceptors.TelemetryUnary(opts.Emitter, quietMethods))
	}
	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, extra...)
	return grpc.NewServer(serverOpts...)
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - labaccess.provisioning.v1.ProvisioningService → internal/provisioning/handler
//   - grpc.health.v1.Health                         → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	provisioninghandler.RegisterProvisioningServiceServer(s, provisioninghandler.NewServer(deps.Provisioner))
	if deps.Health != nil {
		deps.Health.Register(s)
	}
}

// ServiceNames returns the names registered by RegisterServices, for health status reporting.
func ServiceNames() []string {
	return []string{provisioninghandler.ServiceName}
}
