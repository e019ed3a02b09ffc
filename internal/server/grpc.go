package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "serreconnect/backend/internal/health/handler"
	identityhandler "serreconnect/backend/internal/identity/handler"
	"serreconnect/backend/internal/server/interceptors"
)

// Deps holds the service dependencies for gRPC handlers.
type Deps struct {
	// Auth backs AuthService Login and Logout. If nil, those RPCs return Unimplemented.
	Auth identityhandler.Authenticator
	// Validator authenticates every non-public RPC. Required.
	Validator interceptors.SessionAuthenticator
	// Health answers grpc.health.v1.Health. If nil, the health service is not registered.
	Health *healthhandler.Server
	// Logger receives the access log. Nil disables it.
	Logger *zap.Logger
}

// PublicMethods are the RPCs that run without a bearer token.
func PublicMethods() map[string]bool {
	return map[string]bool{
		identityhandler.MethodLogin:          true,
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
}

// NewGRPCServer builds a gRPC server with tracing, request ids, access logging and session
// authentication, and registers every service.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	skipAudit := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RequestIDUnary(),
			interceptors.AuditUnary(deps.Logger, skipAudit),
			interceptors.AuthUnary(deps.Validator, PublicMethods(), deps.Logger),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given registrar.
//
// Service → handler mapping:
//   - serreconnect.auth.v1.AuthService → internal/identity/handler
//   - grpc.health.v1.Health            → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth))
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}
