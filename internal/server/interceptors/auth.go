package interceptors

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"serreconnect/backend/internal/auth"
	sessionservice "serreconnect/backend/internal/session/service"
)

const bearerPrefix = "bearer "

// RefreshedTokenHeader carries the re-signed token back to the client in the response header.
const RefreshedTokenHeader = "x-refreshed-token"

// SessionAuthenticator validates a raw bearer token.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (*sessionservice.Result, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer token from gRPC
// metadata and stores the Principal in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. AuthService Login, grpc.health.v1.Health Check); they are never validated.
func AuthUnary(validator SessionAuthenticator, publicMethods map[string]bool, log *zap.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := extractBearer(ctx)
		if token == "" {
			return nil, StatusFromError(auth.ErrInvalidToken)
		}
		res, err := validator.Authenticate(ctx, token)
		if err != nil {
			return nil, StatusFromError(err)
		}
		ctx = auth.WithPrincipal(ctx, res.Principal)
		recordPrincipal(ctx, res.Principal)
		if res.Token != "" {
			ctx = auth.WithRefreshedToken(ctx, res.Token)
			if err := grpc.SetHeader(ctx, metadata.Pairs(RefreshedTokenHeader, res.Token)); err != nil {
				log.Debug("could not set refreshed token header", zap.String("method", info.FullMethod), zap.Error(err))
			}
		}
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
