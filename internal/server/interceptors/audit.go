package interceptors

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"serreconnect/backend/internal/auth"
	"serreconnect/backend/internal/logger"
)

// RequestIDUnary returns a unary server interceptor that takes x-request-id from metadata, or
// generates one, and stores it in context for logging.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("x-request-id"); len(vals) > 0 {
				id = strings.TrimSpace(vals[0])
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		return handler(logger.ContextWithRequestID(ctx, id), req)
	}
}

type accessRecordKey struct{}

// accessRecord lets AuthUnary report the resolved principal to the enclosing AuditUnary.
type accessRecord struct {
	principal auth.Principal
}

func recordPrincipal(ctx context.Context, p auth.Principal) {
	if rec, ok := ctx.Value(accessRecordKey{}).(*accessRecord); ok {
		rec.principal = p
	}
}

// AuditUnary returns a unary server interceptor that writes one access log line after each RPC.
// It must be chained before AuthUnary so the line carries the authenticated user.
// skipMethods is the set of full method names to not log (e.g. health checks).
func AuditUnary(log *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		start := time.Now()
		rec := &accessRecord{}
		resp, err := handler(context.WithValue(ctx, accessRecordKey{}, rec), req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", ClientIP(ctx)),
		}
		if rec.principal.UserID != "" {
			fields = append(fields, zap.String("user_id", rec.principal.UserID), zap.String("session_id", rec.principal.SessionID))
		}
		logger.WithContext(ctx, log).Info("grpc request", fields...)
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
