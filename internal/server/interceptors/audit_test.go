package interceptors

import (
	"context"
	"net"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"serreconnect/backend/internal/auth"
	"serreconnect/backend/internal/logger"
	sessionservice "serreconnect/backend/internal/session/service"
)

func TestAuditUnary_SkipMethod(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	interceptor := AuditUnary(zap.New(core), map[string]bool{"/grpc.health.v1.Health/Check": true})

	resp, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/grpc.health.v1.Health/Check",
	}, func(ctx context.Context, req any) (any, error) { return "success", nil })
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if resp != "success" {
		t.Errorf("response = %v, want %q", resp, "success")
	}
	if logs.Len() != 0 {
		t.Errorf("log entries = %d, want 0", logs.Len())
	}
}

func TestAuditUnary_LogsAuthenticatedCaller(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	principal := auth.Principal{UserID: "user-1", SessionID: "sess-1", Role: "user"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"authorization", "Bearer t",
		"x-request-id", "req-42",
		"x-forwarded-for", "203.0.113.9, 10.0.0.1",
	))
	interceptor := chainedInterceptor(
		RequestIDUnary(),
		AuditUnary(zap.New(core), nil),
		AuthUnary(&fakeValidator{res: &sessionservice.Result{Principal: principal}}, nil, nil),
	)
	_, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"},
		func(ctx context.Context, req any) (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["user_id"] != "user-1" || fields["session_id"] != "sess-1" {
		t.Errorf("fields = %v, want user and session", fields)
	}
	if fields["client_ip"] != "203.0.113.9" {
		t.Errorf("client_ip = %v, want 203.0.113.9", fields["client_ip"])
	}
	if fields["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", fields["request_id"])
	}
	if fields["code"] != codes.OK.String() {
		t.Errorf("code = %v, want OK", fields["code"])
	}
}

func TestAuditUnary_LogsRejectedCall(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	interceptor := chainedInterceptor(
		AuditUnary(zap.New(core), nil),
		AuthUnary(&fakeValidator{err: auth.ErrSessionExpired}, nil, nil),
	)
	_, err := interceptor(bearerCtx("Bearer t"), "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"},
		func(ctx context.Context, req any) (any, error) { return "ok", nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if _, ok := entries[0].ContextMap()["user_id"]; ok {
		t.Error("rejected call must not log a user")
	}
}

func TestRequestIDUnary_Generates(t *testing.T) {
	var id string
	_, err := RequestIDUnary()(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		id = logger.RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if id == "" {
		t.Error("request id should be generated")
	}
}

func TestClientIP(t *testing.T) {
	testCases := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"x-real-ip", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", "198.51.100.4")), "198.51.100.4"},
		{"peer", peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5555}}), "192.0.2.1"},
		{"unknown", context.Background(), "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClientIP(tc.ctx); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

// chainedInterceptor composes interceptors in the order grpc.ChainUnaryInterceptor applies them.
func chainedInterceptor(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic, h := interceptors[i], next
			next = func(ctx context.Context, req any) (any, error) { return ic(ctx, req, info, h) }
		}
		return next(ctx, req)
	}
}
