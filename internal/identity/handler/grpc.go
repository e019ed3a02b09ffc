package handler

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"serreconnect/backend/internal/auth"
	"serreconnect/backend/internal/identity/service"
	"serreconnect/backend/internal/server/interceptors"
)

// AuthServiceName is the fully qualified gRPC service name.
const AuthServiceName = "serreconnect.auth.v1.AuthService"

// Full method names, used for the public method set and audit skips.
const (
	MethodLogin  = "/" + AuthServiceName + "/Login"
	MethodLogout = "/" + AuthServiceName + "/Logout"
	MethodWhoAmI = "/" + AuthServiceName + "/WhoAmI"
)

// AuthServiceServer is the server API for AuthService. Messages are google.protobuf.Struct so
// the service needs no generated code.
type AuthServiceServer interface {
	Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	WhoAmI(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// AuthServiceDesc describes AuthService for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, AuthServiceServer.Login)},
		{MethodName: "Logout", Handler: unaryHandler(MethodLogout, AuthServiceServer.Logout)},
		{MethodName: "WhoAmI", Handler: unaryHandler(MethodWhoAmI, AuthServiceServer.WhoAmI)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "serreconnect/auth/v1/auth.proto",
}

// RegisterAuthServiceServer registers srv with s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

func unaryHandler(fullMethod string, call func(AuthServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// Authenticator is the subset of service.AuthService the handler calls.
type Authenticator interface {
	Login(ctx context.Context, loginKey, password, clientIP string) (*service.LoginResult, error)
	Logout(ctx context.Context, p auth.Principal) error
}

// AuthServer implements AuthService for login, logout and principal introspection.
type AuthServer struct {
	auth Authenticator
}

// NewAuthServer returns a new Auth gRPC server. A nil authenticator makes every RPC Unimplemented.
func NewAuthServer(a Authenticator) *AuthServer {
	return &AuthServer{auth: a}
}

// Login authenticates {email|username, password} and returns the access token.
func (s *AuthServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	fields := req.GetFields()
	key := strings.TrimSpace(fields["email"].GetStringValue())
	if key == "" {
		key = strings.TrimSpace(fields["username"].GetStringValue())
	}
	password := fields["password"].GetStringValue()
	if key == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}
	res, err := s.auth.Login(ctx, key, password, interceptors.ClientIP(ctx))
	if err != nil {
		return nil, interceptors.StatusFromError(err)
	}
	return structpb.NewStruct(map[string]any{
		"access_token": res.AccessToken,
		"token_type":   res.TokenType,
		"expires_at":   res.ExpiresAt.UTC().Format(time.RFC3339),
		"session_id":   res.SessionID,
		"user_id":      res.UserID,
	})
}

// Logout closes the caller's session. Repeating it succeeds.
func (s *AuthServer) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, interceptors.StatusFromError(auth.ErrInvalidToken)
	}
	if err := s.auth.Logout(ctx, p); err != nil {
		return nil, interceptors.StatusFromError(err)
	}
	return structpb.NewStruct(map[string]any{"status": "logged_out"})
}

// WhoAmI returns the principal resolved for this request.
func (s *AuthServer) WhoAmI(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, interceptors.StatusFromError(auth.ErrInvalidToken)
	}
	return structpb.NewStruct(map[string]any{
		"user_id":    p.UserID,
		"session_id": p.SessionID,
		"role":       p.Role,
	})
}
