package interceptors

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"serreconnect/backend/internal/auth"
)

// StatusFromError maps a tagged auth error to a gRPC status with a fixed message. The message
// never reveals which unauthenticated kind occurred. Errors that already carry a status pass through.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case auth.IsUnauthenticated(err):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case auth.KindOf(err) == auth.KindForbidden:
		return status.Error(codes.PermissionDenied, "forbidden")
	case auth.KindOf(err) == auth.KindStoreUnavailable:
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, "internal error")
}
