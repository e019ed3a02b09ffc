package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"serreconnect/backend/internal/auth"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// abortWithError maps err to a status code and a fixed body. Unauthenticated kinds all become
// the same 401 so the reply does not reveal why the credential was rejected.
func abortWithError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case auth.IsUnauthenticated(err):
		status, msg = http.StatusUnauthorized, "unauthenticated"
		c.Header("WWW-Authenticate", "Bearer")
	case auth.KindOf(err) == auth.KindForbidden:
		status, msg = http.StatusForbidden, "forbidden"
	case auth.KindOf(err) == auth.KindStoreUnavailable:
		status, msg = http.StatusServiceUnavailable, "service unavailable"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, RequestID: requestID(c)})
}
