package httpapi

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"serreconnect/backend/internal/auth"
	"serreconnect/backend/internal/logger"
	"serreconnect/backend/internal/platform/rbac"
	sessionservice "serreconnect/backend/internal/session/service"
)

const (
	requestIDHeader = "X-Request-ID"
	// RefreshedTokenHeader carries the re-signed token after a successful validation.
	RefreshedTokenHeader = "X-Refreshed-Token"
)

// SessionAuthenticator validates a raw bearer token.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (*sessionservice.Result, error)
}

// RequestID injects a correlation identifier into the context and headers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, reqID)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), reqID))
		c.Next()
	}
}

// AccessLog emits one log line per HTTP request.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if p, ok := auth.PrincipalFromContext(c.Request.Context()); ok {
			fields = append(fields, zap.String("user_id", p.UserID), zap.String("session_id", p.SessionID))
		}
		l := logger.WithContext(c.Request.Context(), log)
		if len(c.Errors) > 0 {
			l.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		l.Info("request completed", fields...)
	}
}

// Authenticate validates the Authorization: Bearer header, stores the Principal in the request
// context and returns the re-signed token in X-Refreshed-Token.
func Authenticate(validator SessionAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, auth.E("http.authenticate", auth.KindInvalidToken, nil))
			return
		}
		res, err := validator.Authenticate(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, err)
			return
		}
		ctx := auth.WithPrincipal(c.Request.Context(), res.Principal)
		if res.Token != "" {
			ctx = auth.WithRefreshedToken(ctx, res.Token)
			c.Header(RefreshedTokenHeader, res.Token)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole rejects requests whose principal does not hold role. It must follow Authenticate.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := rbac.RequireRoleFromContext(c.Request.Context(), role); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func requestID(c *gin.Context) string {
	return logger.RequestIDFromContext(c.Request.Context())
}
