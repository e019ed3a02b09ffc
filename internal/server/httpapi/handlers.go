package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"serreconnect/backend/internal/auth"
	identitydomain "serreconnect/backend/internal/identity/domain"
	identityrepo "serreconnect/backend/internal/identity/repository"
	"serreconnect/backend/internal/identity/service"
)

// Authenticator is the subset of service.AuthService the HTTP handlers call.
type Authenticator interface {
	Login(ctx context.Context, loginKey, password, clientIP string) (*service.LoginResult, error)
	Logout(ctx context.Context, p auth.Principal) error
	Revoke(ctx context.Context, sessionID string) error
	Register(ctx context.Context, email, username, password, role string) (*identitydomain.Identity, error)
}

// ReadinessChecker reports whether backing stores are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// LoginRequest accepts a JSON body or an OAuth2 password form (username carries the e-mail).
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// RegisterRequest creates a standard (non-admin) identity.
type RegisterRequest struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// IdentityResponse describes a newly registered identity.
type IdentityResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
}

// PrincipalResponse describes the caller.
type PrincipalResponse struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
}

type authHandler struct {
	auth Authenticator
}

func (h *authHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", RequestID: requestID(c)})
		return
	}
	key := strings.TrimSpace(req.Email)
	if key == "" {
		key = strings.TrimSpace(req.Username)
	}
	if key == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "email and password are required", RequestID: requestID(c)})
		return
	}
	res, err := h.auth.Login(c.Request.Context(), key, req.Password, c.ClientIP())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		ExpiresAt:   res.ExpiresAt,
		SessionID:   res.SessionID,
		UserID:      res.UserID,
	})
}

// register always creates RoleUser; admins are provisioned out of band.
func (h *authHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", RequestID: requestID(c)})
		return
	}
	ident, err := h.auth.Register(c.Request.Context(), req.Email, req.Username, req.Password, identitydomain.RoleUser)
	switch {
	case errors.Is(err, identityrepo.ErrEmailTaken):
		c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{Error: "email already registered", RequestID: requestID(c)})
		return
	case errors.Is(err, identitydomain.ErrInvalidIdentity):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "email and password are required", RequestID: requestID(c)})
		return
	case err != nil:
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, IdentityResponse{
		UserID:   ident.ID,
		Email:    ident.Email,
		Username: ident.Username,
		Role:     ident.Role,
	})
}

func (h *authHandler) logout(c *gin.Context) {
	p, ok := auth.PrincipalFromContext(c.Request.Context())
	if !ok {
		abortWithError(c, auth.ErrInvalidToken)
		return
	}
	if err := h.auth.Logout(c.Request.Context(), p); err != nil {
		abortWithError(c, err)
		return
	}
	// The refreshed token belongs to a session that no longer exists.
	c.Writer.Header().Del(RefreshedTokenHeader)
	c.Status(http.StatusNoContent)
}

func (h *authHandler) me(c *gin.Context) {
	p, ok := auth.PrincipalFromContext(c.Request.Context())
	if !ok {
		abortWithError(c, auth.ErrInvalidToken)
		return
	}
	c.JSON(http.StatusOK, PrincipalResponse{UserID: p.UserID, SessionID: p.SessionID, Role: p.Role})
}

func (h *authHandler) revokeSession(c *gin.Context) {
	if err := h.auth.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type healthHandler struct {
	startedAt time.Time
	checker   ReadinessChecker
}

func (h *healthHandler) live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "started_at": h.startedAt})
}

func (h *healthHandler) ready(c *gin.Context) {
	if h.checker != nil {
		if err := h.checker.Check(c.Request.Context()); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
