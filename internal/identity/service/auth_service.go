package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"serreconnect/backend/internal/auth"
	identitydomain "serreconnect/backend/internal/identity/domain"
	identityrepo "serreconnect/backend/internal/identity/repository"
	"serreconnect/backend/internal/security"
	sessiondomain "serreconnect/backend/internal/session/domain"
	telemetrydomain "serreconnect/backend/internal/telemetry/domain"
)

// TokenType is returned alongside every access token.
const TokenType = "bearer"

const tracerName = "serreconnect/backend/identity"

// Login failure reasons used as metric labels. They are never returned to clients.
const (
	reasonMissingInput    = "missing_input"
	reasonUnknownIdentity = "unknown_identity"
	reasonBadPassword     = "bad_password"
	reasonCorruptDigest   = "corrupt_digest"
	reasonInactive        = "inactive"
)

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	SessionID   string
	UserID      string
	Role        string
}

// IdentityRepo is the minimal identity repository needed by the auth service.
type IdentityRepo interface {
	FindByLoginKey(ctx context.Context, loginKey string) (*identitydomain.Identity, error)
	Create(ctx context.Context, i *identitydomain.Identity) error
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, userID string, at time.Time) (*sessiondomain.Session, error)
	GetActive(ctx context.Context, id string) (*sessiondomain.Session, error)
	Invalidate(ctx context.Context, id string) (bool, error)
}

// EventPublisher receives session lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(ctx context.Context, event *telemetrydomain.SessionEvent)
}

// LoginMetrics records failed logins by reason.
type LoginMetrics interface {
	LoginFailed(reason string)
}

// Options carries the optional collaborators of AuthService.
type Options struct {
	StoreTimeout time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
	Events       EventPublisher
	Metrics      LoginMetrics
}

// AuthService issues sessions and tokens for password logins and closes sessions on logout.
// It holds no per-request state and is safe for concurrent use.
type AuthService struct {
	identities   IdentityRepo
	sessions     SessionRepo
	hasher       *security.Hasher
	codec        *security.TokenCodec
	storeTimeout time.Duration
	now          func() time.Time
	log          *zap.Logger
	events       EventPublisher
	metrics      LoginMetrics
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(identities IdentityRepo, sessions SessionRepo, hasher *security.Hasher, codec *security.TokenCodec, opts Options) *AuthService {
	s := &AuthService{
		identities:   identities,
		sessions:     sessions,
		hasher:       hasher,
		codec:        codec,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
		log:          opts.Logger,
		events:       opts.Events,
		metrics:      opts.Metrics,
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 3 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Login authenticates loginKey and password, creates a new session and returns a signed token
// for it. Every credential failure is auth.ErrInvalidCredentials; store failures are
// auth.ErrStoreUnavailable. clientIP is only used for the failure event.
func (s *AuthService) Login(ctx context.Context, loginKey, password, clientIP string) (*LoginResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "AuthService.Login")
	defer span.End()

	key := identitydomain.NormalizeLoginKey(loginKey)
	if key == "" || password == "" {
		s.hasher.VerifyDummy(password)
		return nil, s.loginFailed(ctx, key, clientIP, reasonMissingInput)
	}

	ident, err := s.findIdentity(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity store unavailable")
		return nil, err
	}
	if ident == nil {
		s.hasher.VerifyDummy(password)
		return nil, s.loginFailed(ctx, key, clientIP, reasonUnknownIdentity)
	}

	ok, err := s.hasher.Verify(password, ident.PasswordDigest)
	if err != nil {
		s.log.Error("stored password digest is unreadable", zap.String("user_id", ident.ID), zap.Error(err))
		return nil, s.loginFailed(ctx, key, clientIP, reasonCorruptDigest)
	}
	if !ok {
		return nil, s.loginFailed(ctx, key, clientIP, reasonBadPassword)
	}
	if !ident.IsActive {
		return nil, s.loginFailed(ctx, key, clientIP, reasonInactive)
	}

	now := s.now().UTC()
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	sess, err := s.sessions.Create(storeCtx, ident.ID, now)
	cancel()
	if err != nil {
		s.log.Error("session store unavailable", zap.String("op", "session.create"), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "session store unavailable")
		return nil, auth.E("session.create", auth.KindStoreUnavailable, err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID), attribute.String("user.id", ident.ID))

	expiresAt := now.Add(s.codec.TTL())
	token, err := s.codec.Encode(security.Claims{
		Subject:      ident.ID,
		SessionID:    sess.ID,
		LastActivity: sess.LastActivity,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		s.closeOrphan(ctx, sess.ID)
		span.RecordError(err)
		return nil, err
	}

	s.publish(ctx, &telemetrydomain.SessionEvent{
		Type:       telemetrydomain.EventSessionCreated,
		SessionID:  sess.ID,
		UserID:     ident.ID,
		ClientIP:   clientIP,
		OccurredAt: now,
	})
	s.log.Info("login succeeded", zap.String("user_id", ident.ID), zap.String("session_id", sess.ID))
	return &LoginResult{
		AccessToken: token,
		TokenType:   TokenType,
		ExpiresAt:   expiresAt,
		SessionID:   sess.ID,
		UserID:      ident.ID,
		Role:        ident.Role,
	}, nil
}

// Logout invalidates the principal's session. Logging out of a session that is already
// inactive succeeds.
func (s *AuthService) Logout(ctx context.Context, p auth.Principal) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "AuthService.Logout")
	defer span.End()
	return s.closeSession(ctx, span, p.SessionID, p.UserID, telemetrydomain.EventSessionLoggedOut)
}

// Revoke invalidates any session by id on behalf of an administrator. Callers must have
// authorized the request. Revoking an unknown or inactive session succeeds.
func (s *AuthService) Revoke(ctx context.Context, sessionID string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "AuthService.Revoke")
	defer span.End()
	if sessionID == "" {
		return auth.E("session.invalidate", auth.KindSessionNotFound, nil)
	}
	// The owner never changes, so reading it before the conditional update is safe.
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	sess, err := s.sessions.GetActive(storeCtx, sessionID)
	cancel()
	if err != nil {
		s.log.Error("session store unavailable", zap.String("op", "session.get_active"), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "session store unavailable")
		return auth.E("session.get_active", auth.KindStoreUnavailable, err)
	}
	if sess == nil {
		s.log.Info("session already closed", zap.String("session_id", sessionID))
		return nil
	}
	return s.closeSession(ctx, span, sessionID, sess.UserID, telemetrydomain.EventSessionRevoked)
}

func (s *AuthService) closeSession(ctx context.Context, span trace.Span, sessionID, userID string, evType telemetrydomain.EventType) error {
	if sessionID == "" {
		return auth.E("session.invalidate", auth.KindSessionNotFound, nil)
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	changed, err := s.sessions.Invalidate(storeCtx, sessionID)
	cancel()
	if err != nil {
		s.log.Error("session store unavailable", zap.String("op", "session.invalidate"), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "session store unavailable")
		return auth.E("session.invalidate", auth.KindStoreUnavailable, err)
	}
	if changed {
		s.publish(ctx, &telemetrydomain.SessionEvent{
			Type:       evType,
			SessionID:  sessionID,
			UserID:     userID,
			OccurredAt: s.now().UTC(),
		})
	}
	s.log.Info("session closed", zap.String("session_id", sessionID), zap.Bool("was_active", changed))
	return nil
}

// Register creates an active identity with a freshly hashed password. An empty role means
// identitydomain.RoleUser. Invalid input wraps identitydomain.ErrInvalidIdentity, a duplicate
// login key surfaces the repository's ErrEmailTaken, and other store failures are StoreUnavailable.
func (s *AuthService) Register(ctx context.Context, email, username, password, role string) (*identitydomain.Identity, error) {
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", identitydomain.ErrInvalidIdentity)
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ident := &identitydomain.Identity{
		ID:             uuid.NewString(),
		Username:       strings.TrimSpace(username),
		Email:          email,
		PasswordDigest: digest,
		Role:           role,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.identities.Create(storeCtx, ident); err != nil {
		if errors.Is(err, identityrepo.ErrEmailTaken) {
			return nil, err
		}
		s.log.Error("identity store unavailable", zap.String("op", "identity.create"), zap.Error(err))
		return nil, auth.E("identity.create", auth.KindStoreUnavailable, err)
	}
	s.log.Info("identity registered", zap.String("user_id", ident.ID), zap.String("role", ident.Role))
	return ident, nil
}

func (s *AuthService) findIdentity(ctx context.Context, key string) (*identitydomain.Identity, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	ident, err := s.identities.FindByLoginKey(storeCtx, key)
	if err != nil {
		s.log.Error("identity store unavailable", zap.String("op", "identity.find_by_login_key"), zap.Error(err))
		return nil, auth.E("identity.find_by_login_key", auth.KindStoreUnavailable, err)
	}
	return ident, nil
}

func (s *AuthService) loginFailed(ctx context.Context, key, clientIP, reason string) error {
	if s.metrics != nil {
		s.metrics.LoginFailed(reason)
	}
	s.log.Debug("login failed", zap.String("reason", reason))
	s.publish(ctx, &telemetrydomain.SessionEvent{
		Type:         telemetrydomain.EventLoginFailed,
		LoginKeyHash: HashLoginKey(key),
		ClientIP:     clientIP,
		OccurredAt:   s.now().UTC(),
	})
	return auth.E("login", auth.KindInvalidCredentials, nil)
}

// closeOrphan invalidates a session whose token could not be signed so it cannot linger as active.
func (s *AuthService) closeOrphan(ctx context.Context, sessionID string) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	if _, err := s.sessions.Invalidate(storeCtx, sessionID); err != nil {
		s.log.Warn("failed to close session after signing error", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *AuthService) publish(ctx context.Context, ev *telemetrydomain.SessionEvent) {
	if s.events != nil {
		s.events.Publish(ctx, ev)
	}
}

// HashLoginKey returns the hex SHA-256 of a normalized login key, or "" for an empty key.
func HashLoginKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
