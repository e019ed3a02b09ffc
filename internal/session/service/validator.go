// Package service validates bearer tokens against session state and resolves the request Principal.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"serreconnect/backend/internal/auth"
	identitydomain "serreconnect/backend/internal/identity/domain"
	"serreconnect/backend/internal/security"
	"serreconnect/backend/internal/session/domain"
	telemetrydomain "serreconnect/backend/internal/telemetry/domain"
)

const instrumentationName = "serreconnect/backend/session"

// SessionRepo is the session store the validator drives.
type SessionRepo interface {
	GetActive(ctx context.Context, id string) (*domain.Session, error)
	Touch(ctx context.Context, id string, at time.Time) (*domain.Session, error)
	Invalidate(ctx context.Context, id string) (bool, error)
}

// IdentityRepo resolves the role of the session owner.
type IdentityRepo interface {
	FindByID(ctx context.Context, id string) (*identitydomain.Identity, error)
}

// EventPublisher receives session lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(ctx context.Context, event *telemetrydomain.SessionEvent)
}

// ValidationMetrics records validation outcomes.
type ValidationMetrics interface {
	Validation(outcome string)
}

// Options carries the tunables and optional collaborators of a Validator.
type Options struct {
	InactivityTimeout time.Duration
	StoreTimeout      time.Duration
	Now               func() time.Time
	Logger            *zap.Logger
	Events            EventPublisher
	Metrics           ValidationMetrics
}

// Result is a successful validation. Token is the same session re-signed with the refreshed
// last_activity and the original expiry; it is empty if re-signing failed.
type Result struct {
	Principal auth.Principal
	Token     string
}

// Validator turns a raw bearer token into a Principal. It holds no per-request state and is
// safe for concurrent use.
type Validator struct {
	codec        *security.TokenCodec
	sessions     SessionRepo
	identities   IdentityRepo
	inactivity   time.Duration
	storeTimeout time.Duration
	now          func() time.Time
	log          *zap.Logger
	events       EventPublisher
	metrics      ValidationMetrics
	tracer       trace.Tracer
	outcomes     metric.Int64Counter
}

// NewValidator returns a Validator. Zero timeouts fall back to 60m inactivity and 3s per store call.
func NewValidator(codec *security.TokenCodec, sessions SessionRepo, identities IdentityRepo, opts Options) *Validator {
	v := &Validator{
		codec:        codec,
		sessions:     sessions,
		identities:   identities,
		inactivity:   opts.InactivityTimeout,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
		log:          opts.Logger,
		events:       opts.Events,
		metrics:      opts.Metrics,
		tracer:       otel.Tracer(instrumentationName),
	}
	if v.inactivity <= 0 {
		v.inactivity = 60 * time.Minute
	}
	if v.storeTimeout <= 0 {
		v.storeTimeout = 3 * time.Second
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.log == nil {
		v.log = zap.NewNop()
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter("auth.validations",
		metric.WithDescription("Session validations by outcome"))
	if err == nil {
		v.outcomes = counter
	}
	return v
}

// Authenticate validates raw and, on success, advances the session's last_activity.
//
// Failures are tagged auth errors: InvalidToken for anything the codec rejects, SessionNotFound
// when the session is absent, inactive, owned by another subject or its identity is gone,
// SessionExpired when the idle time carried in the token exceeds the inactivity timeout (the
// session is closed as a side effect) or the session was closed concurrently, and
// StoreUnavailable when a store call fails.
func (v *Validator) Authenticate(ctx context.Context, raw string) (*Result, error) {
	ctx, span := v.tracer.Start(ctx, "Validator.Authenticate")
	defer span.End()

	res, err := v.authenticate(ctx, raw, span)
	outcome := "ok"
	if err != nil {
		outcome = string(auth.KindOf(err))
		span.SetStatus(codes.Error, outcome)
		if auth.KindOf(err) == auth.KindStoreUnavailable {
			span.RecordError(err)
			v.log.Error("session validation failed closed", zap.Error(err))
		} else {
			v.log.Debug("session validation rejected", zap.String("kind", outcome))
		}
	}
	if v.metrics != nil {
		v.metrics.Validation(outcome)
	}
	if v.outcomes != nil {
		v.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return res, err
}

func (v *Validator) authenticate(ctx context.Context, raw string, span trace.Span) (*Result, error) {
	if raw == "" {
		return nil, auth.E("token.decode", auth.KindInvalidToken, nil)
	}
	claims, err := v.codec.Decode(raw)
	if err != nil {
		return nil, auth.E("token.decode", auth.KindInvalidToken, err)
	}
	span.SetAttributes(attribute.String("session.id", claims.SessionID))

	sess, err := v.getActive(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.BelongsTo(claims.Subject) {
		return nil, auth.E("session.get_active", auth.KindSessionNotFound, nil)
	}

	now := v.now().UTC()
	if idle := now.Sub(claims.LastActivity); idle > v.inactivity {
		return nil, v.expire(ctx, sess, idle)
	}

	ident, err := v.findIdentity(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if ident == nil || !ident.IsActive {
		return nil, auth.E("identity.find_by_id", auth.KindSessionNotFound, nil)
	}

	touched, err := v.touch(ctx, sess.ID, now)
	if err != nil {
		return nil, err
	}
	if touched == nil {
		return nil, auth.E("session.touch", auth.KindSessionExpired, nil)
	}

	res := &Result{Principal: auth.Principal{UserID: ident.ID, SessionID: touched.ID, Role: ident.Role}}
	token, err := v.codec.Encode(security.Claims{
		Subject:      claims.Subject,
		SessionID:    claims.SessionID,
		LastActivity: touched.LastActivity,
		ExpiresAt:    claims.ExpiresAt,
	})
	if err != nil {
		v.log.Warn("could not re-sign token", zap.String("session_id", sess.ID), zap.Error(err))
		return res, nil
	}
	res.Token = token
	return res, nil
}

// expire closes a session that outlived the inactivity timeout. The outcome is SessionExpired
// whether this call or a concurrent one closed it.
func (v *Validator) expire(ctx context.Context, sess *domain.Session, idle time.Duration) error {
	storeCtx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	changed, err := v.sessions.Invalidate(storeCtx, sess.ID)
	cancel()
	if err != nil {
		return auth.E("session.invalidate", auth.KindStoreUnavailable, err)
	}
	if changed {
		v.log.Info("session expired after inactivity",
			zap.String("session_id", sess.ID),
			zap.String("user_id", sess.UserID),
			zap.Duration("idle", idle))
		if v.events != nil {
			v.events.Publish(ctx, &telemetrydomain.SessionEvent{
				Type:       telemetrydomain.EventSessionExpired,
				SessionID:  sess.ID,
				UserID:     sess.UserID,
				OccurredAt: v.now().UTC(),
			})
		}
	}
	return auth.E("session.timeout", auth.KindSessionExpired, nil)
}

func (v *Validator) getActive(ctx context.Context, id string) (*domain.Session, error) {
	storeCtx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()
	sess, err := v.sessions.GetActive(storeCtx, id)
	if err != nil {
		return nil, auth.E("session.get_active", auth.KindStoreUnavailable, err)
	}
	return sess, nil
}

func (v *Validator) findIdentity(ctx context.Context, id string) (*identitydomain.Identity, error) {
	storeCtx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()
	ident, err := v.identities.FindByID(storeCtx, id)
	if err != nil {
		return nil, auth.E("identity.find_by_id", auth.KindStoreUnavailable, err)
	}
	return ident, nil
}

func (v *Validator) touch(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	storeCtx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()
	sess, err := v.sessions.Touch(storeCtx, id, at)
	if err != nil {
		return nil, auth.E("session.touch", auth.KindStoreUnavailable, err)
	}
	return sess, nil
}
