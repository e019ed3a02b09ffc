package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"serreconnect/backend/internal/auth"
	identitydomain "serreconnect/backend/internal/identity/domain"
	"serreconnect/backend/internal/security"
	"serreconnect/backend/internal/session/domain"
	"serreconnect/backend/internal/session/repository"
	telemetrydomain "serreconnect/backend/internal/telemetry/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memIdentityRepo struct {
	mu   sync.Mutex
	byID map[string]*identitydomain.Identity
	err  error
}

func (r *memIdentityRepo) FindByID(ctx context.Context, id string) (*identitydomain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	i, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	out := *i
	return &out, nil
}

func (r *memIdentityRepo) set(i *identitydomain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[i.ID] = i
}

// flakySessions wraps a MemoryRepository and fails the named operation.
type flakySessions struct {
	*repository.MemoryRepository
	failOn string
}

var errStoreDown = errors.New("dial tcp: connection refused")

func (f *flakySessions) GetActive(ctx context.Context, id string) (*domain.Session, error) {
	if f.failOn == "get" {
		return nil, errStoreDown
	}
	return f.MemoryRepository.GetActive(ctx, id)
}

func (f *flakySessions) Touch(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	if f.failOn == "touch" {
		return nil, errStoreDown
	}
	return f.MemoryRepository.Touch(ctx, id, at)
}

func (f *flakySessions) Invalidate(ctx context.Context, id string) (bool, error) {
	if f.failOn == "invalidate" {
		return false, errStoreDown
	}
	return f.MemoryRepository.Invalidate(ctx, id)
}

// racingSessions invalidates the session right before touching it, as a concurrent logout would.
type racingSessions struct {
	*repository.MemoryRepository
}

func (r racingSessions) Touch(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	if _, err := r.MemoryRepository.Invalidate(ctx, id); err != nil {
		return nil, err
	}
	return r.MemoryRepository.Touch(ctx, id, at)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*telemetrydomain.SessionEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev *telemetrydomain.SessionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeRecorder) Validation(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

const testInactivity = 10 * time.Minute

type fixture struct {
	clock      *testClock
	codec      *security.TokenCodec
	sessions   *repository.MemoryRepository
	identities *memIdentityRepo
	events     *recordingPublisher
	outcomes   *outcomeRecorder
	v          *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:      &testClock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
		sessions:   repository.NewMemoryRepository(),
		identities: &memIdentityRepo{byID: make(map[string]*identitydomain.Identity)},
		events:     &recordingPublisher{},
		outcomes:   &outcomeRecorder{},
	}
	f.codec = security.NewTestHMACCodec(f.clock.Now)
	f.identities.set(&identitydomain.Identity{ID: "user-1", Email: "grower@example.com", Role: identitydomain.RoleUser, IsActive: true})
	f.identities.set(&identitydomain.Identity{ID: "admin-1", Email: "admin@example.com", Role: identitydomain.RoleAdmin, IsActive: true})
	f.v = f.newValidator(f.sessions)
	return f
}

func (f *fixture) newValidator(sessions SessionRepo) *Validator {
	return NewValidator(f.codec, sessions, f.identities, Options{
		InactivityTimeout: testInactivity,
		StoreTimeout:      time.Second,
		Now:               f.clock.Now,
		Events:            f.events,
		Metrics:           f.outcomes,
	})
}

// login creates a session for userID and returns a token for it, as the issuer does.
func (f *fixture) login(t *testing.T, userID string) (string, string) {
	t.Helper()
	now := f.clock.Now()
	sess, err := f.sessions.Create(context.Background(), userID, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	token, err := f.codec.Encode(security.Claims{Subject: userID, SessionID: sess.ID, LastActivity: now})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return token, sess.ID
}

func TestAuthenticate_FreshLogin(t *testing.T) {
	f := newFixture(t)
	token, sessionID := f.login(t, "user-1")
	f.clock.Advance(time.Minute)

	res, err := f.v.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	want := auth.Principal{UserID: "user-1", SessionID: sessionID, Role: identitydomain.RoleUser}
	if res.Principal != want {
		t.Errorf("Principal = %+v, want %+v", res.Principal, want)
	}
	if sess := f.sessions.Get(sessionID); !sess.LastActivity.Equal(f.clock.Now()) {
		t.Errorf("LastActivity = %v, want %v", sess.LastActivity, f.clock.Now())
	}
	if len(f.outcomes.outcomes) != 1 || f.outcomes.outcomes[0] != "ok" {
		t.Errorf("outcomes = %v, want [ok]", f.outcomes.outcomes)
	}
}

func TestAuthenticate_RefreshedTokenCarriesTouch(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "user-1")
	original, err := f.codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	f.clock.Advance(8 * time.Minute)

	res, err := f.v.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	refreshed, err := f.codec.Decode(res.Token)
	if err != nil {
		t.Fatalf("Decode refreshed: %v", err)
	}
	if !refreshed.LastActivity.Equal(f.clock.Now()) {
		t.Errorf("refreshed LastActivity = %v, want %v", refreshed.LastActivity, f.clock.Now())
	}
	if !refreshed.ExpiresAt.Equal(original.ExpiresAt) {
		t.Errorf("refreshed ExpiresAt = %v, want unchanged %v", refreshed.ExpiresAt, original.ExpiresAt)
	}

	// The refreshed token keeps the session alive past the original token's idle window.
	f.clock.Advance(8 * time.Minute)
	if _, err := f.v.Authenticate(context.Background(), res.Token); err != nil {
		t.Fatalf("Authenticate refreshed token: %v", err)
	}
	if _, err := f.v.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrSessionExpired) {
		t.Fatalf("original token after 16m idle = %v, want ErrSessionExpired", err)
	}
}

func TestAuthenticate_InactivityTimeoutClosesSession(t *testing.T) {
	f := newFixture(t)
	token, sessionID := f.login(t, "user-1")

	if _, err := f.v.Authenticate(context.Background(), token); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	f.clock.Advance(testInactivity + time.Second)

	_, err := f.v.Authenticate(context.Background(), token)
	if !errors.Is(err, auth.ErrSessionExpired) {
		t.Fatalf("Authenticate after timeout = %v, want ErrSessionExpired", err)
	}
	if !auth.IsUnauthenticated(err) {
		t.Error("expired session should surface as unauthenticated")
	}
	if sess := f.sessions.Get(sessionID); sess.IsActive {
		t.Fatal("session should be inactive after timeout")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != telemetrydomain.EventSessionExpired {
		t.Errorf("events = %+v, want one session.expired", f.events.events)
	}

	for range 3 {
		f.clock.Advance(time.Hour)
		_, err := f.v.Authenticate(context.Background(), token)
		if !auth.IsUnauthenticated(err) {
			t.Fatalf("later Authenticate = %v, want unauthenticated", err)
		}
		if f.sessions.Get(sessionID).IsActive {
			t.Fatal("session came back to life")
		}
	}
	if len(f.events.events) != 1 {
		t.Errorf("expired event published %d times, want 1", len(f.events.events))
	}
}

func TestAuthenticate_ExactlyAtTimeoutIsAllowed(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "user-1")
	f.clock.Advance(testInactivity)
	if _, err := f.v.Authenticate(context.Background(), token); err != nil {
		t.Fatalf("Authenticate at the boundary: %v", err)
	}
}

func TestAuthenticate_AfterLogout(t *testing.T) {
	f := newFixture(t)
	token, sessionID := f.login(t, "user-1")
	if _, err := f.v.Authenticate(context.Background(), token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := f.sessions.Invalidate(context.Background(), sessionID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := f.v.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("Authenticate after logout = %v, want ErrSessionNotFound", err)
	}
}

func TestAuthenticate_RejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "user-1")

	dot := strings.LastIndex(token, ".")
	sig := []byte(token)
	i := dot + 5
	if sig[i] == 'A' {
		sig[i] = 'B'
	} else {
		sig[i] = 'A'
	}

	foreign, err := security.NewTokenCodec(security.CodecOptions{
		Secret:   "another-secret-0123456789abcdefgh",
		Issuer:   "test-issuer",
		Audience: "test-audience",
		Now:      f.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	foreignToken, err := foreign.Encode(security.Claims{Subject: "user-1", SessionID: "sess"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	testCases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"corrupted signature", string(sig)},
		{"foreign secret", foreignToken},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.v.Authenticate(context.Background(), tc.token)
			if !errors.Is(err, auth.ErrInvalidToken) {
				t.Fatalf("Authenticate = %v, want ErrInvalidToken", err)
			}
			if !auth.IsUnauthenticated(err) {
				t.Error("invalid token should surface as unauthenticated")
			}
		})
	}
}

func TestAuthenticate_ExpiredTokenOnActiveSession(t *testing.T) {
	f := newFixture(t)
	token, sessionID := f.login(t, "user-1")
	v := NewValidator(f.codec, f.sessions, f.identities, Options{
		InactivityTimeout: 2 * time.Hour,
		Now:               f.clock.Now,
	})
	f.clock.Advance(31 * time.Minute)

	if _, err := v.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("Authenticate expired token = %v, want ErrInvalidToken", err)
	}
	if !f.sessions.Get(sessionID).IsActive {
		t.Error("an expired token must not close the session")
	}
}

func TestAuthenticate_SubjectMismatch(t *testing.T) {
	f := newFixture(t)
	_, sessionID := f.login(t, "user-1")
	forged, err := f.codec.Encode(security.Claims{Subject: "admin-1", SessionID: sessionID})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := f.v.Authenticate(context.Background(), forged); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("Authenticate = %v, want ErrSessionNotFound", err)
	}
	if !f.sessions.Get(sessionID).IsActive {
		t.Error("mismatch must not touch the owner's session")
	}
}

func TestAuthenticate_UnknownSession(t *testing.T) {
	f := newFixture(t)
	token, err := f.codec.Encode(security.Claims{Subject: "user-1", SessionID: "does-not-exist"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := f.v.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("Authenticate = %v, want ErrSessionNotFound", err)
	}
}

func TestAuthenticate_RoleComesFromIdentityStore(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "admin-1")
	res, err := f.v.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Principal.Role != identitydomain.RoleAdmin {
		t.Fatalf("Role = %q, want admin", res.Principal.Role)
	}

	f.identities.set(&identitydomain.Identity{ID: "admin-1", Role: identitydomain.RoleUser, IsActive: true})
	res, err = f.v.Authenticate(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Authenticate after demotion: %v", err)
	}
	if res.Principal.Role != identitydomain.RoleUser {
		t.Errorf("Role after demotion = %q, want user", res.Principal.Role)
	}
}

func TestAuthenticate_DisabledIdentity(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "user-1")
	f.identities.set(&identitydomain.Identity{ID: "user-1", Role: identitydomain.RoleUser, IsActive: false})
	if _, err := f.v.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("Authenticate = %v, want ErrSessionNotFound", err)
	}
}

func TestAuthenticate_LostRaceToInvalidate(t *testing.T) {
	f := newFixture(t)
	token, sessionID := f.login(t, "user-1")
	v := f.newValidator(racingSessions{f.sessions})

	if _, err := v.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrSessionExpired) {
		t.Fatalf("Authenticate = %v, want ErrSessionExpired", err)
	}
	if f.sessions.Get(sessionID).IsActive {
		t.Error("touch resurrected an invalidated session")
	}
}

func TestAuthenticate_StoreUnavailableFailsClosed(t *testing.T) {
	testCases := []struct {
		name    string
		failOn  string
		advance time.Duration
	}{
		{"get active", "get", 0},
		{"touch", "touch", 0},
		{"invalidate on timeout", "invalidate", testInactivity + time.Minute},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			token, sessionID := f.login(t, "user-1")
			v := f.newValidator(&flakySessions{MemoryRepository: f.sessions, failOn: tc.failOn})
			f.clock.Advance(tc.advance)

			res, err := v.Authenticate(context.Background(), token)
			if res != nil {
				t.Errorf("Authenticate returned %+v with a failing store", res)
			}
			if !errors.Is(err, auth.ErrStoreUnavailable) {
				t.Fatalf("Authenticate = %v, want ErrStoreUnavailable", err)
			}
			if auth.IsUnauthenticated(err) {
				t.Error("store failure must not look like an authentication failure")
			}
			if !errors.Is(err, errStoreDown) {
				t.Error("cause should be preserved for logging")
			}
			if tc.failOn == "invalidate" && !f.sessions.Get(sessionID).IsActive {
				t.Error("session changed although invalidate failed")
			}
		})
	}
}

func TestAuthenticate_IdentityStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	token, _ := f.login(t, "user-1")
	f.identities.err = errors.New("timeout")
	if _, err := f.v.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrStoreUnavailable) {
		t.Fatalf("Authenticate = %v, want ErrStoreUnavailable", err)
	}
}

func TestAuthenticate_CancelledContext(t *testing.T) {
	f := newFixture(t)
	token, sessionID := f.login(t, "user-1")
	before := f.sessions.Get(sessionID).LastActivity
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.clock.Advance(time.Minute)

	if _, err := f.v.Authenticate(ctx, token); err == nil {
		t.Fatal("Authenticate with cancelled context should fail")
	}
	if got := f.sessions.Get(sessionID).LastActivity; !got.Equal(before) {
		t.Errorf("LastActivity = %v, want unchanged %v", got, before)
	}
}

func TestAuthenticate_ConcurrentSameSession(t *testing.T) {
	f := newFixture(t)
	token, sessionID := f.login(t, "user-1")
	f.clock.Advance(2 * time.Minute)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.v.Authenticate(context.Background(), token); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Authenticate: %v", err)
	}

	sess := f.sessions.Get(sessionID)
	if !sess.IsActive {
		t.Fatal("session should still be active")
	}
	if !sess.LastActivity.Equal(f.clock.Now()) {
		t.Errorf("LastActivity = %v, want %v", sess.LastActivity, f.clock.Now())
	}
}

func TestAuthenticate_ConcurrentTimeoutAndTouch(t *testing.T) {
	f := newFixture(t)
	staleToken, sessionID := f.login(t, "user-1")
	f.clock.Advance(5 * time.Minute)
	fresh, err := f.v.Authenticate(context.Background(), staleToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	// staleToken now carries an idle time past the timeout; fresh.Token does not.
	f.clock.Advance(testInactivity - time.Minute)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := fresh.Token
			if i%2 == 0 {
				tok = staleToken
			}
			_, _ = f.v.Authenticate(context.Background(), tok)
		}()
	}
	wg.Wait()

	if f.sessions.Get(sessionID).IsActive {
		t.Fatal("session must stay inactive once any request observed the timeout")
	}
	if _, err := f.v.Authenticate(context.Background(), fresh.Token); !auth.IsUnauthenticated(err) {
		t.Errorf("Authenticate after timeout = %v, want unauthenticated", err)
	}
}
