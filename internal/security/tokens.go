package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, expired, or missing a
	// required claim.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnsupportedAlgorithm is returned by NewTokenCodec for an unknown JWT_ALGORITHM.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
)

// maxClockSkew bounds how far in the future a last_activity claim may lie.
const maxClockSkew = 5 * time.Second

// Claims is the logical content of an access token.
type Claims struct {
	Subject      string
	SessionID    string
	LastActivity time.Time
	ExpiresAt    time.Time
}

// accessClaims is the JWT wire form. last_activity is RFC 3339 with nanoseconds so the
// inactivity check sees the exact value that was touched.
type accessClaims struct {
	jwt.RegisteredClaims
	SessionID    string `json:"session_id"`
	LastActivity string `json:"last_activity"`
}

// CodecOptions configures a TokenCodec. Secret is used for HS*; PrivateKey and PublicKey
// (inline PEM or file path) for RS256 and ES256.
type CodecOptions struct {
	Algorithm  string
	Secret     string
	PrivateKey string
	PublicKey  string
	Issuer     string
	Audience   string
	TTL        time.Duration
	Now        func() time.Time
}

// TokenCodec signs and verifies access tokens. It holds no mutable state and is safe for
// concurrent use.
type TokenCodec struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	audience  string
	ttl       time.Duration
	now       func() time.Time
	parser    *jwt.Parser
}

// NewTokenCodec builds a codec from opts.
func NewTokenCodec(opts CodecOptions) (*TokenCodec, error) {
	switch alg := strings.ToUpper(strings.TrimSpace(opts.Algorithm)); alg {
	case "", "HS256", "HS384", "HS512":
		if alg == "" {
			alg = "HS256"
		}
		if opts.Secret == "" {
			return nil, fmt.Errorf("security: %s requires a secret", alg)
		}
		secret := []byte(opts.Secret)
		return newCodec(jwt.GetSigningMethod(alg), secret, secret, opts), nil
	case "RS256", "ES256":
		priv, pub, err := ParseKeyPair(opts.PrivateKey, opts.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("security: load %s key pair: %w", alg, err)
		}
		if KeyAlg(pub) != alg {
			return nil, fmt.Errorf("security: key pair does not match %s: %w", alg, ErrInvalidKey)
		}
		return newCodec(jwt.GetSigningMethod(alg), priv, pub, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, opts.Algorithm)
	}
}

// NewKeyPairCodec returns a codec signing with an already parsed key pair. The algorithm
// follows the key type.
func NewKeyPairCodec(priv crypto.Signer, pub crypto.PublicKey, opts CodecOptions) (*TokenCodec, error) {
	alg := KeyAlg(pub)
	if alg == "" || priv == nil {
		return nil, ErrInvalidKey
	}
	return newCodec(jwt.GetSigningMethod(alg), priv, pub, opts), nil
}

func newCodec(method jwt.SigningMethod, signKey, verifyKey any, opts CodecOptions) *TokenCodec {
	c := &TokenCodec{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    opts.Issuer,
		audience:  opts.Audience,
		ttl:       opts.TTL,
		now:       opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.ttl <= 0 {
		c.ttl = 30 * time.Minute
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(c.audience))
	}
	c.parser = jwt.NewParser(parserOpts...)
	return c
}

// Algorithm returns the JWT alg this codec signs with.
func (c *TokenCodec) Algorithm() string { return c.method.Alg() }

// TTL returns the hard lifetime given to newly issued tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Encode signs claims. A zero LastActivity becomes now and a zero ExpiresAt becomes now+TTL.
func (c *TokenCodec) Encode(claims Claims) (string, error) {
	if claims.Subject == "" || claims.SessionID == "" {
		return "", fmt.Errorf("security: encode: subject and session id are required")
	}
	now := c.now().UTC()
	if claims.LastActivity.IsZero() {
		claims.LastActivity = now
	}
	if claims.ExpiresAt.IsZero() {
		claims.ExpiresAt = now.Add(c.ttl)
	}
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	wire := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   claims.Subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		SessionID:    claims.SessionID,
		LastActivity: claims.LastActivity.UTC().Format(time.RFC3339Nano),
	}
	if c.audience != "" {
		wire.Audience = jwt.ClaimStrings{c.audience}
	}
	return jwt.NewWithClaims(c.method, wire).SignedString(c.signKey)
}

// Decode verifies the signature, algorithm, issuer, audience and exp of raw and returns its
// claims. It does not consult session state. Every failure wraps ErrInvalidToken.
func (c *TokenCodec) Decode(raw string) (Claims, error) {
	var wire accessClaims
	token, err := c.parser.ParseWithClaims(raw, &wire, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	if wire.Subject == "" || wire.SessionID == "" || wire.LastActivity == "" {
		return Claims{}, fmt.Errorf("%w: missing required claim", ErrInvalidToken)
	}
	lastActivity, err := time.Parse(time.RFC3339Nano, wire.LastActivity)
	if err != nil || lastActivity.IsZero() {
		return Claims{}, fmt.Errorf("%w: malformed last_activity", ErrInvalidToken)
	}
	if lastActivity.After(c.now().Add(maxClockSkew)) {
		return Claims{}, fmt.Errorf("%w: last_activity in the future", ErrInvalidToken)
	}
	return Claims{
		Subject:      wire.Subject,
		SessionID:    wire.SessionID,
		LastActivity: lastActivity.UTC(),
		ExpiresAt:    wire.ExpiresAt.Time.UTC(),
	}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
