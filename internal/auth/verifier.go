package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// bearerPrefix is stripped (case-insensitively) from raw tokens.
const bearerPrefix = "bearer "

// tokenClaims is the JWT payload layout shared by Verifier and Issuer.
type tokenClaims struct {
	Role string `json:"ROLE,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 credentials against a shared secret.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	now    func() time.Time
	leeway time.Duration
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(o *verifierOptions) { o.now = now }
}

// WithLeeway tolerates small clock skew when checking exp/iat.
func WithLeeway(d time.Duration) VerifierOption {
	return func(o *verifierOptions) { o.leeway = d }
}

// NewVerifier returns a Verifier for the given secret.
func NewVerifier(secret []byte, opts ...VerifierOption) *Verifier {
	o := verifierOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if o.now != nil {
		popts = append(popts, jwt.WithTimeFunc(o.now))
	}
	if o.leeway > 0 {
		popts = append(popts, jwt.WithLeeway(o.leeway))
	}
	return &Verifier{key: secret, parser: jwt.NewParser(popts...)}
}

// StripBearer removes an optional "Bearer " prefix and surrounding spaces.
func StripBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		raw = strings.TrimSpace(raw[len(bearerPrefix):])
	}
	return raw
}

// Verify decodes raw and returns its claims. Any failure is reported as
// ErrInvalidCredential; callers treat it as unauthenticated.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	tok := StripBearer(raw)
	if tok == "" || v == nil || len(v.key) == 0 {
		return nil, ErrInvalidCredential
	}

	var tc tokenClaims
	parsed, err := v.parser.ParseWithClaims(tok, &tc, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredential
	}

	c := &Claims{Subject: tc.Subject, Roles: tc.Role}
	if tc.IssuedAt != nil {
		c.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}
