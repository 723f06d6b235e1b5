package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer signs credentials that a Verifier with the same secret accepts.
type Issuer struct {
	key []byte
	now func() time.Time
}

// NewIssuer returns an Issuer. A nil now uses time.Now.
func NewIssuer(secret []byte, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{key: secret, now: now}
}

// Issue signs a token for userID with the given roles, valid for ttl.
func (i *Issuer) Issue(userID uint, roles []string, ttl time.Duration) (string, error) {
	if len(i.key) == 0 {
		return "", errors.New("auth: empty signing key")
	}
	if userID == 0 {
		return "", ErrMissingSubject
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be positive")
	}
	now := i.now()
	tc := tokenClaims{
		Role: strings.Join(roles, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(i.key)
}
