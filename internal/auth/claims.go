// Package auth verifies and issues the bearer credentials used by the HTTP
// API and the STOMP channel. Credentials are HS256 JWTs carrying the subject
// user id in "sub" and space-joined role names in "ROLE".
package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidCredential covers every reason a token is refused: absent,
	// blank, malformed, bad signature or expired.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrMissingSubject is returned by Claims.UserID when the subject is absent
	// or not a positive integer.
	ErrMissingSubject = errors.New("credential has no usable subject")
)

// Claims is the decoded content of a verified credential. It lives only as
// long as the request or frame it was derived from.
type Claims struct {
	Subject   string
	Roles     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// UserID parses the subject as a user id.
func (c *Claims) UserID() (uint, error) {
	if c == nil {
		return 0, ErrMissingSubject
	}
	s := strings.TrimSpace(c.Subject)
	if s == "" {
		return 0, ErrMissingSubject
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrMissingSubject
	}
	return uint(id), nil
}

// RoleList splits Roles into individual role names.
func (c *Claims) RoleList() []string {
	if c == nil {
		return nil
	}
	return strings.Fields(c.Roles)
}

