// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-credential authentication. The Authorization
// header is verified on every request; on success the caller's identity is
// stashed in the Gin context so that downstream middleware (logging, rate
// limiting, idempotency) and handlers can read it.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-offers-backend/internal/auth"
)

// Context keys populated by Authenticate. "userID" holds the decimal user id
// as a string, which is what the logger and the rate limiter key on.
const (
	ctxKeyUserID = "userID"
	ctxKeyClaims = "claims"
)

// CredentialVerifier turns a raw bearer token into verified claims.
type CredentialVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// Authenticate rejects requests without a valid bearer credential with 401.
// Credentials whose subject is not a user id are rejected the same way.
func Authenticate(v CredentialVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := auth.StripBearer(c.GetHeader("Authorization"))
		if raw == "" {
			authRejections.WithLabelValues("missing").Inc()
			abortUnauthorized(c, "missing or invalid credentials")
			return
		}
		claims, err := v.Verify(raw)
		if err != nil {
			authRejections.WithLabelValues("invalid").Inc()
			abortUnauthorized(c, "missing or invalid credentials")
			return
		}
		uid, err := claims.UserID()
		if err != nil {
			authRejections.WithLabelValues("no_subject").Inc()
			abortUnauthorized(c, "credential has no subject")
			return
		}
		c.Set(ctxKeyUserID, strconv.FormatUint(uint64(uid), 10))
		c.Set(ctxKeyClaims, claims)
		c.Next()
	}
}

// UserIDFrom returns the authenticated user id, if any.
func UserIDFrom(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return 0, false
	}
	s, _ := v.(string)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ClaimsFrom returns the verified claims stored by Authenticate.
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ctxKeyClaims)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*auth.Claims)
	return cl, ok && cl != nil
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}
