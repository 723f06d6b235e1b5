// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure leaves through fail (or failFromService) as an ErrorResponse
// with a stable code from errors.go; successes are plain JSON bodies. A
// replayed offer submission is a success that also carries the
// Idempotency-Replayed header.
//
//	HTTP/1.1 422 Unprocessable Entity
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "validation_failed",
//	  "message": "You have already submitted an offer for this requested service."
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-offers-backend/internal/http/middleware"
)

// HeaderReplayed marks a response served from an earlier submission with the
// same Idempotency-Key.
const HeaderReplayed = "Idempotency-Replayed"

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID for log correlation
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"validation_failed"`
	// Safe to show to end users
	Message string `json:"message" example:"This offer is no longer pending."`
}

// fail aborts with the error envelope. 5xx responses are logged.
func fail(c *gin.Context, status int, code, msg string) {
	failErr(c, status, code, msg, nil)
}

// failErr is fail with the underlying cause attached to the server log. The
// cause never reaches the client.
func failErr(c *gin.Context, status int, code, msg string, cause error) {
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Err(cause).
			Int("status", status).
			Str("code", code).
			Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer fallbacks with the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// replayed answers with a previously created resource.
func replayed(c *gin.Context, status int, body any) {
	c.Header(HeaderReplayed, "true")
	c.JSON(status, body)
}
