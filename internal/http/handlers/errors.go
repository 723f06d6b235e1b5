package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, so
// they never change once released. Middleware answers with the same
// envelope using "unauthorized", "rate_limited" and "bad_idempotency_key".
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// ErrCodeValidationFailed is a business-rule refusal; the message is
	// the rule's user-facing text.
	ErrCodeValidationFailed = "validation_failed"
)
