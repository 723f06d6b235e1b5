// Package services defines the business logic for offers, conversations and
// messages. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by callers.
//
// Two families exist: plain sentinels (not found, not a member, input shape)
// and *ValidationError values carrying a stable, user-facing message for each
// business rule. Translation into HTTP status codes is performed at the
// handler layer.
package services

import "errors"

// Lookup and membership errors.
var (
	// ErrServiceNotFound indicates that the requested service does not exist.
	ErrServiceNotFound = errors.New("requested service not found")

	// ErrConversationNotFound indicates that the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates that the message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotMember is returned when the caller is neither the requester nor
	// the service provider of a conversation.
	ErrNotMember = errors.New("not a member of this conversation")

	// ErrEmptyMessage is returned when message content is blank.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when message content exceeds the
	// configured rune limit.
	ErrMessageTooLong = errors.New("message too long")
)

// ValidationError is a business-rule violation with a stable message that is
// safe to show to the caller verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// AsValidation unwraps err into a *ValidationError when it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Business-rule violations.
var (
	ErrOfferNotAllowed    = &ValidationError{Msg: "Cannot make an offer for this requested service."}
	ErrSelfOffer          = &ValidationError{Msg: "You cannot submit an offer for your own requested service."}
	ErrDuplicateOffer     = &ValidationError{Msg: "You have already submitted an offer for this requested service."}
	ErrNotRequester       = &ValidationError{Msg: "Only the requester can accept this offer."}
	ErrNotProvider        = &ValidationError{Msg: "Only the service provider can withdraw this offer."}
	ErrOfferNotPending    = &ValidationError{Msg: "This offer is no longer pending."}
	ErrNotCancellable     = &ValidationError{Msg: "This requested service cannot be cancelled."}
	ErrNotOwner           = &ValidationError{Msg: "Only the owner can cancel this requested service."}
	ErrConversationClosed = &ValidationError{Msg: "This conversation is closed."}
)
