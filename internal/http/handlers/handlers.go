// Package handlers exposes the offer and messaging operations over HTTP.
//
// Handlers are transport-thin: they parse path/body input, resolve the
// authenticated caller, delegate to application services and translate
// results (and service errors) into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/http/middleware"
	"github.com/tbourn/go-offers-backend/internal/services"
	"github.com/tbourn/go-offers-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// OfferService defines the offer lifecycle consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type OfferService interface {
	StartConversation(ctx context.Context, requestedServiceID, userID uint, text string) (*domain.Conversation, error)
	AcceptOffer(ctx context.Context, conversationID, userID uint) (*domain.Conversation, error)
	WithdrawOffer(ctx context.Context, conversationID, userID uint) (*domain.Conversation, error)
	CancelRequestedService(ctx context.Context, requestedServiceID, userID uint) (*domain.RequestedService, error)
}

// MessageService defines message posting, listing and read tracking.
type MessageService interface {
	PostMessage(ctx context.Context, conversationID, authorID uint, content string) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID, userID uint, page, pageSize int) ([]domain.Message, int64, error)
	MarkAsReadBy(ctx context.Context, userID, messageID uint) (*domain.Message, error)
}

// MembershipChecker answers whether a user participates in a conversation.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID, conversationID uint) (bool, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for offers and messages.
type Handlers struct {
	offerSvc OfferService
	msgSvc   MessageService
	members  MembershipChecker

	// db backs idempotency records and ETag stats; nil disables both.
	db *gorm.DB
	// IdempotencyTTL is how long an offer submission can be replayed.
	IdempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(offerSvc OfferService, msgSvc MessageService, members MembershipChecker, db *gorm.DB) *Handlers {
	return &Handlers{
		offerSvc:       offerSvc,
		msgSvc:         msgSvc,
		members:        members,
		db:             db,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// currentUser returns the authenticated caller or aborts with 401.
func currentUser(c *gin.Context) (uint, bool) {
	uid, ok := middleware.UserIDFrom(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return 0, false
	}
	return uid, true
}

// pathID parses the :id path parameter as a positive integer or aborts with 400.
func pathID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, what+" id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// clampPagination reads page and page_size (default 20, max 100).
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), 20, 100)
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text: CRLF/CR become LF, runs of 3+ LFs
// collapse to two, and surrounding whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// failFromService maps a service error onto the error envelope.
func failFromService(c *gin.Context, err error) {
	if v, ok := services.AsValidation(err); ok {
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, v.Msg)
		return
	}
	switch {
	case errors.Is(err, services.ErrServiceNotFound),
		errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrNotMember):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrMessageTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		failErr(c, http.StatusServiceUnavailable, ErrCodeInternal, "request cancelled", err)
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error", err)
	}
}
