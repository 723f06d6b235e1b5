// Offer HTTP handlers.
//
// This file exposes the offer lifecycle:
//   - POST /requested-services/{id}/offers   (make an offer, opening a conversation)
//   - POST /requested-services/{id}/cancel   (owner cancels the requested service)
//   - POST /conversations/{id}/accept        (requester accepts the offer)
//   - POST /conversations/{id}/withdraw      (provider withdraws the offer)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// submission exists for (user, requested service, key), the handler returns
// the originally created conversation and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/http/middleware"
	"github.com/tbourn/go-offers-backend/internal/repo"
)

// StartOfferRequest is the JSON payload for making an offer.
type StartOfferRequest struct {
	// Message is the provider's opening message. It must be non-empty.
	Message string `json:"message" binding:"required,min=1" example:"I can fix it on Tuesday for 120 EUR."`
}

// StartConversation godoc
// @ID          startConversation
// @Summary     Make an offer on a requested service
// @Description Opens a PENDING conversation between the requester and the caller, seeded with the caller's message.
// @Description Supports idempotency via the Idempotency-Key header (same key → same conversation).
// @Tags        Offers
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    int     true  "Requested service ID"
// @Param       body             body    handlers.StartOfferRequest  true  "Offer payload"
//
// @Success     201  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Requested service not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Offer not allowed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requested-services/{id}/offers [post]
func (h *Handlers) StartConversation(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	serviceID, okID := pathID(c, "requested service")
	if !okID {
		return
	}

	var req StartOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}
	text := sanitizeContent(req.Message)
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, uid, serviceID, idemKey, time.Now().UTC()); err == nil {
			if prev, err := repo.GetConversation(ctx, h.db, rec.ResourceID); err == nil {
				replayed(c, rec.Status, prev)
				return
			}
		}
	}

	conv, err := h.offerSvc.StartConversation(ctx, serviceID, uid, text)
	if err != nil {
		failFromService(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && h.db != nil {
		if _, err := repo.CreateIdempotency(ctx, h.db, uid, serviceID, idemKey, conv.ID, http.StatusCreated, h.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Uint("conversation_id", conv.ID).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusCreated, conv)
}

// CancelRequestedService godoc
// @ID          cancelRequestedService
// @Summary     Cancel a requested service
// @Description Owner-only. Cancels a PENDING requested service and every pending offer on it; affected providers are notified.
// @Tags        Offers
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Requested service ID"
//
// @Success     200  {object}  domain.RequestedService
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Requested service not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Not cancellable"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requested-services/{id}/cancel [post]
func (h *Handlers) CancelRequestedService(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	serviceID, okID := pathID(c, "requested service")
	if !okID {
		return
	}
	svc, err := h.offerSvc.CancelRequestedService(c.Request.Context(), serviceID, uid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, svc)
}

// AcceptOffer godoc
// @ID          acceptOffer
// @Summary     Accept an offer
// @Description Requester-only. Accepts the conversation's offer; the requested service moves to IN_PROGRESS and competing offers are rejected.
// @Tags        Offers
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Conversation ID"
//
// @Success     200  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Offer cannot be accepted"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/accept [post]
func (h *Handlers) AcceptOffer(c *gin.Context) {
	h.transition(c, h.offerSvc.AcceptOffer)
}

// WithdrawOffer godoc
// @ID          withdrawOffer
// @Summary     Withdraw an offer
// @Description Provider-only. Withdraws a PENDING offer, freeing the provider to make a new one.
// @Tags        Offers
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Conversation ID"
//
// @Success     200  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Offer cannot be withdrawn"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/withdraw [post]
func (h *Handlers) WithdrawOffer(c *gin.Context) {
	h.transition(c, h.offerSvc.WithdrawOffer)
}

type conversationAction func(ctx context.Context, conversationID, userID uint) (*domain.Conversation, error)

func (h *Handlers) transition(c *gin.Context, act conversationAction) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	convID, okID := pathID(c, "conversation")
	if !okID {
		return
	}
	conv, err := act(c.Request.Context(), convID, uid)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}
