// Message HTTP handlers.
//
// This file exposes REST endpoints for conversation messages:
//   - POST /conversations/{id}/messages   (post a message as a member)
//   - GET  /conversations/{id}/messages   (list paginated messages; marks the
//     counterparty's messages read)
//   - POST /messages/{id}/read            (mark a single message read)
//
// Listing supports conditional responses: a weak ETag derived from the
// conversation's message count and latest update is returned, and a matching
// If-None-Match yields 304. The membership check runs before the ETag so the
// tag never leaks to non-members.
package handlers

import (
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/repo"
	"github.com/tbourn/go-offers-backend/internal/services"
	"github.com/tbourn/go-offers-backend/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for posting a message.
type PostMessageRequest struct {
	// Content is the message text. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"Could you start earlier in the week?"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// maxContentRunes mirrors the service-side limit so oversize input fails fast.
func (h *Handlers) maxContentRunes() int {
	if ms, ok := h.msgSvc.(*services.MessageService); ok && ms.MaxContentRunes > 0 {
		return ms.MaxContentRunes
	}
	return services.DefaultMaxMessageRunes
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Post a message
// @Description Appends a message by the caller to the conversation and broadcasts it to live subscribers.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                          true  "Conversation ID"
// @Param       body  body  handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a member"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Conversation closed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	convID, okID := pathID(c, "conversation")
	if !okID {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	if maxRunes := h.maxContentRunes(); utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}

	m, err := h.msgSvc.PostMessage(c.Request.Context(), convID, uid, content)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a conversation
// @Description Returns a page of messages in chronological order. Unread messages from the other participant are marked read.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id         path   int  true   "Conversation ID"
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListMessagesResponse
// @Success     304  "Not modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a member"
// @Failure     404  {object}  handlers.ErrorResponse  "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	convID, okID := pathID(c, "conversation")
	if !okID {
		return
	}

	// ETag pre-check (best effort, members only).
	if h.db != nil && h.members != nil {
		if member, err := h.members.IsMember(ctx, uid, convID); err == nil && member {
			if v, err := repo.MessagesVersion(ctx, h.db, convID); err == nil {
				etag := messagesETag(convID, v)
				c.Header("ETag", etag)
				if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
					c.Status(http.StatusNotModified)
					return
				}
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListMessages(ctx, convID, uid, page, pageSize)
	if err != nil {
		failFromService(c, err)
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// MarkMessageRead godoc
// @ID          markMessageRead
// @Summary     Mark a message as read
// @Description Marks the message read on behalf of the caller, who must be a member of its conversation. Own messages are left unchanged.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Message ID"
//
// @Success     200  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a member"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/{id}/read [post]
func (h *Handlers) MarkMessageRead(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	msgID, okID := pathID(c, "message")
	if !okID {
		return
	}
	m, err := h.msgSvc.MarkAsReadBy(c.Request.Context(), uid, msgID)
	if err != nil {
		failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// messagesETag builds the weak validator for a conversation's message list.
func messagesETag(conversationID uint, v repo.ConversationVersion) string {
	var ts int64
	if !v.LatestUpdate.IsZero() {
		ts = v.LatestUpdate.UnixNano()
	}
	return fmt.Sprintf(`W/"messages:%d:%d:%d"`, conversationID, v.Count, ts)
}
