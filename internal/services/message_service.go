// Package services – MessageService
//
// This file implements MessageService, the component that owns messages inside
// a conversation: posting (with membership and status gating), paginated
// listing, and read/notification bookkeeping.
//
// Mark-as-read triggered by listing runs off the request path. Callers that
// need to wait for those background writes (tests, shutdown) use Drain.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include conversation/user identifiers and pagination parameters where
// applicable.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxMessageRunes is the default content limit for messages.
const DefaultMaxMessageRunes = 4000

// Publisher fans a freshly stored message out to live subscribers.
// Delivery is best-effort.
type Publisher interface {
	PublishMessage(ctx context.Context, m *domain.Message)
}

// MessageService coordinates message persistence and read tracking.
type MessageService struct {
	DB *gorm.DB

	// MaxContentRunes caps message length; 0 disables the check.
	MaxContentRunes int

	// Publisher is optional; when set, posted messages are broadcast.
	Publisher Publisher

	// ReadTimeout bounds background mark-as-read work.
	ReadTimeout time.Duration

	pending sync.WaitGroup
}

// NewMessageService constructs a MessageService with defaults.
func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{
		DB:              db,
		MaxContentRunes: DefaultMaxMessageRunes,
		ReadTimeout:     5 * time.Second,
	}
}

// PostMessage stores content as a message by authorID in conversationID and
// publishes it. The author must be a member and the offer must not be closed.
func (s *MessageService) PostMessage(ctx context.Context, conversationID, authorID uint, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "PostMessage",
		trace.WithAttributes(
			attribute.Int64("conversation.id", int64(conversationID)),
			attribute.Int64("user.id", int64(authorID)),
		),
	)
	defer span.End()

	content, err := normalizeContent(content, s.MaxContentRunes)
	if err != nil {
		return nil, err
	}

	c, err := loadConversation(ctx, s.DB, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasMember(authorID) {
		return nil, ErrNotMember
	}
	if c.OfferStatus.Closed() {
		return nil, ErrConversationClosed
	}

	m, err := repo.CreateMessage(s.DB.WithContext(ctx), c.ID, authorID, content)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if s.Publisher != nil {
		s.Publisher.PublishMessage(ctx, m)
	}
	return m, nil
}

// ListMessages returns a page of a conversation's messages in chronological
// order along with the total count. Only members may list. Unread messages
// written by the other participant are marked read in the background.
func (s *MessageService) ListMessages(ctx context.Context, conversationID, userID uint, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListMessages",
		trace.WithAttributes(
			attribute.Int64("conversation.id", int64(conversationID)),
			attribute.Int64("user.id", int64(userID)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	c, err := loadConversation(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if !c.HasMember(userID) {
		return nil, 0, ErrNotMember
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), conversationID, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}

	var unread []uint
	for _, m := range items {
		if !m.Read && m.AuthorID != userID {
			unread = append(unread, m.ID)
		}
	}
	s.markReadAsync(unread)
	return items, total, nil
}

// MarkAsRead loads the message and sets read=true. Already-read messages are
// left untouched.
func (s *MessageService) MarkAsRead(ctx context.Context, messageID uint) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkAsRead",
		trace.WithAttributes(attribute.Int64("message.id", int64(messageID))),
	)
	defer span.End()

	m, err := repo.GetMessage(s.DB.WithContext(ctx), messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if m.Read {
		return nil
	}
	_, err = repo.MarkRead(s.DB.WithContext(ctx), m.ID)
	return err
}

// MarkAsReadBy is MarkAsRead on behalf of userID, who must be a member of the
// message's conversation. Marking one's own message is a no-op.
func (s *MessageService) MarkAsReadBy(ctx context.Context, userID, messageID uint) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkAsReadBy",
		trace.WithAttributes(
			attribute.Int64("message.id", int64(messageID)),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()

	m, err := repo.GetMessage(s.DB.WithContext(ctx), messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	ok, err := repo.IsMember(ctx, s.DB, m.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}
	if m.Read || m.AuthorID == userID {
		return m, nil
	}
	if _, err := repo.MarkRead(s.DB.WithContext(ctx), m.ID); err != nil {
		return nil, err
	}
	m.Read = true
	return m, nil
}

// FindConversationsWithUnreadMessages returns conversations that own unread
// messages created strictly before threshold, with participants, requested
// service and the qualifying messages preloaded.
func (s *MessageService) FindConversationsWithUnreadMessages(ctx context.Context, threshold time.Time) ([]domain.Conversation, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "FindConversationsWithUnreadMessages",
		trace.WithAttributes(attribute.String("threshold", threshold.UTC().Format(time.RFC3339))),
	)
	defer span.End()

	out, err := repo.FindConversationsWithUnreadMessages(ctx, s.DB, threshold.UTC())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("conversations", len(out)))
	return out, nil
}

// MarkNotificationSent flags the given messages as notified.
func (s *MessageService) MarkNotificationSent(ctx context.Context, ids ...uint) (int64, error) {
	return repo.MarkNotificationSent(s.DB.WithContext(ctx), ids...)
}

// Drain blocks until background mark-as-read work has finished.
func (s *MessageService) Drain() {
	s.pending.Wait()
}

func (s *MessageService) markReadAsync(ids []uint) {
	if len(ids) == 0 {
		return
	}
	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		for _, id := range ids {
			if err := s.MarkAsRead(ctx, id); err != nil {
				log.Warn().Err(err).Str("component", "messages").Uint("message_id", id).Msg("mark as read failed")
			}
		}
	}()
}
