// Package services – OfferService
//
// OfferService owns the offer lifecycle of a requested service: opening a
// conversation with an offer, accepting or withdrawing it, and cancelling the
// requested service altogether.
//
// Every state change runs in a single transaction. The "one pending offer per
// provider" rule is checked inside the transaction and backed by the
// ux_conversations_pending_offer index, so concurrent submissions cannot both
// succeed; the loser sees ErrDuplicateOffer.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/notify"
	"github.com/tbourn/go-offers-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Notifier delivers a notification to an address.
type Notifier interface {
	Notify(ctx context.Context, to string, n notify.Notification) error
}

// OfferService coordinates offers on requested services.
type OfferService struct {
	DB *gorm.DB

	// Notifier receives ServiceCancellation notices; nil disables them.
	Notifier Notifier

	// MaxMessageRunes caps the seed message; 0 disables the check.
	MaxMessageRunes int

	// BusyRetries bounds transaction retries on SQLite lock contention.
	BusyRetries int
	// BusyBackoff is the base delay between retries.
	BusyBackoff time.Duration
}

// NewOfferService constructs an OfferService with defaults.
func NewOfferService(db *gorm.DB, n Notifier) *OfferService {
	return &OfferService{
		DB:              db,
		Notifier:        n,
		MaxMessageRunes: DefaultMaxMessageRunes,
		BusyRetries:     5,
		BusyBackoff:     10 * time.Millisecond,
	}
}

// StartConversation opens a PENDING conversation between the owner of
// requestedServiceID and userID (the provider), seeded with text as the
// provider's first message. Conversation and message are persisted together
// or not at all.
func (s *OfferService) StartConversation(ctx context.Context, requestedServiceID, userID uint, text string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/OfferService")
	ctx, span := tr.Start(ctx, "StartConversation",
		trace.WithAttributes(
			attribute.Int64("requested_service.id", int64(requestedServiceID)),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()

	text, err := normalizeContent(text, s.MaxMessageRunes)
	if err != nil {
		return nil, err
	}

	var conv *domain.Conversation
	err = s.withBusyRetry(ctx, func() error {
		var txErr error
		conv, txErr = s.startOnce(ctx, requestedServiceID, userID, text)
		return txErr
	})
	if repo.IsUniqueViolation(err) {
		// Lost the race against a concurrent submission.
		err = ErrDuplicateOffer
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("conversation.id", int64(conv.ID)))
	return conv, nil
}

func (s *OfferService) startOnce(ctx context.Context, serviceID, userID uint, text string) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		svc, err := repo.GetRequestedService(ctx, tx, serviceID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrServiceNotFound
		}
		if err != nil {
			return err
		}
		if svc.Status != domain.ServicePending {
			return ErrOfferNotAllowed
		}
		if svc.RequesterID == userID {
			return ErrSelfOffer
		}
		dup, err := repo.HasPendingOffer(ctx, tx, serviceID, userID)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateOffer
		}

		c := &domain.Conversation{
			RequestedServiceID: svc.ID,
			RequesterID:        svc.RequesterID,
			ServiceProviderID:  userID,
			OfferStatus:        domain.OfferPending,
		}
		if err := repo.CreateConversation(ctx, tx, c); err != nil {
			return err
		}
		m, err := repo.CreateMessage(tx, c.ID, userID, text)
		if err != nil {
			return err
		}
		c.Messages = []domain.Message{*m}
		conv = c
		return nil
	})
	return conv, err
}

// AcceptOffer lets the requester accept a pending offer. The requested
// service moves to IN_PROGRESS and every other pending offer on it is
// rejected.
func (s *OfferService) AcceptOffer(ctx context.Context, conversationID, userID uint) (*domain.Conversation, error) {
	tr := otel.Tracer("services/OfferService")
	ctx, span := tr.Start(ctx, "AcceptOffer",
		trace.WithAttributes(
			attribute.Int64("conversation.id", int64(conversationID)),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()

	var conv *domain.Conversation
	err := s.withBusyRetry(ctx, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := loadConversation(ctx, tx, conversationID)
			if err != nil {
				return err
			}
			if !c.HasMember(userID) {
				return ErrNotMember
			}
			if c.RequesterID != userID {
				return ErrNotRequester
			}
			if c.OfferStatus != domain.OfferPending {
				return ErrOfferNotPending
			}
			if err := repo.UpdateServiceStatus(ctx, tx, c.RequestedServiceID, domain.ServicePending, domain.ServiceInProgress); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					// Service already accepted elsewhere or cancelled.
					return ErrOfferNotPending
				}
				return err
			}
			if err := repo.UpdateOfferStatus(ctx, tx, c.ID, domain.OfferPending, domain.OfferAccepted); err != nil {
				return err
			}
			others, err := repo.ListPendingConversations(ctx, tx, c.RequestedServiceID, c.ID)
			if err != nil {
				return err
			}
			if _, err := repo.SetOfferStatusByIDs(ctx, tx, conversationIDs(others), domain.OfferRejected); err != nil {
				return err
			}
			c.OfferStatus = domain.OfferAccepted
			conv = c
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return conv, nil
}

// WithdrawOffer lets the service provider cancel their own pending offer,
// which frees the slot for a new offer on the same requested service.
func (s *OfferService) WithdrawOffer(ctx context.Context, conversationID, userID uint) (*domain.Conversation, error) {
	tr := otel.Tracer("services/OfferService")
	ctx, span := tr.Start(ctx, "WithdrawOffer",
		trace.WithAttributes(
			attribute.Int64("conversation.id", int64(conversationID)),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()

	var conv *domain.Conversation
	err := s.withBusyRetry(ctx, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := loadConversation(ctx, tx, conversationID)
			if err != nil {
				return err
			}
			if !c.HasMember(userID) {
				return ErrNotMember
			}
			if c.ServiceProviderID != userID {
				return ErrNotProvider
			}
			err = repo.UpdateOfferStatus(ctx, tx, c.ID, domain.OfferPending, domain.OfferCancelled)
			if errors.Is(err, repo.ErrNotFound) {
				return ErrOfferNotPending
			}
			if err != nil {
				return err
			}
			c.OfferStatus = domain.OfferCancelled
			conv = c
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return conv, nil
}

// CancelRequestedService lets the owner cancel a pending requested service.
// Pending offers on it are cancelled and each affected provider is notified
// after the transaction commits. Notification failures are logged only.
func (s *OfferService) CancelRequestedService(ctx context.Context, requestedServiceID, userID uint) (*domain.RequestedService, error) {
	tr := otel.Tracer("services/OfferService")
	ctx, span := tr.Start(ctx, "CancelRequestedService",
		trace.WithAttributes(
			attribute.Int64("requested_service.id", int64(requestedServiceID)),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()

	var (
		svc      *domain.RequestedService
		affected []domain.Conversation
	)
	err := s.withBusyRetry(ctx, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			found, err := repo.GetRequestedService(ctx, tx, requestedServiceID)
			if errors.Is(err, repo.ErrNotFound) {
				return ErrServiceNotFound
			}
			if err != nil {
				return err
			}
			if found.RequesterID != userID {
				return ErrNotOwner
			}
			if !found.CanBeCancelled() {
				return ErrNotCancellable
			}
			if err := repo.UpdateServiceStatus(ctx, tx, found.ID, domain.ServicePending, domain.ServiceCancelled); err != nil {
				return err
			}
			pending, err := repo.ListPendingConversations(ctx, tx, found.ID, 0)
			if err != nil {
				return err
			}
			if _, err := repo.SetOfferStatusByIDs(ctx, tx, conversationIDs(pending), domain.OfferCancelled); err != nil {
				return err
			}
			found.Status = domain.ServiceCancelled
			svc, affected = found, pending
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("offers.cancelled", len(affected)))

	s.notifyCancellation(ctx, svc, affected)
	return svc, nil
}

func (s *OfferService) notifyCancellation(ctx context.Context, svc *domain.RequestedService, convs []domain.Conversation) {
	if s.Notifier == nil {
		return
	}
	for _, c := range convs {
		p := c.ServiceProvider
		n := notify.ServiceCancellation{
			RecipientName: p.Name,
			RequesterName: svc.Requester.Name,
			ServiceTitle:  svc.Title,
		}
		if err := s.Notifier.Notify(ctx, p.StandardAddress(), n); err != nil {
			log.Warn().Err(err).
				Uint("requested_service_id", svc.ID).
				Uint("provider_id", p.ID).
				Msg("service cancellation notice not delivered")
		}
	}
}

// withBusyRetry runs fn again while it fails with SQLite lock contention.
func (s *OfferService) withBusyRetry(ctx context.Context, fn func() error) error {
	backoff := s.BusyBackoff
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !repo.IsBusy(err) || attempt >= s.BusyRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
}

func loadConversation(ctx context.Context, db *gorm.DB, id uint) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return c, err
}

func conversationIDs(cs []domain.Conversation) []uint {
	ids := make([]uint, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return ids
}

// normalizeContent trims content and enforces non-empty and maxRunes.
func normalizeContent(content string, maxRunes int) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		return "", ErrMessageTooLong
	}
	return content, nil
}
