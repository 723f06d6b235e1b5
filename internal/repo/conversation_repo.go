// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - A second PENDING conversation for the same (requested service, provider)
//     violates ux_conversations_pending_offer and surfaces as the raw driver
//     error; the service layer translates it.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-offers-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateConversation inserts c. Associations are not saved.
func CreateConversation(ctx context.Context, db *gorm.DB, c *domain.Conversation) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(c).Error
}

// GetConversation fetches a conversation row by id without associations.
func GetConversation(ctx context.Context, db *gorm.DB, id uint) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// IsMember reports whether userID is the requester or the service provider of
// conversation id. A missing conversation yields false.
func IsMember(ctx context.Context, db *gorm.DB, id, userID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND (requester_id = ? OR service_provider_id = ?)", id, userID, userID).
		Count(&n).Error
	return n > 0, err
}

// HasPendingOffer reports whether providerID already has a PENDING
// conversation on the requested service.
func HasPendingOffer(ctx context.Context, db *gorm.DB, serviceID, providerID uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("requested_service_id = ? AND service_provider_id = ? AND offer_status = ?",
			serviceID, providerID, domain.OfferPending).
		Count(&n).Error
	return n > 0, err
}

// UpdateOfferStatus moves conversation id from one offer status to another.
// It returns ErrNotFound when the row is missing or not in the expected status.
func UpdateOfferStatus(ctx context.Context, db *gorm.DB, id uint, from, to domain.OfferStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND offer_status = ?", id, from).
		Update("offer_status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingConversations returns the PENDING conversations of a requested
// service with the service provider (and contacts) preloaded, excluding
// exceptID when it is non-zero.
func ListPendingConversations(ctx context.Context, db *gorm.DB, serviceID, exceptID uint) ([]domain.Conversation, error) {
	var out []domain.Conversation
	q := db.WithContext(ctx).
		Preload("ServiceProvider.Contacts").
		Where("requested_service_id = ? AND offer_status = ?", serviceID, domain.OfferPending)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	err := q.Order("id ASC").Find(&out).Error
	return out, err
}

// SetOfferStatusByIDs moves the listed conversations that are still PENDING to status.
func SetOfferStatusByIDs(ctx context.Context, db *gorm.DB, ids []uint, to domain.OfferStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id IN ? AND offer_status = ?", ids, domain.OfferPending).
		Update("offer_status", to)
	return res.RowsAffected, res.Error
}

// FindConversationsWithUnreadMessages returns every conversation owning at
// least one unread message created strictly before threshold. The requested
// service, both participants with contacts, and exactly those unread messages
// (oldest first) are preloaded so callers need no further fetches.
func FindConversationsWithUnreadMessages(ctx context.Context, db *gorm.DB, threshold time.Time) ([]domain.Conversation, error) {
	db = db.WithContext(ctx)
	unread := db.Model(&domain.Message{}).
		Select("conversation_id").
		Where("is_read = ? AND created_at < ?", false, threshold)

	var out []domain.Conversation
	err := withParticipants(db).
		Preload("Messages", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("is_read = ? AND created_at < ?", false, threshold).
				Order("created_at ASC, id ASC")
		}).
		Where("id IN (?)", unread).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// withParticipants preloads the requested service and both participants.
func withParticipants(db *gorm.DB) *gorm.DB {
	return db.
		Preload("RequestedService").
		Preload("Requester.Contacts").
		Preload("ServiceProvider.Contacts")
}
