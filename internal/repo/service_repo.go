// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// RequestedService model.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/domain"
)

// CreateRequestedService inserts a PENDING requested service owned by requesterID.
func CreateRequestedService(ctx context.Context, db *gorm.DB, requesterID uint, title, description string) (*domain.RequestedService, error) {
	s := &domain.RequestedService{
		RequesterID: requesterID,
		Title:       title,
		Description: description,
		Status:      domain.ServicePending,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetRequestedService fetches a requested service by id with its requester
// preloaded. Missing (or soft-deleted) services yield ErrNotFound.
func GetRequestedService(ctx context.Context, db *gorm.DB, id uint) (*domain.RequestedService, error) {
	var s domain.RequestedService
	if err := db.WithContext(ctx).Preload("Requester").First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateServiceStatus moves a requested service from one status to another.
// It returns ErrNotFound when no row is in the expected status.
func UpdateServiceStatus(ctx context.Context, db *gorm.DB, id uint, from, to domain.ServiceStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.RequestedService{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
