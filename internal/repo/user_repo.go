// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users and
// their contact channels.
//
// Account registration lives outside this service; these helpers exist for
// lookups and for seeding fixtures.
package repo

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/domain"
)

// CreateUser inserts a user with the given roles and contact channels.
// An empty role list defaults to USER.
func CreateUser(ctx context.Context, db *gorm.DB, name string, roles []string, contacts ...domain.Contact) (*domain.User, error) {
	if len(roles) == 0 {
		roles = []string{domain.RoleUser}
	}
	u := &domain.User{
		Name:     name,
		Roles:    strings.Join(roles, " "),
		Contacts: contacts,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by id with contacts preloaded. Missing users yield
// ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Preload("Contacts").First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
