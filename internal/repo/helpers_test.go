package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-offers-backend/internal/domain"
)

// newTestDB opens a unique in-memory database per test. With migrate=true the
// full schema (including the pending-offer index) is applied.
func newTestDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	db.Exec("PRAGMA foreign_keys=ON;")
	if migrate {
		if err := AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

type fixture struct {
	requester *domain.User
	provider  *domain.User
	service   *domain.RequestedService
	conv      *domain.Conversation
}

// seedConversation creates a requester with a standard email, a provider,
// a pending requested service and a pending conversation between them.
func seedConversation(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	ctx := context.Background()
	req, err := CreateUser(ctx, db, "Rita Requester", nil,
		domain.Contact{Kind: domain.ContactEmail, Value: "rita@example.com", Standard: true, Verified: true})
	if err != nil {
		t.Fatalf("seed requester: %v", err)
	}
	prov, err := CreateUser(ctx, db, "Paul Provider", nil,
		domain.Contact{Kind: domain.ContactEmail, Value: "paul@example.com", Standard: true, Verified: true})
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	svc, err := CreateRequestedService(ctx, db, req.ID, "Fix the roof", "leaks")
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	conv := &domain.Conversation{
		RequestedServiceID: svc.ID,
		RequesterID:        req.ID,
		ServiceProviderID:  prov.ID,
		OfferStatus:        domain.OfferPending,
	}
	if err := CreateConversation(ctx, db, conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return fixture{requester: req, provider: prov, service: svc, conv: conv}
}

func seedMessage(t *testing.T, db *gorm.DB, convID, authorID uint, at time.Time, read, notified bool) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ConversationID:   convID,
		AuthorID:         authorID,
		Content:          "msg",
		Read:             read,
		NotificationSent: notified,
		CreatedAt:        at,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}
