package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/notify"
	"github.com/tbourn/go-offers-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps concurrent transactions strictly serialized.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newPooledSvcDB opens a file database the way the server does: WAL, a
// busy timeout and a multi-connection pool, so concurrent writers really
// contend.
func newPooledSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "offers.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type world struct {
	owner    *domain.User
	provider *domain.User
	other    *domain.User
	service  *domain.RequestedService
}

func seedWorld(t *testing.T, db *gorm.DB) world {
	t.Helper()
	ctx := context.Background()
	mk := func(name, email string) *domain.User {
		u, err := repo.CreateUser(ctx, db, name, nil,
			domain.Contact{Kind: domain.ContactEmail, Value: email, Standard: true, Verified: true})
		if err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
		return u
	}
	w := world{
		owner:    mk("olivia owner", "olivia@example.com"),
		provider: mk("paul provider", "paul@example.com"),
		other:    mk("oscar other", "oscar@example.com"),
	}
	svc, err := repo.CreateRequestedService(ctx, db, w.owner.ID, "Paint the fence", "white")
	if err != nil {
		t.Fatalf("seed service: %v", err)
	}
	w.service = svc
	return w
}

type sentNotice struct {
	to string
	n  notify.Notification
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	err  error
}

func (s *stubNotifier) Notify(_ context.Context, to string, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentNotice{to, n})
	return nil
}

type stubPublisher struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (p *stubPublisher) PublishMessage(_ context.Context, m *domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, *m)
}
