// Package repo is the GORM persistence layer. Functions take the *gorm.DB
// (or transaction) to run against so services decide transaction scope.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-offers-backend/internal/domain"
)

// pendingOfferIndex backs the "one pending offer per provider and requested
// service" rule at the storage level.
const pendingOfferIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_conversations_pending_offer
	ON conversations (requested_service_id, service_provider_id)
	WHERE offer_status = 'PENDING'`

// sqlitePragmas are applied by the driver to every pooled connection.
// busy_timeout and foreign_keys are per-connection settings.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

func sqliteDSN(path string) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range sqlitePragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// OpenSQLite opens (or creates) the database file at path. The parent
// directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Instrument registers the OpenTelemetry GORM plugin so every statement is
// recorded as a child span of the calling context. Metrics are left to the
// Prometheus collectors.
func Instrument(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates all tables and the partial unique index on
// pending offers.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Contact{},
		&domain.RequestedService{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.Idempotency{},
	); err != nil {
		return err
	}
	return db.Exec(pendingOfferIndex).Error
}
