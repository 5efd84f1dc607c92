package db

import (
	"gorm.io/gorm"

	types "github.com/carelane/pagw-core/internal/domain"
)

// AutoMigrateAll migrates the request_tracker, event_tracker and outbox
// tables (the idempotency lock lives in redis). Outbox and event rows are
// append-mostly; retention is handled out of band, never by dropping columns.
func (s *PostgresService) AutoMigrateAll() error {
	return AutoMigrate(s.db)
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.RequestTracker{},
		&types.EventTracker{},
		&types.OutboxEntry{},
	)
}
