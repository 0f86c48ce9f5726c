// File: connection.go
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/secapi/go-api/secapi/postgres/models"
)

// Config selects the database backend. Driver is "postgres" for production or
// "sqlite" for local development and tests.
type Config struct {
	Driver string
	DSN    string
}

// Connect opens the database described by cfg and migrates the schema. The
// returned handle is constructed once per process and passed explicitly into
// the stores that need it.
func Connect(cfg Config) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	case "postgres", "":
		db, err = gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema for all models.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.ScanJob{},
		&models.ScanEvent{},
	)
	if err != nil {
		return fmt.Errorf("migrate database schema: %w", err)
	}
	return nil
}
