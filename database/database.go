// Package database opens the Postgres handle and applies schema migrations.
package database

import (
	"errors"
	"fmt"
	"time"

	"arcade-ranking/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// RunMigrations applies pending up-migrations from dir.
func RunMigrations(dsn, dir string) error {
	m, err := migrate.New("file://"+dir, dsn)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Models lists every table this service owns.
func Models() []interface{} {
	return []interface{}{
		&models.ScoreRecord{},
		&models.Tournament{},
		&models.Participant{},
		&models.PrizeGrant{},
		&models.Player{},
	}
}

// AutoMigrate creates tables from the model definitions. Used for local
// development and tests; production schemas come from RunMigrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
