package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Sessions and trials
		{
			ID: "001_sessions_trials",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&SessionRecord{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&TrialRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("trials", "sessions")
			},
		},

		// Migration 002: Markers
		{
			ID: "002_markers",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&MarkerRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("markers")
			},
		},
	})

	return m.Migrate()
}
