package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationStripIdpSubjectPrefix = "2026-07-18_strip_idp_subject_prefix"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationStripIdpSubjectPrefix, apply: stripIdpSubjectPrefix},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// stripIdpSubjectPrefix rewrites user document ids written by early builds
// that keyed profiles as "google:<subject>" instead of the bare subject.
func stripIdpSubjectPrefix(db *gorm.DB) error {
	const prefix = "google:"
	start := len(prefix) + 1
	statement := fmt.Sprintf(
		"UPDATE documents SET doc_id = substr(doc_id, %d) WHERE collection_path = 'users' AND doc_id LIKE '%s%%';",
		start, prefix)
	return db.Exec(statement).Error
}
