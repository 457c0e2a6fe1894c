package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeEntityTypes = "2024-07-01_normalize_entity_types"

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
		{name: migrationNormalizeEntityTypes, apply: normalizeEntityTypes},
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
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// normalizeEntityTypes lower-cases entity type references written before lookups became case
// insensitive.
func normalizeEntityTypes(tx *gorm.DB) error {
	columns := map[string][]string{
		"notes":           {"entity_type"},
		"comments":        {"entity_type"},
		"checklist_items": {"entity_type"},
		"activity_logs":   {"entity_type"},
		"entity_links":    {"from_entity_type", "to_entity_type"},
	}
	for table, names := range columns {
		for _, column := range names {
			if err := tx.Table(table).
				Where(column+" <> LOWER("+column+")").
				Update(column, gorm.Expr("LOWER("+column+")")).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
