package database

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	database, err := Open(DriverSQLite, filepath.Join(testContext.TempDir(), "migration.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	return database
}

func TestMigrateNormalizesEntityTypes(testContext *testing.T) {
	database := openTestDatabase(testContext)
	if err := database.AutoMigrate(ipdata.Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	note := ipdata.Note{Content: "legacy"}
	note.ID = "note-1"
	note.UserID = "user-1"
	note.EntityType = "Disclosure"
	note.EntityID = "D1"
	note.CreatedBy = "user-1"
	if err := database.Create(&note).Error; err != nil {
		testContext.Fatalf("failed to insert note: %v", err)
	}
	link := ipdata.Link{FromEntityType: "Filing", FromEntityID: "F1", ToEntityType: "DISCLOSURE", ToEntityID: "D1", CreatedBy: "user-1"}
	link.ID = "link-1"
	link.UserID = "user-1"
	if err := database.Create(&link).Error; err != nil {
		testContext.Fatalf("failed to insert link: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	if err := Migrate(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedNote ipdata.Note
	if err := database.Where("id = ?", note.ID).Take(&storedNote).Error; err != nil {
		testContext.Fatalf("failed to reload note: %v", err)
	}
	if storedNote.EntityType != "disclosure" {
		testContext.Fatalf("expected lower-case entity type, got %q", storedNote.EntityType)
	}
	var storedLink ipdata.Link
	if err := database.Where("id = ?", link.ID).Take(&storedLink).Error; err != nil {
		testContext.Fatalf("failed to reload link: %v", err)
	}
	if storedLink.FromEntityType != "filing" || storedLink.ToEntityType != "disclosure" {
		testContext.Fatalf("expected lower-case link ends, got %q -> %q", storedLink.FromEntityType, storedLink.ToEntityType)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeEntityTypes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
	if logs.FilterMessage("database migration applied").Len() != 1 {
		testContext.Fatalf("expected the migration to be logged once")
	}

	if err := Migrate(database, zap.New(core)); err != nil {
		testContext.Fatalf("second migrate failed: %v", err)
	}
	if logs.FilterMessage("database migration applied").Len() != 1 {
		testContext.Fatalf("expected applied migrations to be skipped")
	}
}

func TestOpenRejectsBadConfiguration(testContext *testing.T) {
	if _, err := Open(DriverSQLite, " ", nil); !errors.Is(err, errMissingDSN) {
		testContext.Fatalf("expected missing dsn error, got %v", err)
	}
	if _, err := Open("mysql", "dsn", nil); !errors.Is(err, errUnsupportedDriver) {
		testContext.Fatalf("expected unsupported driver error, got %v", err)
	}
}
