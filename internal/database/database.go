package database

import (
	"errors"
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	errMissingDSN        = errors.New("database dsn is required")
	errUnsupportedDriver = errors.New("unsupported database driver")
)

// Open connects to the configured backend. SQLite connections are limited to a single writer.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errMissingDSN
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Info("database connected", zap.String("driver", dialector.Name()))
	return db, nil
}

// Migrate brings the schema up to date and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	models := append(ipdata.Models(), &identity.Record{}, &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}
	if err := applyMigrations(db, logger); err != nil {
		return err
	}
	logger.Info("database initialized", zap.Int("tables", len(models)))
	return nil
}
