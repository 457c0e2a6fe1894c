package activity

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
	"github.com/MarcoPoloResearchLab/ipvault/internal/repository"
)

var (
	testUser       = identity.User{ID: "user-1", Email: "user@example.com"}
	testDisclosure = ipdata.EntityRef{Type: "disclosure", ID: "D1"}
)

func openActivityTable(t *testing.T) (*datastore.GormTable[ipdata.ActivityLog], *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "activity.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&ipdata.ActivityLog{}); err != nil {
		t.Fatalf("failed to migrate activity logs: %v", err)
	}
	table, err := datastore.NewGormTable[ipdata.ActivityLog](datastore.GormTableConfig{
		Database:   db,
		IDProvider: datastore.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return table, db
}

// blockingTable holds every insert until release is closed, then fails it.
type blockingTable struct {
	release chan struct{}
}

func (blockingTable) Name() string { return "activity_logs" }

func (blockingTable) Select(context.Context, datastore.Query) ([]ipdata.ActivityLog, error) {
	return nil, nil
}

func (b blockingTable) Insert(ctx context.Context, _ ipdata.ActivityLog) (ipdata.ActivityLog, error) {
	<-b.release
	if ctx.Err() != nil {
		return ipdata.ActivityLog{}, ctx.Err()
	}
	return ipdata.ActivityLog{}, errors.New("disk full")
}

func (blockingTable) Update(context.Context, datastore.Query, map[string]any) ([]ipdata.ActivityLog, error) {
	return nil, nil
}

func (blockingTable) Delete(context.Context, datastore.Query) (int64, error) {
	return 0, nil
}

func TestNewLoggerValidatesDependencies(t *testing.T) {
	if _, err := NewLogger(Config{Identity: identity.NewSession()}); !errors.Is(err, errMissingTable) {
		t.Fatalf("expected missing table error, got %v", err)
	}
	table, _ := openActivityTable(t)
	if _, err := NewLogger(Config{Table: table}); !errors.Is(err, errMissingIdentity) {
		t.Fatalf("expected missing identity error, got %v", err)
	}
}

func TestLogWritesEntryWithMetadata(t *testing.T) {
	table, db := openActivityTable(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	logger, err := NewLogger(Config{
		Table:    table,
		Identity: identity.NewSignedInSession(testUser),
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	result := logger.Log(context.Background(), Entry{
		Entity:      ipdata.EntityRef{Type: "Disclosure", ID: "D1"},
		Action:      "stage_changed",
		Description: "Stage moved to filed",
		Metadata:    map[string]any{"from": "submitted", "to": "filed"},
	})
	if err := <-result; err != nil {
		t.Fatalf("log failed: %v", err)
	}

	var stored ipdata.ActivityLog
	if err := db.Take(&stored).Error; err != nil {
		t.Fatalf("failed to load entry: %v", err)
	}
	if stored.CreatedBy != testUser.ID || stored.UserID != testUser.ID {
		t.Fatalf("expected entry stamped with the acting user, got %+v", stored.ScopedBase)
	}
	if stored.EntityType != "disclosure" || stored.EntityID != "D1" {
		t.Fatalf("unexpected scope %s/%s", stored.EntityType, stored.EntityID)
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(stored.MetadataJSON), &metadata); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	if metadata["to"] != "filed" {
		t.Fatalf("unexpected metadata %v", metadata)
	}
	if !stored.CreatedAt.Equal(now) {
		t.Fatalf("expected client timestamp, got %v", stored.CreatedAt)
	}
}

func TestLogFailureDoesNotBlockCaller(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	registry := prometheus.NewRegistry()
	table := blockingTable{release: make(chan struct{})}
	logger, err := NewLogger(Config{
		Table:      table,
		Identity:   identity.NewSignedInSession(testUser),
		Logger:     zap.New(core),
		Registerer: registry,
	})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan (<-chan error), 1)
	go func() {
		returned <- logger.Log(ctx, Entry{Entity: testDisclosure, Action: "updated"})
	}()

	var result <-chan error
	select {
	case result = <-returned:
	case <-time.After(time.Second):
		t.Fatalf("Log blocked on a slow backend")
	}

	cancel()
	close(table.release)
	err = <-result
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected backend failure despite cancelled caller context, got %v", err)
	}
	logger.Wait()

	if logs.FilterMessage("activity logger error").Len() != 1 {
		t.Fatalf("expected failure to be logged once, got %d", logs.Len())
	}
	if got := testutil.ToFloat64(logger.failures); got != 1 {
		t.Fatalf("expected one counted failure, got %v", got)
	}
}

func TestLogWithoutIdentityReportsImmediately(t *testing.T) {
	table, _ := openActivityTable(t)
	logger, err := NewLogger(Config{Table: table, Identity: identity.NewSession()})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	if err := <-logger.Log(context.Background(), Entry{Entity: testDisclosure, Action: "created"}); !errors.Is(err, repository.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if err := <-logger.WithIdentity(identity.NewSignedInSession(testUser)).Log(context.Background(), Entry{Entity: testDisclosure}); !errors.Is(err, errMissingAction) {
		t.Fatalf("expected missing action, got %v", err)
	}
}

func TestWithIdentitySharesInflightTracking(t *testing.T) {
	table, db := openActivityTable(t)
	base, err := NewLogger(Config{Table: table, Identity: identity.NewSession()})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	scoped := base.WithIdentity(identity.NewSignedInSession(testUser))
	for _, action := range []string{"created", "updated", "linked"} {
		scoped.Log(context.Background(), Entry{Entity: testDisclosure, Action: action})
	}
	base.Wait()

	var count int64
	if err := db.Model(&ipdata.ActivityLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected three entries after Wait, got %d", count)
	}
}
