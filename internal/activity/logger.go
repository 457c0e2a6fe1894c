// Package activity writes the best-effort audit trail shown on record timelines.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
	"github.com/MarcoPoloResearchLab/ipvault/internal/repository"
)

const opLog = "activity.log"

var (
	errMissingTable    = errors.New("activity table is required")
	errMissingIdentity = errors.New("identity provider is required")
	errMissingEntity   = errors.New("entity type and id are required")
	errMissingAction   = errors.New("action is required")
)

// Entry describes one audit event.
type Entry struct {
	Entity      ipdata.EntityRef
	Action      string
	Description string
	Metadata    map[string]any
}

// Config describes the collaborators of a Logger.
type Config struct {
	Table    datastore.Table[ipdata.ActivityLog]
	Identity identity.Provider
	Clock    func() time.Time
	Logger   *zap.Logger
	// Registerer receives the failure counter. Nil leaves it unregistered.
	Registerer prometheus.Registerer
}

// Logger appends audit entries without blocking the mutation that caused them.
type Logger struct {
	table    datastore.Table[ipdata.ActivityLog]
	identity identity.Provider
	clock    func() time.Time
	logger   *zap.Logger
	failures prometheus.Counter
	inflight *sync.WaitGroup
}

// NewLogger constructs a Logger.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.Table == nil {
		return nil, errMissingTable
	}
	if cfg.Identity == nil {
		return nil, errMissingIdentity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipvault_activity_log_failures_total",
		Help: "Audit entries that could not be written.",
	})
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(failures); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, fmt.Errorf("register activity metrics: %w", err)
			}
			failures = already.ExistingCollector.(prometheus.Counter)
		}
	}
	return &Logger{
		table:    cfg.Table,
		identity: cfg.Identity,
		clock:    clock,
		logger:   logger,
		failures: failures,
		inflight: &sync.WaitGroup{},
	}, nil
}

// WithIdentity returns a Logger writing as the user of provider. Both loggers share the table,
// metrics and in-flight tracking.
func (l *Logger) WithIdentity(provider identity.Provider) *Logger {
	clone := *l
	clone.identity = provider
	return &clone
}

// Log records entry in the background. The returned channel receives the outcome exactly once and
// may be ignored; cancelling ctx does not abort the write.
func (l *Logger) Log(ctx context.Context, entry Entry) <-chan error {
	result := make(chan error, 1)

	row, err := l.buildRow(entry)
	if err != nil {
		l.reportFailure(entry, err)
		result <- err
		close(result)
		return result
	}

	detached := context.WithoutCancel(ctx)
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		defer close(result)
		_, insertErr := l.table.Insert(detached, row)
		if insertErr != nil {
			l.reportFailure(entry, insertErr)
		}
		result <- insertErr
	}()
	return result
}

// Wait blocks until every write started so far has finished.
func (l *Logger) Wait() {
	l.inflight.Wait()
}

func (l *Logger) buildRow(entry Entry) (ipdata.ActivityLog, error) {
	user, ok := l.identity.Current()
	if !ok || !user.Valid() {
		return ipdata.ActivityLog{}, repository.ErrNotAuthenticated
	}
	entityType := strings.ToLower(strings.TrimSpace(entry.Entity.Type))
	entityID := strings.TrimSpace(entry.Entity.ID)
	if entityType == "" || entityID == "" {
		return ipdata.ActivityLog{}, errMissingEntity
	}
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return ipdata.ActivityLog{}, errMissingAction
	}

	metadata := ""
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return ipdata.ActivityLog{}, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(encoded)
	}

	row := ipdata.ActivityLog{
		Action:       action,
		Description:  entry.Description,
		MetadataJSON: metadata,
	}
	row.Stamp(user.ID, l.clock().UTC())
	row.EntityType = entityType
	row.EntityID = entityID
	row.CreatedBy = user.ID
	return row, nil
}

func (l *Logger) reportFailure(entry Entry, err error) {
	l.failures.Inc()
	l.logger.Error("activity logger error",
		zap.String("operation", opLog),
		zap.String("entity_type", entry.Entity.Type),
		zap.String("entity_id", entry.Entity.ID),
		zap.String("action", entry.Action),
		zap.Error(err),
	)
}
