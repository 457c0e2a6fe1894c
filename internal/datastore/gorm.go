package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const (
	opNewTable = "datastore.new_table"
	opSelect   = "datastore.select"
	opInsert   = "datastore.insert"
	opUpdate   = "datastore.update"
	opDelete   = "datastore.delete"
	columnID   = "id"
)

var timeType = reflect.TypeOf(time.Time{})

// GormTableConfig describes the dependencies of a gorm backed table.
type GormTableConfig struct {
	Database *gorm.DB
	// Name overrides the table name derived from the row type.
	Name       string
	IDProvider IDProvider
	Logger     *zap.Logger
	Metrics    *Metrics
}

// GormTable implements Table over one relational table reached through gorm.
type GormTable[T any] struct {
	db      *gorm.DB
	name    string
	fields  map[string]*schema.Field
	ids     IDProvider
	logger  *zap.Logger
	metrics *Metrics
}

var _ Table[struct{}] = (*GormTable[struct{}])(nil)

// NewGormTable binds row type T to its table. Column names are taken from the gorm schema of T
// and every filter, ordering and patch is checked against them.
func NewGormTable[T any](cfg GormTableConfig) (*GormTable[T], error) {
	if cfg.Database == nil {
		return nil, newError(opNewTable, cfg.Name, KindInvalidInput, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newError(opNewTable, cfg.Name, KindInvalidInput, errMissingIDProvider)
	}

	parsed, err := schema.Parse(new(T), &sync.Map{}, cfg.Database.NamingStrategy)
	if err != nil {
		return nil, newError(opNewTable, cfg.Name, KindInvalidInput, err)
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = parsed.Table
	}
	if name == "" {
		return nil, newError(opNewTable, cfg.Name, KindInvalidInput, errMissingTableName)
	}

	fields := make(map[string]*schema.Field, len(parsed.DBNames))
	for _, column := range parsed.DBNames {
		fields[column] = parsed.FieldsByDBName[column]
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GormTable[T]{
		db:      cfg.Database,
		name:    name,
		fields:  fields,
		ids:     cfg.IDProvider,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Name returns the bound table name.
func (t *GormTable[T]) Name() string {
	return t.name
}

// Select returns the rows matching query in the requested order.
func (t *GormTable[T]) Select(ctx context.Context, query Query) ([]T, error) {
	started := time.Now()
	rows, err := t.selectRows(ctx, query)
	t.metrics.observe(t.name, "select", started, err)
	if err != nil {
		return nil, t.fail(opSelect, err)
	}
	return rows, nil
}

// Insert stores row, assigning a primary key when the row has none, and returns the stored row.
func (t *GormTable[T]) Insert(ctx context.Context, row T) (T, error) {
	started := time.Now()
	inserted, err := t.insertRow(ctx, row)
	t.metrics.observe(t.name, "insert", started, err)
	if err != nil {
		var zero T
		return zero, t.fail(opInsert, err)
	}
	return inserted, nil
}

// Update patches every row matching query and returns the rows as stored afterwards.
func (t *GormTable[T]) Update(ctx context.Context, query Query, fields map[string]any) ([]T, error) {
	started := time.Now()
	rows, err := t.updateRows(ctx, query, fields)
	t.metrics.observe(t.name, "update", started, err)
	if err != nil {
		return nil, t.fail(opUpdate, err)
	}
	return rows, nil
}

// Delete removes every row matching query and reports how many were removed.
func (t *GormTable[T]) Delete(ctx context.Context, query Query) (int64, error) {
	started := time.Now()
	removed, err := t.deleteRows(ctx, query)
	t.metrics.observe(t.name, "delete", started, err)
	if err != nil {
		return 0, t.fail(opDelete, err)
	}
	return removed, nil
}

func (t *GormTable[T]) selectRows(ctx context.Context, query Query) ([]T, error) {
	tx, err := t.filtered(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, ordering := range query.Orderings() {
		if !t.hasColumn(ordering.Column) {
			return nil, unknownColumn(ordering.Column)
		}
		tx = tx.Order(clause.OrderByColumn{
			Column: clause.Column{Name: ordering.Column},
			Desc:   ordering.Direction == Descending,
		})
	}
	rows := make([]T, 0)
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *GormTable[T]) insertRow(ctx context.Context, row T) (T, error) {
	var zero T
	identifiable, ok := any(&row).(Identifiable)
	if ok && identifiable.PrimaryID() == "" {
		id, err := t.ids.NewID()
		if err != nil {
			return zero, err
		}
		identifiable.AssignID(id)
	}
	if err := t.db.WithContext(ctx).Table(t.name).Create(&row).Error; err != nil {
		return zero, err
	}
	if !ok {
		return row, nil
	}

	var inserted T
	if err := t.db.WithContext(ctx).
		Table(t.name).
		Where(clause.Eq{Column: clause.Column{Name: columnID}, Value: identifiable.PrimaryID()}).
		Take(&inserted).Error; err != nil {
		return zero, err
	}
	return inserted, nil
}

func (t *GormTable[T]) updateRows(ctx context.Context, query Query, fields map[string]any) ([]T, error) {
	if len(query.Conditions()) == 0 {
		return nil, invalidInput(errMissingCondition)
	}
	if len(fields) == 0 {
		return nil, invalidInput(fmt.Errorf("no fields to update"))
	}
	patch := make(map[string]any, len(fields))
	for column, value := range fields {
		field, ok := t.fields[column]
		if !ok {
			return nil, unknownColumn(column)
		}
		normalized, err := normalizeValue(field, value)
		if err != nil {
			return nil, invalidInput(fmt.Errorf("column %s: %w", column, err))
		}
		patch[column] = normalized
	}

	tx, err := t.filtered(ctx, query)
	if err != nil {
		return nil, err
	}
	result := tx.Updates(patch)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, errNoRowsMatched
	}
	return t.selectRows(ctx, query)
}

func (t *GormTable[T]) deleteRows(ctx context.Context, query Query) (int64, error) {
	if len(query.Conditions()) == 0 {
		return 0, invalidInput(errMissingCondition)
	}
	tx, err := t.filtered(ctx, query)
	if err != nil {
		return 0, err
	}
	result := tx.Delete(new(T))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (t *GormTable[T]) filtered(ctx context.Context, query Query) (*gorm.DB, error) {
	tx := t.db.WithContext(ctx).Table(t.name)
	for _, condition := range query.Conditions() {
		if !t.hasColumn(condition.Column) {
			return nil, unknownColumn(condition.Column)
		}
		tx = tx.Where(clause.Eq{Column: clause.Column{Name: condition.Column}, Value: condition.Value})
	}
	return tx, nil
}

func (t *GormTable[T]) hasColumn(column string) bool {
	_, ok := t.fields[column]
	return ok
}

func (t *GormTable[T]) fail(operation string, err error) error {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = operation
			storeErr.Table = t.name
		}
	} else {
		storeErr = &Error{Op: operation, Table: t.name, Kind: classify(err), Err: err}
	}
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("table", t.name),
		zap.String("kind", string(storeErr.Kind)),
		zap.Error(err),
	}
	if storeErr.Kind == KindNotFound || storeErr.Kind == KindInvalidInput {
		t.logger.Warn("datastore request rejected", fields...)
	} else {
		t.logger.Error("datastore error", fields...)
	}
	return storeErr
}

// invalidInput marks a caller mistake detected before reaching the database.
func invalidInput(cause error) error {
	return &Error{Kind: KindInvalidInput, Err: cause}
}

func unknownColumn(column string) error {
	return invalidInput(fmt.Errorf("unknown column %q", column))
}

// normalizeValue converts decoded JSON values into values the column accepts: composite values
// are stored as JSON text, RFC 3339 strings are parsed for time columns and JSON numbers are
// narrowed to integers for integer columns.
func normalizeValue(field *schema.Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	fieldType := field.FieldType
	for fieldType.Kind() == reflect.Pointer {
		fieldType = fieldType.Elem()
	}
	switch typed := value.(type) {
	case string:
		if fieldType == timeType {
			if typed == "" {
				return nil, nil
			}
			parsed, err := time.Parse(time.RFC3339, typed)
			if err != nil {
				return nil, err
			}
			return parsed.UTC(), nil
		}
		return typed, nil
	case float64:
		switch fieldType.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if typed != math.Trunc(typed) {
				return nil, fmt.Errorf("%v is not a whole number", typed)
			}
			return int64(typed), nil
		}
		return typed, nil
	case []any, map[string]any, []string:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, err
		}
		return string(encoded), nil
	default:
		return value, nil
	}
}
