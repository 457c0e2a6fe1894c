package datastore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies backend failures so callers switch on a value instead of message text.
type Kind string

const (
	KindUnknown             Kind = "unknown"
	KindConflict            Kind = "conflict"
	KindConstraintViolation Kind = "constraint_violation"
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingTableName  = errors.New("table name is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCondition  = errors.New("at least one condition is required")
	errNoRowsMatched     = errors.New("no rows matched")
)

// Error is the single error type returned by table operations.
type Error struct {
	Op    string
	Table string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code()
	}
	return fmt.Sprintf("%s: %v", e.Code(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code identifies the failure as operation.kind.
func (e *Error) Code() string {
	return fmt.Sprintf("%s.%s", e.Op, e.Kind)
}

func newError(operation, table string, kind Kind, cause error) error {
	return &Error{Op: operation, Table: table, Kind: kind, Err: cause}
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return KindUnknown
}

// UserMessage turns err into text suitable for an inline alert.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindConflict:
		return "A record with these values already exists."
	case KindConstraintViolation:
		return "The record references missing data or is missing a required value."
	case KindNotFound:
		return "The record could not be found."
	case KindInvalidInput:
		return "The request contains fields that cannot be saved."
	default:
		return "Something went wrong while talking to the database."
	}
}

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
	sqlStateNotNullViolation    = "23502"
	sqlStateCheckViolation      = "23514"
	sqlStateUndefinedColumn     = "42703"
)

// classify maps driver errors of both supported backends onto a Kind.
func classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, errNoRowsMatched):
		return KindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return KindConflict
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return KindConstraintViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case sqlStateUniqueViolation:
			return KindConflict
		case sqlStateForeignKeyViolation, sqlStateNotNullViolation, sqlStateCheckViolation:
			return KindConstraintViolation
		case sqlStateUndefinedColumn:
			return KindInvalidInput
		}
		return KindUnknown
	}

	// SQLite reports constraint failures only through message text.
	message := err.Error()
	switch {
	case strings.Contains(message, "UNIQUE constraint failed"):
		return KindConflict
	case strings.Contains(message, "FOREIGN KEY constraint failed"),
		strings.Contains(message, "NOT NULL constraint failed"),
		strings.Contains(message, "CHECK constraint failed"):
		return KindConstraintViolation
	case strings.Contains(message, "no such column"), strings.Contains(message, "has no column named"):
		return KindInvalidInput
	}
	return KindUnknown
}
