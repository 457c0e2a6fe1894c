// Package repository binds backend tables to the uniform CRUD contract used by the API: a per
// instance cache scoped to the signed-in user that re-fetches whenever the identity changes.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

// ErrNotAuthenticated is returned by mutations attempted without a signed-in user.
var ErrNotAuthenticated = errors.New("not authenticated")

var (
	errMissingTable    = errors.New("table is required")
	errMissingIdentity = errors.New("identity provider is required")
	noOpLogger         = zap.NewNop()
)

const (
	opFetch  = "repository.fetch"
	opCreate = "repository.create"
	opUpdate = "repository.update"
	opRemove = "repository.remove"
)

// Row is satisfied by pointers to row types embedding ipdata.Base.
type Row[T any] interface {
	*T
	Record() *ipdata.Base
}

// Config describes the collaborators of a repository.
type Config[T any] struct {
	Table    datastore.Table[T]
	Identity identity.Provider
	Clock    func() time.Time
	Logger   *zap.Logger
}

// State is a snapshot of the repository cache.
type State[T any] struct {
	Data    []T            `json:"data"`
	Loading bool           `json:"loading"`
	Error   string         `json:"error,omitempty"`
	Kind    datastore.Kind `json:"-"`
}

// Repository is the CRUD contract over one table for the signed-in user. Instances never share
// their cache.
type Repository[T any, P Row[T]] struct {
	table    datastore.Table[T]
	identity identity.Provider
	clock    func() time.Time
	logger   *zap.Logger

	order     datastore.Direction
	scope     func(datastore.Query) datastore.Query
	prepare   func(P, identity.User)
	immutable map[string]struct{}

	mu      sync.RWMutex
	data    []T
	loading bool
	errText string
	errKind datastore.Kind
}

// New constructs a repository ordered newest first.
func New[T any, P Row[T]](cfg Config[T]) (*Repository[T, P], error) {
	if cfg.Table == nil {
		return nil, fmt.Errorf("%s: %w", "repository.new", errMissingTable)
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("%s: %w", "repository.new", errMissingIdentity)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Repository[T, P]{
		table:    cfg.Table,
		identity: cfg.Identity,
		clock:    clock,
		logger:   logger,
		order:    datastore.Descending,
		immutable: map[string]struct{}{
			ipdata.ColumnID:        {},
			ipdata.ColumnUserID:    {},
			ipdata.ColumnCreatedAt: {},
		},
		data: make([]T, 0),
	}, nil
}

// Fetch reloads the cache for the signed-in user. Without a user the cache is emptied and no
// error is reported.
func (r *Repository[T, P]) Fetch(ctx context.Context) error {
	user, ok := r.currentUser()
	if !ok {
		r.mu.Lock()
		r.data = make([]T, 0)
		r.loading = false
		r.errText = ""
		r.errKind = ""
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	r.loading = true
	r.mu.Unlock()

	rows, err := r.table.Select(ctx, r.ownedQuery(user).Order(ipdata.ColumnCreatedAt, r.order))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loading = false
	if err != nil {
		r.data = make([]T, 0)
		r.errText = datastore.UserMessage(err)
		r.errKind = datastore.KindOf(err)
		r.logError(opFetch, "select_failed", err, zap.String("user_id", user.ID))
		return err
	}
	r.data = rows
	r.errText = ""
	r.errKind = ""
	return nil
}

// Refresh re-reads the cache from the backend.
func (r *Repository[T, P]) Refresh(ctx context.Context) error {
	return r.Fetch(ctx)
}

// Create stamps ownership and timestamps on item, stores it and prepends the stored row to the
// cache.
func (r *Repository[T, P]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	user, ok := r.currentUser()
	if !ok {
		return zero, ErrNotAuthenticated
	}

	record := P(&item).Record()
	record.ID = ""
	record.Stamp(user.ID, r.clock().UTC())
	if r.prepare != nil {
		r.prepare(P(&item), user)
	}

	stored, err := r.table.Insert(ctx, item)
	if err != nil {
		r.logError(opCreate, "insert_failed", err, zap.String("user_id", user.ID))
		return zero, err
	}

	r.mu.Lock()
	r.data = append([]T{stored}, r.data...)
	r.mu.Unlock()
	return stored, nil
}

// Update patches the row with id and merges the stored row into the cache. Ownership and scope
// columns are never patched.
func (r *Repository[T, P]) Update(ctx context.Context, id string, fields map[string]any) (T, error) {
	var zero T
	user, ok := r.currentUser()
	if !ok {
		return zero, ErrNotAuthenticated
	}

	patch := make(map[string]any, len(fields)+1)
	for column, value := range fields {
		if _, locked := r.immutable[column]; locked {
			continue
		}
		patch[column] = value
	}
	patch[ipdata.ColumnUpdatedAt] = r.clock().UTC()

	rows, err := r.table.Update(ctx, r.rowQuery(user, id), patch)
	if err != nil {
		r.logError(opUpdate, "update_failed", err, zap.String("user_id", user.ID), zap.String("id", id))
		return zero, err
	}
	if len(rows) == 0 {
		return zero, nil
	}
	stored := rows[0]

	r.mu.Lock()
	for index := range r.data {
		if P(&r.data[index]).Record().ID == id {
			r.data[index] = stored
			break
		}
	}
	r.mu.Unlock()
	return stored, nil
}

// Remove deletes the row with id and drops it from the cache. Unknown ids are not an error.
func (r *Repository[T, P]) Remove(ctx context.Context, id string) error {
	user, ok := r.currentUser()
	if !ok {
		return ErrNotAuthenticated
	}
	if _, err := r.table.Delete(ctx, r.rowQuery(user, id)); err != nil {
		r.logError(opRemove, "delete_failed", err, zap.String("user_id", user.ID), zap.String("id", id))
		return err
	}
	r.drop(func(item P) bool { return item.Record().ID == id })
	return nil
}

// State returns a copy of the cache.
func (r *Repository[T, P]) State() State[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return State[T]{
		Data:    append(make([]T, 0, len(r.data)), r.data...),
		Loading: r.loading,
		Error:   r.errText,
		Kind:    r.errKind,
	}
}

// Data returns a copy of the cached rows.
func (r *Repository[T, P]) Data() []T {
	return r.State().Data
}

// Watch re-fetches on every sign-in or sign-out until ctx is done. The returned channel closes
// once the watcher has stopped.
func (r *Repository[T, P]) Watch(ctx context.Context) <-chan struct{} {
	transitions, cleanup := r.identity.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cleanup()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-transitions:
				if !ok {
					return
				}
				_ = r.Fetch(ctx)
			}
		}
	}()
	return done
}

func (r *Repository[T, P]) currentUser() (identity.User, bool) {
	user, ok := r.identity.Current()
	if !ok || !user.Valid() {
		return identity.User{}, false
	}
	return user, true
}

func (r *Repository[T, P]) ownedQuery(user identity.User) datastore.Query {
	query := datastore.NewQuery().Eq(ipdata.ColumnUserID, user.ID)
	if r.scope != nil {
		query = r.scope(query)
	}
	return query
}

// rowQuery targets one row inside the repository's scope. The user filter stands in for backend
// row level security.
func (r *Repository[T, P]) rowQuery(user identity.User, id string) datastore.Query {
	query := datastore.NewQuery().Eq(ipdata.ColumnID, id).Eq(ipdata.ColumnUserID, user.ID)
	if r.scope != nil {
		query = r.scope(query)
	}
	return query
}

func (r *Repository[T, P]) drop(match func(P) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]T, 0, len(r.data))
	for index := range r.data {
		if match(P(&r.data[index])) {
			continue
		}
		kept = append(kept, r.data[index])
	}
	r.data = kept
}

func (r *Repository[T, P]) find(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for index := range r.data {
		if P(&r.data[index]).Record().ID == id {
			return r.data[index], true
		}
	}
	var zero T
	return zero, false
}

func (r *Repository[T, P]) logError(operation, reason string, err error, fields ...zap.Field) {
	if errors.Is(err, context.Canceled) {
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("table", r.table.Name()),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("repository error", attrs...)
}
