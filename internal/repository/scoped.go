package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

var errMissingEntity = errors.New("entity type and id are required")

// ScopedRow is satisfied by pointers to annotation rows embedding ipdata.ScopedBase.
type ScopedRow[T any] interface {
	*T
	Record() *ipdata.Base
	Scope() *ipdata.ScopedBase
}

// Scoped is a repository over the annotations attached to one owned record.
type Scoped[T any, P ScopedRow[T]] struct {
	*Repository[T, P]
	entity ipdata.EntityRef
}

// NewScoped binds a repository to the annotations of entity, ordered by creation time in
// direction.
func NewScoped[T any, P ScopedRow[T]](cfg Config[T], entity ipdata.EntityRef, direction datastore.Direction) (*Scoped[T, P], error) {
	entity = normalizeRef(entity)
	if entity.Type == "" || entity.ID == "" {
		return nil, fmt.Errorf("%s: %w", "repository.new_scoped", errMissingEntity)
	}
	base, err := New[T, P](cfg)
	if err != nil {
		return nil, err
	}
	base.order = direction
	base.scope = func(query datastore.Query) datastore.Query {
		return query.
			Eq(ipdata.ColumnEntityType, entity.Type).
			Eq(ipdata.ColumnEntityID, entity.ID)
	}
	base.prepare = func(row P, user identity.User) {
		scope := row.Scope()
		scope.EntityType = entity.Type
		scope.EntityID = entity.ID
		scope.CreatedBy = user.ID
	}
	base.immutable[ipdata.ColumnEntityType] = struct{}{}
	base.immutable[ipdata.ColumnEntityID] = struct{}{}
	base.immutable[ipdata.ColumnCreatedBy] = struct{}{}
	return &Scoped[T, P]{Repository: base, entity: entity}, nil
}

// Entity returns the record the annotations are attached to.
func (s *Scoped[T, P]) Entity() ipdata.EntityRef {
	return s.entity
}

// normalizeRef trims the reference and lower-cases its type so "Disclosure" and "disclosure"
// address the same record.
func normalizeRef(ref ipdata.EntityRef) ipdata.EntityRef {
	return ipdata.EntityRef{
		Type: strings.ToLower(strings.TrimSpace(ref.Type)),
		ID:   strings.TrimSpace(ref.ID),
	}
}
