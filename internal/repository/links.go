package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

// ErrSelfLink is returned when both ends of a link name the same record.
var ErrSelfLink = errors.New("a record cannot be linked to itself")

// Links manages the links created by the signed-in user. Links are stored directionally and
// looked up from either end.
type Links struct {
	*Repository[ipdata.Link, *ipdata.Link]
}

// NewLinks constructs the link repository.
func NewLinks(cfg Config[ipdata.Link]) (*Links, error) {
	base, err := New[ipdata.Link](cfg)
	if err != nil {
		return nil, err
	}
	base.prepare = func(link *ipdata.Link, user identity.User) {
		link.CreatedBy = user.ID
	}
	base.immutable[ipdata.ColumnCreatedBy] = struct{}{}
	return &Links{Repository: base}, nil
}

// LinkEntities links from to to. When the cache already holds a link between the two records, in
// either direction, that link is returned instead of a duplicate.
func (l *Links) LinkEntities(ctx context.Context, from, to ipdata.EntityRef) (ipdata.Link, error) {
	from = normalizeRef(from)
	to = normalizeRef(to)
	if err := ipdata.Validate(from); err != nil {
		return ipdata.Link{}, fmt.Errorf("link source: %w", err)
	}
	if err := ipdata.Validate(to); err != nil {
		return ipdata.Link{}, fmt.Errorf("link target: %w", err)
	}
	if from == to {
		return ipdata.Link{}, ErrSelfLink
	}
	if _, ok := l.currentUser(); !ok {
		return ipdata.Link{}, ErrNotAuthenticated
	}
	if existing, ok := l.LinkBetween(from, to); ok {
		return existing, nil
	}
	return l.Create(ctx, ipdata.Link{
		FromEntityType: from.Type,
		FromEntityID:   from.ID,
		ToEntityType:   to.Type,
		ToEntityID:     to.ID,
	})
}

// LinkBetween returns the cached link connecting a and b in either direction.
func (l *Links) LinkBetween(a, b ipdata.EntityRef) (ipdata.Link, bool) {
	a = normalizeRef(a)
	b = normalizeRef(b)
	for _, link := range l.Data() {
		if link.Connects(a, b) {
			return link, true
		}
	}
	return ipdata.Link{}, false
}

// GetLinkedEntities returns the cached links touching the record in either position.
func (l *Links) GetLinkedEntities(entityType, entityID string) []ipdata.Link {
	ref := normalizeRef(ipdata.EntityRef{Type: entityType, ID: entityID})
	linked := make([]ipdata.Link, 0)
	for _, link := range l.Data() {
		if link.Touches(ref) {
			linked = append(linked, link)
		}
	}
	return linked
}

// UnlinkEntities deletes a link by its own id.
func (l *Links) UnlinkEntities(ctx context.Context, linkID string) error {
	return l.Remove(ctx, linkID)
}
