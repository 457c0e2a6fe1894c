package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/ipvault/internal/activity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
	"github.com/MarcoPoloResearchLab/ipvault/internal/repository"
)

const (
	actionCreated = "created"
	actionUpdated = "updated"
	actionDeleted = "deleted"
)

type registrar interface {
	register(group *gin.RouterGroup)
}

type defaulter interface {
	ApplyDefaults()
}

// ownedResource serves the CRUD routes of one owned record type and the annotation routes
// nested under each record.
type ownedResource[T any, P repository.Row[T]] struct {
	handler    *httpHandler
	path       string
	entityType string
	table      datastore.Table[T]
}

func newOwnedResource[T any, P repository.Row[T]](handler *httpHandler, tables tableFactory, path, entityType string) (registrar, error) {
	table, err := newTable[T](tables)
	if err != nil {
		return nil, err
	}
	return &ownedResource[T, P]{handler: handler, path: path, entityType: entityType, table: table}, nil
}

func ownedResources(handler *httpHandler, tables tableFactory) ([]registrar, error) {
	constructors := []func() (registrar, error){
		func() (registrar, error) {
			return newOwnedResource[ipdata.Disclosure](handler, tables, "disclosures", "disclosure")
		},
		func() (registrar, error) { return newOwnedResource[ipdata.Filing](handler, tables, "filings", "filing") },
		func() (registrar, error) {
			return newOwnedResource[ipdata.FilingRelationship](handler, tables, "filing-relationships", "filing_relationship")
		},
		func() (registrar, error) { return newOwnedResource[ipdata.Project](handler, tables, "projects", "project") },
		func() (registrar, error) {
			return newOwnedResource[ipdata.Agreement](handler, tables, "agreements", "agreement")
		},
		func() (registrar, error) { return newOwnedResource[ipdata.Startup](handler, tables, "startups", "startup") },
		func() (registrar, error) { return newOwnedResource[ipdata.Inventor](handler, tables, "inventors", "inventor") },
		func() (registrar, error) {
			return newOwnedResource[ipdata.TeamMember](handler, tables, "team-members", "team_member")
		},
		func() (registrar, error) { return newOwnedResource[ipdata.Annuity](handler, tables, "annuities", "annuity") },
		func() (registrar, error) {
			return newOwnedResource[ipdata.OfficeAction](handler, tables, "office-actions", "office_action")
		},
		func() (registrar, error) { return newOwnedResource[ipdata.Alert](handler, tables, "alerts", "alert") },
	}
	resources := make([]registrar, 0, len(constructors))
	for _, construct := range constructors {
		resource, err := construct()
		if err != nil {
			return nil, err
		}
		resources = append(resources, resource)
	}
	return resources, nil
}

func (r *ownedResource[T, P]) register(group *gin.RouterGroup) {
	group.GET("/"+r.path, r.handleList)
	group.POST("/"+r.path, r.handleCreate)

	record := group.Group("/" + r.path + "/:id")
	record.GET("", r.handleGet)
	record.PATCH("", r.handleUpdate)
	record.DELETE("", r.handleDelete)
	r.handler.registerAnnotations(record, r.entityType)
}

func (r *ownedResource[T, P]) repository(c *gin.Context) (*repository.Repository[T, P], identity.Provider, error) {
	session := r.handler.session(c)
	repo, err := repository.New[T, P](repository.Config[T]{
		Table:    r.table,
		Identity: session,
		Clock:    r.handler.clock,
		Logger:   r.handler.logger,
	})
	return repo, session, err
}

func (r *ownedResource[T, P]) operation(action string) string {
	return fmt.Sprintf("%s.%s", r.path, action)
}

func (r *ownedResource[T, P]) handleList(c *gin.Context) {
	repo, _, err := r.repository(c)
	if err != nil {
		r.handler.writeError(c, r.operation("list"), err)
		return
	}
	if err := repo.Fetch(c.Request.Context()); err != nil {
		r.handler.writeError(c, r.operation("list"), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": repo.Data()})
}

func (r *ownedResource[T, P]) handleGet(c *gin.Context) {
	row, err := r.load(c)
	if err != nil {
		r.handler.writeError(c, r.operation("get"), err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (r *ownedResource[T, P]) handleCreate(c *gin.Context) {
	var item T
	if err := c.ShouldBindJSON(&item); err != nil {
		r.handler.writeError(c, r.operation("create"), fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	if withDefaults, ok := any(P(&item)).(defaulter); ok {
		withDefaults.ApplyDefaults()
	}
	if err := ipdata.Validate(item); err != nil {
		r.handler.writeError(c, r.operation("create"), err)
		return
	}

	repo, session, err := r.repository(c)
	if err != nil {
		r.handler.writeError(c, r.operation("create"), err)
		return
	}
	stored, err := repo.Create(c.Request.Context(), item)
	if err != nil {
		r.handler.writeError(c, r.operation("create"), err)
		return
	}
	r.handler.recordChange(c, session, activity.Entry{
		Entity:      ipdata.EntityRef{Type: r.entityType, ID: P(&stored).Record().ID},
		Action:      actionCreated,
		Description: r.entityType + " created",
	})
	c.JSON(http.StatusCreated, stored)
}

// handleUpdate applies a partial patch. The patch is first merged into the stored row so the
// result can be validated before anything is written.
func (r *ownedResource[T, P]) handleUpdate(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil || len(patch) == 0 {
		r.handler.writeError(c, r.operation("update"), errInvalidPayload)
		return
	}

	candidate, err := r.load(c)
	if err != nil {
		r.handler.writeError(c, r.operation("update"), err)
		return
	}
	encoded, err := json.Marshal(patch)
	if err != nil {
		r.handler.writeError(c, r.operation("update"), fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	if err := json.Unmarshal(encoded, &candidate); err != nil {
		r.handler.writeError(c, r.operation("update"), fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	if err := ipdata.Validate(candidate); err != nil {
		r.handler.writeError(c, r.operation("update"), err)
		return
	}

	repo, session, err := r.repository(c)
	if err != nil {
		r.handler.writeError(c, r.operation("update"), err)
		return
	}
	id := c.Param("id")
	stored, err := repo.Update(c.Request.Context(), id, patch)
	if err != nil {
		r.handler.writeError(c, r.operation("update"), err)
		return
	}
	r.handler.recordChange(c, session, activity.Entry{
		Entity:      ipdata.EntityRef{Type: r.entityType, ID: id},
		Action:      actionUpdated,
		Description: r.entityType + " updated",
		Metadata:    map[string]any{"fields": sortedKeys(patch)},
	})
	c.JSON(http.StatusOK, stored)
}

func (r *ownedResource[T, P]) handleDelete(c *gin.Context) {
	repo, session, err := r.repository(c)
	if err != nil {
		r.handler.writeError(c, r.operation("delete"), err)
		return
	}
	id := c.Param("id")
	if err := repo.Remove(c.Request.Context(), id); err != nil {
		r.handler.writeError(c, r.operation("delete"), err)
		return
	}
	r.handler.recordChange(c, session, activity.Entry{
		Entity:      ipdata.EntityRef{Type: r.entityType, ID: id},
		Action:      actionDeleted,
		Description: r.entityType + " deleted",
	})
	c.Status(http.StatusNoContent)
}

// load reads one row owned by the caller.
func (r *ownedResource[T, P]) load(c *gin.Context) (T, error) {
	var zero T
	user, ok := r.handler.session(c).Current()
	if !ok {
		return zero, repository.ErrNotAuthenticated
	}
	rows, err := r.table.Select(c.Request.Context(), datastore.NewQuery().
		Eq(ipdata.ColumnID, c.Param("id")).
		Eq(ipdata.ColumnUserID, user.ID))
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, &datastore.Error{Op: r.operation("get"), Table: r.table.Name(), Kind: datastore.KindNotFound}
	}
	return rows[0], nil
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
