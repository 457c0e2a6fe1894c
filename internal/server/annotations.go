package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/ipvault/internal/activity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
	"github.com/MarcoPoloResearchLab/ipvault/internal/repository"
)

const (
	actionNoteAdded      = "note_added"
	actionNoteUpdated    = "note_updated"
	actionNoteDeleted    = "note_deleted"
	actionCommentAdded   = "comment_added"
	actionCommentUpdated = "comment_updated"
	actionCommentDeleted = "comment_deleted"
	actionTaskAdded      = "task_added"
	actionTaskUpdated    = "task_updated"
	actionTaskToggled    = "task_toggled"
	actionTaskDeleted    = "task_deleted"
	actionLinked         = "linked"
	actionUnlinked       = "unlinked"
)

type notePayload struct {
	Content  string `json:"content" binding:"required"`
	IsPublic bool   `json:"is_public"`
}

type commentPayload struct {
	Content         string  `json:"content" binding:"required"`
	ParentCommentID *string `json:"parent_comment_id"`
}

type checklistPayload struct {
	Title   string     `json:"title" binding:"required"`
	DueDate *time.Time `json:"due_date"`
}

type linkPayload struct {
	From ipdata.EntityRef `json:"from"`
	To   ipdata.EntityRef `json:"to"`
}

func (h *httpHandler) registerAnnotations(record *gin.RouterGroup, entityType string) {
	scope := func(c *gin.Context) ipdata.EntityRef {
		return ipdata.EntityRef{Type: entityType, ID: c.Param("id")}
	}

	record.GET("/notes", func(c *gin.Context) { h.handleNotesList(c, scope(c)) })
	record.POST("/notes", func(c *gin.Context) { h.handleNoteCreate(c, scope(c)) })
	record.PATCH("/notes/:annotationId", func(c *gin.Context) { h.handleNoteUpdate(c, scope(c)) })
	record.DELETE("/notes/:annotationId", func(c *gin.Context) { h.handleNoteDelete(c, scope(c)) })

	record.GET("/comments", func(c *gin.Context) { h.handleCommentsList(c, scope(c)) })
	record.POST("/comments", func(c *gin.Context) { h.handleCommentCreate(c, scope(c)) })
	record.PATCH("/comments/:annotationId", func(c *gin.Context) { h.handleCommentUpdate(c, scope(c)) })
	record.DELETE("/comments/:annotationId", func(c *gin.Context) { h.handleCommentDelete(c, scope(c)) })

	record.GET("/checklist", func(c *gin.Context) { h.handleChecklistList(c, scope(c)) })
	record.POST("/checklist", func(c *gin.Context) { h.handleChecklistCreate(c, scope(c)) })
	record.PATCH("/checklist/:annotationId", func(c *gin.Context) { h.handleChecklistUpdate(c, scope(c)) })
	record.POST("/checklist/:annotationId/toggle", func(c *gin.Context) { h.handleChecklistToggle(c, scope(c)) })
	record.DELETE("/checklist/:annotationId", func(c *gin.Context) { h.handleChecklistDelete(c, scope(c)) })

	record.GET("/timeline", func(c *gin.Context) { h.handleTimeline(c, scope(c)) })
	record.GET("/links", func(c *gin.Context) { h.handleLinksList(c, scope(c)) })
}

func (h *httpHandler) notesFor(c *gin.Context, entity ipdata.EntityRef) (*repository.Notes, identity.Provider, error) {
	session := h.session(c)
	notes, err := repository.NewNotes(repository.Config[ipdata.Note]{
		Table: h.notes, Identity: session, Clock: h.clock, Logger: h.logger,
	}, entity)
	return notes, session, err
}

func (h *httpHandler) commentsFor(c *gin.Context, entity ipdata.EntityRef) (*repository.Comments, identity.Provider, error) {
	session := h.session(c)
	comments, err := repository.NewComments(repository.Config[ipdata.Comment]{
		Table: h.comments, Identity: session, Clock: h.clock, Logger: h.logger,
	}, entity)
	return comments, session, err
}

func (h *httpHandler) checklistFor(c *gin.Context, entity ipdata.EntityRef) (*repository.Checklist, identity.Provider, error) {
	session := h.session(c)
	checklist, err := repository.NewChecklist(repository.Config[ipdata.ChecklistItem]{
		Table: h.checklist, Identity: session, Clock: h.clock, Logger: h.logger,
	}, entity)
	return checklist, session, err
}

func (h *httpHandler) linksFor(c *gin.Context) (*repository.Links, identity.Provider, error) {
	session := h.session(c)
	links, err := repository.NewLinks(repository.Config[ipdata.Link]{
		Table: h.links, Identity: session, Clock: h.clock, Logger: h.logger,
	})
	return links, session, err
}

func (h *httpHandler) handleNotesList(c *gin.Context, entity ipdata.EntityRef) {
	notes, _, err := h.notesFor(c, entity)
	if err == nil {
		err = notes.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "notes.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": notes.Notes()})
}

func (h *httpHandler) handleNoteCreate(c *gin.Context, entity ipdata.EntityRef) {
	var payload notePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.writeError(c, "notes.create", fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	notes, session, err := h.notesFor(c, entity)
	if err != nil {
		h.writeError(c, "notes.create", err)
		return
	}
	note, err := notes.CreateNote(c.Request.Context(), payload.Content, payload.IsPublic)
	if err != nil {
		h.writeError(c, "notes.create", err)
		return
	}
	h.recordChange(c, session, activity.Entry{Entity: notes.Entity(), Action: actionNoteAdded, Description: "note added"})
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleNoteUpdate(c *gin.Context, entity ipdata.EntityRef) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil || len(patch) == 0 {
		h.writeError(c, "notes.update", errInvalidPayload)
		return
	}
	notes, session, err := h.notesFor(c, entity)
	if err != nil {
		h.writeError(c, "notes.update", err)
		return
	}
	note, err := notes.UpdateNote(c.Request.Context(), c.Param("annotationId"), patch)
	if err != nil {
		h.writeError(c, "notes.update", err)
		return
	}
	h.recordChange(c, session, activity.Entry{
		Entity:      notes.Entity(),
		Action:      actionNoteUpdated,
		Description: "note updated",
		Metadata:    map[string]any{"note_id": note.ID, "fields": sortedKeys(patch)},
	})
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleNoteDelete(c *gin.Context, entity ipdata.EntityRef) {
	notes, session, err := h.notesFor(c, entity)
	if err == nil {
		err = notes.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "notes.delete", err)
		return
	}
	noteID := c.Param("annotationId")
	_, existed := cachedRow(notes.Notes(), noteID)
	if err := notes.DeleteNote(c.Request.Context(), noteID); err != nil {
		h.writeError(c, "notes.delete", err)
		return
	}
	if existed {
		h.recordChange(c, session, activity.Entry{
			Entity:      notes.Entity(),
			Action:      actionNoteDeleted,
			Description: "note deleted",
			Metadata:    map[string]any{"note_id": noteID},
		})
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCommentsList(c *gin.Context, entity ipdata.EntityRef) {
	comments, _, err := h.commentsFor(c, entity)
	if err == nil {
		err = comments.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "comments.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":              comments.Data(),
		"top_level":         comments.TopLevelComments(),
		"replies_by_parent": comments.RepliesByParent(),
	})
}

func (h *httpHandler) handleCommentCreate(c *gin.Context, entity ipdata.EntityRef) {
	var payload commentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.writeError(c, "comments.create", fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	comments, session, err := h.commentsFor(c, entity)
	if err != nil {
		h.writeError(c, "comments.create", err)
		return
	}
	comment, err := comments.CreateComment(c.Request.Context(), payload.Content, payload.ParentCommentID)
	if err != nil {
		h.writeError(c, "comments.create", err)
		return
	}
	h.recordChange(c, session, activity.Entry{Entity: comments.Entity(), Action: actionCommentAdded, Description: "comment added"})
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleCommentUpdate(c *gin.Context, entity ipdata.EntityRef) {
	var payload struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.writeError(c, "comments.update", fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	comments, session, err := h.commentsFor(c, entity)
	if err != nil {
		h.writeError(c, "comments.update", err)
		return
	}
	comment, err := comments.UpdateComment(c.Request.Context(), c.Param("annotationId"), payload.Content)
	if err != nil {
		h.writeError(c, "comments.update", err)
		return
	}
	h.recordChange(c, session, activity.Entry{
		Entity:      comments.Entity(),
		Action:      actionCommentUpdated,
		Description: "comment edited",
		Metadata:    map[string]any{"comment_id": comment.ID},
	})
	c.JSON(http.StatusOK, comment)
}

func (h *httpHandler) handleCommentDelete(c *gin.Context, entity ipdata.EntityRef) {
	comments, session, err := h.commentsFor(c, entity)
	if err == nil {
		err = comments.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "comments.delete", err)
		return
	}
	commentID := c.Param("annotationId")
	_, existed := cachedRow(comments.Data(), commentID)
	replies := len(comments.Replies(commentID))
	if err := comments.DeleteComment(c.Request.Context(), commentID); err != nil {
		h.writeError(c, "comments.delete", err)
		return
	}
	if existed {
		h.recordChange(c, session, activity.Entry{
			Entity:      comments.Entity(),
			Action:      actionCommentDeleted,
			Description: "comment deleted",
			Metadata:    map[string]any{"comment_id": commentID, "replies_deleted": replies},
		})
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleChecklistList(c *gin.Context, entity ipdata.EntityRef) {
	checklist, _, err := h.checklistFor(c, entity)
	if err == nil {
		err = checklist.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "checklist.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":            checklist.Items(),
		"completed_count": checklist.CompletedCount(),
	})
}

func (h *httpHandler) handleChecklistCreate(c *gin.Context, entity ipdata.EntityRef) {
	var payload checklistPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.writeError(c, "checklist.create", fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	checklist, session, err := h.checklistFor(c, entity)
	if err != nil {
		h.writeError(c, "checklist.create", err)
		return
	}
	item, err := checklist.CreateItem(c.Request.Context(), payload.Title, payload.DueDate)
	if err != nil {
		h.writeError(c, "checklist.create", err)
		return
	}
	h.recordChange(c, session, activity.Entry{Entity: checklist.Entity(), Action: actionTaskAdded, Description: item.Title})
	c.JSON(http.StatusCreated, item)
}

func (h *httpHandler) handleChecklistUpdate(c *gin.Context, entity ipdata.EntityRef) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil || len(patch) == 0 {
		h.writeError(c, "checklist.update", errInvalidPayload)
		return
	}
	checklist, session, err := h.checklistFor(c, entity)
	if err != nil {
		h.writeError(c, "checklist.update", err)
		return
	}
	item, err := checklist.UpdateItem(c.Request.Context(), c.Param("annotationId"), patch)
	if err != nil {
		h.writeError(c, "checklist.update", err)
		return
	}
	h.recordChange(c, session, activity.Entry{
		Entity:      checklist.Entity(),
		Action:      actionTaskUpdated,
		Description: item.Title,
		Metadata:    map[string]any{"item_id": item.ID, "fields": sortedKeys(patch)},
	})
	c.JSON(http.StatusOK, item)
}

func (h *httpHandler) handleChecklistToggle(c *gin.Context, entity ipdata.EntityRef) {
	checklist, session, err := h.checklistFor(c, entity)
	if err == nil {
		err = checklist.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "checklist.toggle", err)
		return
	}
	item, err := checklist.ToggleItem(c.Request.Context(), c.Param("annotationId"))
	if err != nil {
		h.writeError(c, "checklist.toggle", err)
		return
	}
	h.recordChange(c, session, activity.Entry{
		Entity:      checklist.Entity(),
		Action:      actionTaskToggled,
		Description: item.Title,
		Metadata:    map[string]any{"completed": item.Completed},
	})
	c.JSON(http.StatusOK, item)
}

func (h *httpHandler) handleChecklistDelete(c *gin.Context, entity ipdata.EntityRef) {
	checklist, session, err := h.checklistFor(c, entity)
	if err == nil {
		err = checklist.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "checklist.delete", err)
		return
	}
	itemID := c.Param("annotationId")
	item, existed := cachedRow(checklist.Items(), itemID)
	if err := checklist.DeleteItem(c.Request.Context(), itemID); err != nil {
		h.writeError(c, "checklist.delete", err)
		return
	}
	if existed {
		h.recordChange(c, session, activity.Entry{
			Entity:      checklist.Entity(),
			Action:      actionTaskDeleted,
			Description: item.Title,
			Metadata:    map[string]any{"item_id": itemID},
		})
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleTimeline(c *gin.Context, entity ipdata.EntityRef) {
	timeline, err := repository.NewTimeline(repository.Config[ipdata.ActivityLog]{
		Table: h.timeline, Identity: h.session(c), Clock: h.clock, Logger: h.logger,
	}, entity)
	if err == nil {
		err = timeline.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "timeline.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": timeline.Entries()})
}

func (h *httpHandler) handleLinksList(c *gin.Context, entity ipdata.EntityRef) {
	links, _, err := h.linksFor(c)
	if err == nil {
		err = links.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "links.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": links.GetLinkedEntities(entity.Type, entity.ID)})
}

func (h *httpHandler) handleLinkCreate(c *gin.Context) {
	var payload linkPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.writeError(c, "links.create", fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	links, session, err := h.linksFor(c)
	if err == nil {
		err = links.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "links.create", err)
		return
	}
	_, existed := links.LinkBetween(payload.From, payload.To)
	link, err := links.LinkEntities(c.Request.Context(), payload.From, payload.To)
	if err != nil {
		h.writeError(c, "links.create", err)
		return
	}
	if existed {
		c.JSON(http.StatusOK, link)
		return
	}
	h.recordChange(c, session, activity.Entry{
		Entity:      link.From(),
		Action:      actionLinked,
		Description: fmt.Sprintf("linked to %s", link.ToEntityType),
		Metadata:    map[string]any{"link_id": link.ID, "to_type": link.ToEntityType, "to_id": link.ToEntityID},
	})
	c.JSON(http.StatusCreated, link)
}

func (h *httpHandler) handleLinkDelete(c *gin.Context) {
	links, session, err := h.linksFor(c)
	if err == nil {
		err = links.Fetch(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, "links.delete", err)
		return
	}
	linkID := c.Param("linkId")
	var removed *ipdata.Link
	for _, link := range links.Data() {
		if link.ID == linkID {
			removed = &link
			break
		}
	}
	if err := links.UnlinkEntities(c.Request.Context(), linkID); err != nil {
		h.writeError(c, "links.delete", err)
		return
	}
	if removed != nil {
		h.recordChange(c, session, activity.Entry{
			Entity:      removed.From(),
			Action:      actionUnlinked,
			Description: fmt.Sprintf("unlinked from %s", removed.ToEntityType),
			Metadata:    map[string]any{"link_id": removed.ID},
		})
	}
	c.Status(http.StatusNoContent)
}

// cachedRow returns the row with id from rows.
func cachedRow[T any, P repository.Row[T]](rows []T, id string) (T, bool) {
	for index := range rows {
		if P(&rows[index]).Record().ID == id {
			return rows[index], true
		}
	}
	var zero T
	return zero, false
}
