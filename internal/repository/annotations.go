package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

// ErrUnknownItem is returned when an operation needs a row this record's annotations do not hold.
var ErrUnknownItem = errors.New("item is not loaded")

const (
	opCreateComment = "repository.create_comment"
	opDeleteComment = "repository.delete_comment"
	opToggleItem    = "repository.toggle_item"

	columnContent     = "content"
	columnCompleted   = "completed"
	columnCompletedAt = "completed_at"
)

// Notes manages the notes of one record, newest first.
type Notes struct {
	*Scoped[ipdata.Note, *ipdata.Note]
}

// NewNotes constructs the notes repository of entity.
func NewNotes(cfg Config[ipdata.Note], entity ipdata.EntityRef) (*Notes, error) {
	scoped, err := NewScoped[ipdata.Note](cfg, entity, datastore.Descending)
	if err != nil {
		return nil, err
	}
	return &Notes{Scoped: scoped}, nil
}

// Notes returns the cached notes.
func (n *Notes) Notes() []ipdata.Note {
	return n.Data()
}

// CreateNote adds a note to the record.
func (n *Notes) CreateNote(ctx context.Context, content string, isPublic bool) (ipdata.Note, error) {
	return n.Create(ctx, ipdata.Note{Content: content, IsPublic: isPublic})
}

// UpdateNote patches a note.
func (n *Notes) UpdateNote(ctx context.Context, id string, fields map[string]any) (ipdata.Note, error) {
	return n.Update(ctx, id, fields)
}

// DeleteNote removes a note.
func (n *Notes) DeleteNote(ctx context.Context, id string) error {
	return n.Remove(ctx, id)
}

// Comments manages the discussion of one record in conversation order.
type Comments struct {
	*Scoped[ipdata.Comment, *ipdata.Comment]
}

// NewComments constructs the comments repository of entity.
func NewComments(cfg Config[ipdata.Comment], entity ipdata.EntityRef) (*Comments, error) {
	scoped, err := NewScoped[ipdata.Comment](cfg, entity, datastore.Ascending)
	if err != nil {
		return nil, err
	}
	scoped.immutable[ipdata.ColumnParentCommentID] = struct{}{}
	return &Comments{Scoped: scoped}, nil
}

// CreateComment adds a comment, or a reply when parentCommentID is set. Replies to replies are
// attached to the top-level comment so threads stay two levels deep. A parent outside this
// record's discussion is ErrUnknownItem.
func (c *Comments) CreateComment(ctx context.Context, content string, parentCommentID *string) (ipdata.Comment, error) {
	comment := ipdata.Comment{Content: content}
	if parentCommentID != nil && *parentCommentID != "" {
		parent, err := c.lookup(ctx, *parentCommentID)
		if err != nil {
			return ipdata.Comment{}, err
		}
		parentID := parent.ID
		if parent.IsReply() {
			parentID = *parent.ParentCommentID
		}
		comment.ParentCommentID = &parentID
	}
	return c.Create(ctx, comment)
}

// lookup finds a comment of this discussion in the cache, falling back to the table.
func (c *Comments) lookup(ctx context.Context, id string) (ipdata.Comment, error) {
	if comment, ok := c.find(id); ok {
		return comment, nil
	}
	user, ok := c.currentUser()
	if !ok {
		return ipdata.Comment{}, ErrNotAuthenticated
	}
	rows, err := c.table.Select(ctx, c.rowQuery(user, id))
	if err != nil {
		c.logError(opCreateComment, "parent_lookup_failed", err, zap.String("user_id", user.ID), zap.String("id", id))
		return ipdata.Comment{}, err
	}
	if len(rows) == 0 {
		c.logError(opCreateComment, "unknown_parent", ErrUnknownItem, zap.String("id", id))
		return ipdata.Comment{}, ErrUnknownItem
	}
	return rows[0], nil
}

// TopLevelComments returns the cached comments that are not replies.
func (c *Comments) TopLevelComments() []ipdata.Comment {
	topLevel := make([]ipdata.Comment, 0)
	for _, comment := range c.Data() {
		if !comment.IsReply() {
			topLevel = append(topLevel, comment)
		}
	}
	return topLevel
}

// Replies returns the cached replies to parentID.
func (c *Comments) Replies(parentID string) []ipdata.Comment {
	replies := make([]ipdata.Comment, 0)
	for _, comment := range c.Data() {
		if comment.IsReply() && *comment.ParentCommentID == parentID {
			replies = append(replies, comment)
		}
	}
	return replies
}

// RepliesByParent groups the cached replies by the comment they answer.
func (c *Comments) RepliesByParent() map[string][]ipdata.Comment {
	grouped := make(map[string][]ipdata.Comment)
	for _, comment := range c.Data() {
		if comment.IsReply() {
			grouped[*comment.ParentCommentID] = append(grouped[*comment.ParentCommentID], comment)
		}
	}
	return grouped
}

// UpdateComment replaces the text of a comment.
func (c *Comments) UpdateComment(ctx context.Context, id, content string) (ipdata.Comment, error) {
	return c.Update(ctx, id, map[string]any{columnContent: content})
}

// DeleteComment removes a comment together with its replies.
func (c *Comments) DeleteComment(ctx context.Context, id string) error {
	user, ok := c.currentUser()
	if !ok {
		return ErrNotAuthenticated
	}
	replies := c.scope(datastore.NewQuery().
		Eq(ipdata.ColumnUserID, user.ID).
		Eq(ipdata.ColumnParentCommentID, id))
	if _, err := c.table.Delete(ctx, replies); err != nil {
		c.logError(opDeleteComment, "reply_delete_failed", err, zap.String("user_id", user.ID), zap.String("id", id))
		return err
	}
	c.drop(func(comment *ipdata.Comment) bool {
		return comment.IsReply() && *comment.ParentCommentID == id
	})
	return c.Remove(ctx, id)
}

// Checklist manages the task list of one record, newest first.
type Checklist struct {
	*Scoped[ipdata.ChecklistItem, *ipdata.ChecklistItem]
}

// NewChecklist constructs the checklist repository of entity.
func NewChecklist(cfg Config[ipdata.ChecklistItem], entity ipdata.EntityRef) (*Checklist, error) {
	scoped, err := NewScoped[ipdata.ChecklistItem](cfg, entity, datastore.Descending)
	if err != nil {
		return nil, err
	}
	return &Checklist{Scoped: scoped}, nil
}

// Items returns the cached checklist items.
func (c *Checklist) Items() []ipdata.ChecklistItem {
	return c.Data()
}

// CreateItem adds an open task.
func (c *Checklist) CreateItem(ctx context.Context, title string, dueDate *time.Time) (ipdata.ChecklistItem, error) {
	return c.Create(ctx, ipdata.ChecklistItem{Title: title, DueDate: dueDate})
}

// ToggleItem flips the completion state of a cached task.
func (c *Checklist) ToggleItem(ctx context.Context, id string) (ipdata.ChecklistItem, error) {
	item, ok := c.find(id)
	if !ok {
		c.logError(opToggleItem, "unknown_item", ErrUnknownItem, zap.String("id", id))
		return ipdata.ChecklistItem{}, ErrUnknownItem
	}
	fields := map[string]any{columnCompleted: !item.Completed, columnCompletedAt: nil}
	if !item.Completed {
		fields[columnCompletedAt] = c.clock().UTC()
	}
	return c.Update(ctx, id, fields)
}

// UpdateItem patches a task.
func (c *Checklist) UpdateItem(ctx context.Context, id string, fields map[string]any) (ipdata.ChecklistItem, error) {
	return c.Update(ctx, id, fields)
}

// DeleteItem removes a task.
func (c *Checklist) DeleteItem(ctx context.Context, id string) error {
	return c.Remove(ctx, id)
}

// CompletedCount counts the cached tasks marked done.
func (c *Checklist) CompletedCount() int {
	count := 0
	for _, item := range c.Data() {
		if item.Completed {
			count++
		}
	}
	return count
}

// Timeline is the read-only activity history of one record, newest first.
type Timeline struct {
	scoped *Scoped[ipdata.ActivityLog, *ipdata.ActivityLog]
}

// NewTimeline constructs the timeline of entity.
func NewTimeline(cfg Config[ipdata.ActivityLog], entity ipdata.EntityRef) (*Timeline, error) {
	scoped, err := NewScoped[ipdata.ActivityLog](cfg, entity, datastore.Descending)
	if err != nil {
		return nil, err
	}
	return &Timeline{scoped: scoped}, nil
}

// Fetch reloads the entries.
func (t *Timeline) Fetch(ctx context.Context) error {
	return t.scoped.Fetch(ctx)
}

// Refresh reloads the entries.
func (t *Timeline) Refresh(ctx context.Context) error {
	return t.scoped.Refresh(ctx)
}

// Entries returns the cached entries.
func (t *Timeline) Entries() []ipdata.ActivityLog {
	return t.scoped.Data()
}

// State returns a snapshot of the timeline.
func (t *Timeline) State() State[ipdata.ActivityLog] {
	return t.scoped.State()
}

// Watch re-fetches the timeline on identity changes until ctx is done.
func (t *Timeline) Watch(ctx context.Context) <-chan struct{} {
	return t.scoped.Watch(ctx)
}
