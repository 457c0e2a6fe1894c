package ipdata

import "time"

// Note is a free-form note attached to an owned record.
type Note struct {
	ScopedBase
	Content  string `json:"content" gorm:"column:content;type:text;not null" validate:"required"`
	IsPublic bool   `json:"is_public" gorm:"column:is_public;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Comment is a discussion entry. Replies point at their top-level comment.
type Comment struct {
	ScopedBase
	Content         string  `json:"content" gorm:"column:content;type:text;not null" validate:"required"`
	ParentCommentID *string `json:"parent_comment_id" gorm:"column:parent_comment_id;size:190;index"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// IsReply reports whether the comment answers another comment.
func (c Comment) IsReply() bool {
	return c.ParentCommentID != nil && *c.ParentCommentID != ""
}

// ChecklistItem is a task attached to an owned record.
type ChecklistItem struct {
	ScopedBase
	Title       string     `json:"title" gorm:"column:title;size:512;not null" validate:"required,max=512"`
	DueDate     *time.Time `json:"due_date" gorm:"column:due_date"`
	Completed   bool       `json:"completed" gorm:"column:completed;not null;default:false"`
	CompletedAt *time.Time `json:"completed_at" gorm:"column:completed_at"`
}

// TableName provides the explicit table binding for GORM.
func (ChecklistItem) TableName() string {
	return "checklist_items"
}

// ActivityLog is one append-only audit entry on a record's timeline.
type ActivityLog struct {
	ScopedBase
	Action       string `json:"action" gorm:"column:action;size:64;not null"`
	Description  string `json:"description" gorm:"column:description;type:text"`
	MetadataJSON string `json:"metadata" gorm:"column:metadata;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// Link associates two arbitrary records. Stored directionally, looked up from either end.
type Link struct {
	Base
	FromEntityType string `json:"from_entity_type" gorm:"column:from_entity_type;size:64;not null;uniqueIndex:idx_links_pair,priority:2"`
	FromEntityID   string `json:"from_entity_id" gorm:"column:from_entity_id;size:190;not null;uniqueIndex:idx_links_pair,priority:3;index:idx_links_from"`
	ToEntityType   string `json:"to_entity_type" gorm:"column:to_entity_type;size:64;not null;uniqueIndex:idx_links_pair,priority:4"`
	ToEntityID     string `json:"to_entity_id" gorm:"column:to_entity_id;size:190;not null;uniqueIndex:idx_links_pair,priority:5;index:idx_links_to"`
	CreatedBy      string `json:"created_by" gorm:"column:created_by;size:190;not null;uniqueIndex:idx_links_pair,priority:1"`
}

// TableName provides the explicit table binding for GORM.
func (Link) TableName() string {
	return "entity_links"
}

// From returns the source end of the link.
func (l Link) From() EntityRef {
	return EntityRef{Type: l.FromEntityType, ID: l.FromEntityID}
}

// To returns the target end of the link.
func (l Link) To() EntityRef {
	return EntityRef{Type: l.ToEntityType, ID: l.ToEntityID}
}

// Touches reports whether ref is either end of the link.
func (l Link) Touches(ref EntityRef) bool {
	return l.From() == ref || l.To() == ref
}

// Connects reports whether the link joins a and b in either direction.
func (l Link) Connects(a, b EntityRef) bool {
	return (l.From() == a && l.To() == b) || (l.From() == b && l.To() == a)
}

// Other returns the end of the link opposite ref.
func (l Link) Other(ref EntityRef) EntityRef {
	if l.From() == ref {
		return l.To()
	}
	return l.From()
}

// Models lists every row type that has a table.
func Models() []any {
	return []any{
		&Disclosure{},
		&Filing{},
		&FilingRelationship{},
		&Project{},
		&Agreement{},
		&Startup{},
		&Inventor{},
		&TeamMember{},
		&Annuity{},
		&OfficeAction{},
		&Alert{},
		&Note{},
		&Comment{},
		&ChecklistItem{},
		&ActivityLog{},
		&Link{},
	}
}
