package ipdata

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Column names shared by every table.
const (
	ColumnID              = "id"
	ColumnUserID          = "user_id"
	ColumnCreatedAt       = "created_at"
	ColumnUpdatedAt       = "updated_at"
	ColumnEntityType      = "entity_type"
	ColumnEntityID        = "entity_id"
	ColumnCreatedBy       = "created_by"
	ColumnParentCommentID = "parent_comment_id"
	ColumnFromEntityType  = "from_entity_type"
	ColumnFromEntityID    = "from_entity_id"
	ColumnToEntityType    = "to_entity_type"
	ColumnToEntityID      = "to_entity_id"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the `validate` tags of a caller supplied row.
func Validate(row any) error {
	return validate.Struct(row)
}

// Base carries the ownership and timestamp columns every row has.
type Base struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey;size:190;not null"`
	UserID    string    `json:"user_id" gorm:"column:user_id;size:190;not null;index"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:false;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// Record exposes the shared columns of any row embedding Base.
func (b *Base) Record() *Base {
	return b
}

// PrimaryID returns the row identifier.
func (b *Base) PrimaryID() string {
	return b.ID
}

// AssignID sets the row identifier.
func (b *Base) AssignID(id string) {
	b.ID = id
}

// Stamp sets ownership and both timestamps.
func (b *Base) Stamp(userID string, now time.Time) {
	b.UserID = userID
	b.CreatedAt = now
	b.UpdatedAt = now
}

// ScopedBase carries the columns of annotations attached to an owned record.
type ScopedBase struct {
	Base
	EntityType string `json:"entity_type" gorm:"column:entity_type;size:64;not null;index:,composite:scope,priority:1"`
	EntityID   string `json:"entity_id" gorm:"column:entity_id;size:190;not null;index:,composite:scope,priority:2"`
	CreatedBy  string `json:"created_by" gorm:"column:created_by;size:190;not null"`
}

// Scope exposes the scope columns of any row embedding ScopedBase.
func (s *ScopedBase) Scope() *ScopedBase {
	return s
}

// EntityRef names one record by its type and id.
type EntityRef struct {
	Type string `json:"type" validate:"required,max=64"`
	ID   string `json:"id" validate:"required,max=190"`
}
