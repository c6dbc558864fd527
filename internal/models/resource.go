package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resource is one node of the patient/study/series/instance hierarchy.
// Level stores the numeric resource level (0 = patient .. 3 = instance).
type Resource struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PublicID string     `gorm:"type:varchar(255);not null;index:idx_resources_public_level,unique" json:"public_id"`
	Level    int        `gorm:"not null;index:idx_resources_public_level,unique;index" json:"level"`
	ParentID *uuid.UUID `gorm:"type:uuid;index" json:"parent_id,omitempty"`

	// File columns are only populated at the instance level
	FileUUID       string `gorm:"type:varchar(64)" json:"file_uuid,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	TransferSyntax string `gorm:"type:varchar(64)" json:"transfer_syntax,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (Resource) TableName() string {
	return "resources"
}

// BeforeCreate hook
func (r *Resource) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// ResourceTag is one main DICOM tag promoted to a row for fast filtering.
// TagKey is the "ggggeeee" hexadecimal form of the tag.
type ResourceTag struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ResourceID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_resource_tags_lookup" json:"resource_id"`
	TagKey     string    `gorm:"type:varchar(8);not null;index:idx_resource_tags_lookup;index:idx_resource_tags_value" json:"tag"`
	Value      string    `gorm:"type:text;index:idx_resource_tags_value" json:"value"`
}

// TableName overrides the table name
func (ResourceTag) TableName() string {
	return "resource_tags"
}

// BeforeCreate hook
func (t *ResourceTag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
