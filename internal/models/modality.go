package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Modality is a remote DICOM application entity this server may talk to.
// C-MOVE destinations are resolved against this table by AET.
type Modality struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name         string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	AETitle      string    `gorm:"type:varchar(16);not null;index" json:"ae_title"`
	Host         string    `gorm:"type:varchar(255);not null" json:"host"`
	Port         int       `gorm:"not null" json:"port"`
	Manufacturer string    `gorm:"type:varchar(100)" json:"manufacturer,omitempty"`
	AllowEcho    bool      `gorm:"default:true" json:"allow_echo"`
	AllowStore   bool      `gorm:"default:true" json:"allow_store"`
	AllowFind    bool      `gorm:"default:true" json:"allow_find"`
	AllowMove    bool      `gorm:"default:true" json:"allow_move"`
	AllowGet     bool      `gorm:"default:false" json:"allow_get"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`

	// Connection status tracking
	LastEchoTest   time.Time `gorm:"index" json:"last_echo_test,omitempty"`
	LastEchoStatus bool      `json:"last_echo_status,omitempty"`
	LastError      string    `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName overrides the table name
func (Modality) TableName() string {
	return "modalities"
}

// BeforeCreate hook
func (m *Modality) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// EchoStatus reports the outcome of a C-ECHO round trip against a modality
type EchoStatus struct {
	IsReachable  bool      `json:"is_reachable"`
	LastChecked  time.Time `json:"last_checked"`
	ResponseTime int64     `json:"response_time_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// RetrieveRequest asks a modality to send matching resources over C-MOVE
type RetrieveRequest struct {
	Level     string            `json:"level" binding:"required"`
	Query     map[string]string `json:"query" binding:"required"`
	TargetAET string            `json:"target_aet,omitempty"`
	Priority  int               `json:"priority,omitempty"`
}

// ModalityRequest represents a request to create/update a modality
type ModalityRequest struct {
	Name         string `json:"name" binding:"required"`
	AETitle      string `json:"ae_title" binding:"required"`
	Host         string `json:"host" binding:"required"`
	Port         int    `json:"port" binding:"required"`
	Manufacturer string `json:"manufacturer,omitempty"`
	AllowGet     bool   `json:"allow_get"`
	AllowMove    bool   `json:"allow_move"`
}
