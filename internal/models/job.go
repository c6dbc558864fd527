package models

import "time"

// JobRecord is the persisted snapshot of one job in the engine registry.
// The engine rewrites the whole table when it checkpoints.
type JobRecord struct {
	ID              string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Type            string    `gorm:"type:varchar(100);not null;index" json:"type"`
	State           string    `gorm:"type:varchar(20);not null;index" json:"state"`
	Priority        int       `gorm:"not null" json:"priority"`
	Progress        float64   `json:"progress"`
	ErrorCode       string    `gorm:"type:varchar(50)" json:"error_code,omitempty"`
	RuntimeMillis   int64     `json:"runtime_ms"`
	Content         []byte    `gorm:"type:jsonb" json:"content,omitempty"`
	Payload         []byte    `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastStateChange time.Time `json:"last_state_change"`
}

// TableName overrides the table name
func (JobRecord) TableName() string {
	return "job_records"
}
