package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/otcheredev/dicom-store/internal/database"
	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// JobRepository persists the job engine registry across restarts
type JobRepository struct{}

// NewJobRepository creates a new job repository
func NewJobRepository() *JobRepository {
	return &JobRepository{}
}

// SaveRegistry replaces the persisted snapshot with the given serialized
// registry
func (r *JobRepository) SaveRegistry(ctx context.Context, registry []byte) error {
	var parsed jobs.SerializedRegistry
	if err := json.Unmarshal(registry, &parsed); err != nil {
		return dicomerr.Wrap(dicomerr.ErrBadFileFormat, "malformed jobs registry")
	}

	records := make([]models.JobRecord, 0, len(parsed.Jobs))
	for _, job := range parsed.Jobs {
		content, err := json.Marshal(job.Content)
		if err != nil {
			return fmt.Errorf("failed to marshal job content: %w", err)
		}
		payload, err := json.Marshal(job.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal job payload: %w", err)
		}
		records = append(records, models.JobRecord{
			ID:              job.ID,
			Type:            job.Type,
			State:           string(job.State),
			Priority:        job.Priority,
			Progress:        job.Progress,
			ErrorCode:       string(job.ErrorCode),
			RuntimeMillis:   job.RuntimeMillis,
			Content:         content,
			Payload:         payload,
			CreatedAt:       job.CreatedAt,
			LastStateChange: job.LastStateChange,
		})
	}

	tx := database.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	if err := tx.Where("1 = 1").Delete(&models.JobRecord{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear job records: %w", err)
	}
	if len(records) > 0 {
		if err := tx.Create(&records).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save job records: %w", err)
		}
	}
	return tx.Commit().Error
}

// LoadRegistry rebuilds the serialized registry from the persisted rows,
// ordered by submission time
func (r *JobRepository) LoadRegistry(ctx context.Context) ([]byte, error) {
	var records []models.JobRecord
	if err := database.DB.WithContext(ctx).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load job records: %w", err)
	}

	registry := jobs.SerializedRegistry{Jobs: make([]jobs.SerializedJob, 0, len(records))}
	for _, record := range records {
		job := jobs.SerializedJob{
			ID:              record.ID,
			Type:            record.Type,
			State:           jobs.JobState(record.State),
			Priority:        record.Priority,
			Progress:        record.Progress,
			ErrorCode:       dicomerr.Code(record.ErrorCode),
			RuntimeMillis:   record.RuntimeMillis,
			CreatedAt:       record.CreatedAt.UTC(),
			LastStateChange: record.LastStateChange.UTC(),
		}
		if len(record.Content) > 0 {
			if err := json.Unmarshal(record.Content, &job.Content); err != nil {
				return nil, dicomerr.Wrap(dicomerr.ErrBadFileFormat, "malformed content for job %s", record.ID)
			}
		}
		if len(record.Payload) > 0 {
			if err := json.Unmarshal(record.Payload, &job.Payload); err != nil {
				return nil, dicomerr.Wrap(dicomerr.ErrBadFileFormat, "malformed payload for job %s", record.ID)
			}
		}
		registry.Jobs = append(registry.Jobs, job)
	}

	return json.Marshal(&registry)
}
