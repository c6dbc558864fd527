package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otcheredev/dicom-store/internal/database"
	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// ModalityRepository handles remote modality database operations
type ModalityRepository struct{}

// NewModalityRepository creates a new modality repository
func NewModalityRepository() *ModalityRepository {
	return &ModalityRepository{}
}

// Create creates a new modality
func (r *ModalityRepository) Create(ctx context.Context, modality *models.Modality) error {
	if err := database.DB.WithContext(ctx).Create(modality).Error; err != nil {
		return fmt.Errorf("failed to create modality: %w", err)
	}
	return nil
}

// GetByID retrieves a modality by ID
func (r *ModalityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Modality, error) {
	var modality models.Modality
	if err := database.DB.WithContext(ctx).Where("id = ?", id).First(&modality).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown modality %s", id)
		}
		return nil, fmt.Errorf("failed to get modality: %w", err)
	}
	return &modality, nil
}

// GetByAET retrieves an active modality by its application entity title
func (r *ModalityRepository) GetByAET(ctx context.Context, aet string) (*models.Modality, error) {
	var modality models.Modality
	if err := database.DB.WithContext(ctx).
		Where("ae_title = ? AND is_active = ?", aet, true).
		First(&modality).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown modality AET %q", aet)
		}
		return nil, fmt.Errorf("failed to get modality: %w", err)
	}
	return &modality, nil
}

// List retrieves all active modalities
func (r *ModalityRepository) List(ctx context.Context) ([]models.Modality, error) {
	var modalities []models.Modality
	if err := database.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&modalities).Error; err != nil {
		return nil, fmt.Errorf("failed to list modalities: %w", err)
	}
	return modalities, nil
}

// Update updates a modality
func (r *ModalityRepository) Update(ctx context.Context, modality *models.Modality) error {
	if err := database.DB.WithContext(ctx).Save(modality).Error; err != nil {
		return fmt.Errorf("failed to update modality: %w", err)
	}
	return nil
}

// Delete soft deletes a modality
func (r *ModalityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := database.DB.WithContext(ctx).Delete(&models.Modality{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete modality: %w", err)
	}
	return nil
}

// UpdateEchoStatus records the outcome of a C-ECHO round trip
func (r *ModalityRepository) UpdateEchoStatus(ctx context.Context, id uuid.UUID, status *models.EchoStatus) error {
	updates := map[string]interface{}{
		"last_echo_test":   status.LastChecked,
		"last_echo_status": status.IsReachable,
		"last_error":       status.ErrorMessage,
	}

	if err := database.DB.WithContext(ctx).
		Model(&models.Modality{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update echo status: %w", err)
	}
	return nil
}
