package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otcheredev/dicom-store/internal/database"
	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// GormIndex implements Index over the resources/resource_tags tables
type GormIndex struct{}

// NewGormIndex creates an index backed by the global database connection
func NewGormIndex() *GormIndex {
	return &GormIndex{}
}

func (g *GormIndex) find(ctx context.Context, id string) (*models.Resource, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "malformed resource id %q", id)
	}
	var res models.Resource
	if err := database.DB.WithContext(ctx).Where("id = ?", uid).First(&res).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown resource %q", id)
		}
		return nil, fmt.Errorf("failed to load resource: %w", err)
	}
	return &res, nil
}

// ListChildren returns the ids of the direct children of a resource
func (g *GormIndex) ListChildren(ctx context.Context, parentID string) ([]string, error) {
	if _, err := g.find(ctx, parentID); err != nil {
		return nil, err
	}
	var ids []string
	if err := database.DB.WithContext(ctx).
		Model(&models.Resource{}).
		Where("parent_id = ?", parentID).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	return ids, nil
}

// GetChildInstances returns every instance below a resource
func (g *GormIndex) GetChildInstances(ctx context.Context, id string) ([]string, error) {
	res, err := g.find(ctx, id)
	if err != nil {
		return nil, err
	}

	frontier := []string{id}
	for level := dicom.ResourceLevel(res.Level); level < dicom.LevelInstance; level++ {
		if len(frontier) == 0 {
			break
		}
		var next []string
		if err := database.DB.WithContext(ctx).
			Model(&models.Resource{}).
			Where("parent_id IN ?", frontier).
			Pluck("id", &next).Error; err != nil {
			return nil, fmt.Errorf("failed to walk children: %w", err)
		}
		frontier = next
	}
	return frontier, nil
}

// LookupIdentifier resolves an exact identifier-tag value at a level
func (g *GormIndex) LookupIdentifier(ctx context.Context, tag dicom.Tag, value string, level dicom.ResourceLevel) ([]string, error) {
	var ids []string
	if err := database.DB.WithContext(ctx).
		Model(&models.ResourceTag{}).
		Joins("JOIN resources ON resources.id = resource_tags.resource_id").
		Where("resources.level = ? AND resource_tags.tag_key = ? AND resource_tags.value = ?",
			int(level), tag.Key(), value).
		Pluck("resource_tags.resource_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to lookup identifier: %w", err)
	}
	return ids, nil
}

// LookupParent walks up to the ancestor at parentLevel
func (g *GormIndex) LookupParent(ctx context.Context, id string, parentLevel dicom.ResourceLevel) (string, error) {
	res, err := g.find(ctx, id)
	if err != nil {
		return "", err
	}
	if int(parentLevel) >= res.Level {
		return "", dicomerr.Wrap(dicomerr.ErrParameterOutOfRange,
			"level %s is not above %s", parentLevel, dicom.ResourceLevel(res.Level))
	}
	for dicom.ResourceLevel(res.Level) > parentLevel {
		if res.ParentID == nil {
			return "", dicomerr.Wrap(dicomerr.ErrInternal, "resource %q has no parent", res.ID)
		}
		res, err = g.find(ctx, res.ParentID.String())
		if err != nil {
			return "", err
		}
	}
	return res.ID.String(), nil
}

// GetMainDicomTags returns the promoted tags of a resource at a level
func (g *GormIndex) GetMainDicomTags(ctx context.Context, id string, level dicom.ResourceLevel) (map[dicom.Tag]string, error) {
	if _, err := g.find(ctx, id); err != nil {
		return nil, err
	}
	var rows []models.ResourceTag
	if err := database.DB.WithContext(ctx).
		Where("resource_id = ?", id).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load main tags: %w", err)
	}

	out := make(map[dicom.Tag]string, len(rows))
	for _, row := range rows {
		tag, err := dicom.ParseTagKey(row.TagKey)
		if err != nil {
			continue
		}
		if dicom.IsMainTag(tag, level) {
			out[tag] = row.Value
		}
	}
	return out, nil
}

// GetAllUuids lists every resource id at a level
func (g *GormIndex) GetAllUuids(ctx context.Context, level dicom.ResourceLevel) ([]string, error) {
	var ids []string
	if err := database.DB.WithContext(ctx).
		Model(&models.Resource{}).
		Where("level = ?", int(level)).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return ids, nil
}

// GetResourceLevel returns the level of a known resource
func (g *GormIndex) GetResourceLevel(ctx context.Context, id string) (dicom.ResourceLevel, error) {
	res, err := g.find(ctx, id)
	if err != nil {
		return 0, err
	}
	return dicom.ResourceLevel(res.Level), nil
}

// GetInstanceFile returns the storage pointer of an instance
func (g *GormIndex) GetInstanceFile(ctx context.Context, id string) (InstanceFile, error) {
	res, err := g.find(ctx, id)
	if err != nil {
		return InstanceFile{}, err
	}
	if res.Level != int(dicom.LevelInstance) {
		return InstanceFile{}, dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "resource %q is not an instance", id)
	}
	return InstanceFile{
		FileUUID:       res.FileUUID,
		FileSize:       res.FileSize,
		TransferSyntax: dicom.TransferSyntax(res.TransferSyntax),
	}, nil
}

// StoreInstance indexes one received instance inside a single transaction
func (g *GormIndex) StoreInstance(ctx context.Context, record *InstanceRecord) (string, bool, error) {
	var instanceID string
	alreadyStored := false

	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Resource
		err := tx.Where("public_id = ? AND level = ?", record.SOPInstanceUID, int(dicom.LevelInstance)).
			First(&existing).Error
		if err == nil {
			instanceID = existing.ID.String()
			alreadyStored = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var parentID *uuid.UUID
		hierarchy := []struct {
			level    dicom.ResourceLevel
			publicID string
		}{
			{dicom.LevelPatient, record.PatientID},
			{dicom.LevelStudy, record.StudyInstanceUID},
			{dicom.LevelSeries, record.SeriesInstanceUID},
			{dicom.LevelInstance, record.SOPInstanceUID},
		}

		for _, node := range hierarchy {
			var res models.Resource
			err := tx.Where("public_id = ? AND level = ?", node.publicID, int(node.level)).
				First(&res).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				res = models.Resource{
					PublicID: node.publicID,
					Level:    int(node.level),
					ParentID: parentID,
				}
				if node.level == dicom.LevelInstance {
					res.FileUUID = record.File.FileUUID
					res.FileSize = record.File.FileSize
					res.TransferSyntax = string(record.File.TransferSyntax)
				}
				if err := tx.Create(&res).Error; err != nil {
					return err
				}
				for tag, value := range record.MainTags[node.level] {
					row := models.ResourceTag{
						ResourceID: res.ID,
						TagKey:     tag.Key(),
						Value:      value,
					}
					if err := tx.Create(&row).Error; err != nil {
						return err
					}
				}
			} else if err != nil {
				return err
			}
			id := res.ID
			parentID = &id
			if node.level == dicom.LevelInstance {
				instanceID = res.ID.String()
			}
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to index instance: %w", err)
	}
	return instanceID, alreadyStored, nil
}
