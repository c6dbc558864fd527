package scp

import (
	"context"
	"errors"

	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/internal/repository"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// ModalityResolver maps a C-MOVE destination AET to a configured remote
// modality.
type ModalityResolver interface {
	ResolveAET(ctx context.Context, aet string) (*models.Modality, error)
}

// RepositoryResolver resolves destinations from the modality table.
type RepositoryResolver struct {
	repo *repository.ModalityRepository
}

func NewRepositoryResolver(repo *repository.ModalityRepository) *RepositoryResolver {
	return &RepositoryResolver{repo: repo}
}

func (r *RepositoryResolver) ResolveAET(ctx context.Context, aet string) (*models.Modality, error) {
	return r.repo.GetByAET(ctx, aet)
}

// StaticResolver serves a fixed modality list, used when the server runs
// without a database.
type StaticResolver struct {
	modalities map[string]*models.Modality
}

func NewStaticResolver(modalities []*models.Modality) *StaticResolver {
	byAET := make(map[string]*models.Modality, len(modalities))
	for _, m := range modalities {
		byAET[m.AETitle] = m
	}
	return &StaticResolver{modalities: byAET}
}

func (r *StaticResolver) ResolveAET(_ context.Context, aet string) (*models.Modality, error) {
	m, ok := r.modalities[aet]
	if !ok {
		return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown modality %q", aet)
	}
	return m, nil
}

// IsUnknownModality tells a missing destination apart from other
// resolver failures.
func IsUnknownModality(err error) bool {
	return errors.Is(err, dicomerr.ErrUnknownResource)
}
