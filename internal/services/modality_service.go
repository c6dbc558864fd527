package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/internal/jobs/ops"
	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/internal/repository"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

// ModalityService handles business logic for remote modality management
type ModalityService struct {
	repo     *repository.ModalityRepository
	localAET string
	engine   *jobs.Engine
}

// NewModalityService creates a new modality service
func NewModalityService(repo *repository.ModalityRepository, localAET string, engine *jobs.Engine) *ModalityService {
	return &ModalityService{repo: repo, localAET: localAET, engine: engine}
}

// CreateModality registers a new remote modality
func (s *ModalityService) CreateModality(ctx context.Context, req *models.ModalityRequest) (*models.Modality, error) {
	if req.Name == "" || req.AETitle == "" || req.Host == "" {
		return nil, dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "name, AE title and host are required")
	}
	if req.Port <= 0 || req.Port > 65535 {
		return nil, dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "invalid port %d", req.Port)
	}

	modality := &models.Modality{
		Name:         req.Name,
		AETitle:      req.AETitle,
		Host:         req.Host,
		Port:         req.Port,
		Manufacturer: req.Manufacturer,
		AllowEcho:    true,
		AllowStore:   true,
		AllowFind:    true,
		AllowMove:    req.AllowMove,
		AllowGet:     req.AllowGet,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, modality); err != nil {
		return nil, err
	}
	return modality, nil
}

// GetModality returns one modality by id
func (s *ModalityService) GetModality(ctx context.Context, id uuid.UUID) (*models.Modality, error) {
	return s.repo.GetByID(ctx, id)
}

// ListModalities returns every registered modality
func (s *ModalityService) ListModalities(ctx context.Context) ([]models.Modality, error) {
	return s.repo.List(ctx)
}

// UpdateModality overwrites the connection settings of a modality
func (s *ModalityService) UpdateModality(ctx context.Context, id uuid.UUID, req *models.ModalityRequest) (*models.Modality, error) {
	modality, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	modality.Name = req.Name
	modality.AETitle = req.AETitle
	modality.Host = req.Host
	modality.Port = req.Port
	modality.Manufacturer = req.Manufacturer
	modality.AllowMove = req.AllowMove
	modality.AllowGet = req.AllowGet

	if err := s.repo.Update(ctx, modality); err != nil {
		return nil, err
	}
	return modality, nil
}

// DeleteModality removes a modality
func (s *ModalityService) DeleteModality(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// EchoModality runs a C-ECHO round trip against a modality and records
// the outcome
func (s *ModalityService) EchoModality(ctx context.Context, id uuid.UUID) (*models.EchoStatus, error) {
	modality, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &models.EchoStatus{LastChecked: time.Now()}

	start := time.Now()
	err = s.echo(ctx, modality)
	status.ResponseTime = time.Since(start).Milliseconds()
	if err != nil {
		status.ErrorMessage = err.Error()
		log.Warn().
			Str("component", "services").
			Str("modality", modality.Name).
			Err(err).
			Msg("C-ECHO failed")
	} else {
		status.IsReachable = true
	}

	if err := s.repo.UpdateEchoStatus(ctx, id, status); err != nil {
		return nil, err
	}
	return status, nil
}

// RetrieveFromModality schedules a job asking a modality to C-MOVE the
// matches of a query to the target AET. The job id is returned so the
// caller can track the transfer.
func (s *ModalityService) RetrieveFromModality(ctx context.Context, id uuid.UUID,
	req *models.RetrieveRequest) (string, error) {

	modality, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !modality.AllowMove {
		return "", dicomerr.Wrap(dicomerr.ErrBadRequest, "modality %s does not allow retrieve", modality.Name)
	}

	if _, err := dicom.ParseResourceLevel(req.Level); err != nil {
		return "", dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "invalid retrieve level %q", req.Level)
	}
	for key := range req.Query {
		if _, err := dicom.ParseTagKey(key); err != nil {
			return "", dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "invalid query tag %q", key)
		}
	}

	target := req.TargetAET
	if target == "" {
		target = s.localAET
	}

	params := dimse.NewAssociationParameters(s.localAET, modality.AETitle, modality.Host, uint16(modality.Port))
	job := ops.NewRetrieveJob(params, target, []ops.RetrieveQuery{{Level: req.Level, Tags: req.Query}})

	log.Info().
		Str("component", "services").
		Str("modality", modality.Name).
		Str("target_aet", target).
		Str("level", req.Level).
		Msg("Scheduling retrieve from modality")
	return s.engine.Submit(job, req.Priority), nil
}

func (s *ModalityService) echo(ctx context.Context, modality *models.Modality) error {
	params := dimse.NewAssociationParameters(s.localAET, modality.AETitle, modality.Host, uint16(modality.Port))

	association := dimse.NewAssociation(params)
	if !association.ProposeContext(dicom.VerificationSOPClass, []dicom.TransferSyntax{
		dicom.ImplicitVRLittleEndian, dicom.ExplicitVRLittleEndian,
	}) {
		return dicomerr.Wrap(dicomerr.ErrInternal, "cannot propose verification context")
	}

	if err := association.Open(ctx); err != nil {
		return err
	}
	defer association.Close()

	return association.CEcho(ctx)
}
