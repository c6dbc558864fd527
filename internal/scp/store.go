package scp

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/cache"
	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/internal/storage"
	"github.com/otcheredev/dicom-store/pkg/dicom"
)

// StoreSCP is the C-STORE ingest path: parse, persist, index
type StoreSCP struct {
	index  index.Index
	area   storage.Area
	reader *cache.InstanceJSONReader
}

// NewStoreSCP wires the ingest path. reader may be nil when no cache
// invalidation is wanted.
func NewStoreSCP(idx index.Index, area storage.Area, reader *cache.InstanceJSONReader) *StoreSCP {
	return &StoreSCP{index: idx, area: area, reader: reader}
}

// Store ingests one instance received over the wire or over REST. The
// payload is the dataset encoded in the given transfer syntax.
func (s *StoreSCP) Store(ctx context.Context, payload []byte, syntax dicom.TransferSyntax) (*models.StoreResult, error) {
	dataset, err := dicom.Parse(payload, syntax)
	if err != nil {
		return nil, err
	}

	sopClassUID, err := dataset.SOPClassUID()
	if err != nil {
		return nil, err
	}
	sopInstanceUID, err := dataset.SOPInstanceUID()
	if err != nil {
		return nil, err
	}

	record := &index.InstanceRecord{
		PatientID:         dataset.GetString(dicom.TagPatientID),
		StudyInstanceUID:  dataset.GetString(dicom.TagStudyInstanceUID),
		SeriesInstanceUID: dataset.GetString(dicom.TagSeriesInstanceUID),
		SOPInstanceUID:    sopInstanceUID,
		MainTags:          make(map[dicom.ResourceLevel]map[dicom.Tag]string),
		File: index.InstanceFile{
			FileUUID:       uuid.NewString(),
			FileSize:       int64(len(payload)),
			TransferSyntax: syntax,
		},
	}
	for level := dicom.LevelPatient; level <= dicom.LevelInstance; level++ {
		record.MainTags[level] = dicom.ExtractMainTags(dataset, level)
	}

	if err := s.area.Create(ctx, record.File.FileUUID, payload); err != nil {
		return nil, err
	}

	instanceID, alreadyStored, err := s.index.StoreInstance(ctx, record)
	if err != nil {
		// Do not leak the attachment when indexing fails.
		_ = s.area.Remove(ctx, record.File.FileUUID)
		return nil, err
	}
	if alreadyStored {
		_ = s.area.Remove(ctx, record.File.FileUUID)
		if existing, err := s.index.GetInstanceFile(ctx, instanceID); err == nil {
			record.File = existing
		}
	} else if s.reader != nil {
		s.reader.Invalidate(ctx, instanceID)
	}

	log.Info().
		Str("component", "store-scp").
		Str("sop_instance", sopInstanceUID).
		Str("sop_class", sopClassUID).
		Str("instance", instanceID).
		Bool("already_stored", alreadyStored).
		Msg("Instance ingested")

	return &models.StoreResult{
		InstanceID:        instanceID,
		SOPInstanceUID:    sopInstanceUID,
		SOPClassUID:       sopClassUID,
		StudyInstanceUID:  record.StudyInstanceUID,
		SeriesInstanceUID: record.SeriesInstanceUID,
		FileUUID:          record.File.FileUUID,
		FileSize:          record.File.FileSize,
		AlreadyStored:     alreadyStored,
	}, nil
}
