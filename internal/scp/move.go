package scp

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/internal/jobs/ops"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

// movePriority maps the DIMSE priority field onto the job engine scale.
var movePriority = map[uint16]int{
	dimse.PriorityLow:    0,
	dimse.PriorityMedium: 5,
	dimse.PriorityHigh:   10,
}

// MoveProgress is one pending C-MOVE response worth of sub-operation
// counters.
type MoveProgress struct {
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
}

// MoveResult is the final C-MOVE response.
type MoveResult struct {
	Status     uint16
	Completed  uint16
	Failed     uint16
	Warning    uint16
	FailedUIDs []string
}

// MoveSCP forwards stored instances to a configured destination modality.
// Synchronous moves drive the sub-operations inline and stream pending
// responses; asynchronous moves submit a store job and answer at once.
type MoveSCP struct {
	index       index.Index
	resolver    ModalityResolver
	reader      *ops.InstanceReader
	transcoder  *transcode.Transcoder
	engine      *jobs.Engine
	localAET    string
	synchronous bool
}

// NewMoveSCP creates the C-MOVE driver.
func NewMoveSCP(idx index.Index, resolver ModalityResolver, reader *ops.InstanceReader,
	transcoder *transcode.Transcoder, engine *jobs.Engine, localAET string, synchronous bool) *MoveSCP {
	return &MoveSCP{
		index:       idx,
		resolver:    resolver,
		reader:      reader,
		transcoder:  transcoder,
		engine:      engine,
		localAET:    localAET,
		synchronous: synchronous,
	}
}

// Move handles one C-MOVE request. callingAET and messageID identify the
// originator so the destination can tie the incoming C-STOREs back to
// the move. progress is invoked between sub-operations to emit pending
// responses; it may be nil.
func (s *MoveSCP) Move(ctx context.Context, callingAET string, messageID uint16, priority uint16,
	destination string, query *dicom.DataSet, progress func(MoveProgress) error) (*MoveResult, error) {

	modality, err := s.resolver.ResolveAET(ctx, destination)
	if err != nil {
		if IsUnknownModality(err) {
			log.Warn().
				Str("component", "scp").
				Str("destination", destination).
				Msg("C-MOVE to an unknown destination")
			return &MoveResult{Status: dimse.StatusMoveDestinationUnknown}, nil
		}
		return nil, err
	}

	instances, err := resolveRetrieve(ctx, s.index, query, true)
	if err != nil {
		return nil, err
	}

	params := dimse.NewAssociationParameters(s.localAET, modality.AETitle, modality.Host, uint16(modality.Port))
	params.RemoteManufacturer = modality.Manufacturer

	if s.synchronous {
		return s.moveSynchronously(ctx, params, callingAET, messageID, instances, progress)
	}

	job := ops.NewModalityStoreJob(params, instances, s.reader, s.transcoder, true)
	job.SetMoveOriginator(callingAET, messageID)
	jobID := s.engine.Submit(job, movePriority[priority])

	log.Info().
		Str("component", "scp").
		Str("job_id", jobID).
		Str("destination", destination).
		Int("instances", len(instances)).
		Msg("C-MOVE submitted as a store job")

	// In asynchronous mode the sub-operations have not run yet; the move
	// is acknowledged without counters.
	return &MoveResult{Status: dimse.StatusSuccess}, nil
}

func (s *MoveSCP) moveSynchronously(ctx context.Context, params dimse.AssociationParameters,
	callingAET string, messageID uint16, instances []string,
	progress func(MoveProgress) error) (*MoveResult, error) {

	connection := dimse.NewStoreUserConnection(params)
	defer connection.Close()

	opts := dimse.CStoreOptions{
		MoveOriginatorAET:       callingAET,
		MoveOriginatorMessageID: messageID,
	}

	result := &MoveResult{}
	for i, instanceID := range instances {
		if progress != nil {
			if err := progress(MoveProgress{
				Remaining: uint16(len(instances) - i),
				Completed: result.Completed,
				Failed:    result.Failed,
				Warning:   result.Warning,
			}); err != nil {
				return nil, err
			}
		}

		dataset, err := s.reader.ReadInstance(ctx, instanceID)
		if err != nil {
			result.Failed++
			result.FailedUIDs = append(result.FailedUIDs, wireSOPInstanceUID(ctx, s.index, instanceID))
			continue
		}
		// The failed-UID list must carry the SOP instance UID even when the
		// store never got far enough to report one.
		sopInstanceUID := dataset.GetString(dicom.TagSOPInstanceUID)
		if _, _, err := connection.Store(ctx, s.transcoder, dataset, opts); err != nil {
			log.Warn().
				Str("component", "scp").
				Str("instance", instanceID).
				Err(err).
				Msg("C-MOVE sub-operation failed")
			result.Failed++
			result.FailedUIDs = append(result.FailedUIDs, sopInstanceUID)
		} else {
			result.Completed++
		}
	}

	if result.Failed > 0 {
		result.Status = dimse.StatusWarningSubOperations
	} else {
		result.Status = dimse.StatusSuccess
	}
	return result, nil
}

// FailedUIDsDataset builds the data set attached to a final retrieve
// response that reports failed sub-operations.
func FailedUIDsDataset(failedUIDs []string) *dicom.DataSet {
	dataset := dicom.NewDataSet(dicom.ExplicitVRLittleEndian)
	dataset.SetString(dicom.TagFailedSOPInstanceUIDList, dicom.VR_UI, strings.Join(failedUIDs, "\\"))
	return dataset
}
