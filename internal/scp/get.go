package scp

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/jobs/ops"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

// SubOperationSender issues C-STORE sub-operations back over the
// association that carried the C-GET request.
type SubOperationSender interface {
	// ContextFor returns an accepted storage presentation context for
	// the SOP class, honouring the preference order when several were
	// negotiated.
	ContextFor(sopClassUID string, preferred []dicom.TransferSyntax) (contextID byte, syntax dicom.TransferSyntax, ok bool)

	// Store sends one sub-operation and waits for the peer's status.
	Store(ctx context.Context, contextID byte, sopClassUID, sopInstanceUID string, payload []byte) (uint16, error)
}

// GetSCP serves C-GET by streaming the matching instances back over the
// requesting association.
type GetSCP struct {
	index            index.Index
	reader           *ops.InstanceReader
	transcoder       *transcode.Transcoder
	allowTranscoding bool
}

// NewGetSCP creates the C-GET driver. When allowTranscoding is false,
// instances whose stored transfer syntax was not negotiated are reported
// as failed sub-operations instead of being converted.
func NewGetSCP(idx index.Index, reader *ops.InstanceReader, transcoder *transcode.Transcoder,
	allowTranscoding bool) *GetSCP {
	return &GetSCP{index: idx, reader: reader, transcoder: transcoder, allowTranscoding: allowTranscoding}
}

// Get handles one C-GET request. progress is invoked between
// sub-operations to emit pending responses; it may be nil.
func (s *GetSCP) Get(ctx context.Context, sender SubOperationSender, query *dicom.DataSet,
	progress func(MoveProgress) error) (*MoveResult, error) {

	// C-GET peers negotiated the query model explicitly; a missing level
	// is a protocol error, never guessed around.
	instances, err := resolveRetrieve(ctx, s.index, query, false)
	if err != nil {
		return nil, err
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
		s.sendInstance(ctx, sender, instanceID, result)
	}

	if result.Failed > 0 {
		result.Status = dimse.StatusWarningSubOperations
	} else {
		result.Status = dimse.StatusSuccess
	}
	return result, nil
}

func (s *GetSCP) sendInstance(ctx context.Context, sender SubOperationSender, instanceID string,
	result *MoveResult) {

	dataset, err := s.reader.ReadInstance(ctx, instanceID)
	if err != nil {
		log.Warn().
			Str("component", "scp").
			Str("instance", instanceID).
			Err(err).
			Msg("C-GET sub-operation cannot read the instance")
		result.Failed++
		result.FailedUIDs = append(result.FailedUIDs, wireSOPInstanceUID(ctx, s.index, instanceID))
		return
	}
	sopInstanceUID := dataset.GetString(dicom.TagSOPInstanceUID)
	sopClassUID := dataset.GetString(dicom.TagSOPClassUID)

	// The source syntax avoids any conversion; when transcoding is
	// allowed, the uncompressed family is an acceptable fallback.
	preferred := []dicom.TransferSyntax{dataset.TransferSyntax}
	if s.allowTranscoding {
		preferred = append(preferred,
			dicom.ImplicitVRLittleEndian,
			dicom.ExplicitVRLittleEndian,
			dicom.ExplicitVRBigEndian)
	}

	contextID, syntax, ok := sender.ContextFor(sopClassUID, preferred)
	if !ok {
		result.Failed++
		result.FailedUIDs = append(result.FailedUIDs, sopInstanceUID)
		return
	}

	if dataset.TransferSyntax != syntax {
		if !s.allowTranscoding {
			result.Failed++
			result.FailedUIDs = append(result.FailedUIDs, sopInstanceUID)
			return
		}
		// Sub-operations keep the original SOP instance UID: the peer
		// asked for this exact instance.
		transcoded, reachable, err := s.transcoder.Transcode(dataset,
			map[dicom.TransferSyntax]bool{syntax: true}, false)
		if err != nil || !reachable {
			log.Warn().
				Str("component", "scp").
				Str("instance", instanceID).
				Str("target", string(syntax)).
				Err(err).
				Msg("C-GET sub-operation cannot be transcoded")
			result.Failed++
			result.FailedUIDs = append(result.FailedUIDs, sopInstanceUID)
			return
		}
		dataset = transcoded
	}

	payload, err := dataset.Encode()
	if err != nil {
		result.Failed++
		result.FailedUIDs = append(result.FailedUIDs, sopInstanceUID)
		return
	}

	status, err := sender.Store(ctx, contextID, sopClassUID, sopInstanceUID, payload)
	switch {
	case err != nil:
		result.Failed++
		result.FailedUIDs = append(result.FailedUIDs, sopInstanceUID)
	case status == dimse.StatusSuccess:
		result.Completed++
	case dimse.IsWarningStatus(status):
		result.Warning++
	default:
		result.Failed++
		result.FailedUIDs = append(result.FailedUIDs, sopInstanceUID)
	}
}
