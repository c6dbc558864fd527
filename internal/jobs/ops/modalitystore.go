package ops

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

// ModalityStoreJobType tags serialized modality store jobs
const ModalityStoreJobType = "DicomModalityStore"

const (
	maxStoreRetries   = 3
	storeRetryBackoff = 10 * time.Second
)

// ModalityStoreJob sends a set of stored instances to a remote modality
// over C-STORE, one instance per step.
type ModalityStoreJob struct {
	SetOfInstancesJob

	Params                  dimse.AssociationParameters
	MoveOriginatorAET       string
	MoveOriginatorMessageID uint16

	reader     *InstanceReader
	transcoder *transcode.Transcoder
	connection *dimse.StoreUserConnection
	retryCount int
}

// NewModalityStoreJob creates a job sending instances to the modality
// described by params.
func NewModalityStoreJob(params dimse.AssociationParameters, instances []string,
	reader *InstanceReader, transcoder *transcode.Transcoder, permissive bool) *ModalityStoreJob {

	j := &ModalityStoreJob{
		Params:     params,
		reader:     reader,
		transcoder: transcoder,
	}
	j.Instances = instances
	j.Permissive = permissive
	return j
}

// SetMoveOriginator tags the sub-operations with the C-MOVE originator
func (j *ModalityStoreJob) SetMoveOriginator(aet string, messageID uint16) {
	j.MoveOriginatorAET = aet
	j.MoveOriginatorMessageID = messageID
}

func (j *ModalityStoreJob) storeInstance(ctx context.Context, instanceID string) error {
	if j.connection == nil {
		j.connection = dimse.NewStoreUserConnection(j.Params)
	}

	dataset, err := j.reader.ReadInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	opts := dimse.CStoreOptions{
		MoveOriginatorAET:       j.MoveOriginatorAET,
		MoveOriginatorMessageID: j.MoveOriginatorMessageID,
	}
	_, _, err = j.connection.Store(ctx, j.transcoder, dataset, opts)
	return err
}

// Step sends the next instance. A timed-out transfer is retried with
// back-off instead of advancing past the instance.
func (j *ModalityStoreJob) Step(ctx context.Context) jobs.StepResult {
	if j.process == nil {
		j.process = j.storeInstance
	}

	result := j.SetOfInstancesJob.Step(ctx)

	if result.Kind == jobs.StepFailure && errors.Is(result.Err, dicomerr.ErrTimeout) &&
		j.retryCount < maxStoreRetries {
		// Rewind the bookkeeping so the same instance is attempted again.
		j.Position--
		j.Failed = j.Failed[:len(j.Failed)-1]
		j.retryCount++

		log.Warn().
			Str("component", "jobs").
			Str("remote_aet", j.Params.RemoteAET).
			Int("attempt", j.retryCount).
			Msg("C-STORE timed out, scheduling retry")
		return jobs.Retry(time.Duration(j.retryCount) * storeRetryBackoff)
	}
	return result
}

// Reset rewinds the job for a re-run
func (j *ModalityStoreJob) Reset() {
	j.SetOfInstancesJob.Reset()
	j.retryCount = 0
}

// Stop releases the association
func (j *ModalityStoreJob) Stop(reason jobs.StopReason) {
	if j.connection != nil {
		if err := j.connection.Close(); err != nil {
			log.Warn().
				Str("component", "jobs").
				Str("remote_aet", j.Params.RemoteAET).
				Err(err).
				Msg("Failed to release store association")
		}
		j.connection = nil
	}
}

// Type returns the job type discriminator
func (j *ModalityStoreJob) Type() string {
	return ModalityStoreJobType
}

// PublicContent describes the transfer
func (j *ModalityStoreJob) PublicContent() map[string]interface{} {
	content := map[string]interface{}{
		"LocalAet":        j.Params.LocalAET,
		"RemoteAet":       j.Params.RemoteAET,
		"InstancesCount":  len(j.Instances),
		"FailedInstances": j.Failed,
	}
	if j.MoveOriginatorAET != "" {
		content["MoveOriginatorAET"] = j.MoveOriginatorAET
		content["MoveOriginatorID"] = j.MoveOriginatorMessageID
	}
	return content
}

// Serialize returns the restartable payload
func (j *ModalityStoreJob) Serialize() (map[string]interface{}, bool) {
	return map[string]interface{}{
		"LocalAet":         j.Params.LocalAET,
		"RemoteAet":        j.Params.RemoteAET,
		"RemoteHost":       j.Params.RemoteHost,
		"RemotePort":       float64(j.Params.RemotePort),
		"Timeout":          float64(j.Params.Timeout),
		"Instances":        j.Instances,
		"Position":         float64(j.Position),
		"Failed":           j.Failed,
		"Permissive":       j.Permissive,
		"MoveOriginator":   j.MoveOriginatorAET,
		"MoveOriginatorID": float64(j.MoveOriginatorMessageID),
	}, true
}
