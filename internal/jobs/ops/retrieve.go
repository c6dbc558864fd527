package ops

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

// RetrieveJobType tags serialized retrieve jobs
const RetrieveJobType = "DicomRetrieve"

// retrieveProposedSyntaxes is what the retrieve SCU offers for the query
// model context.
var retrieveProposedSyntaxes = []dicom.TransferSyntax{
	dicom.ExplicitVRLittleEndian,
	dicom.ImplicitVRLittleEndian,
}

// RetrieveQuery is one C-MOVE query issued against the remote modality.
// Tags are keyed by the 8-hex-digit form of the tag.
type RetrieveQuery struct {
	Level string
	Tags  map[string]string
}

// RetrieveJob drives a remote modality to send resources to a target AET
// (usually this server) through C-MOVE, one query per step.
type RetrieveJob struct {
	Params    dimse.AssociationParameters
	TargetAET string
	Queries   []RetrieveQuery
	Position  int

	Completed uint16
	Failed    uint16
	Warning   uint16

	association *dimse.Association
}

// NewRetrieveJob creates a job moving the matches of queries from the
// modality described by params to targetAET.
func NewRetrieveJob(params dimse.AssociationParameters, targetAET string,
	queries []RetrieveQuery) *RetrieveJob {
	return &RetrieveJob{Params: params, TargetAET: targetAET, Queries: queries}
}

// Step issues the next C-MOVE query and folds its final counters into the
// job totals.
func (j *RetrieveJob) Step(ctx context.Context) jobs.StepResult {
	if j.Position >= len(j.Queries) {
		return jobs.Success()
	}

	err := j.runQuery(ctx, j.Queries[j.Position])
	j.Position++
	if err != nil {
		return jobs.Failure(err)
	}
	if j.Position >= len(j.Queries) {
		return jobs.Success()
	}
	return jobs.Continue()
}

func (j *RetrieveJob) runQuery(ctx context.Context, query RetrieveQuery) error {
	contextID, syntax, err := j.ensureAssociation(ctx)
	if err != nil {
		return err
	}

	identifier, err := buildRetrieveIdentifier(query, syntax)
	if err != nil {
		return err
	}

	final, err := j.association.CMove(ctx, contextID, dicom.StudyRootQueryRetrieveInformationModelMove,
		j.TargetAET, dimse.PriorityMedium, identifier, func(p dimse.CMoveProgress) {
			log.Debug().
				Str("component", "jobs").
				Str("remote_aet", j.Params.RemoteAET).
				Uint16("remaining", p.Remaining).
				Msg("C-MOVE query in progress")
		})
	if err != nil {
		return err
	}

	j.Completed += counterOrZero(final.NumberOfCompletedSuboperations)
	j.Failed += counterOrZero(final.NumberOfFailedSuboperations)
	j.Warning += counterOrZero(final.NumberOfWarningSuboperations)

	if final.Status != dimse.StatusSuccess && !dimse.IsWarningStatus(final.Status) {
		return &dicomerr.DimseStatusError{Operation: "C-MOVE", Status: final.Status}
	}
	return nil
}

// ensureAssociation opens the association on the first query and reuses
// it for the following ones.
func (j *RetrieveJob) ensureAssociation(ctx context.Context) (byte, dicom.TransferSyntax, error) {
	if j.association == nil {
		a := dimse.NewAssociation(j.Params)
		a.ProposeContext(dicom.StudyRootQueryRetrieveInformationModelMove, retrieveProposedSyntaxes)
		if err := a.Open(ctx); err != nil {
			return 0, "", err
		}
		j.association = a
	}

	accepted := j.association.LookupAccepted(dicom.StudyRootQueryRetrieveInformationModelMove)
	for _, syntax := range retrieveProposedSyntaxes {
		if id, ok := accepted[syntax]; ok {
			return id, syntax, nil
		}
	}
	return 0, "", dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
		"%s did not accept the study root move model", j.Params.RemoteAET)
}

func buildRetrieveIdentifier(query RetrieveQuery, syntax dicom.TransferSyntax) ([]byte, error) {
	if query.Level == "" {
		return nil, dicomerr.Wrap(dicomerr.ErrBadRequest, "retrieve query without a level")
	}
	dataset := dicom.NewDataSet(syntax)
	dataset.SetString(dicom.TagQueryRetrieveLevel, dicom.VR_CS, query.Level)
	for key, value := range query.Tags {
		tag, err := dicom.ParseTagKey(key)
		if err != nil {
			return nil, dicomerr.Wrap(dicomerr.ErrBadRequest, "retrieve query tag %q: %v", key, err)
		}
		dataset.SetString(tag, dicom.DetermineVR(tag), value)
	}
	return dataset.Encode()
}

func counterOrZero(v *uint16) uint16 {
	if v == nil {
		return 0
	}
	return *v
}

// Reset rewinds the job for a re-run
func (j *RetrieveJob) Reset() {
	j.Position = 0
	j.Completed = 0
	j.Failed = 0
	j.Warning = 0
}

// Stop releases the association
func (j *RetrieveJob) Stop(reason jobs.StopReason) {
	if j.association != nil {
		if err := j.association.Close(); err != nil {
			log.Warn().
				Str("component", "jobs").
				Str("remote_aet", j.Params.RemoteAET).
				Err(err).
				Msg("Failed to release retrieve association")
		}
		j.association = nil
	}
}

// Type returns the job type discriminator
func (j *RetrieveJob) Type() string {
	return RetrieveJobType
}

// Progress reports the fraction of issued queries
func (j *RetrieveJob) Progress() float64 {
	if len(j.Queries) == 0 {
		return 1
	}
	return float64(j.Position) / float64(len(j.Queries))
}

// PublicContent describes the transfer
func (j *RetrieveJob) PublicContent() map[string]interface{} {
	return map[string]interface{}{
		"LocalAet":   j.Params.LocalAET,
		"RemoteAet":  j.Params.RemoteAET,
		"TargetAet":  j.TargetAET,
		"QueryCount": len(j.Queries),
		"Completed":  j.Completed,
		"Failed":     j.Failed,
		"Warning":    j.Warning,
	}
}

// Serialize returns the restartable payload
func (j *RetrieveJob) Serialize() (map[string]interface{}, bool) {
	queries := make([]interface{}, 0, len(j.Queries))
	for _, q := range j.Queries {
		queries = append(queries, map[string]interface{}{
			"Level": q.Level,
			"Tags":  q.Tags,
		})
	}
	return map[string]interface{}{
		"LocalAet":   j.Params.LocalAET,
		"RemoteAet":  j.Params.RemoteAET,
		"RemoteHost": j.Params.RemoteHost,
		"RemotePort": float64(j.Params.RemotePort),
		"Timeout":    float64(j.Params.Timeout),
		"TargetAet":  j.TargetAET,
		"Position":   float64(j.Position),
		"Queries":    queries,
	}, true
}
