package ops

import (
	"context"
	"strings"

	"github.com/otcheredev/dicom-store/internal/jobs"
)

// SetOfInstancesJob is the shared machinery of jobs that walk a fixed
// list of instances, one per step. Embedders provide the per-instance
// work through process.
type SetOfInstancesJob struct {
	Instances  []string
	Position   int
	Failed     []string
	Permissive bool

	process func(ctx context.Context, instanceID string) error
}

// Step processes the next instance. In permissive mode a failing instance
// is recorded and the walk continues; otherwise it fails the job.
func (j *SetOfInstancesJob) Step(ctx context.Context) jobs.StepResult {
	if j.Position >= len(j.Instances) {
		return jobs.Success()
	}

	instanceID := j.Instances[j.Position]
	err := j.process(ctx, instanceID)
	j.Position++

	if err != nil {
		j.Failed = append(j.Failed, instanceID)
		if !j.Permissive {
			return jobs.Failure(err)
		}
	}

	if j.Position >= len(j.Instances) {
		return jobs.Success()
	}
	return jobs.Continue()
}

// Reset rewinds the walk for a re-run
func (j *SetOfInstancesJob) Reset() {
	j.Position = 0
	j.Failed = nil
}

// Progress reports the fraction of processed instances
func (j *SetOfInstancesJob) Progress() float64 {
	if len(j.Instances) == 0 {
		return 1
	}
	return float64(j.Position) / float64(len(j.Instances))
}

// FailedInstances returns the identifiers that could not be processed,
// backslash-joined as DICOM multi-values are.
func (j *SetOfInstancesJob) FailedInstances() string {
	return strings.Join(j.Failed, "\\")
}
