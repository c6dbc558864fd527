package jobs

import (
	"time"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// JobInfo is the external snapshot of one job
type JobInfo struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	State           JobState               `json:"state"`
	Priority        int                    `json:"priority"`
	Progress        float64                `json:"progress"`
	ErrorCode       dicomerr.Code          `json:"error_code"`
	ErrorDetails    string                 `json:"error_details,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	LastStateChange time.Time              `json:"last_state_change"`
	Runtime         time.Duration          `json:"runtime_ms"`
	Content         map[string]interface{} `json:"content,omitempty"`
	ETA             *time.Time             `json:"eta,omitempty"`
}

// Statistics counts jobs per terminal bucket
type Statistics struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

// GetJobInfo returns a consistent snapshot of one job. Running jobs with
// measurable progress carry an ETA extrapolated from the elapsed runtime.
func (e *Engine) GetJobInfo(id string) (JobInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, err := e.lookup(id)
	if err != nil {
		return JobInfo{}, err
	}

	info := JobInfo{
		ID:              h.id,
		Type:            h.job.Type(),
		State:           h.state,
		Priority:        h.priority,
		Progress:        h.job.Progress(),
		ErrorCode:       h.errCode,
		ErrorDetails:    h.errMessage,
		CreatedAt:       h.createdAt,
		LastStateChange: h.lastStateChange,
		Runtime:         h.runtime,
		Content:         h.job.PublicContent(),
	}
	if h.state == StateSuccess {
		info.Progress = 1
	}
	if h.state == StateRunning && info.Progress > 0.01 {
		eta := time.Now().Add(time.Duration((1 - info.Progress) * float64(h.runtime)))
		info.ETA = &eta
	}
	return info, nil
}

// GetStatistics counts the jobs per state. Paused and retrying jobs are
// folded into the pending count: both are parked waiting for their next
// run, not executing.
func (e *Engine) GetStatistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stats Statistics
	for _, h := range e.jobs {
		switch h.state {
		case StatePending, StateRetry, StatePaused:
			stats.Pending++
		case StateRunning:
			stats.Running++
		case StateSuccess:
			stats.Success++
		case StateFailure:
			stats.Errors++
		}
	}
	return stats
}
