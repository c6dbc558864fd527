package jobs

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// SerializedJob is the persisted form of one job. Running and retry jobs
// are stored as pending so that a restart requeues them.
type SerializedJob struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	State           JobState               `json:"state"`
	Priority        int                    `json:"priority"`
	Progress        float64                `json:"progress"`
	ErrorCode       dicomerr.Code          `json:"error_code,omitempty"`
	RuntimeMillis   int64                  `json:"runtime_ms"`
	CreatedAt       time.Time              `json:"created_at"`
	LastStateChange time.Time              `json:"last_state_change"`
	Content         map[string]interface{} `json:"content,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
}

// SerializedRegistry is the whole persisted jobs index
type SerializedRegistry struct {
	Jobs []SerializedJob `json:"jobs"`
}

// Unserializer re-instantiates a job from its type tag and payload
type Unserializer interface {
	Unserialize(jobType string, payload map[string]interface{}) (Job, error)
}

// Serialize snapshots every serializable job, ordered by submission.
// Jobs whose Serialize returns false are dropped from the snapshot.
func (e *Engine) Serialize() ([]byte, error) {
	e.mu.Lock()

	handlers := make([]*handler, 0, len(e.jobs))
	for _, h := range e.jobs {
		handlers = append(handlers, h)
	}
	sort.Slice(handlers, func(i, j int) bool {
		return handlers[i].seq < handlers[j].seq
	})

	registry := SerializedRegistry{Jobs: []SerializedJob{}}
	for _, h := range handlers {
		payload, ok := h.job.Serialize()
		if !ok {
			continue
		}

		state := h.state
		switch state {
		case StateRunning, StateRetry:
			state = StatePending
		}

		registry.Jobs = append(registry.Jobs, SerializedJob{
			ID:              h.id,
			Type:            h.job.Type(),
			State:           state,
			Priority:        h.priority,
			Progress:        h.job.Progress(),
			ErrorCode:       h.errCode,
			RuntimeMillis:   h.runtime.Milliseconds(),
			CreatedAt:       h.createdAt.UTC(),
			LastStateChange: h.lastStateChange.UTC(),
			Content:         h.job.PublicContent(),
			Payload:         payload,
		})
	}
	e.mu.Unlock()

	return json.Marshal(&registry)
}

// Restore reloads a serialized registry before Start. Pending and paused
// jobs resume scheduling; completed jobs land in the completed ring.
func (e *Engine) Restore(data []byte, unserializer Unserializer) error {
	var registry SerializedRegistry
	if err := json.Unmarshal(data, &registry); err != nil {
		return dicomerr.Wrap(dicomerr.ErrBadFileFormat, "malformed jobs registry")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "cannot restore into a started engine")
	}

	for _, serialized := range registry.Jobs {
		job, err := unserializer.Unserialize(serialized.Type, serialized.Payload)
		if err != nil {
			log.Warn().
				Str("component", "jobs").
				Str("job", serialized.ID).
				Str("type", serialized.Type).
				Err(err).
				Msg("Dropping unrestorable job")
			continue
		}

		h := &handler{
			id:              serialized.ID,
			job:             job,
			priority:        serialized.Priority,
			seq:             e.seq,
			state:           serialized.State,
			createdAt:       serialized.CreatedAt,
			lastStateChange: serialized.LastStateChange,
			runtime:         time.Duration(serialized.RuntimeMillis) * time.Millisecond,
			errCode:         serialized.ErrorCode,
			queueIndex:      -1,
		}
		e.seq++
		e.jobs[h.id] = h

		switch serialized.State {
		case StateSuccess, StateFailure:
			e.completed = append(e.completed, h)
		case StatePaused:
			// stays parked until an explicit resume
		default:
			h.state = StatePending
			e.pending.push(h)
		}
	}
	return nil
}
