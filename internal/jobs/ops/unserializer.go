package ops

import (
	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

// JobUnserializer rebuilds the concrete jobs of this package from their
// serialized payloads.
type JobUnserializer struct {
	reader     *InstanceReader
	transcoder *transcode.Transcoder
}

// NewJobUnserializer wires the collaborators restored jobs need
func NewJobUnserializer(reader *InstanceReader, transcoder *transcode.Transcoder) *JobUnserializer {
	return &JobUnserializer{reader: reader, transcoder: transcoder}
}

// Unserialize restores a job from its type tag and payload
func (u *JobUnserializer) Unserialize(jobType string, payload map[string]interface{}) (jobs.Job, error) {
	switch jobType {
	case ModalityStoreJobType:
		return u.unserializeModalityStore(payload)
	case RetrieveJobType:
		return u.unserializeRetrieve(payload)
	default:
		return nil, dicomerr.Wrap(dicomerr.ErrNotImplemented, "unknown job type %q", jobType)
	}
}

func (u *JobUnserializer) unserializeModalityStore(payload map[string]interface{}) (jobs.Job, error) {
	params := dimse.NewAssociationParameters(
		asString(payload, "LocalAet"),
		asString(payload, "RemoteAet"),
		asString(payload, "RemoteHost"),
		uint16(asInt(payload, "RemotePort")),
	)
	params.Timeout = uint32(asInt(payload, "Timeout"))

	j := NewModalityStoreJob(params, asStrings(payload, "Instances"),
		u.reader, u.transcoder, asBool(payload, "Permissive"))
	j.Position = asInt(payload, "Position")
	j.Failed = asStrings(payload, "Failed")
	if aet := asString(payload, "MoveOriginator"); aet != "" {
		j.SetMoveOriginator(aet, uint16(asInt(payload, "MoveOriginatorID")))
	}

	if j.Position < 0 || j.Position > len(j.Instances) {
		return nil, dicomerr.Wrap(dicomerr.ErrBadFileFormat, "job position outside instance list")
	}
	return j, nil
}

func (u *JobUnserializer) unserializeRetrieve(payload map[string]interface{}) (jobs.Job, error) {
	params := dimse.NewAssociationParameters(
		asString(payload, "LocalAet"),
		asString(payload, "RemoteAet"),
		asString(payload, "RemoteHost"),
		uint16(asInt(payload, "RemotePort")),
	)
	params.Timeout = uint32(asInt(payload, "Timeout"))

	j := NewRetrieveJob(params, asString(payload, "TargetAet"), asQueries(payload, "Queries"))
	j.Position = asInt(payload, "Position")

	if j.Position < 0 || j.Position > len(j.Queries) {
		return nil, dicomerr.Wrap(dicomerr.ErrBadFileFormat, "job position outside query list")
	}
	return j, nil
}

func asString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func asInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func asBool(payload map[string]interface{}, key string) bool {
	b, _ := payload[key].(bool)
	return b
}

func asQueries(payload map[string]interface{}, key string) []RetrieveQuery {
	items, _ := payload[key].([]interface{})
	out := make([]RetrieveQuery, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		query := RetrieveQuery{Level: asString(entry, "Level"), Tags: map[string]string{}}
		switch tags := entry["Tags"].(type) {
		case map[string]string:
			query.Tags = tags
		case map[string]interface{}:
			for k, v := range tags {
				if s, ok := v.(string); ok {
					query.Tags[k] = s
				}
			}
		}
		out = append(out, query)
	}
	return out
}

func asStrings(payload map[string]interface{}, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
