package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/storage"
	"github.com/otcheredev/dicom-store/pkg/dicom"
)

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
}

// InstanceJSONKey is the cache key of the tag serialization of an instance
func InstanceJSONKey(instanceID string) string {
	return "instance:" + instanceID + ":json"
}

const instanceJSONTTL = 1 * time.Hour

// InstanceJSONReader serves the per-instance tag serialization the finder
// needs for generic-tag filtering, fronting the storage area with the
// cache.
type InstanceJSONReader struct {
	cache Cache
	index index.Index
	area  storage.Area
}

// NewInstanceJSONReader builds the reader. cache may be nil to read
// through to storage every time.
func NewInstanceJSONReader(c Cache, idx index.Index, area storage.Area) *InstanceJSONReader {
	return &InstanceJSONReader{cache: c, index: idx, area: area}
}

// InstanceJSON returns the full tag map of one instance, keyed by the
// 8-hex-digit tag form.
func (r *InstanceJSONReader) InstanceJSON(ctx context.Context, instanceID string) (map[string]string, error) {
	key := InstanceJSONKey(instanceID)

	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, key); err == nil {
			var tags map[string]string
			if err := json.Unmarshal(cached, &tags); err == nil {
				return tags, nil
			}
		} else if !errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
	}

	file, err := r.index.GetInstanceFile(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	payload, err := r.area.Read(ctx, file.FileUUID)
	if err != nil {
		return nil, err
	}
	dataset, err := dicom.Parse(payload, file.TransferSyntax)
	if err != nil {
		return nil, err
	}
	tags := dataset.ToJSON()

	if r.cache != nil {
		if encoded, err := json.Marshal(tags); err == nil {
			_ = r.cache.Set(ctx, key, encoded, instanceJSONTTL)
		}
	}
	return tags, nil
}

// Invalidate drops the cached serialization of one instance
func (r *InstanceJSONReader) Invalidate(ctx context.Context, instanceID string) {
	if r.cache != nil {
		_ = r.cache.Delete(ctx, InstanceJSONKey(instanceID))
	}
}
