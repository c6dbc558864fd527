package storage

import (
	"context"
	"sync"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// MemoryArea keeps attachments in process memory, for tests
type MemoryArea struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryArea creates an empty in-memory storage area
func NewMemoryArea() *MemoryArea {
	return &MemoryArea{files: make(map[string][]byte)}
}

// Create writes a new attachment
func (m *MemoryArea) Create(ctx context.Context, uuid string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[uuid]; ok {
		return dicomerr.Wrap(dicomerr.ErrInternal, "attachment %q already exists", uuid)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[uuid] = buf
	return nil
}

// Read returns the whole attachment
func (m *MemoryArea) Read(ctx context.Context, uuid string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[uuid]
	if !ok {
		return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown attachment %q", uuid)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ReadRange returns size bytes starting at offset
func (m *MemoryArea) ReadRange(ctx context.Context, uuid string, offset, size int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[uuid]
	if !ok {
		return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown attachment %q", uuid)
	}
	if offset < 0 || size < 0 || offset+size > int64(len(data)) {
		return nil, dicomerr.Wrap(dicomerr.ErrParameterOutOfRange,
			"range %d+%d outside attachment %q", offset, size, uuid)
	}
	out := make([]byte, size)
	copy(out, data[offset:offset+size])
	return out, nil
}

// Remove deletes an attachment
func (m *MemoryArea) Remove(ctx context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, uuid)
	return nil
}

// Size returns the number of stored attachments
func (m *MemoryArea) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
