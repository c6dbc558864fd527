package index

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

type memoryResource struct {
	id       string
	publicID string
	level    dicom.ResourceLevel
	parent   string
	children []string
	tags     map[dicom.Tag]string
	file     InstanceFile
}

// MemoryIndex is an in-process Index used by tests and by deployments
// without a database.
type MemoryIndex struct {
	mu        sync.RWMutex
	resources map[string]*memoryResource
	// byPublicID maps level → DICOM identifier → resource id
	byPublicID map[dicom.ResourceLevel]map[string]string
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex() *MemoryIndex {
	idx := &MemoryIndex{
		resources:  make(map[string]*memoryResource),
		byPublicID: make(map[dicom.ResourceLevel]map[string]string),
	}
	for level := dicom.LevelPatient; level <= dicom.LevelInstance; level++ {
		idx.byPublicID[level] = make(map[string]string)
	}
	return idx
}

func (m *MemoryIndex) get(id string) (*memoryResource, error) {
	res, ok := m.resources[id]
	if !ok {
		return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown resource %q", id)
	}
	return res, nil
}

// ListChildren returns the ids of the direct children of a resource
func (m *MemoryIndex) ListChildren(ctx context.Context, parentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, err := m.get(parentID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(res.children))
	copy(out, res.children)
	return out, nil
}

// GetChildInstances returns every instance below a resource
func (m *MemoryIndex) GetChildInstances(ctx context.Context, id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, err := m.get(id)
	if err != nil {
		return nil, err
	}

	var out []string
	var walk func(r *memoryResource)
	walk = func(r *memoryResource) {
		if r.level == dicom.LevelInstance {
			out = append(out, r.id)
			return
		}
		for _, child := range r.children {
			walk(m.resources[child])
		}
	}
	walk(res)
	return out, nil
}

// LookupIdentifier resolves an exact identifier-tag value at a level
func (m *MemoryIndex) LookupIdentifier(ctx context.Context, tag dicom.Tag, value string, level dicom.ResourceLevel) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, res := range m.resources {
		if res.level != level {
			continue
		}
		if v, ok := res.tags[tag]; ok && v == value {
			out = append(out, res.id)
		}
	}
	return out, nil
}

// LookupParent walks up to the ancestor at parentLevel
func (m *MemoryIndex) LookupParent(ctx context.Context, id string, parentLevel dicom.ResourceLevel) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, err := m.get(id)
	if err != nil {
		return "", err
	}
	if parentLevel >= res.level {
		return "", dicomerr.Wrap(dicomerr.ErrParameterOutOfRange,
			"level %s is not above %s", parentLevel, res.level)
	}
	for res.level > parentLevel {
		res = m.resources[res.parent]
	}
	return res.id, nil
}

// GetMainDicomTags returns the promoted tags of a resource at a level
func (m *MemoryIndex) GetMainDicomTags(ctx context.Context, id string, level dicom.ResourceLevel) (map[dicom.Tag]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, err := m.get(id)
	if err != nil {
		return nil, err
	}
	out := make(map[dicom.Tag]string, len(res.tags))
	for tag, value := range res.tags {
		if dicom.IsMainTag(tag, level) {
			out[tag] = value
		}
	}
	return out, nil
}

// GetAllUuids lists every resource id at a level
func (m *MemoryIndex) GetAllUuids(ctx context.Context, level dicom.ResourceLevel) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for id, res := range m.resources {
		if res.level == level {
			out = append(out, id)
		}
	}
	return out, nil
}

// GetResourceLevel returns the level of a known resource
func (m *MemoryIndex) GetResourceLevel(ctx context.Context, id string) (dicom.ResourceLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, err := m.get(id)
	if err != nil {
		return 0, err
	}
	return res.level, nil
}

// GetInstanceFile returns the storage pointer of an instance
func (m *MemoryIndex) GetInstanceFile(ctx context.Context, id string) (InstanceFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, err := m.get(id)
	if err != nil {
		return InstanceFile{}, err
	}
	if res.level != dicom.LevelInstance {
		return InstanceFile{}, dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "resource %q is not an instance", id)
	}
	return res.file, nil
}

// StoreInstance indexes one received instance, creating missing ancestors
func (m *MemoryIndex) StoreInstance(ctx context.Context, record *InstanceRecord) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPublicID[dicom.LevelInstance][record.SOPInstanceUID]; ok {
		return id, true, nil
	}

	parent := ""
	hierarchy := []struct {
		level    dicom.ResourceLevel
		publicID string
	}{
		{dicom.LevelPatient, record.PatientID},
		{dicom.LevelStudy, record.StudyInstanceUID},
		{dicom.LevelSeries, record.SeriesInstanceUID},
		{dicom.LevelInstance, record.SOPInstanceUID},
	}

	var instanceID string
	for _, node := range hierarchy {
		id, ok := m.byPublicID[node.level][node.publicID]
		if !ok {
			id = uuid.NewString()
			res := &memoryResource{
				id:       id,
				publicID: node.publicID,
				level:    node.level,
				parent:   parent,
				tags:     make(map[dicom.Tag]string),
			}
			for tag, value := range record.MainTags[node.level] {
				res.tags[tag] = value
			}
			if node.level == dicom.LevelInstance {
				res.file = record.File
			}
			m.resources[id] = res
			m.byPublicID[node.level][node.publicID] = id
			if parent != "" {
				p := m.resources[parent]
				p.children = append(p.children, id)
			}
		}
		parent = id
		if node.level == dicom.LevelInstance {
			instanceID = id
		}
	}
	return instanceID, false, nil
}
