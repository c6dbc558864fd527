package ops

import (
	"context"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/storage"
	"github.com/otcheredev/dicom-store/pkg/dicom"
)

// InstanceReader loads a parsed dataset from the index and storage area
type InstanceReader struct {
	index index.Index
	area  storage.Area
}

// NewInstanceReader creates a reader over an index and a storage area
func NewInstanceReader(idx index.Index, area storage.Area) *InstanceReader {
	return &InstanceReader{index: idx, area: area}
}

// ReadInstance loads and parses one stored instance
func (r *InstanceReader) ReadInstance(ctx context.Context, instanceID string) (*dicom.DataSet, error) {
	file, err := r.index.GetInstanceFile(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	payload, err := r.area.Read(ctx, file.FileUUID)
	if err != nil {
		return nil, err
	}
	return dicom.Parse(payload, file.TransferSyntax)
}
