package index

import (
	"context"

	"github.com/otcheredev/dicom-store/pkg/dicom"
)

// InstanceFile locates the stored payload of one instance
type InstanceFile struct {
	FileUUID       string
	FileSize       int64
	TransferSyntax dicom.TransferSyntax
}

// InstanceRecord is everything the ingest path hands to the index for one
// received instance. MainTags carries the promoted tags for each of the
// four levels keyed by the level they belong to.
type InstanceRecord struct {
	PatientID         string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	MainTags          map[dicom.ResourceLevel]map[dicom.Tag]string
	File              InstanceFile
}

// Index is the hierarchical metadata database the finder and the SCP
// drivers run against. Resource ids are opaque strings.
type Index interface {
	// ListChildren returns the ids of the direct children of a resource
	ListChildren(ctx context.Context, parentID string) ([]string, error)

	// GetChildInstances returns every instance below a resource, the
	// resource itself when it already is an instance
	GetChildInstances(ctx context.Context, id string) ([]string, error)

	// LookupIdentifier resolves an exact identifier-tag value at a level
	LookupIdentifier(ctx context.Context, tag dicom.Tag, value string, level dicom.ResourceLevel) ([]string, error)

	// LookupParent walks up to the ancestor at parentLevel
	LookupParent(ctx context.Context, id string, parentLevel dicom.ResourceLevel) (string, error)

	// GetMainDicomTags returns the promoted tags of a resource at a level
	GetMainDicomTags(ctx context.Context, id string, level dicom.ResourceLevel) (map[dicom.Tag]string, error)

	// GetAllUuids lists every resource id at a level
	GetAllUuids(ctx context.Context, level dicom.ResourceLevel) ([]string, error)

	// GetResourceLevel returns the level of a known resource
	GetResourceLevel(ctx context.Context, id string) (dicom.ResourceLevel, error)

	// GetInstanceFile returns the storage pointer of an instance
	GetInstanceFile(ctx context.Context, id string) (InstanceFile, error)

	// StoreInstance indexes one received instance, creating the missing
	// ancestors. It reports whether the instance was already present.
	StoreInstance(ctx context.Context, record *InstanceRecord) (instanceID string, alreadyStored bool, err error)
}
