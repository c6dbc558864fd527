package index

import (
	"context"
	"errors"
	"testing"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

func record(patient, study, series, sop string) *InstanceRecord {
	return &InstanceRecord{
		PatientID:         patient,
		StudyInstanceUID:  study,
		SeriesInstanceUID: series,
		SOPInstanceUID:    sop,
		MainTags: map[dicom.ResourceLevel]map[dicom.Tag]string{
			dicom.LevelPatient:  {dicom.TagPatientID: patient},
			dicom.LevelStudy:    {dicom.TagStudyInstanceUID: study},
			dicom.LevelSeries:   {dicom.TagSeriesInstanceUID: series},
			dicom.LevelInstance: {dicom.TagSOPInstanceUID: sop},
		},
		File: InstanceFile{
			FileUUID:       "file-" + sop,
			FileSize:       42,
			TransferSyntax: dicom.ExplicitVRLittleEndian,
		},
	}
}

func TestStoreInstanceDeduplicates(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	first, already, err := idx.StoreInstance(ctx, record("p1", "s1", "se1", "i1"))
	if err != nil || already {
		t.Fatalf("first store: id=%s already=%v err=%v", first, already, err)
	}
	second, already, err := idx.StoreInstance(ctx, record("p1", "s1", "se1", "i1"))
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if !already {
		t.Error("second store should report alreadyStored")
	}
	if second != first {
		t.Errorf("second store returned id %s, want %s", second, first)
	}

	patients, err := idx.GetAllUuids(ctx, dicom.LevelPatient)
	if err != nil {
		t.Fatalf("GetAllUuids: %v", err)
	}
	if len(patients) != 1 {
		t.Errorf("patients = %d, want 1", len(patients))
	}
}

func TestStoreInstanceSharesAncestors(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	idx.StoreInstance(ctx, record("p1", "s1", "se1", "i1"))
	idx.StoreInstance(ctx, record("p1", "s1", "se1", "i2"))
	idx.StoreInstance(ctx, record("p1", "s1", "se2", "i3"))

	studies, _ := idx.GetAllUuids(ctx, dicom.LevelStudy)
	if len(studies) != 1 {
		t.Fatalf("studies = %d, want 1", len(studies))
	}
	series, err := idx.ListChildren(ctx, studies[0])
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(series) != 2 {
		t.Errorf("series under study = %d, want 2", len(series))
	}
	instances, err := idx.GetChildInstances(ctx, studies[0])
	if err != nil {
		t.Fatalf("GetChildInstances: %v", err)
	}
	if len(instances) != 3 {
		t.Errorf("instances under study = %d, want 3", len(instances))
	}
}

func TestLookupParentWalksHierarchy(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	instanceID, _, err := idx.StoreInstance(ctx, record("p1", "s1", "se1", "i1"))
	if err != nil {
		t.Fatalf("StoreInstance: %v", err)
	}

	patientID, err := idx.LookupParent(ctx, instanceID, dicom.LevelPatient)
	if err != nil {
		t.Fatalf("LookupParent: %v", err)
	}
	level, err := idx.GetResourceLevel(ctx, patientID)
	if err != nil {
		t.Fatalf("GetResourceLevel: %v", err)
	}
	if level != dicom.LevelPatient {
		t.Errorf("level = %s, want Patient", level)
	}

	if _, err := idx.LookupParent(ctx, patientID, dicom.LevelSeries); !errors.Is(err, dicomerr.ErrParameterOutOfRange) {
		t.Errorf("downward LookupParent error = %v, want ErrParameterOutOfRange", err)
	}
}

func TestLookupIdentifier(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	idx.StoreInstance(ctx, record("p1", "s1", "se1", "i1"))
	idx.StoreInstance(ctx, record("p2", "s2", "se2", "i2"))

	ids, err := idx.LookupIdentifier(ctx, dicom.TagStudyInstanceUID, "s2", dicom.LevelStudy)
	if err != nil {
		t.Fatalf("LookupIdentifier: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("found %d studies, want 1", len(ids))
	}

	// Level mismatch finds nothing.
	ids, err = idx.LookupIdentifier(ctx, dicom.TagStudyInstanceUID, "s2", dicom.LevelSeries)
	if err != nil {
		t.Fatalf("LookupIdentifier: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("found %d series, want 0", len(ids))
	}
}

func TestGetInstanceFile(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	instanceID, _, err := idx.StoreInstance(ctx, record("p1", "s1", "se1", "i1"))
	if err != nil {
		t.Fatalf("StoreInstance: %v", err)
	}

	file, err := idx.GetInstanceFile(ctx, instanceID)
	if err != nil {
		t.Fatalf("GetInstanceFile: %v", err)
	}
	if file.FileUUID != "file-i1" || file.TransferSyntax != dicom.ExplicitVRLittleEndian {
		t.Errorf("file = %+v", file)
	}

	seriesID, _ := idx.LookupParent(ctx, instanceID, dicom.LevelSeries)
	if _, err := idx.GetInstanceFile(ctx, seriesID); !errors.Is(err, dicomerr.ErrParameterOutOfRange) {
		t.Errorf("series GetInstanceFile error = %v, want ErrParameterOutOfRange", err)
	}
}

func TestUnknownResourceErrors(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if _, err := idx.ListChildren(ctx, "nope"); !errors.Is(err, dicomerr.ErrUnknownResource) {
		t.Errorf("ListChildren error = %v", err)
	}
	if _, err := idx.GetResourceLevel(ctx, "nope"); !errors.Is(err, dicomerr.ErrUnknownResource) {
		t.Errorf("GetResourceLevel error = %v", err)
	}
	if _, err := idx.GetInstanceFile(ctx, "nope"); !errors.Is(err, dicomerr.ErrUnknownResource) {
		t.Errorf("GetInstanceFile error = %v", err)
	}
}
