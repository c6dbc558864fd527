package scp

import (
	"context"
	"net"
	"testing"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/jobs"
	"github.com/otcheredev/dicom-store/internal/jobs/ops"
	"github.com/otcheredev/dicom-store/internal/models"
	"github.com/otcheredev/dicom-store/internal/storage"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

func newAsyncMoveSCP(t *testing.T, engine *jobs.Engine, resolver ModalityResolver) (*MoveSCP, *StoreSCP) {
	t.Helper()
	idx := index.NewMemoryIndex()
	area := storage.NewMemoryArea()
	reader := ops.NewInstanceReader(idx, area)
	move := NewMoveSCP(idx, resolver, reader, transcode.NewTranscoder(), engine, "LOCAL", false)
	return move, NewStoreSCP(idx, area, nil)
}

func TestMoveUnknownDestination(t *testing.T) {
	move, store := newAsyncMoveSCP(t, jobs.NewEngine(1, 4), NewStaticResolver(nil))
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")

	result, err := move.Move(context.Background(), "CALLER", 7, dimse.PriorityMedium,
		"NOWHERE", retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"), nil)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if result.Status != dimse.StatusMoveDestinationUnknown {
		t.Fatalf("Status = 0x%04X, want move destination unknown", result.Status)
	}
}

func TestMoveSubmitsStoreJob(t *testing.T) {
	resolver := NewStaticResolver([]*models.Modality{{
		Name:    "archive",
		AETitle: "ARCHIVE",
		Host:    "archive.example.com",
		Port:    11112,
	}})
	// The engine is never started: the submission itself is under test.
	engine := jobs.NewEngine(1, 4)
	move, store := newAsyncMoveSCP(t, engine, resolver)
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")
	ingest(t, store, "1.1.1.2", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")

	result, err := move.Move(context.Background(), "CALLER", 7, dimse.PriorityHigh,
		"ARCHIVE", retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"), nil)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	// Asynchronous moves acknowledge before any sub-operation ran.
	if result.Status != dimse.StatusSuccess {
		t.Fatalf("Status = 0x%04X, want success", result.Status)
	}
	if result.Completed != 0 || result.Failed != 0 {
		t.Fatalf("counters = %d/%d, want 0/0", result.Completed, result.Failed)
	}

	ids := engine.ListJobs()
	if len(ids) != 1 {
		t.Fatalf("jobs = %d, want 1", len(ids))
	}
	info, err := engine.GetJobInfo(ids[0])
	if err != nil {
		t.Fatalf("GetJobInfo: %v", err)
	}
	if info.Type != ops.ModalityStoreJobType {
		t.Errorf("Type = %q", info.Type)
	}
	if info.State != jobs.StatePending {
		t.Errorf("State = %q, want pending", info.State)
	}
	if info.Priority != movePriority[dimse.PriorityHigh] {
		t.Errorf("Priority = %d, want %d", info.Priority, movePriority[dimse.PriorityHigh])
	}
	if got := info.Content["RemoteAet"]; got != "ARCHIVE" {
		t.Errorf("RemoteAet = %v", got)
	}
	if got := info.Content["InstancesCount"]; got != 2 {
		t.Errorf("InstancesCount = %v, want 2", got)
	}
	if got := info.Content["MoveOriginatorAET"]; got != "CALLER" {
		t.Errorf("MoveOriginatorAET = %v", got)
	}
}

func TestMoveRejectsEmptyIdentifier(t *testing.T) {
	resolver := NewStaticResolver([]*models.Modality{{AETitle: "ARCHIVE", Host: "h", Port: 104}})
	move, _ := newAsyncMoveSCP(t, jobs.NewEngine(1, 4), resolver)

	query := dicom.NewDataSet(dicom.ExplicitVRLittleEndian)
	if _, err := move.Move(context.Background(), "CALLER", 1, dimse.PriorityLow,
		"ARCHIVE", query, nil); err == nil {
		t.Fatal("Move accepted an identifier-free query")
	}
}

func TestStaticResolver(t *testing.T) {
	resolver := NewStaticResolver([]*models.Modality{
		{Name: "ct", AETitle: "CT1", Host: "ct1.local", Port: 104},
		{Name: "archive", AETitle: "ARCHIVE", Host: "archive.local", Port: 11112},
	})

	m, err := resolver.ResolveAET(context.Background(), "ARCHIVE")
	if err != nil {
		t.Fatalf("ResolveAET: %v", err)
	}
	if m.Host != "archive.local" || m.Port != 11112 {
		t.Fatalf("resolved %s:%d", m.Host, m.Port)
	}

	_, err = resolver.ResolveAET(context.Background(), "MISSING")
	if err == nil || !IsUnknownModality(err) {
		t.Fatalf("err = %v, want unknown modality", err)
	}
}

func TestFailedUIDsDataset(t *testing.T) {
	ds := FailedUIDsDataset([]string{"1.2.3", "4.5.6"})
	got := ds.GetStrings(dicom.TagFailedSOPInstanceUIDList)
	if len(got) != 2 || got[0] != "1.2.3" || got[1] != "4.5.6" {
		t.Fatalf("failed UID list = %v", got)
	}
}

func newSyncMoveSCP(t *testing.T, resolver ModalityResolver) (*MoveSCP, *StoreSCP, index.Index, *storage.MemoryArea) {
	t.Helper()
	idx := index.NewMemoryIndex()
	area := storage.NewMemoryArea()
	reader := ops.NewInstanceReader(idx, area)
	move := NewMoveSCP(idx, resolver, reader, transcode.NewTranscoder(), nil, "LOCAL", true)
	return move, NewStoreSCP(idx, area, nil), idx, area
}

// refusedPort returns a localhost port that nothing listens on.
func refusedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestMoveFailedUIDsCarrySOPInstanceUID(t *testing.T) {
	resolver := NewStaticResolver([]*models.Modality{{
		Name:    "archive",
		AETitle: "ARCHIVE",
		Host:    "127.0.0.1",
		Port:    refusedPort(t),
	}})
	move, store, _, _ := newSyncMoveSCP(t, resolver)
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")

	result, err := move.Move(context.Background(), "CALLER", 3, dimse.PriorityMedium,
		"ARCHIVE", retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"), nil)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if result.Status != dimse.StatusWarningSubOperations {
		t.Fatalf("Status = 0x%04X, want warning sub-operations", result.Status)
	}
	if result.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", result.Failed)
	}
	if len(result.FailedUIDs) != 1 || result.FailedUIDs[0] != "1.1.1.1" {
		t.Fatalf("FailedUIDs = %v, want [1.1.1.1]", result.FailedUIDs)
	}
}

func TestMoveUnreadableInstanceReportsSOPInstanceUID(t *testing.T) {
	resolver := NewStaticResolver([]*models.Modality{{
		Name:    "archive",
		AETitle: "ARCHIVE",
		Host:    "127.0.0.1",
		Port:    refusedPort(t),
	}})
	move, store, idx, area := newSyncMoveSCP(t, resolver)
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")

	ctx := context.Background()
	ids, err := idx.LookupIdentifier(ctx, dicom.TagSOPInstanceUID, "1.1.1.1", dicom.LevelInstance)
	if err != nil || len(ids) != 1 {
		t.Fatalf("LookupIdentifier: %v (%d ids)", err, len(ids))
	}
	file, err := idx.GetInstanceFile(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetInstanceFile: %v", err)
	}
	if err := area.Remove(ctx, file.FileUUID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	result, err := move.Move(ctx, "CALLER", 3, dimse.PriorityMedium,
		"ARCHIVE", retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"), nil)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if len(result.FailedUIDs) != 1 || result.FailedUIDs[0] != "1.1.1.1" {
		t.Fatalf("FailedUIDs = %v, want the SOP instance UID", result.FailedUIDs)
	}
}
