package scp

import (
	"context"
	"errors"
	"testing"

	"github.com/otcheredev/dicom-store/internal/index"
	"github.com/otcheredev/dicom-store/internal/jobs/ops"
	"github.com/otcheredev/dicom-store/internal/storage"
	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

type subOpCall struct {
	contextID      byte
	sopClassUID    string
	sopInstanceUID string
	payload        []byte
}

// fakeSender negotiates a fixed set of storage contexts and records the
// sub-operations it is asked to send.
type fakeSender struct {
	contexts map[dicom.TransferSyntax]byte
	status   uint16
	storeErr error
	calls    []subOpCall
}

func (s *fakeSender) ContextFor(_ string, preferred []dicom.TransferSyntax) (byte, dicom.TransferSyntax, bool) {
	for _, ts := range preferred {
		if id, ok := s.contexts[ts]; ok {
			return id, ts, true
		}
	}
	return 0, "", false
}

func (s *fakeSender) Store(_ context.Context, contextID byte, sopClassUID, sopInstanceUID string, payload []byte) (uint16, error) {
	s.calls = append(s.calls, subOpCall{
		contextID:      contextID,
		sopClassUID:    sopClassUID,
		sopInstanceUID: sopInstanceUID,
		payload:        payload,
	})
	if s.storeErr != nil {
		return 0, s.storeErr
	}
	return s.status, nil
}

func newGetSCP(t *testing.T, allowTranscoding bool) (*GetSCP, *StoreSCP) {
	t.Helper()
	idx := index.NewMemoryIndex()
	area := storage.NewMemoryArea()
	reader := ops.NewInstanceReader(idx, area)
	get := NewGetSCP(idx, reader, transcode.NewTranscoder(), allowTranscoding)
	return get, NewStoreSCP(idx, area, nil)
}

func TestGetSendsAllStudyInstances(t *testing.T) {
	get, store := newGetSCP(t, false)
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")
	ingest(t, store, "1.1.1.2", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")
	ingest(t, store, "1.2.1.1", "1.2", "1.2.1", "pat2", "Roe^Richard", "CT")

	sender := &fakeSender{
		contexts: map[dicom.TransferSyntax]byte{dicom.ExplicitVRLittleEndian: 3},
		status:   dimse.StatusSuccess,
	}
	var remaining []uint16
	result, err := get.Get(context.Background(), sender,
		retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"),
		func(p MoveProgress) error {
			remaining = append(remaining, p.Remaining)
			return nil
		})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result.Status != dimse.StatusSuccess {
		t.Fatalf("Status = 0x%04X, want success", result.Status)
	}
	if result.Completed != 2 || result.Failed != 0 || result.Warning != 0 {
		t.Fatalf("counters = %d/%d/%d, want 2/0/0", result.Completed, result.Failed, result.Warning)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("sub-operations = %d, want 2", len(sender.calls))
	}
	seen := map[string]bool{}
	for _, call := range sender.calls {
		if call.contextID != 3 {
			t.Errorf("contextID = %d, want 3", call.contextID)
		}
		if call.sopClassUID != dicom.CTImageStorage {
			t.Errorf("sopClassUID = %q", call.sopClassUID)
		}
		seen[call.sopInstanceUID] = true
	}
	if !seen["1.1.1.1"] || !seen["1.1.1.2"] {
		t.Fatalf("sent instances = %v", seen)
	}
	if len(remaining) != 2 || remaining[0] != 2 || remaining[1] != 1 {
		t.Fatalf("pending Remaining = %v, want [2 1]", remaining)
	}
}

func TestGetTranscodesToNegotiatedSyntax(t *testing.T) {
	get, store := newGetSCP(t, true)
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")

	// The peer only negotiated implicit VR; the stored copy is explicit.
	sender := &fakeSender{
		contexts: map[dicom.TransferSyntax]byte{dicom.ImplicitVRLittleEndian: 5},
		status:   dimse.StatusSuccess,
	}
	result, err := get.Get(context.Background(), sender,
		retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result.Completed != 1 || result.Failed != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", result.Completed, result.Failed)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("sub-operations = %d, want 1", len(sender.calls))
	}
	sent, err := dicom.Parse(sender.calls[0].payload, dicom.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("Parse sent payload: %v", err)
	}
	if sent.GetString(dicom.TagSOPInstanceUID) != "1.1.1.1" {
		t.Fatalf("transcoded SOPInstanceUID = %q, want 1.1.1.1", sent.GetString(dicom.TagSOPInstanceUID))
	}
	if sent.GetString(dicom.TagModality) != "CT" {
		t.Fatalf("transcoded Modality = %q, want CT", sent.GetString(dicom.TagModality))
	}
}

func TestGetFailsInsteadOfTranscodingWhenDisallowed(t *testing.T) {
	get, store := newGetSCP(t, false)
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")

	sender := &fakeSender{
		contexts: map[dicom.TransferSyntax]byte{dicom.ImplicitVRLittleEndian: 5},
		status:   dimse.StatusSuccess,
	}
	result, err := get.Get(context.Background(), sender,
		retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result.Status != dimse.StatusWarningSubOperations {
		t.Fatalf("Status = 0x%04X, want sub-operation warning", result.Status)
	}
	if result.Failed != 1 || result.Completed != 0 {
		t.Fatalf("counters = %d/%d, want 0 completed 1 failed", result.Completed, result.Failed)
	}
	if len(result.FailedUIDs) != 1 || result.FailedUIDs[0] != "1.1.1.1" {
		t.Fatalf("FailedUIDs = %v", result.FailedUIDs)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("sub-operations = %d, want none", len(sender.calls))
	}
}

func TestGetReportsPeerOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		status   uint16
		storeErr error
		want     func(t *testing.T, result *MoveResult)
	}{
		{
			name:   "warning status counts as warning",
			status: dimse.StatusWarningSubOperations,
			want: func(t *testing.T, result *MoveResult) {
				if result.Warning != 1 || result.Failed != 0 {
					t.Fatalf("counters = warning %d failed %d", result.Warning, result.Failed)
				}
				if result.Status != dimse.StatusSuccess {
					t.Fatalf("Status = 0x%04X", result.Status)
				}
			},
		},
		{
			name:   "error status counts as failed",
			status: dimse.StatusUnableToProcess,
			want: func(t *testing.T, result *MoveResult) {
				if result.Failed != 1 {
					t.Fatalf("Failed = %d", result.Failed)
				}
				if result.FailedUIDs[0] != "1.1.1.1" {
					t.Fatalf("FailedUIDs = %v", result.FailedUIDs)
				}
			},
		},
		{
			name:     "transport error counts as failed",
			storeErr: errors.New("connection reset"),
			want: func(t *testing.T, result *MoveResult) {
				if result.Failed != 1 || result.Status != dimse.StatusWarningSubOperations {
					t.Fatalf("Failed = %d, Status = 0x%04X", result.Failed, result.Status)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			get, store := newGetSCP(t, false)
			ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")
			sender := &fakeSender{
				contexts: map[dicom.TransferSyntax]byte{dicom.ExplicitVRLittleEndian: 1},
				status:   tc.status,
				storeErr: tc.storeErr,
			}
			result, err := get.Get(context.Background(), sender,
				retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"), nil)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			tc.want(t, result)
		})
	}
}

func TestGetRequiresExplicitLevel(t *testing.T) {
	get, store := newGetSCP(t, false)
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")

	sender := &fakeSender{
		contexts: map[dicom.TransferSyntax]byte{dicom.ExplicitVRLittleEndian: 1},
		status:   dimse.StatusSuccess,
	}
	// C-MOVE would detect the level from the identifier; C-GET does not.
	if _, err := get.Get(context.Background(), sender,
		retrieveQuery("", dicom.TagStudyInstanceUID, "1.1"), nil); !errors.Is(err, dicomerr.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestGetProgressErrorAborts(t *testing.T) {
	get, store := newGetSCP(t, false)
	ingest(t, store, "1.1.1.1", "1.1", "1.1.1", "pat1", "Doe^Jane", "CT")

	sender := &fakeSender{
		contexts: map[dicom.TransferSyntax]byte{dicom.ExplicitVRLittleEndian: 1},
		status:   dimse.StatusSuccess,
	}
	abort := errors.New("peer sent C-CANCEL")
	_, err := get.Get(context.Background(), sender,
		retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"),
		func(MoveProgress) error { return abort })
	if !errors.Is(err, abort) {
		t.Fatalf("err = %v, want the progress error", err)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("sub-operations = %d, want none", len(sender.calls))
	}
}

func TestGetUnreadableInstanceReportsSOPInstanceUID(t *testing.T) {
	idx := index.NewMemoryIndex()
	area := storage.NewMemoryArea()
	reader := ops.NewInstanceReader(idx, area)
	get := NewGetSCP(idx, reader, transcode.NewTranscoder(), true)
	store := NewStoreSCP(idx, area, nil)
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

	sender := &fakeSender{
		contexts: map[dicom.TransferSyntax]byte{dicom.ExplicitVRLittleEndian: 3},
		status:   dimse.StatusSuccess,
	}
	result, err := get.Get(ctx, sender,
		retrieveQuery("STUDY", dicom.TagStudyInstanceUID, "1.1"), nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", result.Failed)
	}
	if len(result.FailedUIDs) != 1 || result.FailedUIDs[0] != "1.1.1.1" {
		t.Fatalf("FailedUIDs = %v, want the SOP instance UID", result.FailedUIDs)
	}
}
