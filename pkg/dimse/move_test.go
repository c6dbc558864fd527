package dimse

import (
	"context"
	"net"
	"testing"

	"github.com/otcheredev/dicom-store/pkg/dicom"
)

func moveIdentifier(t *testing.T, studyUID string) []byte {
	t.Helper()
	ds := dicom.NewDataSet(dicom.ExplicitVRLittleEndian)
	ds.SetString(dicom.TagQueryRetrieveLevel, dicom.VR_CS, "STUDY")
	ds.SetString(dicom.TagStudyInstanceUID, dicom.VR_UI, studyUID)
	payload, err := ds.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return payload
}

func TestCMoveStreamsPendingAndFinal(t *testing.T) {
	scp := newFakeSCP(t, acceptUncompressed)
	var destination string
	scp.responder = func(conn net.Conn, contextID byte, request *Message) error {
		if request.CommandField != CMoveRQ {
			return scp.respond(conn, contextID, request)
		}
		destination = request.MoveDestination

		pending := &Message{
			CommandField:                   CMoveRSP,
			MessageIDBeingRespondedTo:      request.MessageID,
			AffectedSOPClassUID:            request.AffectedSOPClassUID,
			CommandDataSetType:             DataSetNull,
			Status:                         StatusPending,
			NumberOfRemainingSuboperations: uint16Ptr(2),
			NumberOfCompletedSuboperations: uint16Ptr(1),
		}
		if err := WritePData(conn, contextID, 16384, EncodeCommand(pending), true); err != nil {
			return err
		}

		final := &Message{
			CommandField:                   CMoveRSP,
			MessageIDBeingRespondedTo:      request.MessageID,
			AffectedSOPClassUID:            request.AffectedSOPClassUID,
			CommandDataSetType:             DataSetNull,
			Status:                         StatusSuccess,
			NumberOfCompletedSuboperations: uint16Ptr(3),
			NumberOfFailedSuboperations:    uint16Ptr(0),
			NumberOfWarningSuboperations:   uint16Ptr(0),
		}
		return WritePData(conn, contextID, 16384, EncodeCommand(final), true)
	}

	assoc := NewAssociation(storeParams(scp))
	if !assoc.ProposeContext(dicom.StudyRootQueryRetrieveInformationModelMove,
		[]dicom.TransferSyntax{dicom.ExplicitVRLittleEndian}) {
		t.Fatal("ProposeContext refused")
	}
	if err := assoc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer assoc.Close()

	accepted := assoc.LookupAccepted(dicom.StudyRootQueryRetrieveInformationModelMove)
	contextID, ok := accepted[dicom.ExplicitVRLittleEndian]
	if !ok {
		t.Fatalf("move model not accepted: %v", accepted)
	}

	var progress []CMoveProgress
	final, err := assoc.CMove(context.Background(), contextID,
		dicom.StudyRootQueryRetrieveInformationModelMove, "DEST", PriorityMedium,
		moveIdentifier(t, "1.2.3"), func(p CMoveProgress) {
			progress = append(progress, p)
		})
	if err != nil {
		t.Fatalf("CMove: %v", err)
	}

	if destination != "DEST" {
		t.Errorf("move destination = %q", destination)
	}
	if len(progress) != 1 || progress[0].Remaining != 2 || progress[0].Completed != 1 {
		t.Errorf("progress = %+v", progress)
	}
	if final.Status != StatusSuccess {
		t.Errorf("Status = 0x%04X", final.Status)
	}
	if got := counterValue(final.NumberOfCompletedSuboperations); got != 3 {
		t.Errorf("completed = %d, want 3", got)
	}
}

func TestCMoveRequiresOpenAssociation(t *testing.T) {
	assoc := NewAssociation(NewAssociationParameters("A", "B", "localhost", 104))
	_, err := assoc.CMove(context.Background(), 1,
		dicom.StudyRootQueryRetrieveInformationModelMove, "DEST", PriorityMedium, nil, nil)
	if err == nil {
		t.Fatal("CMove succeeded on a closed association")
	}
}
