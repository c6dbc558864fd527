package scp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

// recordingCommitment accepts every commitment transaction and remembers
// what it saw.
type recordingCommitment struct {
	transactionUID string
	requests       int
	reports        int
}

func (c *recordingCommitment) HandleRequest(_ context.Context, transactionUID string, _ []CommitmentItem) error {
	c.transactionUID = transactionUID
	c.requests++
	return nil
}

func (c *recordingCommitment) HandleReport(_ context.Context, transactionUID string, _, _ []CommitmentItem) error {
	c.transactionUID = transactionUID
	c.reports++
	return nil
}

func startServer(t *testing.T, commitment CommitmentHandler) string {
	t.Helper()
	server := NewServer(ServerConfig{LocalAET: "LOCAL"}, nil, nil, nil, nil, nil, commitment)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go server.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return ln.Addr().String()
}

// negotiateCommitment opens a raw association proposing only the storage
// commitment push model on context 1.
func negotiateCommitment(t *testing.T, addr string) (net.Conn, map[byte]dimse.AcceptedContext) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	params := dimse.NewAssociationParameters("PEER", "LOCAL", "127.0.0.1", 0)
	contexts := []dimse.ProposedContext{{
		ID:               1,
		SOPClass:         dicom.StorageCommitmentPushModelSOPClass,
		TransferSyntaxes: []dicom.TransferSyntax{dicom.ExplicitVRLittleEndian},
	}}
	if err := dimse.WritePDU(conn, dimse.PDUAssociateRQ, dimse.BuildAssociateRQ(params, contexts)); err != nil {
		t.Fatalf("WritePDU: %v", err)
	}

	pdu, err := dimse.ReadPDU(conn)
	if err != nil {
		t.Fatalf("ReadPDU: %v", err)
	}
	if pdu.Type != dimse.PDUAssociateAC {
		t.Fatalf("PDU type = 0x%02x, want associate AC", pdu.Type)
	}
	accepted, _, err := dimse.ParseAssociateAC(pdu.Data)
	if err != nil {
		t.Fatalf("ParseAssociateAC: %v", err)
	}
	return conn, accepted
}

func sendCommitmentRequest(t *testing.T, conn net.Conn, transactionUID string) {
	t.Helper()
	info := dicom.NewDataSet(dicom.ExplicitVRLittleEndian)
	info.SetString(dicom.TagTransactionUID, dicom.VR_UI, transactionUID)
	payload, err := info.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	command := dimse.EncodeCommand(&dimse.Message{
		CommandField:            dimse.NActionRQ,
		MessageID:               7,
		RequestedSOPClassUID:    dicom.StorageCommitmentPushModelSOPClass,
		RequestedSOPInstanceUID: dicom.StorageCommitmentPushModelInstance,
		ActionTypeID:            1,
		CommandDataSetType:      dimse.DataSetPresent,
	})
	if err := dimse.WritePData(conn, 1, 16384, command, true); err != nil {
		t.Fatalf("write command: %v", err)
	}
	if err := dimse.WritePData(conn, 1, 16384, payload, false); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
}

func readCommand(t *testing.T, conn net.Conn) *dimse.Message {
	t.Helper()
	var command []byte
	for {
		pdu, err := dimse.ReadPDU(conn)
		if err != nil {
			t.Fatalf("ReadPDU: %v", err)
		}
		if pdu.Type != dimse.PDUPDataTF {
			t.Fatalf("PDU type = 0x%02x, want P-DATA-TF", pdu.Type)
		}
		pdvs, err := dimse.ParsePDataTF(pdu.Data)
		if err != nil {
			t.Fatalf("ParsePDataTF: %v", err)
		}
		for _, pdv := range pdvs {
			if !pdv.Command {
				t.Fatalf("unexpected dataset PDV")
			}
			command = append(command, pdv.Data...)
			if pdv.Last {
				msg, err := dimse.ParseCommand(command)
				if err != nil {
					t.Fatalf("ParseCommand: %v", err)
				}
				return msg
			}
		}
	}
}

func TestServerAnswersCommitmentRequest(t *testing.T) {
	handler := &recordingCommitment{}
	addr := startServer(t, handler)

	conn, accepted := negotiateCommitment(t, addr)
	if pc, ok := accepted[1]; !ok || pc.Result != dimse.ContextAccepted {
		t.Fatalf("commitment context not accepted: %+v", accepted)
	}

	sendCommitmentRequest(t, conn, "2.25.99")
	response := readCommand(t, conn)

	if response.CommandField != dimse.NActionRSP {
		t.Fatalf("command = 0x%04x, want N-ACTION-RSP", response.CommandField)
	}
	if response.Status != dimse.StatusSuccess {
		t.Fatalf("Status = 0x%04X, want success", response.Status)
	}
	if response.MessageIDBeingRespondedTo != 7 {
		t.Errorf("responded-to id = %d", response.MessageIDBeingRespondedTo)
	}
	if response.AffectedSOPInstanceUID != dicom.StorageCommitmentPushModelInstance {
		t.Errorf("affected instance = %q", response.AffectedSOPInstanceUID)
	}
	if handler.requests != 1 || handler.transactionUID != "2.25.99" {
		t.Errorf("handler saw %d requests, transaction %q", handler.requests, handler.transactionUID)
	}
}

func TestServerReportsCommitmentHandlerFailure(t *testing.T) {
	addr := startServer(t, UnsupportedCommitment{})

	conn, accepted := negotiateCommitment(t, addr)
	if pc, ok := accepted[1]; !ok || pc.Result != dimse.ContextAccepted {
		t.Fatalf("commitment context not accepted: %+v", accepted)
	}

	sendCommitmentRequest(t, conn, "2.25.100")
	response := readCommand(t, conn)

	if response.CommandField != dimse.NActionRSP {
		t.Fatalf("command = 0x%04x, want N-ACTION-RSP", response.CommandField)
	}
	if response.Status != dimse.StatusUnableToProcess {
		t.Fatalf("Status = 0x%04X, want unable to process", response.Status)
	}
}

func TestServerRejectsCommitmentWithoutHandler(t *testing.T) {
	addr := startServer(t, nil)

	_, accepted := negotiateCommitment(t, addr)
	if pc, ok := accepted[1]; ok && pc.Result == dimse.ContextAccepted {
		t.Fatalf("commitment context accepted without a handler")
	}
}
