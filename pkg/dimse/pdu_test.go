package dimse

import (
	"bytes"
	"testing"

	"github.com/otcheredev/dicom-store/pkg/dicom"
)

func TestPDUFraming(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	if err := WritePDU(&buf, PDUAssociateRQ, payload); err != nil {
		t.Fatalf("WritePDU: %v", err)
	}
	pdu, err := ReadPDU(&buf)
	if err != nil {
		t.Fatalf("ReadPDU: %v", err)
	}
	if pdu.Type != PDUAssociateRQ {
		t.Errorf("type = 0x%02x", pdu.Type)
	}
	if !bytes.Equal(pdu.Data, payload) {
		t.Errorf("data = %x", pdu.Data)
	}
}

func TestAssociateRQRoundTrip(t *testing.T) {
	params := NewAssociationParameters("LOCAL", "REMOTE", "localhost", 104)
	contexts := []ProposedContext{
		{ID: 1, SOPClass: dicom.VerificationSOPClass,
			TransferSyntaxes: []dicom.TransferSyntax{dicom.ImplicitVRLittleEndian}},
		{ID: 3, SOPClass: dicom.CTImageStorage,
			TransferSyntaxes: []dicom.TransferSyntax{
				dicom.ExplicitVRLittleEndian, dicom.ImplicitVRLittleEndian,
			}},
	}

	req, err := ParseAssociateRQ(BuildAssociateRQ(params, contexts))
	if err != nil {
		t.Fatalf("ParseAssociateRQ: %v", err)
	}
	if req.CalledAET != "REMOTE" || req.CallingAET != "LOCAL" {
		t.Errorf("AETs = %q / %q", req.CalledAET, req.CallingAET)
	}
	if req.MaxPDULength != params.MaxPDULength {
		t.Errorf("max PDU = %d", req.MaxPDULength)
	}
	if len(req.Contexts) != 2 {
		t.Fatalf("contexts = %d", len(req.Contexts))
	}
	if req.Contexts[0].AbstractSyntax != dicom.VerificationSOPClass {
		t.Errorf("context 1 abstract syntax = %q", req.Contexts[0].AbstractSyntax)
	}
	if len(req.Contexts[1].TransferSyntaxes) != 2 ||
		req.Contexts[1].TransferSyntaxes[0] != string(dicom.ExplicitVRLittleEndian) {
		t.Errorf("context 3 transfer syntaxes = %v", req.Contexts[1].TransferSyntaxes)
	}
}

func TestAssociateACRoundTrip(t *testing.T) {
	replies := []ContextReply{
		{ID: 1, Result: ContextAccepted, TransferSyntax: dicom.ExplicitVRLittleEndian},
		{ID: 3, Result: ContextTransferSyntaxReject},
	}

	contexts, maxPDU, err := ParseAssociateAC(BuildAssociateAC("CALLED", "CALLING", 32768, replies))
	if err != nil {
		t.Fatalf("ParseAssociateAC: %v", err)
	}
	if maxPDU != 32768 {
		t.Errorf("max PDU = %d", maxPDU)
	}
	accepted, ok := contexts[1]
	if !ok || accepted.Result != ContextAccepted ||
		accepted.TransferSyntax != dicom.ExplicitVRLittleEndian {
		t.Errorf("context 1 = %+v", accepted)
	}
	rejected, ok := contexts[3]
	if !ok || rejected.Result != ContextTransferSyntaxReject {
		t.Errorf("context 3 = %+v", rejected)
	}
}

func TestAssociateRJRoundTrip(t *testing.T) {
	source, reason := ParseAssociateRJ(BuildAssociateRJ(1, 1, 7))
	if source != 1 || reason != 7 {
		t.Errorf("source/reason = %d/%d", source, reason)
	}
}

func TestWritePDataFragmentsLargePayloads(t *testing.T) {
	var buf bytes.Buffer
	payload := bytes.Repeat([]byte{0x42}, 100)

	// maxChunk is maxPDULength-12 = 28: four fragments.
	if err := WritePData(&buf, 5, 40, payload, false); err != nil {
		t.Fatalf("WritePData: %v", err)
	}

	var pdvs []PDV
	for buf.Len() > 0 {
		pdu, err := ReadPDU(&buf)
		if err != nil {
			t.Fatalf("ReadPDU: %v", err)
		}
		if pdu.Type != PDUPDataTF {
			t.Fatalf("type = 0x%02x", pdu.Type)
		}
		parsed, err := ParsePDataTF(pdu.Data)
		if err != nil {
			t.Fatalf("ParsePDataTF: %v", err)
		}
		pdvs = append(pdvs, parsed...)
	}

	if len(pdvs) != 4 {
		t.Fatalf("fragments = %d, want 4", len(pdvs))
	}
	var assembled []byte
	for i, pdv := range pdvs {
		if pdv.ContextID != 5 {
			t.Errorf("fragment %d context = %d", i, pdv.ContextID)
		}
		if pdv.Command {
			t.Errorf("fragment %d has the command bit set", i)
		}
		if got, want := pdv.Last, i == len(pdvs)-1; got != want {
			t.Errorf("fragment %d last = %v", i, got)
		}
		assembled = append(assembled, pdv.Data...)
	}
	if !bytes.Equal(assembled, payload) {
		t.Error("reassembled payload differs")
	}
}

func TestCommandRoundTrip(t *testing.T) {
	request := &Message{
		CommandField:            CStoreRQ,
		MessageID:               7,
		AffectedSOPClassUID:     dicom.MRImageStorage,
		AffectedSOPInstanceUID:  "1.2.3.4",
		Priority:                PriorityHigh,
		CommandDataSetType:      DataSetPresent,
		MoveOriginatorAET:       "MOVE_SCU",
		MoveOriginatorMessageID: 3,
	}

	parsed, err := ParseCommand(EncodeCommand(request))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if parsed.CommandField != CStoreRQ || parsed.MessageID != 7 {
		t.Errorf("command/id = 0x%04x/%d", parsed.CommandField, parsed.MessageID)
	}
	if parsed.AffectedSOPClassUID != dicom.MRImageStorage ||
		parsed.AffectedSOPInstanceUID != "1.2.3.4" {
		t.Errorf("SOP identifiers = %q / %q",
			parsed.AffectedSOPClassUID, parsed.AffectedSOPInstanceUID)
	}
	if parsed.Priority != PriorityHigh {
		t.Errorf("priority = 0x%04x", parsed.Priority)
	}
	if !parsed.HasDataSet() {
		t.Error("dataset flag lost")
	}
	if parsed.MoveOriginatorAET != "MOVE_SCU" || parsed.MoveOriginatorMessageID != 3 {
		t.Errorf("move originator = %q/%d",
			parsed.MoveOriginatorAET, parsed.MoveOriginatorMessageID)
	}
}

func TestCommandRoundTripSubOperationCounters(t *testing.T) {
	response := &Message{
		CommandField:                   CMoveRSP,
		MessageIDBeingRespondedTo:      11,
		Status:                         StatusPending,
		CommandDataSetType:             DataSetNull,
		NumberOfRemainingSuboperations: uint16Ptr(4),
		NumberOfCompletedSuboperations: uint16Ptr(2),
		NumberOfFailedSuboperations:    uint16Ptr(1),
		NumberOfWarningSuboperations:   uint16Ptr(0),
	}

	parsed, err := ParseCommand(EncodeCommand(response))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if parsed.MessageIDBeingRespondedTo != 11 || parsed.Status != StatusPending {
		t.Errorf("responded-to/status = %d/0x%04x",
			parsed.MessageIDBeingRespondedTo, parsed.Status)
	}
	for name, pair := range map[string][2]*uint16{
		"remaining": {parsed.NumberOfRemainingSuboperations, response.NumberOfRemainingSuboperations},
		"completed": {parsed.NumberOfCompletedSuboperations, response.NumberOfCompletedSuboperations},
		"failed":    {parsed.NumberOfFailedSuboperations, response.NumberOfFailedSuboperations},
		"warning":   {parsed.NumberOfWarningSuboperations, response.NumberOfWarningSuboperations},
	} {
		if pair[0] == nil || *pair[0] != *pair[1] {
			t.Errorf("%s counter = %v, want %d", name, pair[0], *pair[1])
		}
	}
	if parsed.HasDataSet() {
		t.Error("null dataset flag lost")
	}
}
