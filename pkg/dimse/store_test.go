package dimse

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicom/transcode"
)

// fakeSCP is a minimal in-test DICOM SCP. It accepts associations
// according to a per-context policy and acknowledges every C-STORE and
// C-ECHO with success.
type fakeSCP struct {
	ln     net.Listener
	policy func(RequestedContext) ContextReply

	// responder, when set, overrides the default success responses.
	responder func(conn net.Conn, contextID byte, request *Message) error

	mu           sync.Mutex
	associations int
	stores       []string // affected SOP instance UIDs, in arrival order
}

// acceptUncompressed accepts the first uncompressed transfer syntax of a
// context and rejects contexts that only offer compressed ones.
func acceptUncompressed(pc RequestedContext) ContextReply {
	for _, ts := range pc.TransferSyntaxes {
		syntax := dicom.TransferSyntax(ts)
		if !syntax.IsCompressed() {
			return ContextReply{ID: pc.ID, Result: ContextAccepted, TransferSyntax: syntax}
		}
	}
	return ContextReply{ID: pc.ID, Result: ContextTransferSyntaxReject}
}

func newFakeSCP(t *testing.T, policy func(RequestedContext) ContextReply) *fakeSCP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	scp := &fakeSCP{ln: ln, policy: policy}
	go scp.serve()
	t.Cleanup(func() { ln.Close() })
	return scp
}

func (s *fakeSCP) port() uint16 {
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

func (s *fakeSCP) associationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.associations
}

func (s *fakeSCP) storedInstances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stores...)
}

func (s *fakeSCP) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSCP) handle(conn net.Conn) {
	defer conn.Close()

	pdu, err := ReadPDU(conn)
	if err != nil || pdu.Type != PDUAssociateRQ {
		return
	}
	req, err := ParseAssociateRQ(pdu.Data)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.associations++
	s.mu.Unlock()

	replies := make([]ContextReply, 0, len(req.Contexts))
	for _, pc := range req.Contexts {
		replies = append(replies, s.policy(pc))
	}
	if err := WritePDU(conn, PDUAssociateAC,
		BuildAssociateAC(req.CalledAET, req.CallingAET, 16384, replies)); err != nil {
		return
	}

	var commandBuf, datasetBuf bytes.Buffer
	var pending *Message
	var pendingContext byte

	for {
		pdu, err := ReadPDU(conn)
		if err != nil {
			return
		}
		switch pdu.Type {
		case PDUReleaseRQ:
			WritePDU(conn, PDUReleaseRP, make([]byte, 4))
			return
		case PDUAbort:
			return
		case PDUPDataTF:
			pdvs, err := ParsePDataTF(pdu.Data)
			if err != nil {
				return
			}
			for _, pdv := range pdvs {
				if pdv.Command {
					commandBuf.Write(pdv.Data)
					if !pdv.Last {
						continue
					}
					msg, err := ParseCommand(commandBuf.Bytes())
					commandBuf.Reset()
					if err != nil {
						return
					}
					if msg.HasDataSet() {
						pending = msg
						pendingContext = pdv.ContextID
						continue
					}
					if err := s.reply(conn, pdv.ContextID, msg); err != nil {
						return
					}
				} else {
					datasetBuf.Write(pdv.Data)
					if !pdv.Last || pending == nil {
						continue
					}
					datasetBuf.Reset()
					msg := pending
					pending = nil
					if err := s.reply(conn, pendingContext, msg); err != nil {
						return
					}
				}
			}
		default:
			return
		}
	}
}

func (s *fakeSCP) reply(conn net.Conn, contextID byte, request *Message) error {
	if s.responder != nil {
		return s.responder(conn, contextID, request)
	}
	return s.respond(conn, contextID, request)
}

func (s *fakeSCP) respond(conn net.Conn, contextID byte, request *Message) error {
	if request.CommandField == CStoreRQ {
		s.mu.Lock()
		s.stores = append(s.stores, request.AffectedSOPInstanceUID)
		s.mu.Unlock()
	}
	response := &Message{
		CommandField:              ResponseCommandFor(request.CommandField),
		MessageIDBeingRespondedTo: request.MessageID,
		AffectedSOPClassUID:       request.AffectedSOPClassUID,
		Status:                    StatusSuccess,
		CommandDataSetType:        DataSetNull,
	}
	return WritePData(conn, contextID, 16384, EncodeCommand(response), true)
}

// retagCodec stands in for a pixel codec: it only retags datasets, which
// is enough to drive the transcoding paths end to end.
type retagCodec struct{}

func (retagCodec) Supports(ts dicom.TransferSyntax) bool {
	return ts.IsCompressed() && ts != dicom.DeflatedExplicitVRLittleEndian
}

func (retagCodec) Encode(dataset *dicom.DataSet, target dicom.TransferSyntax, lossyQuality int) error {
	return nil
}

func (retagCodec) Decode(dataset *dicom.DataSet) error {
	dataset.TransferSyntax = dicom.ExplicitVRLittleEndian
	return nil
}

func storeParams(scp *fakeSCP) AssociationParameters {
	params := NewAssociationParameters("STORE_SCU", "STORE_SCP", "127.0.0.1", scp.port())
	params.Timeout = 5
	return params
}

func TestAssociationEcho(t *testing.T) {
	scp := newFakeSCP(t, acceptUncompressed)

	assoc := NewAssociation(storeParams(scp))
	if !assoc.ProposeContext(dicom.VerificationSOPClass,
		[]dicom.TransferSyntax{dicom.ImplicitVRLittleEndian, dicom.ExplicitVRLittleEndian}) {
		t.Fatal("ProposeContext refused")
	}
	if err := assoc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer assoc.Close()

	if err := assoc.CEcho(context.Background()); err != nil {
		t.Fatalf("CEcho: %v", err)
	}
}

func TestProposeContextQuota(t *testing.T) {
	assoc := NewAssociation(NewAssociationParameters("A", "B", "localhost", 104))
	syntaxes := []dicom.TransferSyntax{dicom.ImplicitVRLittleEndian}

	for i := 0; i < MaxPresentationContexts; i++ {
		if !assoc.ProposeContext(dicom.CTImageStorage, syntaxes) {
			t.Fatalf("proposition %d refused before the quota", i+1)
		}
	}
	if assoc.RemainingPropositions() != 0 {
		t.Errorf("remaining = %d", assoc.RemainingPropositions())
	}
	if assoc.ProposeContext(dicom.CTImageStorage, syntaxes) {
		t.Error("proposition beyond the quota accepted")
	}
}

func TestAssociationRejectsInvalidParameters(t *testing.T) {
	cases := []AssociationParameters{
		{LocalAET: "", RemoteAET: "B", RemoteHost: "h"},
		{LocalAET: "A", RemoteAET: "", RemoteHost: "h"},
		{LocalAET: "SEVENTEEN_BYTES_X", RemoteAET: "B", RemoteHost: "h"},
	}
	for _, params := range cases {
		if err := params.Validate(); err == nil {
			t.Errorf("Validate(%+v) accepted", params)
		}
	}
}

func TestStoreUserConnectionSendsMatchingSyntax(t *testing.T) {
	scp := newFakeSCP(t, acceptUncompressed)
	conn := NewStoreUserConnection(storeParams(scp))
	defer conn.Close()

	ds := dicom.NewDataSet(dicom.ExplicitVRLittleEndian)
	ds.SetString(dicom.TagSOPClassUID, dicom.VR_UI, dicom.CTImageStorage)
	ds.SetString(dicom.TagSOPInstanceUID, dicom.VR_UI, "1.2.3.1")
	ds.SetString(dicom.TagPatientID, dicom.VR_LO, "pat1")

	classUID, instanceUID, err := conn.Store(context.Background(), nil, ds, CStoreOptions{})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if classUID != dicom.CTImageStorage || instanceUID != "1.2.3.1" {
		t.Errorf("stored %q / %q", classUID, instanceUID)
	}
	if got := scp.associationCount(); got != 1 {
		t.Errorf("associations = %d, want 1", got)
	}
}

func TestStoreUserConnectionRenegotiatesOnceThenTranscodes(t *testing.T) {
	scp := newFakeSCP(t, acceptUncompressed)
	conn := NewStoreUserConnection(storeParams(scp))
	defer conn.Close()
	transcoder := transcode.NewTranscoder().WithCodec(retagCodec{})

	// First instance travels in a syntax the peer accepts.
	ct := dicom.NewDataSet(dicom.ExplicitVRLittleEndian)
	ct.SetString(dicom.TagSOPClassUID, dicom.VR_UI, dicom.CTImageStorage)
	ct.SetString(dicom.TagSOPInstanceUID, dicom.VR_UI, "1.2.3.1")
	if _, _, err := conn.Store(context.Background(), transcoder, ct, CStoreOptions{}); err != nil {
		t.Fatalf("Store CT: %v", err)
	}

	// Second instance is compressed MR. The open association has no
	// matching context, so the connection renegotiates once; the peer
	// rejects the compressed pair and the instance goes out transcoded.
	mr := dicom.NewDataSet(dicom.JPEGProcess14SV1)
	mr.SetString(dicom.TagSOPClassUID, dicom.VR_UI, dicom.MRImageStorage)
	mr.SetString(dicom.TagSOPInstanceUID, dicom.VR_UI, "1.2.3.2")
	classUID, instanceUID, err := conn.Store(context.Background(), transcoder, mr, CStoreOptions{})
	if err != nil {
		t.Fatalf("Store MR: %v", err)
	}
	if classUID != dicom.MRImageStorage {
		t.Errorf("stored class %q", classUID)
	}
	// Lossless path: the UID survives the transcode.
	if instanceUID != "1.2.3.2" {
		t.Errorf("stored instance %q", instanceUID)
	}

	if got := scp.associationCount(); got != 2 {
		t.Errorf("associations = %d, want exactly one renegotiation", got)
	}
	stores := scp.storedInstances()
	if len(stores) != 2 || stores[0] != "1.2.3.1" || stores[1] != "1.2.3.2" {
		t.Errorf("stored instances = %v", stores)
	}
}

func TestStoreUserConnectionFailsWithoutTranscoder(t *testing.T) {
	scp := newFakeSCP(t, acceptUncompressed)
	conn := NewStoreUserConnection(storeParams(scp))
	defer conn.Close()

	mr := dicom.NewDataSet(dicom.JPEGProcess14SV1)
	mr.SetString(dicom.TagSOPClassUID, dicom.VR_UI, dicom.MRImageStorage)
	mr.SetString(dicom.TagSOPInstanceUID, dicom.VR_UI, "1.2.3.2")

	if _, _, err := conn.Store(context.Background(), nil, mr, CStoreOptions{}); err == nil {
		t.Fatal("Store of a refused pair without a transcoder should fail")
	}
}
