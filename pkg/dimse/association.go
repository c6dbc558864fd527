package dimse

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// Association is a DICOM association acting as SCU. It owns the proposed
// presentation context table and, once open, the accepted contexts.
//
// Access while the association is open is single-threaded per association;
// the mutex only protects against misuse from concurrent observers.
type Association struct {
	mu        sync.Mutex
	params    AssociationParameters
	conn      net.Conn
	open      bool
	proposed  []ProposedContext
	accepted  map[string]map[dicom.TransferSyntax]byte
	maxPDU    uint32
	messageID uint16
}

// NewAssociation creates a closed association with the given parameters
func NewAssociation(params AssociationParameters) *Association {
	if params.MaxPDULength == 0 {
		params.MaxPDULength = 16384
	}
	return &Association{
		params:   params,
		accepted: make(map[string]map[dicom.TransferSyntax]byte),
		maxPDU:   params.MaxPDULength,
	}
}

// Params returns the association parameters
func (a *Association) Params() AssociationParameters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// IsOpen reports whether the association is negotiated and connected
func (a *Association) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// RemainingPropositions returns the free slots of the presentation context
// quota.
func (a *Association) RemainingPropositions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return MaxPresentationContexts - len(a.proposed)
}

// ProposeContext appends one presentation context to the proposal table.
// It returns false, leaving the table untouched, when the quota of 128
// contexts is exhausted.
func (a *Association) ProposeContext(sopClass string, syntaxes []dicom.TransferSyntax) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.proposed) >= MaxPresentationContexts {
		return false
	}
	if len(syntaxes) == 0 {
		return false
	}

	// Context ids are the odd numbers 1, 3, 5, ...
	id := byte(2*len(a.proposed) + 1)
	a.proposed = append(a.proposed, ProposedContext{
		ID:               id,
		SOPClass:         sopClass,
		TransferSyntaxes: append([]dicom.TransferSyntax(nil), syntaxes...),
	})
	return true
}

// ClearPresentationContexts drops the proposal table. Only permitted while
// the association is closed.
func (a *Association) ClearPresentationContexts() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open {
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls,
			"clearing presentation contexts of an open association")
	}
	a.proposed = nil
	a.accepted = make(map[string]map[dicom.TransferSyntax]byte)
	return nil
}

// LookupAccepted returns the accepted transfer syntaxes and their context
// ids for one SOP class. The map is empty when none was accepted.
func (a *Association) LookupAccepted(sopClass string) map[dicom.TransferSyntax]byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[dicom.TransferSyntax]byte)
	for ts, id := range a.accepted[sopClass] {
		out[ts] = id
	}
	return out
}

// Open negotiates the association. A failure leaves the association closed.
func (a *Association) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open {
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "association is already open")
	}
	if err := a.params.Validate(); err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: a.params.TimeoutDuration()}
	conn, err := dialer.DialContext(ctx, "tcp", a.params.RemoteAddress())
	if err != nil {
		if isTimeout(err) {
			return dicomerr.Wrap(dicomerr.ErrTimeout, "connecting to %s", a.params.RemoteAddress())
		}
		return dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "connecting to %s: %v", a.params.RemoteAddress(), err)
	}

	if err := a.negotiate(conn); err != nil {
		conn.Close()
		return err
	}

	a.conn = conn
	a.open = true

	log.Debug().
		Str("component", "association").
		Str("remote_aet", a.params.RemoteAET).
		Int("proposed", len(a.proposed)).
		Msg("Association established")
	return nil
}

func (a *Association) negotiate(conn net.Conn) error {
	a.applyDeadline(conn)

	if err := WritePDU(conn, PDUAssociateRQ, BuildAssociateRQ(a.params, a.proposed)); err != nil {
		return wrapNetError("sending A-ASSOCIATE-RQ", err)
	}

	pdu, err := ReadPDU(conn)
	if err != nil {
		return wrapNetError("receiving A-ASSOCIATE response", err)
	}

	switch pdu.Type {
	case PDUAssociateAC:
		contexts, maxPDU, err := ParseAssociateAC(pdu.Data)
		if err != nil {
			return err
		}
		a.maxPDU = maxPDU
		a.accepted = make(map[string]map[dicom.TransferSyntax]byte)
		for _, pc := range a.proposed {
			result, ok := contexts[pc.ID]
			if !ok || result.Result != ContextAccepted {
				continue
			}
			if a.accepted[pc.SOPClass] == nil {
				a.accepted[pc.SOPClass] = make(map[dicom.TransferSyntax]byte)
			}
			a.accepted[pc.SOPClass][result.TransferSyntax] = pc.ID
		}
		return nil

	case PDUAssociateRJ:
		source, reason := ParseAssociateRJ(pdu.Data)
		return &dicomerr.AssociationRejectedError{Source: source, Reason: reason}

	default:
		return dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
			"unexpected PDU type 0x%02x during association", pdu.Type)
	}
}

// Close releases the association gracefully. Closing a closed association
// is a no-op.
func (a *Association) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.open {
		return nil
	}
	a.open = false

	a.applyDeadline(a.conn)
	if err := WritePDU(a.conn, PDUReleaseRQ, make([]byte, 4)); err == nil {
		// Best effort: wait for A-RELEASE-RP but do not fail the close
		if pdu, err := ReadPDU(a.conn); err == nil && pdu.Type != PDUReleaseRP {
			log.Debug().
				Str("component", "association").
				Uint8("pdu_type", pdu.Type).
				Msg("Unexpected PDU while releasing association")
		}
	}

	err := a.conn.Close()
	a.conn = nil
	return err
}

// Abort tears the association down without the release handshake
func (a *Association) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.open {
		return
	}
	a.open = false
	_ = WritePDU(a.conn, PDUAbort, []byte{0x00, 0x00, 0x00, 0x00})
	a.conn.Close()
	a.conn = nil
}

// CEcho performs a C-ECHO on the verification SOP class
func (a *Association) CEcho(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.open {
		return dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "C-ECHO on a closed association")
	}

	contexts := a.accepted[dicom.VerificationSOPClass]
	if len(contexts) == 0 {
		return dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "verification SOP class was not accepted")
	}
	var contextID byte
	for _, id := range contexts {
		contextID = id
		break
	}

	request := &Message{
		CommandField:        CEchoRQ,
		MessageID:           a.nextMessageID(),
		AffectedSOPClassUID: dicom.VerificationSOPClass,
		CommandDataSetType:  DataSetNull,
	}

	response, _, err := a.roundTrip(contextID, request, nil)
	if err != nil {
		return err
	}
	if response.Status != StatusSuccess {
		return &dicomerr.DimseStatusError{Operation: "C-ECHO", Status: response.Status}
	}
	return nil
}

// CStoreOptions carries the optional move-originator bookkeeping of a
// C-STORE issued as a sub-operation of a C-MOVE.
type CStoreOptions struct {
	MoveOriginatorAET       string
	MoveOriginatorMessageID uint16
}

// CStore sends one instance over an accepted presentation context and
// returns the peer's status.
func (a *Association) CStore(ctx context.Context, contextID byte, sopClassUID, sopInstanceUID string,
	payload []byte, opts CStoreOptions) (uint16, error) {

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.open {
		return 0, dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "C-STORE on a closed association")
	}
	if sopClassUID == "" || sopInstanceUID == "" {
		return 0, dicomerr.Wrap(dicomerr.ErrNoSopClassOrInstance, "C-STORE without SOP identifiers")
	}

	request := &Message{
		CommandField:            CStoreRQ,
		MessageID:               a.nextMessageID(),
		AffectedSOPClassUID:     sopClassUID,
		AffectedSOPInstanceUID:  sopInstanceUID,
		Priority:                0x0000,
		CommandDataSetType:      DataSetPresent,
		MoveOriginatorAET:       opts.MoveOriginatorAET,
		MoveOriginatorMessageID: opts.MoveOriginatorMessageID,
	}

	response, _, err := a.roundTrip(contextID, request, payload)
	if err != nil {
		return 0, err
	}
	return response.Status, nil
}

// CMoveProgress carries the sub-operation counters of one pending C-MOVE
// response. Counters the peer omitted are zero.
type CMoveProgress struct {
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
}

// CMove asks the peer to send the resources matched by identifier to the
// destination AET, then drains the response stream. onPending is invoked
// for every pending response; it may be nil. The returned message is the
// final response, counters included.
func (a *Association) CMove(ctx context.Context, contextID byte, sopClassUID, destination string,
	priority uint16, identifier []byte, onPending func(CMoveProgress)) (*Message, error) {

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.open {
		return nil, dicomerr.Wrap(dicomerr.ErrBadSequenceOfCalls, "C-MOVE on a closed association")
	}

	request := &Message{
		CommandField:        CMoveRQ,
		MessageID:           a.nextMessageID(),
		AffectedSOPClassUID: sopClassUID,
		MoveDestination:     destination,
		Priority:            priority,
		CommandDataSetType:  DataSetPresent,
	}

	a.applyDeadline(a.conn)
	if err := WritePData(a.conn, contextID, a.maxPDU, EncodeCommand(request), true); err != nil {
		return nil, wrapNetError("sending C-MOVE command", err)
	}
	if err := WritePData(a.conn, contextID, a.maxPDU, identifier, false); err != nil {
		return nil, wrapNetError("sending C-MOVE identifier", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a.applyDeadline(a.conn)
		response, _, err := a.readMessage()
		if err != nil {
			return nil, err
		}
		if response.CommandField != CMoveRSP {
			return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
				"unexpected response to C-MOVE (command 0x%04x)", response.CommandField)
		}
		if response.Status != StatusPending && response.Status != StatusPendingWarning {
			return response, nil
		}
		if onPending != nil {
			onPending(CMoveProgress{
				Remaining: counterValue(response.NumberOfRemainingSuboperations),
				Completed: counterValue(response.NumberOfCompletedSuboperations),
				Failed:    counterValue(response.NumberOfFailedSuboperations),
				Warning:   counterValue(response.NumberOfWarningSuboperations),
			})
		}
	}
}

func counterValue(v *uint16) uint16 {
	if v == nil {
		return 0
	}
	return *v
}

// roundTrip sends one DIMSE message and reads one response. Callers hold
// the association mutex.
func (a *Association) roundTrip(contextID byte, request *Message, payload []byte) (*Message, []byte, error) {
	a.applyDeadline(a.conn)

	if err := WritePData(a.conn, contextID, a.maxPDU, EncodeCommand(request), true); err != nil {
		return nil, nil, wrapNetError("sending DIMSE command", err)
	}
	if request.HasDataSet() {
		if err := WritePData(a.conn, contextID, a.maxPDU, payload, false); err != nil {
			return nil, nil, wrapNetError("sending DIMSE dataset", err)
		}
	}

	return a.readMessage()
}

// readMessage assembles one DIMSE message (command plus optional dataset)
// from incoming P-DATA-TF PDUs.
func (a *Association) readMessage() (*Message, []byte, error) {
	var commandBuf, datasetBuf []byte
	var message *Message

	for {
		pdu, err := ReadPDU(a.conn)
		if err != nil {
			return nil, nil, wrapNetError("receiving DIMSE message", err)
		}

		switch pdu.Type {
		case PDUPDataTF:
			pdvs, err := ParsePDataTF(pdu.Data)
			if err != nil {
				return nil, nil, err
			}
			for _, pdv := range pdvs {
				if pdv.Command {
					commandBuf = append(commandBuf, pdv.Data...)
					if pdv.Last {
						message, err = ParseCommand(commandBuf)
						if err != nil {
							return nil, nil, err
						}
						if !message.HasDataSet() {
							return message, nil, nil
						}
					}
				} else {
					datasetBuf = append(datasetBuf, pdv.Data...)
					if pdv.Last {
						if message == nil {
							return nil, nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
								"dataset PDV before DIMSE command")
						}
						return message, datasetBuf, nil
					}
				}
			}

		case PDUAbort:
			a.open = false
			a.conn.Close()
			a.conn = nil
			return nil, nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "association aborted by peer")

		default:
			return nil, nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
				"unexpected PDU type 0x%02x inside association", pdu.Type)
		}
	}
}

func (a *Association) nextMessageID() uint16 {
	a.messageID++
	if a.messageID == 0 {
		a.messageID = 1
	}
	return a.messageID
}

func (a *Association) applyDeadline(conn net.Conn) {
	if conn == nil {
		return
	}
	if timeout := a.params.TimeoutDuration(); timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	} else {
		conn.SetDeadline(time.Time{})
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func wrapNetError(op string, err error) error {
	if isTimeout(err) {
		return dicomerr.Wrap(dicomerr.ErrTimeout, "%s", op)
	}
	return dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "%s: %v", op, err)
}
