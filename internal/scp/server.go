package scp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
	"github.com/otcheredev/dicom-store/pkg/dimse"
)

// errAssociationReleased signals a graceful A-RELEASE from the peer.
var errAssociationReleased = errors.New("association released")

// ServerConfig tunes the association acceptor.
type ServerConfig struct {
	// LocalAET is the AE title this server answers to.
	LocalAET string

	// CheckCalledAET rejects associations whose called AET does not
	// match LocalAET.
	CheckCalledAET bool

	// MaxPDULength is offered to peers during negotiation.
	MaxPDULength uint32

	// AssociationTimeout bounds each read and write on an association.
	AssociationTimeout time.Duration

	// AlwaysAllowGet authorizes C-GET from peers that are not
	// registered as modalities.
	AlwaysAllowGet bool
}

// Server accepts DICOM associations and dispatches DIMSE requests to the
// per-operation drivers. Retrieval sub-services may be nil, in which case
// the matching SOP classes are rejected during negotiation.
type Server struct {
	config     ServerConfig
	store      *StoreSCP
	find       *FindSCP
	move       *MoveSCP
	get        *GetSCP
	resolver   ModalityResolver
	commitment CommitmentHandler

	mu     sync.Mutex
	closed bool
	ln     net.Listener
}

// NewServer wires the association acceptor to its drivers. resolver may
// be nil when no modality registry backs peer authorization; commitment
// may be nil to reject the storage commitment SOP class outright.
func NewServer(config ServerConfig, store *StoreSCP, find *FindSCP, move *MoveSCP, get *GetSCP,
	resolver ModalityResolver, commitment CommitmentHandler) *Server {
	if config.MaxPDULength == 0 {
		config.MaxPDULength = 16384
	}
	if config.AssociationTimeout == 0 {
		config.AssociationTimeout = 30 * time.Second
	}
	return &Server{
		config:     config,
		store:      store,
		find:       find,
		move:       move,
		get:        get,
		resolver:   resolver,
		commitment: commitment,
	}
}

// Serve accepts associations until the listener closes or the context is
// canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	log.Info().
		Str("component", "scp").
		Str("aet", s.config.LocalAET).
		Str("address", ln.Addr().String()).
		Msg("DICOM server listening")

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			wg.Wait()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Close stops accepting associations.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ln == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.ln.Close()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	assoc, err := s.negotiateAssociation(conn)
	if err != nil {
		log.Debug().
			Str("component", "scp").
			Str("peer", conn.RemoteAddr().String()).
			Err(err).
			Msg("Association negotiation failed")
		return
	}

	log.Info().
		Str("component", "scp").
		Str("calling_aet", assoc.callingAET).
		Str("peer", conn.RemoteAddr().String()).
		Int("contexts", len(assoc.contexts)).
		Msg("Association accepted")

	for {
		msg, payload, contextID, err := assoc.readRequest()
		if err != nil {
			if errors.Is(err, errAssociationReleased) {
				log.Debug().
					Str("component", "scp").
					Str("calling_aet", assoc.callingAET).
					Msg("Association released")
			} else if !errors.Is(err, io.EOF) {
				log.Warn().
					Str("component", "scp").
					Str("calling_aet", assoc.callingAET).
					Err(err).
					Msg("Association closed on error")
			}
			return
		}

		if err := s.dispatch(ctx, assoc, msg, payload, contextID); err != nil {
			log.Warn().
				Str("component", "scp").
				Str("calling_aet", assoc.callingAET).
				Err(err).
				Msg("DIMSE dispatch failed, aborting association")
			assoc.abort()
			return
		}
	}
}

// serverAssociation is the SCP side of one accepted association.
type serverAssociation struct {
	conn         net.Conn
	timeout      time.Duration
	calledAET    string
	callingAET   string
	maxPDULength uint32
	contexts     map[byte]acceptedServerContext
	messageID    uint16
}

type acceptedServerContext struct {
	abstractSyntax string
	transferSyntax dicom.TransferSyntax
}

// uncompressedPreference is the order the server picks a transfer syntax
// out of the peer's proposal. Compressed syntaxes are rejected: received
// objects must stay parseable for indexing.
var uncompressedPreference = []dicom.TransferSyntax{
	dicom.ExplicitVRLittleEndian,
	dicom.ImplicitVRLittleEndian,
	dicom.ExplicitVRBigEndian,
}

func pickTransferSyntax(proposed []string) (dicom.TransferSyntax, bool) {
	offered := make(map[string]bool, len(proposed))
	for _, ts := range proposed {
		offered[ts] = true
	}
	for _, ts := range uncompressedPreference {
		if offered[string(ts)] {
			return ts, true
		}
	}
	return "", false
}

func (s *Server) supportsAbstractSyntax(uid string) bool {
	switch uid {
	case dicom.VerificationSOPClass:
		return true
	case dicom.PatientRootQueryRetrieveInformationModelFind,
		dicom.StudyRootQueryRetrieveInformationModelFind,
		dicom.PatientStudyOnlyQueryRetrieveInformationModelFind:
		return s.find != nil
	case dicom.PatientRootQueryRetrieveInformationModelMove,
		dicom.StudyRootQueryRetrieveInformationModelMove,
		dicom.PatientStudyOnlyQueryRetrieveInformationModelMove:
		return s.move != nil
	case dicom.PatientRootQueryRetrieveInformationModelGet,
		dicom.StudyRootQueryRetrieveInformationModelGet,
		dicom.PatientStudyOnlyQueryRetrieveInformationModelGet:
		return s.get != nil
	case dicom.StorageCommitmentPushModelSOPClass:
		return s.commitment != nil
	default:
		return dicom.IsStorageSOPClass(uid) && s.store != nil
	}
}

func (s *Server) negotiateAssociation(conn net.Conn) (*serverAssociation, error) {
	if s.config.AssociationTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.config.AssociationTimeout))
	}

	pdu, err := dimse.ReadPDU(conn)
	if err != nil {
		return nil, err
	}
	if pdu.Type != dimse.PDUAssociateRQ {
		return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "expected A-ASSOCIATE-RQ, got PDU 0x%02x", pdu.Type)
	}

	request, err := dimse.ParseAssociateRQ(pdu.Data)
	if err != nil {
		return nil, err
	}

	if s.config.CheckCalledAET && request.CalledAET != s.config.LocalAET {
		// Rejected permanent, DICOM UL service user, called AE title
		// not recognized.
		dimse.WritePDU(conn, dimse.PDUAssociateRJ, dimse.BuildAssociateRJ(1, 1, 7))
		return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
			"called AET %q does not match %q", request.CalledAET, s.config.LocalAET)
	}

	replies := make([]dimse.ContextReply, 0, len(request.Contexts))
	contexts := make(map[byte]acceptedServerContext)
	for _, pc := range request.Contexts {
		reply := dimse.ContextReply{ID: pc.ID}
		switch {
		case !s.supportsAbstractSyntax(pc.AbstractSyntax):
			reply.Result = dimse.ContextAbstractSyntaxReject
		default:
			ts, ok := pickTransferSyntax(pc.TransferSyntaxes)
			if !ok {
				reply.Result = dimse.ContextTransferSyntaxReject
			} else {
				reply.Result = dimse.ContextAccepted
				reply.TransferSyntax = ts
				contexts[pc.ID] = acceptedServerContext{
					abstractSyntax: pc.AbstractSyntax,
					transferSyntax: ts,
				}
			}
		}
		replies = append(replies, reply)
	}

	ac := dimse.BuildAssociateAC(request.CalledAET, request.CallingAET, s.config.MaxPDULength, replies)
	if err := dimse.WritePDU(conn, dimse.PDUAssociateAC, ac); err != nil {
		return nil, err
	}

	return &serverAssociation{
		conn:         conn,
		timeout:      s.config.AssociationTimeout,
		calledAET:    request.CalledAET,
		callingAET:   request.CallingAET,
		maxPDULength: request.MaxPDULength,
		contexts:     contexts,
	}, nil
}

func (a *serverAssociation) applyDeadline() {
	if a.timeout > 0 {
		a.conn.SetDeadline(time.Now().Add(a.timeout))
	}
}

// readRequest assembles the next complete DIMSE message: the command and,
// when announced, its dataset.
func (a *serverAssociation) readRequest() (*dimse.Message, []byte, byte, error) {
	var commandData, datasetData []byte
	var contextID byte
	var msg *dimse.Message

	for {
		a.applyDeadline()
		pdu, err := dimse.ReadPDU(a.conn)
		if err != nil {
			return nil, nil, 0, err
		}

		switch pdu.Type {
		case dimse.PDUReleaseRQ:
			dimse.WritePDU(a.conn, dimse.PDUReleaseRP, make([]byte, 4))
			return nil, nil, 0, errAssociationReleased
		case dimse.PDUAbort:
			return nil, nil, 0, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "association aborted by peer")
		case dimse.PDUPDataTF:
			// handled below
		default:
			return nil, nil, 0, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "unexpected PDU 0x%02x", pdu.Type)
		}

		pdvs, err := dimse.ParsePDataTF(pdu.Data)
		if err != nil {
			return nil, nil, 0, err
		}

		for _, pdv := range pdvs {
			contextID = pdv.ContextID
			if pdv.Command {
				commandData = append(commandData, pdv.Data...)
				if !pdv.Last {
					continue
				}
				msg, err = dimse.ParseCommand(commandData)
				if err != nil {
					return nil, nil, 0, err
				}
				if !msg.HasDataSet() {
					return msg, nil, contextID, nil
				}
			} else {
				datasetData = append(datasetData, pdv.Data...)
				if pdv.Last && msg != nil {
					return msg, datasetData, contextID, nil
				}
			}
		}
	}
}

func (a *serverAssociation) writeMessage(contextID byte, msg *dimse.Message, dataset []byte) error {
	a.applyDeadline()
	if err := dimse.WritePData(a.conn, contextID, a.maxPDULength, dimse.EncodeCommand(msg), true); err != nil {
		return err
	}
	if dataset != nil {
		return dimse.WritePData(a.conn, contextID, a.maxPDULength, dataset, false)
	}
	return nil
}

func (a *serverAssociation) abort() {
	a.applyDeadline()
	dimse.WritePDU(a.conn, dimse.PDUAbort, []byte{0x00, 0x00, 0x00, 0x00})
}

// ContextFor implements SubOperationSender for C-GET sub-operations.
func (a *serverAssociation) ContextFor(sopClassUID string, preferred []dicom.TransferSyntax) (byte, dicom.TransferSyntax, bool) {
	for _, want := range preferred {
		for id, pc := range a.contexts {
			if pc.abstractSyntax == sopClassUID && pc.transferSyntax == want {
				return id, pc.transferSyntax, true
			}
		}
	}
	for id, pc := range a.contexts {
		if pc.abstractSyntax == sopClassUID {
			return id, pc.transferSyntax, true
		}
	}
	return 0, "", false
}

// Store implements SubOperationSender: it issues a C-STORE on the given
// context and waits for the peer's response.
func (a *serverAssociation) Store(ctx context.Context, contextID byte, sopClassUID, sopInstanceUID string,
	payload []byte) (uint16, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.messageID++
	request := &dimse.Message{
		CommandField:           dimse.CStoreRQ,
		MessageID:              a.messageID,
		AffectedSOPClassUID:    sopClassUID,
		AffectedSOPInstanceUID: sopInstanceUID,
		Priority:               dimse.PriorityMedium,
		CommandDataSetType:     dimse.DataSetPresent,
	}
	if err := a.writeMessage(contextID, request, payload); err != nil {
		return 0, err
	}

	response, _, _, err := a.readRequest()
	if err != nil {
		return 0, err
	}
	if response.CommandField != dimse.CStoreRSP || response.MessageIDBeingRespondedTo != a.messageID {
		return 0, dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
			"unexpected response to C-STORE sub-operation (command 0x%04x)", response.CommandField)
	}
	return response.Status, nil
}

func (s *Server) dispatch(ctx context.Context, assoc *serverAssociation, msg *dimse.Message,
	payload []byte, contextID byte) error {

	pc, ok := assoc.contexts[contextID]
	if !ok {
		return dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "request on unaccepted context %d", contextID)
	}

	switch msg.CommandField {
	case dimse.CEchoRQ:
		return assoc.writeMessage(contextID, &dimse.Message{
			CommandField:              dimse.CEchoRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			CommandDataSetType:        dimse.DataSetNull,
			Status:                    dimse.StatusSuccess,
		}, nil)

	case dimse.CStoreRQ:
		return s.handleStore(ctx, assoc, msg, payload, contextID, pc)

	case dimse.CFindRQ:
		if s.find == nil {
			return s.writeFinal(assoc, contextID, msg, dimse.CFindRSP, dimse.StatusSOPClassNotSupported)
		}
		return s.handleFind(ctx, assoc, msg, payload, contextID, pc)

	case dimse.CMoveRQ:
		if s.move == nil {
			return s.writeFinal(assoc, contextID, msg, dimse.CMoveRSP, dimse.StatusSOPClassNotSupported)
		}
		return s.handleMove(ctx, assoc, msg, payload, contextID, pc)

	case dimse.CGetRQ:
		if s.get == nil {
			return s.writeFinal(assoc, contextID, msg, dimse.CGetRSP, dimse.StatusSOPClassNotSupported)
		}
		return s.handleGet(ctx, assoc, msg, payload, contextID, pc)

	case dimse.NActionRQ:
		return s.handleCommitmentRequest(ctx, assoc, msg, payload, contextID, pc)

	case dimse.NEventReportRQ:
		return s.handleCommitmentReport(ctx, assoc, msg, payload, contextID, pc)

	default:
		return assoc.writeMessage(contextID, &dimse.Message{
			CommandField:              dimse.ResponseCommandFor(msg.CommandField),
			MessageIDBeingRespondedTo: msg.MessageID,
			CommandDataSetType:        dimse.DataSetNull,
			Status:                    dimse.StatusSOPClassNotSupported,
		}, nil)
	}
}

func (s *Server) handleStore(ctx context.Context, assoc *serverAssociation, msg *dimse.Message,
	payload []byte, contextID byte, pc acceptedServerContext) error {

	status := dimse.StatusSuccess
	if s.store == nil {
		status = dimse.StatusSOPClassNotSupported
	} else if _, err := s.store.Store(ctx, payload, pc.transferSyntax); err != nil {
		log.Warn().
			Str("component", "scp").
			Str("calling_aet", assoc.callingAET).
			Err(err).
			Msg("C-STORE failed")
		status = dimse.StatusUnableToProcess
	}

	return assoc.writeMessage(contextID, &dimse.Message{
		CommandField:              dimse.CStoreRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        dimse.DataSetNull,
		Status:                    status,
	}, nil)
}

func (s *Server) handleFind(ctx context.Context, assoc *serverAssociation, msg *dimse.Message,
	payload []byte, contextID byte, pc acceptedServerContext) error {

	query, err := dicom.Parse(payload, pc.transferSyntax)
	if err != nil {
		return s.writeFinal(assoc, contextID, msg, dimse.CFindRSP, dimse.StatusIdentifierDoesNotMatch)
	}

	answers, err := s.find.Find(ctx, assoc.callingAET, query)
	if err != nil {
		status := dimse.StatusUnableToProcess
		if errors.Is(err, dicomerr.ErrBadRequest) {
			status = dimse.StatusIdentifierDoesNotMatch
		}
		return s.writeFinal(assoc, contextID, msg, dimse.CFindRSP, status)
	}

	for _, answer := range answers {
		answer.TransferSyntax = pc.transferSyntax
		encoded, err := answer.Encode()
		if err != nil {
			return err
		}
		pending := &dimse.Message{
			CommandField:              dimse.CFindRSP,
			MessageIDBeingRespondedTo: msg.MessageID,
			AffectedSOPClassUID:       msg.AffectedSOPClassUID,
			CommandDataSetType:        dimse.DataSetPresent,
			Status:                    dimse.StatusPending,
		}
		if err := assoc.writeMessage(contextID, pending, encoded); err != nil {
			return err
		}
	}

	return s.writeFinal(assoc, contextID, msg, dimse.CFindRSP, dimse.StatusSuccess)
}

func (s *Server) handleMove(ctx context.Context, assoc *serverAssociation, msg *dimse.Message,
	payload []byte, contextID byte, pc acceptedServerContext) error {

	query, err := dicom.Parse(payload, pc.transferSyntax)
	if err != nil {
		return s.writeFinal(assoc, contextID, msg, dimse.CMoveRSP, dimse.StatusIdentifierDoesNotMatch)
	}

	progress := func(p MoveProgress) error {
		return s.writeRetrieveResponse(assoc, contextID, msg, dimse.CMoveRSP, dimse.StatusPending, p, nil)
	}

	result, err := s.move.Move(ctx, assoc.callingAET, msg.MessageID, msg.Priority,
		msg.MoveDestination, query, progress)
	if err != nil {
		status := dimse.StatusUnableToProcess
		if errors.Is(err, dicomerr.ErrBadRequest) {
			status = dimse.StatusIdentifierDoesNotMatch
		}
		return s.writeFinal(assoc, contextID, msg, dimse.CMoveRSP, status)
	}

	return s.writeRetrieveFinal(assoc, contextID, msg, dimse.CMoveRSP, result, pc)
}

func (s *Server) handleGet(ctx context.Context, assoc *serverAssociation, msg *dimse.Message,
	payload []byte, contextID byte, pc acceptedServerContext) error {

	if !s.getAuthorized(ctx, assoc.callingAET) {
		log.Warn().
			Str("component", "scp").
			Str("calling_aet", assoc.callingAET).
			Msg("C-GET refused: peer is not authorized")
		return s.writeFinal(assoc, contextID, msg, dimse.CGetRSP, dimse.StatusNotAuthorized)
	}

	query, err := dicom.Parse(payload, pc.transferSyntax)
	if err != nil {
		return s.writeFinal(assoc, contextID, msg, dimse.CGetRSP, dimse.StatusIdentifierDoesNotMatch)
	}

	progress := func(p MoveProgress) error {
		return s.writeRetrieveResponse(assoc, contextID, msg, dimse.CGetRSP, dimse.StatusPending, p, nil)
	}

	result, err := s.get.Get(ctx, assoc, query, progress)
	if err != nil {
		status := dimse.StatusUnableToProcess
		if errors.Is(err, dicomerr.ErrBadRequest) {
			status = dimse.StatusIdentifierDoesNotMatch
		}
		return s.writeFinal(assoc, contextID, msg, dimse.CGetRSP, status)
	}

	return s.writeRetrieveFinal(assoc, contextID, msg, dimse.CGetRSP, result, pc)
}

// handleCommitmentRequest answers an N-ACTION storage commitment request
// through the configured collaborator.
func (s *Server) handleCommitmentRequest(ctx context.Context, assoc *serverAssociation, msg *dimse.Message,
	payload []byte, contextID byte, pc acceptedServerContext) error {

	status := dimse.StatusSuccess
	if s.commitment == nil || pc.abstractSyntax != dicom.StorageCommitmentPushModelSOPClass {
		status = dimse.StatusSOPClassNotSupported
	} else {
		transactionUID, items := parseCommitmentInformation(payload, pc.transferSyntax)
		if err := s.commitment.HandleRequest(ctx, transactionUID, items); err != nil {
			log.Warn().
				Str("component", "scp").
				Str("calling_aet", assoc.callingAET).
				Str("transaction_uid", transactionUID).
				Err(err).
				Msg("Storage commitment request refused")
			status = dimse.StatusUnableToProcess
		}
	}

	return assoc.writeMessage(contextID, &dimse.Message{
		CommandField:              dimse.NActionRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.RequestedSOPClassUID,
		AffectedSOPInstanceUID:    msg.RequestedSOPInstanceUID,
		ActionTypeID:              msg.ActionTypeID,
		CommandDataSetType:        dimse.DataSetNull,
		Status:                    status,
	}, nil)
}

// handleCommitmentReport receives the N-EVENT-REPORT outcome of a
// commitment this server requested elsewhere.
func (s *Server) handleCommitmentReport(ctx context.Context, assoc *serverAssociation, msg *dimse.Message,
	payload []byte, contextID byte, pc acceptedServerContext) error {

	status := dimse.StatusSuccess
	if s.commitment == nil || pc.abstractSyntax != dicom.StorageCommitmentPushModelSOPClass {
		status = dimse.StatusSOPClassNotSupported
	} else {
		transactionUID, items := parseCommitmentInformation(payload, pc.transferSyntax)
		if err := s.commitment.HandleReport(ctx, transactionUID, items, nil); err != nil {
			log.Warn().
				Str("component", "scp").
				Str("calling_aet", assoc.callingAET).
				Str("transaction_uid", transactionUID).
				Err(err).
				Msg("Storage commitment report refused")
			status = dimse.StatusUnableToProcess
		}
	}

	return assoc.writeMessage(contextID, &dimse.Message{
		CommandField:              dimse.NEventReportRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		EventTypeID:               msg.EventTypeID,
		CommandDataSetType:        dimse.DataSetNull,
		Status:                    status,
	}, nil)
}

// getAuthorized implements the C-GET permission rule: the peer must be a
// registered modality with the get permission unless AlwaysAllowGet is
// set.
func (s *Server) getAuthorized(ctx context.Context, callingAET string) bool {
	if s.config.AlwaysAllowGet {
		return true
	}
	if s.resolver == nil {
		return false
	}
	modality, err := s.resolver.ResolveAET(ctx, callingAET)
	if err != nil {
		return false
	}
	return modality.AllowGet
}

func (s *Server) writeFinal(assoc *serverAssociation, contextID byte, msg *dimse.Message,
	command uint16, status uint16) error {

	return assoc.writeMessage(contextID, &dimse.Message{
		CommandField:              command,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		CommandDataSetType:        dimse.DataSetNull,
		Status:                    status,
	}, nil)
}

func (s *Server) writeRetrieveResponse(assoc *serverAssociation, contextID byte, msg *dimse.Message,
	command uint16, status uint16, p MoveProgress, dataset []byte) error {

	remaining, completed, failed, warning := p.Remaining, p.Completed, p.Failed, p.Warning
	response := &dimse.Message{
		CommandField:                   command,
		MessageIDBeingRespondedTo:      msg.MessageID,
		AffectedSOPClassUID:            msg.AffectedSOPClassUID,
		CommandDataSetType:             dimse.DataSetNull,
		Status:                         status,
		NumberOfRemainingSuboperations: &remaining,
		NumberOfCompletedSuboperations: &completed,
		NumberOfFailedSuboperations:    &failed,
		NumberOfWarningSuboperations:   &warning,
	}
	if dataset != nil {
		response.CommandDataSetType = dimse.DataSetPresent
	}
	return assoc.writeMessage(contextID, response, dataset)
}

func (s *Server) writeRetrieveFinal(assoc *serverAssociation, contextID byte, msg *dimse.Message,
	command uint16, result *MoveResult, pc acceptedServerContext) error {

	var dataset []byte
	if len(result.FailedUIDs) > 0 {
		ds := FailedUIDsDataset(result.FailedUIDs)
		ds.TransferSyntax = pc.transferSyntax
		encoded, err := ds.Encode()
		if err != nil {
			return err
		}
		dataset = encoded
	}

	p := MoveProgress{Completed: result.Completed, Failed: result.Failed, Warning: result.Warning}
	return s.writeRetrieveResponse(assoc, contextID, msg, command, result.Status, p, dataset)
}

// ListenAndServe opens a TCP listener on addr and serves associations.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}
