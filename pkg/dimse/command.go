package dimse

import (
	"encoding/binary"
	"strings"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// DIMSE command field values
const (
	CStoreRQ  uint16 = 0x0001
	CStoreRSP uint16 = 0x8001
	CGetRQ    uint16 = 0x0010
	CGetRSP   uint16 = 0x8010
	CFindRQ   uint16 = 0x0020
	CFindRSP  uint16 = 0x8020
	CMoveRQ   uint16 = 0x0021
	CMoveRSP  uint16 = 0x8021
	CEchoRQ   uint16 = 0x0030
	CEchoRSP  uint16 = 0x8030
	CCancelRQ uint16 = 0x0FFF

	NEventReportRQ  uint16 = 0x0100
	NEventReportRSP uint16 = 0x8100
	NActionRQ       uint16 = 0x0130
	NActionRSP      uint16 = 0x8130
)

// DIMSE status codes
const (
	StatusSuccess                uint16 = 0x0000
	StatusCancel                 uint16 = 0xFE00
	StatusPending                uint16 = 0xFF00
	StatusPendingWarning         uint16 = 0xFF01
	StatusSOPClassNotSupported   uint16 = 0x0122
	StatusNotAuthorized          uint16 = 0x0124
	StatusMoveDestinationUnknown uint16 = 0xA801
	StatusIdentifierDoesNotMatch uint16 = 0xA900
	StatusUnableToProcess        uint16 = 0xC000
	StatusWarningSubOperations   uint16 = 0xB000
)

// DIMSE priority field values
const (
	PriorityMedium uint16 = 0x0000
	PriorityHigh   uint16 = 0x0001
	PriorityLow    uint16 = 0x0002
)

// IsWarningStatus reports whether a C-STORE-RSP status counts as a warning
// for the sub-operation counters (the 0xB000..0xBFFF band).
func IsWarningStatus(status uint16) bool {
	return status >= 0xB000 && status <= 0xBFFF
}

// Command data set type values
const (
	DataSetPresent uint16 = 0x0000
	DataSetNull    uint16 = 0x0101
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MoveDestination           string

	// N-service addressing: N-ACTION and N-EVENT-REPORT name the SOP
	// instance they operate on, plus the action or event within it
	RequestedSOPClassUID    string
	RequestedSOPInstanceUID string
	ActionTypeID            uint16
	EventTypeID             uint16

	// Move originator bookkeeping for C-STORE sub-operations
	MoveOriginatorAET       string
	MoveOriginatorMessageID uint16

	// C-MOVE and C-GET response counters
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// HasDataSet reports whether a dataset follows the command
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != DataSetNull
}

// ResponseCommandFor maps a DIMSE request command to its response command
func ResponseCommandFor(request uint16) uint16 {
	return request | 0x8000
}

// Command group 0000 element numbers
const (
	elemGroupLength             = 0x0000
	elemAffectedSOPClassUID     = 0x0002
	elemRequestedSOPClassUID    = 0x0003
	elemCommandField            = 0x0100
	elemMessageID               = 0x0110
	elemMessageIDRespondedTo    = 0x0120
	elemMoveDestination         = 0x0600
	elemPriority                = 0x0700
	elemDataSetType             = 0x0800
	elemStatus                  = 0x0900
	elemAffectedSOPInstanceUID  = 0x1000
	elemRequestedSOPInstanceUID = 0x1001
	elemEventTypeID             = 0x1002
	elemActionTypeID            = 0x1008
	elemMoveOriginatorAET       = 0x1030
	elemMoveOriginatorMessageID = 0x1031
	elemNumberOfRemainingSubOps = 0x1020
	elemNumberOfCompletedSubOps = 0x1021
	elemNumberOfFailedSubOps    = 0x1022
	elemNumberOfWarningSubOps   = 0x1023
)

// EncodeCommand serializes a DIMSE command in implicit VR little endian,
// prefixed with the mandatory command group length element.
func EncodeCommand(msg *Message) []byte {
	var body []byte

	appendUint16 := func(element uint16, value uint16) {
		header := make([]byte, 8)
		binary.LittleEndian.PutUint16(header[0:2], 0x0000)
		binary.LittleEndian.PutUint16(header[2:4], element)
		binary.LittleEndian.PutUint32(header[4:8], 2)
		body = append(body, header...)
		value16 := make([]byte, 2)
		binary.LittleEndian.PutUint16(value16, value)
		body = append(body, value16...)
	}

	appendString := func(element uint16, value string) {
		if value == "" {
			return
		}
		raw := []byte(value)
		if len(raw)%2 == 1 {
			raw = append(raw, 0x00)
		}
		header := make([]byte, 8)
		binary.LittleEndian.PutUint16(header[0:2], 0x0000)
		binary.LittleEndian.PutUint16(header[2:4], element)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(raw)))
		body = append(body, header...)
		body = append(body, raw...)
	}

	appendString(elemAffectedSOPClassUID, msg.AffectedSOPClassUID)
	appendString(elemRequestedSOPClassUID, msg.RequestedSOPClassUID)
	appendUint16(elemCommandField, msg.CommandField)
	if msg.MessageID != 0 {
		appendUint16(elemMessageID, msg.MessageID)
	}
	if msg.MessageIDBeingRespondedTo != 0 {
		appendUint16(elemMessageIDRespondedTo, msg.MessageIDBeingRespondedTo)
	}
	appendString(elemMoveDestination, msg.MoveDestination)
	if msg.Priority != 0 {
		appendUint16(elemPriority, msg.Priority)
	}
	appendUint16(elemDataSetType, msg.CommandDataSetType)
	if msg.CommandField&0x8000 != 0 {
		appendUint16(elemStatus, msg.Status)
	}
	appendString(elemAffectedSOPInstanceUID, msg.AffectedSOPInstanceUID)
	appendString(elemRequestedSOPInstanceUID, msg.RequestedSOPInstanceUID)
	if msg.EventTypeID != 0 {
		appendUint16(elemEventTypeID, msg.EventTypeID)
	}
	if msg.ActionTypeID != 0 {
		appendUint16(elemActionTypeID, msg.ActionTypeID)
	}
	appendString(elemMoveOriginatorAET, msg.MoveOriginatorAET)
	if msg.MoveOriginatorMessageID != 0 {
		appendUint16(elemMoveOriginatorMessageID, msg.MoveOriginatorMessageID)
	}
	if msg.NumberOfRemainingSuboperations != nil {
		appendUint16(elemNumberOfRemainingSubOps, *msg.NumberOfRemainingSuboperations)
	}
	if msg.NumberOfCompletedSuboperations != nil {
		appendUint16(elemNumberOfCompletedSubOps, *msg.NumberOfCompletedSuboperations)
	}
	if msg.NumberOfFailedSuboperations != nil {
		appendUint16(elemNumberOfFailedSubOps, *msg.NumberOfFailedSuboperations)
	}
	if msg.NumberOfWarningSuboperations != nil {
		appendUint16(elemNumberOfWarningSubOps, *msg.NumberOfWarningSuboperations)
	}

	// Prepend (0000,0000) command group length
	out := make([]byte, 0, len(body)+12)
	header := make([]byte, 8)
	binary.LittleEndian.PutUint16(header[0:2], 0x0000)
	binary.LittleEndian.PutUint16(header[2:4], elemGroupLength)
	binary.LittleEndian.PutUint32(header[4:8], 4)
	out = append(out, header...)
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(len(body)))
	out = append(out, length...)
	out = append(out, body...)
	return out
}

// ParseCommand decodes a DIMSE command from implicit VR little endian bytes
func ParseCommand(data []byte) (*Message, error) {
	if len(data) < 12 {
		return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "DIMSE command too short: %d bytes", len(data))
	}

	msg := &Message{CommandDataSetType: DataSetNull}

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		valueStart := offset + 8
		valueEnd := valueStart + int(length)

		if valueEnd > len(data) {
			return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "truncated DIMSE element (0000,%04x)", element)
		}

		if group == 0x0000 {
			value := data[valueStart:valueEnd]
			switch element {
			case elemGroupLength:
				// length of the remaining group, nothing to keep
			case elemCommandField:
				msg.CommandField = readUint16(value)
			case elemMessageID:
				msg.MessageID = readUint16(value)
			case elemMessageIDRespondedTo:
				msg.MessageIDBeingRespondedTo = readUint16(value)
			case elemAffectedSOPClassUID:
				msg.AffectedSOPClassUID = readString(value)
			case elemAffectedSOPInstanceUID:
				msg.AffectedSOPInstanceUID = readString(value)
			case elemRequestedSOPClassUID:
				msg.RequestedSOPClassUID = readString(value)
			case elemRequestedSOPInstanceUID:
				msg.RequestedSOPInstanceUID = readString(value)
			case elemEventTypeID:
				msg.EventTypeID = readUint16(value)
			case elemActionTypeID:
				msg.ActionTypeID = readUint16(value)
			case elemPriority:
				msg.Priority = readUint16(value)
			case elemDataSetType:
				msg.CommandDataSetType = readUint16(value)
			case elemStatus:
				msg.Status = readUint16(value)
			case elemMoveDestination:
				msg.MoveDestination = readString(value)
			case elemMoveOriginatorAET:
				msg.MoveOriginatorAET = readString(value)
			case elemMoveOriginatorMessageID:
				msg.MoveOriginatorMessageID = readUint16(value)
			case elemNumberOfRemainingSubOps:
				msg.NumberOfRemainingSuboperations = uint16Ptr(readUint16(value))
			case elemNumberOfCompletedSubOps:
				msg.NumberOfCompletedSuboperations = uint16Ptr(readUint16(value))
			case elemNumberOfFailedSubOps:
				msg.NumberOfFailedSuboperations = uint16Ptr(readUint16(value))
			case elemNumberOfWarningSubOps:
				msg.NumberOfWarningSuboperations = uint16Ptr(readUint16(value))
			}
		}

		offset = valueEnd
		if length%2 == 1 {
			offset++
		}
	}

	return msg, nil
}

func readUint16(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(data[:2])
}

func readString(data []byte) string {
	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func uint16Ptr(v uint16) *uint16 {
	return &v
}
