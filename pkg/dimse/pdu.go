package dimse

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// PDU types of the DICOM Upper Layer Protocol
const (
	PDUAssociateRQ byte = 0x01
	PDUAssociateAC byte = 0x02
	PDUAssociateRJ byte = 0x03
	PDUPDataTF     byte = 0x04
	PDUReleaseRQ   byte = 0x05
	PDUReleaseRP   byte = 0x06
	PDUAbort       byte = 0x07
)

// Presentation context negotiation results
const (
	ContextAccepted             byte = 0x00
	ContextUserRejected         byte = 0x01
	ContextAbstractSyntaxReject byte = 0x03
	ContextTransferSyntaxReject byte = 0x04
)

// PDU is one framed protocol data unit
type PDU struct {
	Type byte
	Data []byte
}

// ReadPDU reads one PDU from the wire
func ReadPDU(r io.Reader) (*PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[2:6])
	if length > 64*1024*1024 {
		return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "PDU length %d too large", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return &PDU{Type: header[0], Data: data}, nil
}

// WritePDU frames and writes one PDU
func WritePDU(w io.Writer, pduType byte, data []byte) error {
	header := make([]byte, 6)
	header[0] = pduType
	binary.BigEndian.PutUint32(header[2:6], uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	length := make([]byte, 2)
	binary.BigEndian.PutUint16(length, uint16(len(value)))
	buf = append(buf, length...)
	return append(buf, value...)
}

func padAET(aet string) []byte {
	out := make([]byte, 16)
	copy(out, aet)
	for i := len(aet); i < 16; i++ {
		out[i] = ' '
	}
	return out
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

// ProposedContext is one presentation context of an A-ASSOCIATE-RQ: a SOP
// class with the transfer syntaxes offered for it.
type ProposedContext struct {
	ID               byte
	SOPClass         string
	TransferSyntaxes []dicom.TransferSyntax
}

// implementationClassUID identifies this stack in the user information item
const (
	implementationClassUID     = "1.2.826.0.1.3680043.9.7433.2.1"
	implementationVersion      = "DICOM_STORE_1"
	associationProtocolVersion = uint16(0x0001)
)

// BuildAssociateRQ serializes an A-ASSOCIATE-RQ body (without PDU header)
func BuildAssociateRQ(params AssociationParameters, contexts []ProposedContext) []byte {
	var buf []byte

	version := make([]byte, 2)
	binary.BigEndian.PutUint16(version, associationProtocolVersion)
	buf = append(buf, version...)
	buf = append(buf, 0x00, 0x00)
	buf = append(buf, padAET(params.RemoteAET)...)
	buf = append(buf, padAET(params.LocalAET)...)
	buf = append(buf, make([]byte, 32)...)

	buf = appendItem(buf, 0x10, []byte(dicom.ApplicationContextUID))

	for _, pc := range contexts {
		var item []byte
		item = append(item, pc.ID, 0x00, 0x00, 0x00)
		item = appendItem(item, 0x30, []byte(pc.SOPClass))
		for _, ts := range pc.TransferSyntaxes {
			item = appendItem(item, 0x40, []byte(ts))
		}
		buf = appendItem(buf, 0x20, item)
	}

	buf = appendItem(buf, 0x50, buildUserInformation(params.MaxPDULength))
	return buf
}

func buildUserInformation(maxPDULength uint32) []byte {
	var buf []byte

	maxLength := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLength, maxPDULength)
	buf = appendItem(buf, 0x51, maxLength)
	buf = appendItem(buf, 0x52, []byte(implementationClassUID))
	buf = appendItem(buf, 0x55, []byte(implementationVersion))
	return buf
}

// AcceptedContext is the outcome of one presentation context negotiation
type AcceptedContext struct {
	ID             byte
	Result         byte
	TransferSyntax dicom.TransferSyntax
}

// ParseAssociateAC decodes an A-ASSOCIATE-AC body. It returns the contexts
// keyed by id and the maximum PDU length granted by the peer.
func ParseAssociateAC(data []byte) (map[byte]AcceptedContext, uint32, error) {
	if len(data) < 68 {
		return nil, 0, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "A-ASSOCIATE-AC too short: %d bytes", len(data))
	}

	contexts := make(map[byte]AcceptedContext)
	maxPDULength := uint32(16384)

	offset := 68 // fixed header: version, reserved, called/calling AET, reserved
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		valueStart := offset + 4
		valueEnd := valueStart + itemLength
		if valueEnd > len(data) {
			return nil, 0, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "A-ASSOCIATE-AC item 0x%02x exceeds PDU", itemType)
		}
		value := data[valueStart:valueEnd]

		switch itemType {
		case 0x21: // presentation context item (AC variant)
			if len(value) < 4 {
				return nil, 0, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "presentation context reply too short")
			}
			accepted := AcceptedContext{ID: value[0], Result: value[2]}
			sub := 4
			for sub+4 <= len(value) {
				subType := value[sub]
				subLength := int(binary.BigEndian.Uint16(value[sub+2 : sub+4]))
				subEnd := sub + 4 + subLength
				if subEnd > len(value) {
					break
				}
				if subType == 0x40 {
					accepted.TransferSyntax = dicom.TransferSyntax(normalizeUID(value[sub+4 : subEnd]))
				}
				sub = subEnd
			}
			contexts[accepted.ID] = accepted

		case 0x50: // user information
			sub := 0
			for sub+4 <= len(value) {
				subType := value[sub]
				subLength := int(binary.BigEndian.Uint16(value[sub+2 : sub+4]))
				subEnd := sub + 4 + subLength
				if subEnd > len(value) {
					break
				}
				if subType == 0x51 && subLength == 4 {
					maxPDULength = binary.BigEndian.Uint32(value[sub+4 : subEnd])
				}
				sub = subEnd
			}
		}

		offset = valueEnd
	}

	return contexts, maxPDULength, nil
}

// AssociateRequest is the SCP-side view of an A-ASSOCIATE-RQ
type AssociateRequest struct {
	CalledAET    string
	CallingAET   string
	MaxPDULength uint32
	Contexts     []RequestedContext
}

// RequestedContext is one proposed presentation context as seen by the SCP
type RequestedContext struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// ParseAssociateRQ decodes an A-ASSOCIATE-RQ body
func ParseAssociateRQ(data []byte) (*AssociateRequest, error) {
	if len(data) < 68 {
		return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "A-ASSOCIATE-RQ too short: %d bytes", len(data))
	}

	req := &AssociateRequest{
		CalledAET:    strings.TrimSpace(string(data[4:20])),
		CallingAET:   strings.TrimSpace(string(data[20:36])),
		MaxPDULength: 16384,
	}

	offset := 68
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		valueStart := offset + 4
		valueEnd := valueStart + itemLength
		if valueEnd > len(data) {
			return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "A-ASSOCIATE-RQ item 0x%02x exceeds PDU", itemType)
		}
		value := data[valueStart:valueEnd]

		switch itemType {
		case 0x20: // presentation context
			if len(value) < 4 {
				return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "presentation context too short")
			}
			pc := RequestedContext{ID: value[0]}
			sub := 4
			for sub+4 <= len(value) {
				subType := value[sub]
				subLength := int(binary.BigEndian.Uint16(value[sub+2 : sub+4]))
				subEnd := sub + 4 + subLength
				if subEnd > len(value) {
					break
				}
				switch subType {
				case 0x30:
					pc.AbstractSyntax = normalizeUID(value[sub+4 : subEnd])
				case 0x40:
					pc.TransferSyntaxes = append(pc.TransferSyntaxes, normalizeUID(value[sub+4:subEnd]))
				}
				sub = subEnd
			}
			req.Contexts = append(req.Contexts, pc)

		case 0x50: // user information
			sub := 0
			for sub+4 <= len(value) {
				subType := value[sub]
				subLength := int(binary.BigEndian.Uint16(value[sub+2 : sub+4]))
				subEnd := sub + 4 + subLength
				if subEnd > len(value) {
					break
				}
				if subType == 0x51 && subLength == 4 {
					req.MaxPDULength = binary.BigEndian.Uint32(value[sub+4 : subEnd])
				}
				sub = subEnd
			}
		}

		offset = valueEnd
	}

	return req, nil
}

// ContextReply is the SCP's decision about one requested context
type ContextReply struct {
	ID             byte
	Result         byte
	TransferSyntax dicom.TransferSyntax
}

// BuildAssociateAC serializes an A-ASSOCIATE-AC body
func BuildAssociateAC(calledAET, callingAET string, maxPDULength uint32, replies []ContextReply) []byte {
	var buf []byte

	version := make([]byte, 2)
	binary.BigEndian.PutUint16(version, associationProtocolVersion)
	buf = append(buf, version...)
	buf = append(buf, 0x00, 0x00)
	buf = append(buf, padAET(calledAET)...)
	buf = append(buf, padAET(callingAET)...)
	buf = append(buf, make([]byte, 32)...)

	buf = appendItem(buf, 0x10, []byte(dicom.ApplicationContextUID))

	for _, reply := range replies {
		var item []byte
		item = append(item, reply.ID, 0x00, reply.Result, 0x00)
		ts := reply.TransferSyntax
		if ts == "" {
			ts = dicom.ImplicitVRLittleEndian
		}
		item = appendItem(item, 0x40, []byte(ts))
		buf = appendItem(buf, 0x21, item)
	}

	buf = appendItem(buf, 0x50, buildUserInformation(maxPDULength))
	return buf
}

// BuildAssociateRJ serializes an A-ASSOCIATE-RJ body
func BuildAssociateRJ(result, source, reason byte) []byte {
	return []byte{0x00, result, source, reason}
}

// ParseAssociateRJ decodes an A-ASSOCIATE-RJ body into source and reason
func ParseAssociateRJ(data []byte) (source, reason byte) {
	if len(data) >= 4 {
		return data[2], data[3]
	}
	return 0, 0
}

// PDV is one presentation data value of a P-DATA-TF PDU
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// ParsePDataTF splits a P-DATA-TF body into its presentation data values
func ParsePDataTF(data []byte) ([]PDV, error) {
	var out []PDV

	offset := 0
	for offset+6 <= len(data) {
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		if length < 2 || offset+4+int(length) > len(data) {
			return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "malformed PDV at offset %d", offset)
		}
		control := data[offset+5]
		out = append(out, PDV{
			ContextID: data[offset+4],
			Command:   control&0x01 != 0,
			Last:      control&0x02 != 0,
			Data:      data[offset+6 : offset+4+int(length)],
		})
		offset += 4 + int(length)
	}

	return out, nil
}

// WritePData fragments a command or dataset stream into P-DATA-TF PDUs
// bounded by the negotiated maximum PDU length.
func WritePData(w io.Writer, contextID byte, maxPDULength uint32, data []byte, isCommand bool) error {
	maxChunk := int(maxPDULength) - 12
	if maxChunk <= 0 {
		maxChunk = 16384 - 12
	}

	offset := 0
	for {
		chunk := len(data) - offset
		last := true
		if chunk > maxChunk {
			chunk = maxChunk
			last = false
		}

		pdv := make([]byte, 0, chunk+6)
		length := make([]byte, 4)
		binary.BigEndian.PutUint32(length, uint32(chunk+2))
		pdv = append(pdv, length...)
		pdv = append(pdv, contextID)

		var control byte
		if isCommand {
			control |= 0x01
		}
		if last {
			control |= 0x02
		}
		pdv = append(pdv, control)
		pdv = append(pdv, data[offset:offset+chunk]...)

		if err := WritePDU(w, PDUPDataTF, pdv); err != nil {
			return err
		}

		offset += chunk
		if last {
			return nil
		}
	}
}
