package dicom

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"
	"sort"
	"strings"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SQ = "SQ" // Sequence of Items
	VR_ST = "ST" // Short Text
	VR_TM = "TM" // Time
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
)

// longVRs require the 12-byte explicit header (2 reserved + 4-byte length).
var longVRs = map[string]bool{
	VR_OB: true, VR_OW: true, VR_SQ: true, VR_UN: true, VR_UT: true,
	"OD": true, "OF": true, "OL": true, "OV": true, "UC": true,
	"UR": true, "SV": true, "UV": true,
}

// Element represents a DICOM data element
type Element struct {
	Tag   Tag
	VR    string
	Value interface{} // string for text VRs, []byte for binary, uint16 for US
}

// DataSet is an in-memory DICOM dataset tagged with the transfer syntax it
// was decoded from (or will be encoded to).
type DataSet struct {
	Elements       map[Tag]*Element
	TransferSyntax TransferSyntax
}

// NewDataSet creates an empty dataset in the given transfer syntax
func NewDataSet(ts TransferSyntax) *DataSet {
	return &DataSet{
		Elements:       make(map[Tag]*Element),
		TransferSyntax: ts,
	}
}

// SetString adds or replaces a string element
func (d *DataSet) SetString(tag Tag, vr, value string) {
	d.Elements[tag] = &Element{Tag: tag, VR: vr, Value: value}
}

// SetBytes adds or replaces a binary element
func (d *DataSet) SetBytes(tag Tag, vr string, value []byte) {
	d.Elements[tag] = &Element{Tag: tag, VR: vr, Value: value}
}

// SetUint16 adds or replaces an unsigned short element
func (d *DataSet) SetUint16(tag Tag, value uint16) {
	d.Elements[tag] = &Element{Tag: tag, VR: VR_US, Value: value}
}

// Has reports whether the tag is present
func (d *DataSet) Has(tag Tag) bool {
	_, ok := d.Elements[tag]
	return ok
}

// Remove deletes the tag if present
func (d *DataSet) Remove(tag Tag) {
	delete(d.Elements, tag)
}

// GetString returns the trimmed string value for a tag, or "" when absent
func (d *DataSet) GetString(tag Tag) string {
	element, ok := d.Elements[tag]
	if !ok {
		return ""
	}
	switch v := element.Value.(type) {
	case string:
		return strings.TrimRight(strings.TrimSpace(v), "\x00")
	case []byte:
		return strings.TrimRight(strings.TrimSpace(string(v)), "\x00")
	}
	return ""
}

// GetStrings splits a multi-valued element on backslashes
func (d *DataSet) GetStrings(tag Tag) []string {
	raw := d.GetString(tag)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "\\")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}

// GetBytes returns the raw bytes of a binary element
func (d *DataSet) GetBytes(tag Tag) ([]byte, bool) {
	element, ok := d.Elements[tag]
	if !ok {
		return nil, false
	}
	if b, ok := element.Value.([]byte); ok {
		return b, true
	}
	return nil, false
}

// GetUint16 returns an unsigned short value when present
func (d *DataSet) GetUint16(tag Tag) (uint16, bool) {
	element, ok := d.Elements[tag]
	if !ok {
		return 0, false
	}
	switch v := element.Value.(type) {
	case uint16:
		return v, true
	case []byte:
		if len(v) >= 2 {
			return binary.LittleEndian.Uint16(v[:2]), true
		}
	}
	return 0, false
}

// SOPClassUID returns the SOP class UID, failing when absent
func (d *DataSet) SOPClassUID() (string, error) {
	uid := d.GetString(TagSOPClassUID)
	if uid == "" {
		return "", dicomerr.Wrap(dicomerr.ErrNoSopClassOrInstance, "dataset has no SOP class UID")
	}
	return uid, nil
}

// SOPInstanceUID returns the SOP instance UID, failing when absent
func (d *DataSet) SOPInstanceUID() (string, error) {
	uid := d.GetString(TagSOPInstanceUID)
	if uid == "" {
		return "", dicomerr.Wrap(dicomerr.ErrNoSopClassOrInstance, "dataset has no SOP instance UID")
	}
	return uid, nil
}

// HasPixelData reports whether the dataset carries pixel data
func (d *DataSet) HasPixelData() bool {
	return d.Has(TagPixelData)
}

// Clone returns a deep copy of the dataset
func (d *DataSet) Clone() *DataSet {
	out := NewDataSet(d.TransferSyntax)
	for tag, element := range d.Elements {
		clone := &Element{Tag: element.Tag, VR: element.VR}
		if b, ok := element.Value.([]byte); ok {
			clone.Value = append([]byte(nil), b...)
		} else {
			clone.Value = element.Value
		}
		out.Elements[tag] = clone
	}
	return out
}

// SortedTags returns the tags in DICOM encoding order
func (d *DataSet) SortedTags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	return tags
}

// ToJSON flattens the dataset into the per-instance JSON form persisted by
// the store. Binary elements are skipped.
func (d *DataSet) ToJSON() map[string]string {
	out := make(map[string]string, len(d.Elements))
	for tag, element := range d.Elements {
		if _, binary := element.Value.([]byte); binary {
			continue
		}
		out[tag.Key()] = d.GetString(tag)
	}
	return out
}

// Parse decodes a dataset from raw bytes according to the transfer syntax.
func Parse(data []byte, ts TransferSyntax) (*DataSet, error) {
	switch ts {
	case ImplicitVRLittleEndian:
		return parseImplicit(data, ts)
	case ExplicitVRLittleEndian, "":
		return parseExplicit(data, ExplicitVRLittleEndian, binary.LittleEndian)
	case ExplicitVRBigEndian:
		return parseExplicit(data, ts, binary.BigEndian)
	case DeflatedExplicitVRLittleEndian:
		inflated, err := io.ReadAll(flate.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, dicomerr.Wrap(dicomerr.ErrBadFileFormat, "inflating deflated dataset")
		}
		dataset, err := parseExplicit(inflated, ts, binary.LittleEndian)
		if err != nil {
			return nil, err
		}
		return dataset, nil
	default:
		if !IsKnownTransferSyntax(ts) {
			return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "unknown transfer syntax %q", string(ts))
		}
		// Compressed syntaxes keep pixel data encapsulated; the non-pixel
		// elements still follow explicit VR little endian.
		return parseExplicit(data, ts, binary.LittleEndian)
	}
}

func parseImplicit(data []byte, ts TransferSyntax) (*DataSet, error) {
	dataset := NewDataSet(ts)

	offset := 0
	for offset+8 <= len(data) {
		tag := Tag{
			Group:   binary.LittleEndian.Uint16(data[offset : offset+2]),
			Element: binary.LittleEndian.Uint16(data[offset+2 : offset+4]),
		}
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		valueOffset := offset + 8

		if valueOffset+int(length) > len(data) {
			return nil, dicomerr.Wrap(dicomerr.ErrBadFileFormat, "element %s exceeds dataset length", tag)
		}

		vr := DetermineVR(tag)
		value := decodeValue(tag, vr, data[valueOffset:valueOffset+int(length)], binary.LittleEndian)
		dataset.Elements[tag] = &Element{Tag: tag, VR: vr, Value: value}

		offset = valueOffset + int(length)
		if length%2 == 1 {
			offset++
		}
	}

	return dataset, nil
}

func parseExplicit(data []byte, ts TransferSyntax, order binary.ByteOrder) (*DataSet, error) {
	dataset := NewDataSet(ts)

	offset := 0
	for offset+8 <= len(data) {
		tag := Tag{
			Group:   order.Uint16(data[offset : offset+2]),
			Element: order.Uint16(data[offset+2 : offset+4]),
		}
		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int
		if longVRs[vr] {
			if offset+12 > len(data) {
				return nil, dicomerr.Wrap(dicomerr.ErrBadFileFormat, "truncated header for %s", tag)
			}
			length = order.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			length = uint32(order.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}

		if valueOffset+int(length) > len(data) {
			return nil, dicomerr.Wrap(dicomerr.ErrBadFileFormat, "element %s exceeds dataset length", tag)
		}

		value := decodeValue(tag, vr, data[valueOffset:valueOffset+int(length)], order)
		dataset.Elements[tag] = &Element{Tag: tag, VR: vr, Value: value}

		offset = valueOffset + int(length)
		if length%2 == 1 {
			offset++
		}
	}

	return dataset, nil
}

func decodeValue(tag Tag, vr string, data []byte, order binary.ByteOrder) interface{} {
	switch vr {
	case VR_OB, VR_OW, VR_SQ, VR_UN:
		return append([]byte(nil), data...)
	case VR_US:
		if len(data) >= 2 {
			return order.Uint16(data[:2])
		}
		return uint16(0)
	default:
		return string(data)
	}
}

// Encode serializes the dataset in its current transfer syntax.
func (d *DataSet) Encode() ([]byte, error) {
	switch d.TransferSyntax {
	case ImplicitVRLittleEndian:
		return d.encodeImplicit(), nil
	case ExplicitVRLittleEndian:
		return d.encodeExplicit(binary.LittleEndian), nil
	case ExplicitVRBigEndian:
		return d.encodeExplicit(binary.BigEndian), nil
	case DeflatedExplicitVRLittleEndian:
		plain := d.encodeExplicit(binary.LittleEndian)
		var buf bytes.Buffer
		writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, dicomerr.Wrap(dicomerr.ErrInternal, "creating deflate writer")
		}
		if _, err := writer.Write(plain); err != nil {
			return nil, dicomerr.Wrap(dicomerr.ErrInternal, "deflating dataset")
		}
		if err := writer.Close(); err != nil {
			return nil, dicomerr.Wrap(dicomerr.ErrInternal, "deflating dataset")
		}
		return buf.Bytes(), nil
	default:
		if !IsKnownTransferSyntax(d.TransferSyntax) {
			return nil, dicomerr.Wrap(dicomerr.ErrNetworkProtocol, "unknown transfer syntax %q", string(d.TransferSyntax))
		}
		return d.encodeExplicit(binary.LittleEndian), nil
	}
}

func (d *DataSet) encodeImplicit() []byte {
	var out []byte
	for _, tag := range d.SortedTags() {
		element := d.Elements[tag]
		value := encodeValue(element, binary.LittleEndian)

		header := make([]byte, 8)
		binary.LittleEndian.PutUint16(header[0:2], tag.Group)
		binary.LittleEndian.PutUint16(header[2:4], tag.Element)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(value)))
		out = append(out, header...)
		out = append(out, value...)
	}
	return out
}

func (d *DataSet) encodeExplicit(order binary.ByteOrder) []byte {
	var out []byte
	for _, tag := range d.SortedTags() {
		element := d.Elements[tag]
		value := encodeValue(element, order)
		vr := element.VR
		if len(vr) != 2 {
			vr = DetermineVR(tag)
		}

		if longVRs[vr] {
			header := make([]byte, 12)
			order.PutUint16(header[0:2], tag.Group)
			order.PutUint16(header[2:4], tag.Element)
			copy(header[4:6], vr)
			order.PutUint32(header[8:12], uint32(len(value)))
			out = append(out, header...)
		} else {
			header := make([]byte, 8)
			order.PutUint16(header[0:2], tag.Group)
			order.PutUint16(header[2:4], tag.Element)
			copy(header[4:6], vr)
			order.PutUint16(header[6:8], uint16(len(value)))
			out = append(out, header...)
		}
		out = append(out, value...)
	}
	return out
}

func encodeValue(element *Element, order binary.ByteOrder) []byte {
	switch v := element.Value.(type) {
	case []byte:
		if len(v)%2 == 1 {
			return append(append([]byte(nil), v...), 0x00)
		}
		return v
	case uint16:
		out := make([]byte, 2)
		order.PutUint16(out, v)
		return out
	case string:
		b := []byte(v)
		if len(b)%2 == 1 {
			if element.VR == VR_UI {
				b = append(b, 0x00)
			} else {
				b = append(b, ' ')
			}
		}
		return b
	default:
		return nil
	}
}

// vrDictionary covers the tags the store reads and writes. Implicit VR
// decoding falls back to UN for tags outside the dictionary.
var vrDictionary = map[Tag]string{
	TagSpecificCharacterSet:              VR_CS,
	TagSOPClassUID:                       VR_UI,
	TagSOPInstanceUID:                    VR_UI,
	TagPatientName:                       VR_PN,
	TagPatientID:                         VR_LO,
	TagIssuerOfPatientID:                 VR_LO,
	TagPatientBirthDate:                  VR_DA,
	TagPatientSex:                        VR_CS,
	TagOtherPatientIDs:                   VR_LO,
	TagStudyInstanceUID:                  VR_UI,
	TagStudyDate:                         VR_DA,
	TagStudyTime:                         VR_TM,
	TagStudyID:                           VR_SH,
	TagStudyDescription:                  VR_LO,
	TagAccessionNumber:                   VR_SH,
	TagReferringPhysicianName:            VR_PN,
	TagInstitutionName:                   VR_LO,
	TagRequestedProcedureDesc:            VR_LO,
	TagRequestingPhysician:               VR_PN,
	TagSeriesInstanceUID:                 VR_UI,
	TagSeriesDate:                        VR_DA,
	TagSeriesTime:                        VR_TM,
	TagModality:                          VR_CS,
	TagManufacturer:                      VR_LO,
	TagStationName:                       VR_SH,
	TagSeriesDescription:                 VR_LO,
	TagBodyPartExamined:                  VR_CS,
	TagSeriesNumber:                      VR_IS,
	TagProtocolName:                      VR_LO,
	TagOperatorName:                      VR_PN,
	TagPerformedProcedureStepDescription: VR_LO,
	TagInstanceNumber:                    VR_IS,
	TagImagePositionPatient:              VR_DS,
	TagImageOrientationPatient:           VR_DS,
	TagFrameOfReferenceUID:               VR_UI,
	TagImageIndex:                        VR_US,
	TagImageComments:                     VR_LT,
	TagNumberOfFrames:                    VR_IS,
	TagInstanceCreationDate:              VR_DA,
	TagInstanceCreationTime:              VR_TM,
	TagAcquisitionNumber:                 VR_IS,
	TagSamplesPerPixel:                   VR_US,
	TagRows:                              VR_US,
	TagColumns:                           VR_US,
	TagBitsAllocated:                     VR_US,
	TagBitsStored:                        VR_US,
	TagHighBit:                           VR_US,
	TagPixelRepresentation:               VR_US,
	TagPixelData:                         VR_OW,
	TagQueryRetrieveLevel:                VR_CS,
	TagRetrieveAETitle:                   VR_AE,
	TagTransactionUID:                    VR_UI,
}

// DetermineVR resolves the VR of a tag for implicit VR decoding
func DetermineVR(tag Tag) string {
	if vr, ok := vrDictionary[tag]; ok {
		return vr
	}
	return VR_UN
}
