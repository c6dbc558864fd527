package dicom

import "fmt"

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Key returns the tag as the 8-hex-digit form used in JSON serializations.
func (t Tag) Key() string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// ParseTagKey parses the 8-hex-digit "GGGGEEEE" form produced by Key
func ParseTagKey(key string) (Tag, error) {
	var group, element uint16
	if len(key) != 8 {
		return Tag{}, fmt.Errorf("malformed tag key %q", key)
	}
	if _, err := fmt.Sscanf(key, "%04X%04X", &group, &element); err != nil {
		return Tag{}, fmt.Errorf("malformed tag key %q: %w", key, err)
	}
	return Tag{Group: group, Element: element}, nil
}

// Less orders tags by group then element, the encoding order required by
// DICOM Part 5.
func (t Tag) Less(other Tag) bool {
	if t.Group != other.Group {
		return t.Group < other.Group
	}
	return t.Element < other.Element
}

// Tags used across the store. Grouped by the resource level they describe.
var (
	// Identification
	TagSpecificCharacterSet = Tag{0x0008, 0x0005}
	TagSOPClassUID          = Tag{0x0008, 0x0016}
	TagSOPInstanceUID       = Tag{0x0008, 0x0018}

	// Patient level
	TagPatientName       = Tag{0x0010, 0x0010}
	TagPatientID         = Tag{0x0010, 0x0020}
	TagIssuerOfPatientID = Tag{0x0010, 0x0021}
	TagPatientBirthDate  = Tag{0x0010, 0x0030}
	TagPatientSex        = Tag{0x0010, 0x0040}
	TagOtherPatientIDs   = Tag{0x0010, 0x1000}

	// Study level
	TagStudyInstanceUID       = Tag{0x0020, 0x000d}
	TagStudyDate              = Tag{0x0008, 0x0020}
	TagStudyTime              = Tag{0x0008, 0x0030}
	TagStudyID                = Tag{0x0020, 0x0010}
	TagStudyDescription       = Tag{0x0008, 0x1030}
	TagAccessionNumber        = Tag{0x0008, 0x0050}
	TagReferringPhysicianName = Tag{0x0008, 0x0090}
	TagInstitutionName        = Tag{0x0008, 0x0080}
	TagRequestedProcedureDesc = Tag{0x0032, 0x1060}
	TagRequestingPhysician    = Tag{0x0032, 0x1032}

	// Series level
	TagSeriesInstanceUID                 = Tag{0x0020, 0x000e}
	TagSeriesDate                        = Tag{0x0008, 0x0021}
	TagSeriesTime                        = Tag{0x0008, 0x0031}
	TagModality                          = Tag{0x0008, 0x0060}
	TagManufacturer                      = Tag{0x0008, 0x0070}
	TagStationName                       = Tag{0x0008, 0x1010}
	TagSeriesDescription                 = Tag{0x0008, 0x103e}
	TagBodyPartExamined                  = Tag{0x0018, 0x0015}
	TagSeriesNumber                      = Tag{0x0020, 0x0011}
	TagProtocolName                      = Tag{0x0018, 0x1030}
	TagOperatorName                      = Tag{0x0008, 0x1070}
	TagPerformedProcedureStepDescription = Tag{0x0040, 0x0254}

	// Instance level
	TagInstanceNumber          = Tag{0x0020, 0x0013}
	TagImagePositionPatient    = Tag{0x0020, 0x0032}
	TagImageOrientationPatient = Tag{0x0020, 0x0037}
	TagFrameOfReferenceUID     = Tag{0x0020, 0x0052}
	TagImageIndex              = Tag{0x0054, 0x1330}
	TagImageComments           = Tag{0x0020, 0x4000}
	TagNumberOfFrames          = Tag{0x0028, 0x0008}
	TagInstanceCreationDate    = Tag{0x0008, 0x0012}
	TagInstanceCreationTime    = Tag{0x0008, 0x0013}
	TagAcquisitionNumber       = Tag{0x0020, 0x0012}

	// Pixel module
	TagSamplesPerPixel     = Tag{0x0028, 0x0002}
	TagRows                = Tag{0x0028, 0x0010}
	TagColumns             = Tag{0x0028, 0x0011}
	TagBitsAllocated       = Tag{0x0028, 0x0100}
	TagBitsStored          = Tag{0x0028, 0x0101}
	TagHighBit             = Tag{0x0028, 0x0102}
	TagPixelRepresentation = Tag{0x0028, 0x0103}
	TagPixelData           = Tag{0x7fe0, 0x0010}

	// Query/retrieve
	TagQueryRetrieveLevel       = Tag{0x0008, 0x0052}
	TagRetrieveAETitle          = Tag{0x0008, 0x0054}
	TagFailedSOPInstanceUIDList = Tag{0x0008, 0x0058}

	// Storage commitment
	TagTransactionUID = Tag{0x0008, 0x1195}
)
