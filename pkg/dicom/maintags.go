package dicom

import (
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// ResourceLevel is a level of the patient/study/series/instance hierarchy
type ResourceLevel int

const (
	LevelPatient ResourceLevel = iota
	LevelStudy
	LevelSeries
	LevelInstance
)

func (l ResourceLevel) String() string {
	switch l {
	case LevelPatient:
		return "Patient"
	case LevelStudy:
		return "Study"
	case LevelSeries:
		return "Series"
	case LevelInstance:
		return "Instance"
	default:
		return "Unknown"
	}
}

// ParseResourceLevel maps the DICOM query/retrieve level strings
func ParseResourceLevel(s string) (ResourceLevel, error) {
	switch s {
	case "PATIENT":
		return LevelPatient, nil
	case "STUDY":
		return LevelStudy, nil
	case "SERIES":
		return LevelSeries, nil
	case "IMAGE", "INSTANCE":
		return LevelInstance, nil
	default:
		return 0, dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "unknown query retrieve level %q", s)
	}
}

// QueryRetrieveString returns the wire form of the level
func (l ResourceLevel) QueryRetrieveString() string {
	switch l {
	case LevelPatient:
		return "PATIENT"
	case LevelStudy:
		return "STUDY"
	case LevelSeries:
		return "SERIES"
	default:
		return "IMAGE"
	}
}

// Parent returns the level above, or false at Patient
func (l ResourceLevel) Parent() (ResourceLevel, bool) {
	if l == LevelPatient {
		return 0, false
	}
	return l - 1, true
}

// Child returns the level below, or false at Instance
func (l ResourceLevel) Child() (ResourceLevel, bool) {
	if l == LevelInstance {
		return 0, false
	}
	return l + 1, true
}

// TagType classifies a main tag within its level
type TagType int

const (
	// TagTypeIdentifier tags are indexed for exact lookup
	TagTypeIdentifier TagType = iota
	// TagTypeMain tags are promoted to index columns
	TagTypeMain
	// TagTypeGeneric tags only live in the per-instance JSON
	TagTypeGeneric
)

// MainTagInfo describes one entry of the main tags registry
type MainTagInfo struct {
	Tag   Tag
	Level ResourceLevel
	Type  TagType
}

// mainTagsRegistry is loaded once at init. Patient-level identifier tags are
// duplicated into the study level so that patient-rooted queries can be
// answered from study rows.
var mainTagsRegistry map[ResourceLevel]map[Tag]TagType

func init() {
	mainTagsRegistry = map[ResourceLevel]map[Tag]TagType{
		LevelPatient: {
			TagPatientID:        TagTypeIdentifier,
			TagPatientName:      TagTypeMain,
			TagPatientBirthDate: TagTypeMain,
			TagPatientSex:       TagTypeMain,
			TagOtherPatientIDs:  TagTypeMain,
		},
		LevelStudy: {
			TagStudyInstanceUID:       TagTypeIdentifier,
			TagAccessionNumber:        TagTypeIdentifier,
			TagStudyDate:              TagTypeMain,
			TagStudyTime:              TagTypeMain,
			TagStudyID:                TagTypeMain,
			TagStudyDescription:       TagTypeMain,
			TagReferringPhysicianName: TagTypeMain,
			TagInstitutionName:        TagTypeMain,
			TagRequestedProcedureDesc: TagTypeMain,
			TagRequestingPhysician:    TagTypeMain,
		},
		LevelSeries: {
			TagSeriesInstanceUID:                 TagTypeIdentifier,
			TagSeriesDate:                        TagTypeMain,
			TagSeriesTime:                        TagTypeMain,
			TagModality:                          TagTypeMain,
			TagManufacturer:                      TagTypeMain,
			TagStationName:                       TagTypeMain,
			TagSeriesDescription:                 TagTypeMain,
			TagBodyPartExamined:                  TagTypeMain,
			TagSeriesNumber:                      TagTypeMain,
			TagProtocolName:                      TagTypeMain,
			TagOperatorName:                      TagTypeMain,
			TagPerformedProcedureStepDescription: TagTypeMain,
		},
		LevelInstance: {
			TagSOPInstanceUID:       TagTypeIdentifier,
			TagSOPClassUID:          TagTypeMain,
			TagInstanceNumber:       TagTypeMain,
			TagImagePositionPatient: TagTypeMain,
			TagImageIndex:           TagTypeMain,
			TagImageComments:        TagTypeMain,
			TagNumberOfFrames:       TagTypeMain,
			TagInstanceCreationDate: TagTypeMain,
			TagInstanceCreationTime: TagTypeMain,
			TagAcquisitionNumber:    TagTypeMain,
		},
	}

	// Registry loading rule: patient identification also appears on studies.
	for tag, tagType := range mainTagsRegistry[LevelPatient] {
		if _, exists := mainTagsRegistry[LevelStudy][tag]; !exists {
			if tagType == TagTypeIdentifier {
				tagType = TagTypeMain
			}
			mainTagsRegistry[LevelStudy][tag] = tagType
		}
	}
}

// MainTagsAtLevel returns the main tags registry slice for a level
func MainTagsAtLevel(level ResourceLevel) map[Tag]TagType {
	return mainTagsRegistry[level]
}

// IsMainTag reports whether the tag is a main or identifier tag of the level
func IsMainTag(tag Tag, level ResourceLevel) bool {
	_, ok := mainTagsRegistry[level][tag]
	return ok
}

// IsIdentifierTag reports whether the tag is an identifier tag of the level
func IsIdentifierTag(tag Tag, level ResourceLevel) bool {
	return mainTagsRegistry[level][tag] == TagTypeIdentifier && IsMainTag(tag, level)
}

// IdentifierTag returns the canonical identifier of a level (for studies,
// StudyInstanceUID; AccessionNumber is a secondary identifier).
func IdentifierTag(level ResourceLevel) Tag {
	switch level {
	case LevelPatient:
		return TagPatientID
	case LevelStudy:
		return TagStudyInstanceUID
	case LevelSeries:
		return TagSeriesInstanceUID
	default:
		return TagSOPInstanceUID
	}
}

// ExtractMainTags copies the main tags of one level out of a dataset
func ExtractMainTags(dataset *DataSet, level ResourceLevel) map[Tag]string {
	out := make(map[Tag]string)
	for tag := range mainTagsRegistry[level] {
		if value := dataset.GetString(tag); value != "" {
			out[tag] = value
		}
	}
	return out
}
