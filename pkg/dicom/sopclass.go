package dicom

// DICOM Application Context UID
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Verification Service
const VerificationSOPClass = "1.2.840.10008.1.1"

// Storage Service SOP Classes (DICOM Part 4, Annex B)
const (
	ComputedRadiographyImageStorage                   = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorageForPresentation            = "1.2.840.10008.5.1.4.1.1.1.1"
	DigitalXRayImageStorageForProcessing              = "1.2.840.10008.5.1.4.1.1.1.1.1"
	DigitalMammographyXRayImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.1.2"
	DigitalMammographyXRayImageStorageForProcessing   = "1.2.840.10008.5.1.4.1.1.1.2.1"

	CTImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage = "1.2.840.10008.5.1.4.1.1.2.1"

	UltrasoundMultiFrameImageStorage = "1.2.840.10008.5.1.4.1.1.3.1"
	UltrasoundImageStorage           = "1.2.840.10008.5.1.4.1.1.6.1"

	MRImageStorage         = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage = "1.2.840.10008.5.1.4.1.1.4.1"

	NuclearMedicineImageStorage = "1.2.840.10008.5.1.4.1.1.20"

	SecondaryCaptureImageStorage                        = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.1"
	MultiFrameGrayscaleWordSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.2"
	MultiFrameTrueColorSecondaryCaptureImageStorage     = "1.2.840.10008.5.1.4.1.1.7.3"

	XRayAngiographicImageStorage      = "1.2.840.10008.5.1.4.1.1.12.1"
	XRayRadiofluoroscopicImageStorage = "1.2.840.10008.5.1.4.1.1.12.2"

	PETImageStorage         = "1.2.840.10008.5.1.4.1.1.128"
	EnhancedPETImageStorage = "1.2.840.10008.5.1.4.1.1.130"

	RTImageStorage        = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage         = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage         = "1.2.840.10008.5.1.4.1.1.481.5"

	VLEndoscopicImageStorage   = "1.2.840.10008.5.1.4.1.1.77.1.1"
	VLMicroscopicImageStorage  = "1.2.840.10008.5.1.4.1.1.77.1.2"
	VLPhotographicImageStorage = "1.2.840.10008.5.1.4.1.1.77.1.4"

	EncapsulatedPDFStorage = "1.2.840.10008.5.1.4.1.1.104.1"
	EncapsulatedCDAStorage = "1.2.840.10008.5.1.4.1.1.104.2"
)

// Query/Retrieve Service SOP Classes
const (
	StudyRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.2.3"

	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.1.3"

	PatientStudyOnlyQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.3.1"
	PatientStudyOnlyQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.3.2"
	PatientStudyOnlyQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.3.3"
)

// Worklist and commitment services
const (
	ModalityWorklistInformationModelFind = "1.2.840.10008.5.1.4.31"
	StorageCommitmentPushModelSOPClass   = "1.2.840.10008.1.20.1"
	StorageCommitmentPushModelInstance   = "1.2.840.10008.1.20.1.1"
)

// CommonStorageSOPClasses is the library of storage SOP classes proposed by
// the store negotiator when ProposeCommonClasses is enabled.
var CommonStorageSOPClasses = []string{
	ComputedRadiographyImageStorage,
	CTImageStorage,
	EnhancedCTImageStorage,
	MRImageStorage,
	EnhancedMRImageStorage,
	UltrasoundImageStorage,
	UltrasoundMultiFrameImageStorage,
	NuclearMedicineImageStorage,
	SecondaryCaptureImageStorage,
	XRayAngiographicImageStorage,
	XRayRadiofluoroscopicImageStorage,
	PETImageStorage,
	RTImageStorage,
	RTDoseStorage,
	RTStructureSetStorage,
	RTPlanStorage,
	VLEndoscopicImageStorage,
	VLPhotographicImageStorage,
	EncapsulatedPDFStorage,
	DigitalXRayImageStorageForPresentation,
	DigitalMammographyXRayImageStorageForPresentation,
}

var storageSOPClasses = func() map[string]bool {
	m := make(map[string]bool, len(CommonStorageSOPClasses))
	for _, uid := range CommonStorageSOPClasses {
		m[uid] = true
	}
	for _, uid := range []string{
		DigitalXRayImageStorageForProcessing,
		DigitalMammographyXRayImageStorageForProcessing,
		MultiFrameGrayscaleByteSecondaryCaptureImageStorage,
		MultiFrameGrayscaleWordSecondaryCaptureImageStorage,
		MultiFrameTrueColorSecondaryCaptureImageStorage,
		EnhancedPETImageStorage,
		VLMicroscopicImageStorage,
		EncapsulatedCDAStorage,
	} {
		m[uid] = true
	}
	return m
}()

// IsStorageSOPClass returns true if the UID is a known storage SOP class
func IsStorageSOPClass(uid string) bool {
	return storageSOPClasses[uid]
}
