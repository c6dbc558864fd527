package dicom

// TransferSyntax identifies the wire encoding of a DICOM dataset.
type TransferSyntax string

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and
// Part 6, Annex A.4.
const (
	// ImplicitVRLittleEndian - default Transfer Syntax for DICOM
	ImplicitVRLittleEndian TransferSyntax = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - explicit VR with little endian byte ordering
	ExplicitVRLittleEndian TransferSyntax = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian - explicit VR with big endian byte ordering (retired)
	ExplicitVRBigEndian TransferSyntax = "1.2.840.10008.1.2.2"

	// DeflatedExplicitVRLittleEndian - deflate compression over explicit VR
	DeflatedExplicitVRLittleEndian TransferSyntax = "1.2.840.10008.1.2.1.99"

	// JPEGProcess1 - JPEG Baseline (Process 1), lossy, 8-bit samples
	JPEGProcess1 TransferSyntax = "1.2.840.10008.1.2.4.50"

	// JPEGProcess2_4 - JPEG Extended (Process 2 & 4), lossy, up to 12-bit samples
	JPEGProcess2_4 TransferSyntax = "1.2.840.10008.1.2.4.51"

	// JPEGProcess14 - JPEG Lossless (Process 14)
	JPEGProcess14 TransferSyntax = "1.2.840.10008.1.2.4.57"

	// JPEGProcess14SV1 - JPEG Lossless (Process 14, Selection Value 1)
	JPEGProcess14SV1 TransferSyntax = "1.2.840.10008.1.2.4.70"

	// JPEGLSLossless - JPEG-LS Lossless Image Compression
	JPEGLSLossless TransferSyntax = "1.2.840.10008.1.2.4.80"

	// JPEGLSLossy - JPEG-LS Lossy (Near-Lossless) Image Compression
	JPEGLSLossy TransferSyntax = "1.2.840.10008.1.2.4.81"

	// JPEG2000Lossless - JPEG 2000 Image Compression (Lossless Only)
	JPEG2000Lossless TransferSyntax = "1.2.840.10008.1.2.4.90"

	// JPEG2000 - JPEG 2000 Image Compression (lossy or lossless)
	JPEG2000 TransferSyntax = "1.2.840.10008.1.2.4.91"

	// RLELossless - RLE Lossless Compression
	RLELossless TransferSyntax = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo provides metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID          TransferSyntax
	Name         string
	IsCompressed bool
	IsLossless   bool
	IsRetired    bool
}

var transferSyntaxRegistry = map[TransferSyntax]TransferSyntaxInfo{
	ImplicitVRLittleEndian: {
		UID:        ImplicitVRLittleEndian,
		Name:       "Implicit VR Little Endian",
		IsLossless: true,
	},
	ExplicitVRLittleEndian: {
		UID:        ExplicitVRLittleEndian,
		Name:       "Explicit VR Little Endian",
		IsLossless: true,
	},
	ExplicitVRBigEndian: {
		UID:        ExplicitVRBigEndian,
		Name:       "Explicit VR Big Endian",
		IsLossless: true,
		IsRetired:  true,
	},
	DeflatedExplicitVRLittleEndian: {
		UID:          DeflatedExplicitVRLittleEndian,
		Name:         "Deflated Explicit VR Little Endian",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGProcess1: {
		UID:          JPEGProcess1,
		Name:         "JPEG Baseline (Process 1)",
		IsCompressed: true,
	},
	JPEGProcess2_4: {
		UID:          JPEGProcess2_4,
		Name:         "JPEG Extended (Process 2 & 4)",
		IsCompressed: true,
	},
	JPEGProcess14: {
		UID:          JPEGProcess14,
		Name:         "JPEG Lossless (Process 14)",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGProcess14SV1: {
		UID:          JPEGProcess14SV1,
		Name:         "JPEG Lossless (Process 14, SV1)",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGLSLossless: {
		UID:          JPEGLSLossless,
		Name:         "JPEG-LS Lossless",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEGLSLossy: {
		UID:          JPEGLSLossy,
		Name:         "JPEG-LS Near-Lossless",
		IsCompressed: true,
	},
	JPEG2000Lossless: {
		UID:          JPEG2000Lossless,
		Name:         "JPEG 2000 Lossless Only",
		IsCompressed: true,
		IsLossless:   true,
	},
	JPEG2000: {
		UID:          JPEG2000,
		Name:         "JPEG 2000",
		IsCompressed: true,
	},
	RLELossless: {
		UID:          RLELossless,
		Name:         "RLE Lossless",
		IsCompressed: true,
		IsLossless:   true,
	},
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID.
// Unknown syntaxes are reported as such instead of failing.
func GetTransferSyntaxInfo(uid TransferSyntax) TransferSyntaxInfo {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return TransferSyntaxInfo{UID: uid, Name: "Unknown"}
	}
	return info
}

// IsKnownTransferSyntax returns true for syntaxes in the registry.
func IsKnownTransferSyntax(uid TransferSyntax) bool {
	_, ok := transferSyntaxRegistry[uid]
	return ok
}

// IsCompressed returns true if the transfer syntax uses compression
func (ts TransferSyntax) IsCompressed() bool {
	return GetTransferSyntaxInfo(ts).IsCompressed
}

// IsLossless returns true if the transfer syntax is lossless. Uncompressed
// syntaxes count as lossless.
func (ts TransferSyntax) IsLossless() bool {
	return GetTransferSyntaxInfo(ts).IsLossless
}

// IsRetired returns true for retired transfer syntaxes
func (ts TransferSyntax) IsRetired() bool {
	return GetTransferSyntaxInfo(ts).IsRetired
}

// Name returns the human-readable name of the transfer syntax
func (ts TransferSyntax) Name() string {
	return GetTransferSyntaxInfo(ts).Name
}

// UncompressedTransferSyntaxes lists the uncompressed family in the
// preferred conversion order.
func UncompressedTransferSyntaxes() []TransferSyntax {
	return []TransferSyntax{
		ImplicitVRLittleEndian,
		ExplicitVRLittleEndian,
		ExplicitVRBigEndian,
		DeflatedExplicitVRLittleEndian,
	}
}
