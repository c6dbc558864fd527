package dicom

import (
	"bytes"
	"errors"
	"testing"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

func sampleDataset(ts TransferSyntax) *DataSet {
	ds := NewDataSet(ts)
	ds.SetString(TagSOPClassUID, VR_UI, CTImageStorage)
	ds.SetString(TagSOPInstanceUID, VR_UI, "1.2.840.1.1")
	ds.SetString(TagStudyInstanceUID, VR_UI, "1.2.840.1")
	ds.SetString(TagSeriesInstanceUID, VR_UI, "1.2.840.1.0")
	ds.SetString(TagPatientID, VR_LO, "pat1")
	ds.SetString(TagPatientName, VR_PN, "Doe^John")
	ds.SetString(TagModality, VR_CS, "CT")
	ds.SetUint16(TagRows, 512)
	ds.SetUint16(TagColumns, 512)
	ds.SetBytes(TagPixelData, VR_OW, bytes.Repeat([]byte{0x12, 0x34}, 128))
	return ds
}

func TestDatasetRoundTrips(t *testing.T) {
	for _, ts := range []TransferSyntax{
		ImplicitVRLittleEndian,
		ExplicitVRLittleEndian,
		ExplicitVRBigEndian,
		DeflatedExplicitVRLittleEndian,
	} {
		t.Run(string(ts), func(t *testing.T) {
			original := sampleDataset(ts)
			encoded, err := original.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Parse(encoded, ts)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			for _, tag := range []Tag{
				TagSOPClassUID, TagSOPInstanceUID, TagStudyInstanceUID,
				TagSeriesInstanceUID, TagPatientID, TagPatientName, TagModality,
			} {
				if got, want := decoded.GetString(tag), original.GetString(tag); got != want {
					t.Errorf("tag %s = %q, want %q", tag, got, want)
				}
			}
			if rows, ok := decoded.GetUint16(TagRows); !ok || rows != 512 {
				t.Errorf("Rows = %d (%v), want 512", rows, ok)
			}
			pixels, ok := decoded.GetBytes(TagPixelData)
			if !ok {
				t.Fatal("pixel data lost")
			}
			wantPixels, _ := original.GetBytes(TagPixelData)
			if !bytes.Equal(pixels, wantPixels) {
				t.Error("pixel data mismatch")
			}
		})
	}
}

func TestEncodePadsOddLengths(t *testing.T) {
	ds := NewDataSet(ExplicitVRLittleEndian)
	ds.SetString(TagSOPInstanceUID, VR_UI, "1.2.3")
	ds.SetString(TagPatientID, VR_LO, "abc")

	encoded, err := ds.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(encoded)%2 != 0 {
		t.Fatalf("encoded length %d is odd", len(encoded))
	}

	// UIDs pad with NUL, text with space; both trim away on read.
	decoded, err := Parse(encoded, ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := decoded.GetString(TagSOPInstanceUID); got != "1.2.3" {
		t.Errorf("SOPInstanceUID = %q", got)
	}
	if got := decoded.GetString(TagPatientID); got != "abc" {
		t.Errorf("PatientID = %q", got)
	}
}

func TestParseRejectsTruncatedDataset(t *testing.T) {
	ds := NewDataSet(ExplicitVRLittleEndian)
	ds.SetString(TagPatientID, VR_LO, "somewhat longer value")
	encoded, _ := ds.Encode()

	_, err := Parse(encoded[:len(encoded)-4], ExplicitVRLittleEndian)
	if !errors.Is(err, dicomerr.ErrBadFileFormat) {
		t.Fatalf("error = %v, want ErrBadFileFormat", err)
	}
}

func TestParseRejectsUnknownTransferSyntax(t *testing.T) {
	_, err := Parse(nil, TransferSyntax("1.2.3.4.5"))
	if !errors.Is(err, dicomerr.ErrNetworkProtocol) {
		t.Fatalf("error = %v, want ErrNetworkProtocol", err)
	}
}

func TestGetStringsSplitsMultiValue(t *testing.T) {
	ds := NewDataSet(ExplicitVRLittleEndian)
	ds.SetString(TagStudyInstanceUID, VR_UI, "1.2.3\\4.5.6 ")

	values := ds.GetStrings(TagStudyInstanceUID)
	if len(values) != 2 || values[0] != "1.2.3" || values[1] != "4.5.6" {
		t.Fatalf("GetStrings = %v", values)
	}
}

func TestCloneIsolatesBinaryValues(t *testing.T) {
	ds := NewDataSet(ExplicitVRLittleEndian)
	ds.SetBytes(TagPixelData, VR_OW, []byte{1, 2, 3, 4})

	clone := ds.Clone()
	pixels, _ := clone.GetBytes(TagPixelData)
	pixels[0] = 0xFF

	original, _ := ds.GetBytes(TagPixelData)
	if original[0] != 1 {
		t.Error("clone shares backing storage with the original")
	}
}

func TestExtractMainTags(t *testing.T) {
	ds := sampleDataset(ExplicitVRLittleEndian)

	patient := ExtractMainTags(ds, LevelPatient)
	if patient[TagPatientName] != "Doe^John" || patient[TagPatientID] != "pat1" {
		t.Errorf("patient tags = %v", patient)
	}
	series := ExtractMainTags(ds, LevelSeries)
	if series[TagModality] != "CT" {
		t.Errorf("series tags = %v", series)
	}
	if _, ok := series[TagPatientName]; ok {
		t.Error("patient tag leaked into series level")
	}
}
