// Package transcode converts parsed DICOM datasets between transfer
// syntaxes, preserving or regenerating SOP instance UIDs depending on
// whether the chosen path is lossy.
package transcode

import (
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/pkg/dicom"
	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// PixelCodec compresses or decompresses encapsulated pixel data. The store
// ships without one; deployments that link an image codec inject it here.
type PixelCodec interface {
	// Supports reports whether the codec handles the compressed syntax
	Supports(ts dicom.TransferSyntax) bool
	// Encode compresses the pixel data of an uncompressed dataset in place
	// and retags it with the target syntax
	Encode(dataset *dicom.DataSet, target dicom.TransferSyntax, lossyQuality int) error
	// Decode decompresses the pixel data in place, retagging the dataset
	// with Explicit VR Little Endian
	Decode(dataset *dicom.DataSet) error
}

// Transcoder applies the preferred-order transcoding cascade.
type Transcoder struct {
	lossyQuality int
	codec        PixelCodec
}

// NewTranscoder creates a transcoder with the default lossy quality of 90.
func NewTranscoder() *Transcoder {
	return &Transcoder{lossyQuality: 90}
}

// WithCodec attaches a pixel codec for the compressed syntaxes.
func (t *Transcoder) WithCodec(codec PixelCodec) *Transcoder {
	t.codec = codec
	return t
}

// SetLossyQuality configures the quality of lossy compression, in (0, 100].
func (t *Transcoder) SetLossyQuality(quality int) error {
	if quality <= 0 || quality > 100 {
		return dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "lossy quality %d out of (0, 100]", quality)
	}
	t.lossyQuality = quality
	return nil
}

// LossyQuality returns the configured lossy quality.
func (t *Transcoder) LossyQuality() int {
	return t.lossyQuality
}

// Transcode converts the source dataset into one of the allowed transfer
// syntaxes. The boolean result distinguishes "not transcodable" from an
// error: (nil, false, nil) means no allowed syntax is reachable, which the
// caller may treat as fatal (C-STORE) or as a warning (C-GET).
func (t *Transcoder) Transcode(source *dicom.DataSet, allowed map[dicom.TransferSyntax]bool,
	allowNewSopInstanceUID bool) (*dicom.DataSet, bool, error) {

	if source == nil {
		return nil, false, dicomerr.Wrap(dicomerr.ErrInternal, "nil source dataset")
	}
	if !dicom.IsKnownTransferSyntax(source.TransferSyntax) {
		return nil, false, dicomerr.Wrap(dicomerr.ErrNetworkProtocol,
			"unknown source transfer syntax %q", string(source.TransferSyntax))
	}

	sourceUID := source.GetString(dicom.TagSOPInstanceUID)
	sourceSyntax := source.TransferSyntax

	// 1. Source syntax already allowed: no work, UID untouched.
	if allowed[sourceSyntax] {
		return source, true, nil
	}

	log.Debug().
		Str("component", "transcoder").
		Str("source", string(sourceSyntax)).
		Int("allowed", len(allowed)).
		Msg("Transcoding dataset")

	result, lossy, err := t.cascade(source, allowed, allowNewSopInstanceUID)
	if err != nil || result == nil {
		return nil, false, err
	}

	if err := checkTranscoded(result, sourceUID, lossy); err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// cascade walks the preferred-order algorithm. It returns a nil dataset
// when no allowed syntax is reachable.
func (t *Transcoder) cascade(source *dicom.DataSet, allowed map[dicom.TransferSyntax]bool,
	allowNewSopInstanceUID bool) (*dicom.DataSet, bool, error) {

	// 2. Uncompressed family, in fixed order. UID is preserved.
	for _, target := range dicom.UncompressedTransferSyntaxes() {
		if !allowed[target] {
			continue
		}
		converted, err := t.toUncompressed(source, target)
		if err != nil {
			return nil, false, err
		}
		return converted, false, nil
	}

	bitsStored, hasBitsStored := source.GetUint16(dicom.TagBitsStored)

	// 3. JPEG Process 1: lossy, 8-bit samples only.
	if allowed[dicom.JPEGProcess1] && allowNewSopInstanceUID &&
		(!hasBitsStored || bitsStored == 8) {
		converted, err := t.toCompressed(source, dicom.JPEGProcess1, true)
		if err != nil {
			return nil, false, err
		}
		return converted, true, nil
	}

	// 4. JPEG Process 2 & 4: lossy, up to 12-bit samples.
	if allowed[dicom.JPEGProcess2_4] && allowNewSopInstanceUID &&
		(!hasBitsStored || bitsStored <= 12) {
		converted, err := t.toCompressed(source, dicom.JPEGProcess2_4, true)
		if err != nil {
			return nil, false, err
		}
		return converted, true, nil
	}

	// 5. Lossless JPEG variants. UID is preserved.
	for _, target := range []dicom.TransferSyntax{
		dicom.JPEGProcess14, dicom.JPEGProcess14SV1, dicom.JPEGLSLossless,
	} {
		if !allowed[target] {
			continue
		}
		converted, err := t.toCompressed(source, target, false)
		if err != nil {
			return nil, false, err
		}
		return converted, false, nil
	}

	// 6. JPEG-LS lossy.
	if allowed[dicom.JPEGLSLossy] && allowNewSopInstanceUID {
		converted, err := t.toCompressed(source, dicom.JPEGLSLossy, true)
		if err != nil {
			return nil, false, err
		}
		return converted, true, nil
	}

	return nil, false, nil
}

// toUncompressed converts between members of the uncompressed family, or
// decompresses a compressed source when a codec is available.
func (t *Transcoder) toUncompressed(source *dicom.DataSet, target dicom.TransferSyntax) (*dicom.DataSet, error) {
	result := source.Clone()

	if source.TransferSyntax.IsCompressed() &&
		source.TransferSyntax != dicom.DeflatedExplicitVRLittleEndian {
		if t.codec == nil || !t.codec.Supports(source.TransferSyntax) {
			return nil, dicomerr.Wrap(dicomerr.ErrNotImplemented,
				"no codec to decompress %s", source.TransferSyntax.Name())
		}
		if err := t.codec.Decode(result); err != nil {
			return nil, err
		}
	}

	result.TransferSyntax = target
	return result, nil
}

// toCompressed compresses into a JPEG family syntax through the codec.
func (t *Transcoder) toCompressed(source *dicom.DataSet, target dicom.TransferSyntax, lossy bool) (*dicom.DataSet, error) {
	if t.codec == nil || !t.codec.Supports(target) {
		return nil, dicomerr.Wrap(dicomerr.ErrNotImplemented,
			"no codec to compress into %s", target.Name())
	}

	result, err := t.toUncompressed(source, dicom.ExplicitVRLittleEndian)
	if err != nil {
		return nil, err
	}

	if err := t.codec.Encode(result, target, t.lossyQuality); err != nil {
		return nil, err
	}
	result.TransferSyntax = target

	if lossy && result.HasPixelData() {
		result.SetString(dicom.TagSOPInstanceUID, dicom.VR_UI, dicom.GenerateUID())
	}
	return result, nil
}

// checkTranscoded enforces the SOP instance UID post-condition: a lossy
// path over pixel data must change the UID, any other path must not.
func checkTranscoded(result *dicom.DataSet, sourceUID string, lossy bool) error {
	targetUID := result.GetString(dicom.TagSOPInstanceUID)

	if lossy && result.HasPixelData() {
		if targetUID == sourceUID {
			return dicomerr.Wrap(dicomerr.ErrInternal,
				"lossy transcoding did not change the SOP instance UID")
		}
		return nil
	}

	if targetUID != sourceUID {
		return dicomerr.Wrap(dicomerr.ErrInternal,
			"transcoding changed the SOP instance UID of a lossless path")
	}
	return nil
}
