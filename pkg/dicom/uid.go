package dicom

import (
	"math/big"

	"github.com/google/uuid"
)

// uidRoot is the 2.25 OID arc reserved for UUID-derived UIDs (ITU-T X.667).
const uidRoot = "2.25."

// GenerateUID returns a fresh DICOM UID derived from a random UUID. The
// result is at most 44 characters, within the 64-character UID limit.
func GenerateUID() string {
	id := uuid.New()
	value := new(big.Int).SetBytes(id[:])
	return uidRoot + value.String()
}
