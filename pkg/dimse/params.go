package dimse

import (
	"fmt"
	"sync"
	"time"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// hostNameMax mirrors the POSIX HOST_NAME_MAX constant. DCMTK reserves ten
// bytes of the buffer for the port suffix, hence the -10 in the check below.
const hostNameMax = 64

// MaxPresentationContexts is the DICOM upper layer limit on the number of
// presentation contexts in a single association.
const MaxPresentationContexts = 128

var (
	defaultTimeoutMu sync.Mutex
	defaultTimeout   uint32 = 10
)

// SetDefaultTimeout changes the process-wide default SCU timeout, in
// seconds. Zero disables the timeout.
func SetDefaultTimeout(seconds uint32) {
	defaultTimeoutMu.Lock()
	defer defaultTimeoutMu.Unlock()
	defaultTimeout = seconds
}

// GetDefaultTimeout returns the process-wide default SCU timeout in seconds
func GetDefaultTimeout() uint32 {
	defaultTimeoutMu.Lock()
	defer defaultTimeoutMu.Unlock()
	return defaultTimeout
}

// AssociationParameters identifies the two peers of an association. The
// value is immutable once the association is open.
type AssociationParameters struct {
	LocalAET           string
	RemoteAET          string
	RemoteHost         string
	RemotePort         uint16
	RemoteManufacturer string
	Timeout            uint32 // seconds, 0 means no timeout
	MaxPDULength       uint32
}

// NewAssociationParameters returns parameters carrying the process-wide
// default timeout.
func NewAssociationParameters(localAET, remoteAET, remoteHost string, remotePort uint16) AssociationParameters {
	return AssociationParameters{
		LocalAET:     localAET,
		RemoteAET:    remoteAET,
		RemoteHost:   remoteHost,
		RemotePort:   remotePort,
		Timeout:      GetDefaultTimeout(),
		MaxPDULength: 16384,
	}
}

// Validate checks the parameters before opening an association
func (p AssociationParameters) Validate() error {
	if len(p.RemoteHost) > hostNameMax-10 {
		return dicomerr.Wrap(dicomerr.ErrParameterOutOfRange,
			"remote host name is too long (%d bytes, maximum %d)", len(p.RemoteHost), hostNameMax-10)
	}
	if p.LocalAET == "" || p.RemoteAET == "" {
		return dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "empty application entity title")
	}
	if len(p.LocalAET) > 16 || len(p.RemoteAET) > 16 {
		return dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "application entity title longer than 16 bytes")
	}
	return nil
}

// RemoteAddress returns the host:port dial target
func (p AssociationParameters) RemoteAddress() string {
	return fmt.Sprintf("%s:%d", p.RemoteHost, p.RemotePort)
}

// TimeoutDuration converts the timeout to a duration, 0 meaning none
func (p AssociationParameters) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}
