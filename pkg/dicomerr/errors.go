// Package dicomerr provides the error taxonomy shared by the DICOM store.
package dicomerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers compare with errors.Is; wrapping with %w keeps
// the kind intact across layers.
var (
	ErrBadFileFormat        = errors.New("dicom: bad file format")
	ErrParameterOutOfRange  = errors.New("dicom: parameter out of range")
	ErrNetworkProtocol      = errors.New("dicom: network protocol error")
	ErrNoSopClassOrInstance = errors.New("dicom: missing SOP class or instance UID")
	ErrBadSequenceOfCalls   = errors.New("dicom: bad sequence of calls")
	ErrNotImplemented       = errors.New("dicom: feature not implemented")
	ErrUnknownResource      = errors.New("dicom: unknown resource")
	ErrCanceled             = errors.New("dicom: canceled")
	ErrInternal             = errors.New("dicom: internal error")
	ErrBadRequest           = errors.New("dicom: bad request")
	ErrTimeout              = errors.New("dicom: timeout")
)

// Code identifies an error kind in serialized job state and REST payloads.
type Code string

const (
	CodeSuccess              Code = "Success"
	CodeBadFileFormat        Code = "BadFileFormat"
	CodeParameterOutOfRange  Code = "ParameterOutOfRange"
	CodeNetworkProtocol      Code = "NetworkProtocol"
	CodeNoSopClassOrInstance Code = "NoSopClassOrInstance"
	CodeBadSequenceOfCalls   Code = "BadSequenceOfCalls"
	CodeNotImplemented       Code = "NotImplemented"
	CodeUnknownResource      Code = "UnknownResource"
	CodeCanceled             Code = "Canceled"
	CodeInternal             Code = "InternalError"
	CodeBadRequest           Code = "BadRequest"
	CodeTimeout              Code = "Timeout"
	CodeUnknown              Code = "Unknown"
)

// CodeOf maps an error back to its taxonomy code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrBadFileFormat):
		return CodeBadFileFormat
	case errors.Is(err, ErrParameterOutOfRange):
		return CodeParameterOutOfRange
	case errors.Is(err, ErrNetworkProtocol):
		return CodeNetworkProtocol
	case errors.Is(err, ErrNoSopClassOrInstance):
		return CodeNoSopClassOrInstance
	case errors.Is(err, ErrBadSequenceOfCalls):
		return CodeBadSequenceOfCalls
	case errors.Is(err, ErrNotImplemented):
		return CodeNotImplemented
	case errors.Is(err, ErrUnknownResource):
		return CodeUnknownResource
	case errors.Is(err, ErrCanceled):
		return CodeCanceled
	case errors.Is(err, ErrInternal):
		return CodeInternal
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeUnknown
	}
}

// Wrap attaches context to a taxonomy error.
func Wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, kind)...)
}

// AssociationRejectedError carries the reject source and reason from an
// A-ASSOCIATE-RJ PDU. It is a NetworkProtocol error.
type AssociationRejectedError struct {
	Source byte
	Reason byte
}

func (e *AssociationRejectedError) Error() string {
	return fmt.Sprintf("association rejected (source: 0x%02x, reason: 0x%02x)", e.Source, e.Reason)
}

func (e *AssociationRejectedError) Unwrap() error {
	return ErrNetworkProtocol
}

// DimseStatusError carries a non-success DIMSE response status.
type DimseStatusError struct {
	Operation string
	Status    uint16
}

func (e *DimseStatusError) Error() string {
	return fmt.Sprintf("DIMSE %s failed with status 0x%04x", e.Operation, e.Status)
}

func (e *DimseStatusError) Unwrap() error {
	return ErrNetworkProtocol
}
