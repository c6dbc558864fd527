package storage

import "context"

// Area is the content-addressed storage the instances live in. Attachments
// are keyed by UUID and binary-transparent.
type Area interface {
	// Create writes a new attachment. Overwriting an existing UUID is an
	// error.
	Create(ctx context.Context, uuid string, data []byte) error

	// Read returns the whole attachment
	Read(ctx context.Context, uuid string) ([]byte, error)

	// ReadRange returns size bytes starting at offset
	ReadRange(ctx context.Context, uuid string, offset, size int64) ([]byte, error)

	// Remove deletes an attachment. Removing an unknown UUID is not an
	// error.
	Remove(ctx context.Context, uuid string) error
}
