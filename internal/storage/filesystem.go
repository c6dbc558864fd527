package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

// FilesystemArea stores attachments under root with a two-level fan-out
// taken from the UUID prefix: root/ab/cd/abcd1234-….
type FilesystemArea struct {
	root string
}

// NewFilesystemArea creates the root directory if needed
func NewFilesystemArea(root string) (*FilesystemArea, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FilesystemArea{root: root}, nil
}

func (f *FilesystemArea) path(uuid string) (string, error) {
	if len(uuid) < 4 {
		return "", dicomerr.Wrap(dicomerr.ErrParameterOutOfRange, "malformed attachment uuid %q", uuid)
	}
	return filepath.Join(f.root, uuid[0:2], uuid[2:4], uuid), nil
}

// Create writes a new attachment
func (f *FilesystemArea) Create(ctx context.Context, uuid string, data []byte) error {
	path, err := f.path(uuid)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return dicomerr.Wrap(dicomerr.ErrInternal, "attachment %q already exists", uuid)
		}
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write attachment: %w", err)
	}

	log.Debug().
		Str("component", "storage").
		Str("uuid", uuid).
		Int("size", len(data)).
		Msg("Attachment written")
	return nil
}

// Read returns the whole attachment
func (f *FilesystemArea) Read(ctx context.Context, uuid string) ([]byte, error) {
	path, err := f.path(uuid)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown attachment %q", uuid)
		}
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}

// ReadRange returns size bytes starting at offset
func (f *FilesystemArea) ReadRange(ctx context.Context, uuid string, offset, size int64) ([]byte, error) {
	path, err := f.path(uuid)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dicomerr.Wrap(dicomerr.ErrUnknownResource, "unknown attachment %q", uuid)
		}
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	defer file.Close()

	out := make([]byte, size)
	if _, err := file.ReadAt(out, offset); err != nil && err != io.EOF {
		return nil, dicomerr.Wrap(dicomerr.ErrParameterOutOfRange,
			"range %d+%d outside attachment %q", offset, size, uuid)
	}
	return out, nil
}

// Remove deletes an attachment
func (f *FilesystemArea) Remove(ctx context.Context, uuid string) error {
	path, err := f.path(uuid)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove attachment: %w", err)
	}
	return nil
}
