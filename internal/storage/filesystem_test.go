package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/otcheredev/dicom-store/pkg/dicomerr"
)

func newTestArea(t *testing.T) *FilesystemArea {
	t.Helper()
	area, err := NewFilesystemArea(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemArea: %v", err)
	}
	return area
}

func TestFilesystemCreateReadRemove(t *testing.T) {
	area := newTestArea(t)
	ctx := context.Background()
	payload := []byte("attachment payload")

	if err := area.Create(ctx, "abcd1234", payload); err != nil {
		t.Fatalf("Create: %v", err)
	}
	data, err := area.Read(ctx, "abcd1234")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("Read = %q", data)
	}

	if err := area.Remove(ctx, "abcd1234"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := area.Read(ctx, "abcd1234"); !errors.Is(err, dicomerr.ErrUnknownResource) {
		t.Errorf("Read after Remove error = %v, want ErrUnknownResource", err)
	}
}

func TestFilesystemFanOutLayout(t *testing.T) {
	root := t.TempDir()
	area, err := NewFilesystemArea(root)
	if err != nil {
		t.Fatalf("NewFilesystemArea: %v", err)
	}
	if err := area.Create(context.Background(), "abcd1234", []byte("x")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "ab", "cd", "abcd1234")); err != nil {
		t.Errorf("fan-out path missing: %v", err)
	}
}

func TestFilesystemCreateRefusesOverwrite(t *testing.T) {
	area := newTestArea(t)
	ctx := context.Background()

	if err := area.Create(ctx, "abcd1234", []byte("one")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := area.Create(ctx, "abcd1234", []byte("two")); !errors.Is(err, dicomerr.ErrInternal) {
		t.Fatalf("duplicate Create error = %v, want ErrInternal", err)
	}

	// The original payload survives.
	data, err := area.Read(ctx, "abcd1234")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "one" {
		t.Errorf("Read = %q after refused overwrite", data)
	}
}

func TestFilesystemRemoveMissingIsIdempotent(t *testing.T) {
	area := newTestArea(t)
	if err := area.Remove(context.Background(), "abcd1234"); err != nil {
		t.Fatalf("Remove of missing attachment: %v", err)
	}
}

func TestFilesystemReadRange(t *testing.T) {
	area := newTestArea(t)
	ctx := context.Background()

	if err := area.Create(ctx, "abcd1234", []byte("0123456789")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	data, err := area.ReadRange(ctx, "abcd1234", 3, 4)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(data) != "3456" {
		t.Errorf("ReadRange = %q", data)
	}

	if _, err := area.ReadRange(ctx, "missing1", 0, 1); !errors.Is(err, dicomerr.ErrUnknownResource) {
		t.Errorf("ReadRange missing error = %v", err)
	}
}

func TestFilesystemRejectsMalformedUUID(t *testing.T) {
	area := newTestArea(t)
	for _, op := range []func() error{
		func() error { return area.Create(context.Background(), "ab", nil) },
		func() error { _, err := area.Read(context.Background(), "ab"); return err },
		func() error { return area.Remove(context.Background(), "ab") },
	} {
		if err := op(); !errors.Is(err, dicomerr.ErrParameterOutOfRange) {
			t.Errorf("error = %v, want ErrParameterOutOfRange", err)
		}
	}
}
