package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckFilesystem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsType  string
		detErr  error
		wantErr string
	}{
		{name: "local apfs", fsType: "apfs"},
		{name: "linux ext4 magic", fsType: "0xef53"},
		{name: "nfs", fsType: "nfs", wantErr: `network filesystem "nfs"`},
		{name: "smb upper case", fsType: "SMBFS", wantErr: "SQLite requires a local filesystem"},
		{name: "detector failure", detErr: errors.New("boom"), wantErr: "detect filesystem"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dbPath := filepath.Join(t.TempDir(), "arbor.db")
			err := checkFilesystemWith(dbPath, func(string) (string, error) {
				return tt.fsType, tt.detErr
			})
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestCheckFilesystemInspectsNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "arbor.db")

	var inspected string
	err := checkFilesystemWith(dbPath, func(path string) (string, error) {
		inspected = path
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}
}

func TestCheckFilesystemEmptyPath(t *testing.T) {
	t.Parallel()
	if err := CheckLocalFilesystem(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
