package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockDryRun(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, "service:\n  name: x\n")

	report, err := Lock(tmpDir, []string{"config.yaml", "plugins/extra/manifest.yaml"}, true)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Files) != 2 {
		t.Fatalf("len(report.Files) = %d, want 2", len(report.Files))
	}
	if !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatal("config.yaml should exist with computed hash")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("missing manifest should be reported without hash")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".checksums")); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestLockThenLoadVerifies(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: locked\n")

	if _, err := Lock(dir, []string{"config.yaml"}, false); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load after lock: %v", err)
	}
	if cfg.Service.Name != "locked" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}

	if err := os.WriteFile(path, []byte("service:\n  name: tampered\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = Load(dir)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestVerifyChecksumsRequiresConfig(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "notes.yaml")
	if err := os.WriteFile(other, []byte("x: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Lock(dir, []string{"notes.yaml"}, false); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := VerifyChecksums(dir); err == nil || !strings.Contains(err.Error(), "config.yaml") {
		t.Fatalf("expected config.yaml to be required, got %v", err)
	}
}

func TestLockFilesIncludesManifests(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "plugins_dir: plugins\n")
	for _, n := range []string{"b", "a"} {
		p := filepath.Join(dir, "plugins", n)
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(p, "manifest.yaml"), []byte("name: "+n+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := LockFiles(dir, cfg)
	want := []string{"config.yaml", filepath.Join("plugins", "a", "manifest.yaml"), filepath.Join("plugins", "b", "manifest.yaml")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("LockFiles = %v, want %v", got, want)
	}
}

func TestLoadChecksumsVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".checksums"), []byte("version: 2\nhashes: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChecksums(dir); err == nil {
		t.Fatal("expected unsupported version error")
	}
	if _, err := LoadChecksums(t.TempDir()); err == nil {
		t.Fatal("expected missing checksums error")
	}
}

func TestLoadUnverifiedSkipsChecksums(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: locked\n")
	if _, err := Lock(dir, []string{"config.yaml"}, false); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := os.WriteFile(path, []byte("service:\n  name: edited\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadUnverified(dir)
	if err != nil {
		t.Fatalf("LoadUnverified: %v", err)
	}
	if cfg.Service.Name != "edited" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
}
