package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumsFilename = ".checksums"

// ChecksumManifest is the on-disk .checksums file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockFileResult captures checksum generation outcome for one file.
type LockFileResult struct {
	Filename string
	Path     string
	Exists   bool
	Hash     string
}

// LockReport captures checksum generation details for a config directory.
type LockReport struct {
	ConfigDir    string
	ChecksumPath string
	Written      bool
	Files        []LockFileResult
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// LockFiles returns the files of configDir that `config lock` covers:
// config.yaml plus every manifest.yaml under the plugins directory when it
// lives inside configDir.
func LockFiles(configDir string, cfg *Config) []string {
	files := []string{configFilename}
	if cfg == nil || cfg.PluginsDir == "" {
		return files
	}
	rel, err := filepath.Rel(configDir, cfg.PluginsDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return files
	}
	_ = filepath.WalkDir(cfg.PluginsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != "manifest.yaml" {
			return nil
		}
		if r, err := filepath.Rel(configDir, path); err == nil {
			files = append(files, r)
		}
		return nil
	})
	sort.Strings(files[1:])
	return files
}

// Lock computes hashes for files (relative to configDir) and writes
// .checksums unless dryRun is set. Missing files are reported, not hashed.
func Lock(configDir string, files []string, dryRun bool) (*LockReport, error) {
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}
	report := &LockReport{
		ConfigDir:    configDir,
		ChecksumPath: filepath.Join(configDir, checksumsFilename),
		Files:        make([]LockFileResult, 0, len(files)),
	}

	for _, filename := range files {
		filePath := filepath.Join(configDir, filename)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			report.Files = append(report.Files, LockFileResult{Filename: filename, Path: filePath})
			continue
		}
		hash, err := ComputeBlake3Hash(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", filename, err)
		}
		manifest.Hashes[filename] = hash
		report.Files = append(report.Files, LockFileResult{
			Filename: filename,
			Path:     filePath,
			Exists:   true,
			Hash:     hash,
		})
	}

	if dryRun {
		return report, nil
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(report.ChecksumPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	report.Written = true
	return report, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, checksumsFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'arbor config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// VerifyChecksums checks every file listed in configDir/.checksums, and
// requires config.yaml to be listed.
func VerifyChecksums(configDir string) error {
	manifest, err := LoadChecksums(configDir)
	if err != nil {
		return err
	}
	if _, ok := manifest.Hashes[configFilename]; !ok {
		return fmt.Errorf("%s has no hash in checksums (run 'arbor config lock')", configFilename)
	}

	names := make([]string, 0, len(manifest.Hashes))
	for name := range manifest.Hashes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		filePath := filepath.Join(configDir, name)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			return fmt.Errorf("config file %s is in checksums but missing from disk", name)
		}
		if err := VerifyFileHash(filePath, manifest.Hashes[name]); err != nil {
			return fmt.Errorf("config verification failed: %w\n"+
				"If you edited this file intentionally, run: arbor config lock", err)
		}
	}
	return nil
}
