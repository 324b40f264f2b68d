package plugin

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/arbor/internal/log"
)

const manifestFilename = "manifest.yaml"

// Discover scans dir for manifest.yaml files and declares each descriptor
// in reg. Invalid manifests are logged and skipped; when two manifests
// declare the same plugin the first one found keeps its place.
func Discover(reg *Registry, dir string, logger *slog.Logger) (int, error) {
	return DiscoverMany(reg, []string{dir}, logger)
}

// DiscoverMany scans several roots in order.
func DiscoverMany(reg *Registry, roots []string, logger *slog.Logger) (int, error) {
	logger = log.WithComponent(logger, "plugin-discovery")

	absRoots := make([]string, 0, len(roots))
	seenRoots := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return 0, fmt.Errorf("resolve plugin root %q: %w", root, err)
		}
		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				return 0, fmt.Errorf("plugin root does not exist: %s", absRoot)
			}
			return 0, fmt.Errorf("stat plugin root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return 0, fmt.Errorf("plugin root is not a directory: %s", absRoot)
		}
		if _, ok := seenRoots[absRoot]; ok {
			continue
		}
		seenRoots[absRoot] = struct{}{}
		absRoots = append(absRoots, absRoot)
	}
	if len(absRoots) == 0 {
		return 0, fmt.Errorf("at least one plugin root is required")
	}

	declared := make(map[string]string)
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("failed to read manifest", "path", path, "error", err)
				return nil
			}
			m, err := ParseManifest(data)
			if err != nil {
				logger.Warn("failed to load manifest", "path", path, "error", err)
				return nil
			}

			desc := m.Descriptor()
			name := desc.CanonicalName()
			if kept, dup := declared[name]; dup {
				logger.Warn("duplicate manifest ignored (keeping first discovered)", "plugin", name, "ignored_path", path, "kept_path", kept)
				return nil
			}
			if err := reg.Declare(desc, path); err != nil {
				logger.Warn("failed to declare plugin", "plugin", name, "path", path, "error", err)
				return nil
			}
			declared[name] = path
			logger.Info("declared plugin", "plugin", name, "path", path, "dependencies", len(m.Dependencies))
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("scan plugin root %s: %w", root, err)
		}
	}
	return len(declared), nil
}
