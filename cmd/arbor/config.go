package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mattjoyce/arbor/internal/app"
	"github.com/mattjoyce/arbor/internal/config"
	"github.com/mattjoyce/arbor/internal/doctor"
	"github.com/mattjoyce/arbor/internal/log"
)

// runConfigCheck exits 0 when valid, 1 on errors and 2 on warnings only.
func (c *cli) runConfigCheck(args []string) int {
	fs, configPath := c.newFlagSet("check")
	format := fs.String("format", "human", "Output format: human or json")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	if *format != "human" && *format != "json" {
		fmt.Fprintf(c.stderr, "Unknown format %q (valid: human, json)\n", *format)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Load error: %v\n", err)
		return 1
	}
	registry, err := app.NewRegistry(cfg, log.Discard())
	if err != nil {
		fmt.Fprintf(c.stderr, "Plugin discovery error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, registry).Validate(context.Background())
	if *format == "json" {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(c.stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(c.stdout, out)
	} else {
		fmt.Fprint(c.stdout, doctor.FormatHuman(result))
	}

	switch {
	case !result.Valid:
		return 1
	case len(result.Warnings) > 0 && *strict:
		return 1
	case len(result.Warnings) > 0:
		return 2
	}
	return 0
}

func (c *cli) runConfigLock(args []string) int {
	fs, configPath := c.newFlagSet("lock")
	dryRun := fs.Bool("dry-run", false, "Show the hashes without writing .checksums")
	var verbose bool
	fs.BoolVar(&verbose, "verbose", false, "List every hashed file")
	fs.BoolVar(&verbose, "v", false, "Shorthand for --verbose")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}

	// Locking must work on a config whose hashes no longer match.
	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(c.stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}
	resolved, err := config.ResolvePath(path)
	if err != nil {
		fmt.Fprintf(c.stderr, "Config error: %v\n", err)
		return 1
	}
	configDir := filepath.Dir(resolved)
	cfg, err := config.LoadUnverified(resolved)
	if err != nil {
		fmt.Fprintf(c.stderr, "Refusing to lock an invalid config: %v\n", err)
		return 1
	}

	report, err := config.Lock(configDir, config.LockFiles(configDir, cfg), *dryRun)
	if err != nil {
		fmt.Fprintf(c.stderr, "Lock failed: %v\n", err)
		return 1
	}

	if verbose || *dryRun {
		for _, f := range report.Files {
			if !f.Exists {
				fmt.Fprintf(c.stdout, "  %-40s missing\n", f.Filename)
				continue
			}
			fmt.Fprintf(c.stdout, "  %-40s %s\n", f.Filename, f.Hash)
		}
	}
	if report.Written {
		fmt.Fprintf(c.stdout, "Wrote %s (%d file(s))\n", report.ChecksumPath, len(report.Files))
	} else {
		fmt.Fprintf(c.stdout, "Dry run: %s not written\n", report.ChecksumPath)
	}
	return 0
}

func (c *cli) runConfigShow(args []string) int {
	fs, configPath := c.newFlagSet("show")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Load error: %v\n", err)
		return 1
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(c.stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Fprint(c.stdout, string(out))
	return 0
}
