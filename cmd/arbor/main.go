package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/arbor/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries the output streams so commands can be driven from tests.
type cli struct {
	stdout io.Writer
	stderr io.Writer
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	if len(args) < 1 {
		c.printUsage(stderr)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "system":
		return c.runNoun("system", rest, map[string]func([]string) int{
			"start":  c.runStart,
			"status": c.runSystemStatus,
			"watch":  c.runWatch,
		})
	case "config":
		return c.runNoun("config", rest, map[string]func([]string) int{
			"check": c.runConfigCheck,
			"lock":  c.runConfigLock,
			"show":  c.runConfigShow,
		})
	case "plugin":
		return c.runNoun("plugin", rest, map[string]func([]string) int{
			"list":  c.runPluginList,
			"order": c.runPluginOrder,
		})
	case "tree":
		return c.runNoun("tree", rest, map[string]func([]string) int{
			"show": c.runTreeShow,
		})

	// Root aliases.
	case "start":
		return c.runStart(rest)
	case "doctor":
		return c.runConfigCheck(rest)
	case "version", "--version":
		return c.runVersion(rest)
	case "help", "--help", "-h":
		c.printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		c.printUsage(stderr)
		return 1
	}
}

func (c *cli) runNoun(noun string, args []string, actions map[string]func([]string) int) int {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	usage := func(w io.Writer) {
		fmt.Fprintf(w, "Usage: arbor %s <action> [flags]\n", noun)
		fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
	}

	if len(args) < 1 {
		usage(c.stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		usage(c.stdout)
		return 0
	}
	run, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(c.stderr, "Unknown %s action: %s\n", noun, args[0])
		return 1
	}
	return run(args[1:])
}

func (c *cli) printUsage(w io.Writer) {
	fmt.Fprint(w, `arbor - resource tree server with lifecycle plugins

Usage:
  arbor <noun> <action> [flags]

System Commands:
  system start      Start the server in the foreground
  system status     Show PID lock and health of a running server
  system watch      Live lifecycle event TUI

Config Commands:
  config check      Validate config, plugins and tree (dry run)
  config lock       Record integrity hashes for config and manifests
  config show       Print the resolved config with secrets redacted

Plugin Commands:
  plugin list       Show builtin and declared plugins
  plugin order      Show the resolved load order of enabled plugins

Tree Commands:
  tree show         Render the configured tree

General:
  version           Show version information
  help              Show this help message

Every command accepts --config PATH (file or directory). Without it the
config is discovered from $ARBOR_CONFIG_DIR, ~/.config/arbor, /etc/arbor
or ./config.yaml.
`)
}

// newFlagSet returns a flag set that reports errors to stderr instead of
// exiting, with the shared --config flag registered.
func (c *cli) newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	return fs, configPath
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return config.Load(path)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func (c *cli) runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "Usage: arbor version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(c.stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(c.stdout, string(data))
		return 0
	}

	fmt.Fprintf(c.stdout, "arbor %s\n", info.Version)
	fmt.Fprintf(c.stdout, "commit: %s\n", info.Commit)
	fmt.Fprintf(c.stdout, "built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// flagExit maps a flag parse error to an exit code; -h is not a failure.
func flagExit(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 1
}
