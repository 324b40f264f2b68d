package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/arbor/internal/app"
	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/lock"
	"github.com/mattjoyce/arbor/internal/log"
	"github.com/mattjoyce/arbor/internal/tui/watch"
	"golang.org/x/sync/errgroup"
)

func (c *cli) runStart(args []string) int {
	fs, configPath := c.newFlagSet("start")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := log.New(cfg.Service.LogLevel, cfg.Service.LogFormat, c.stderr)
	mainLog := log.WithComponent(logger, "main")
	mainLog.Info("arbor starting", "version", version, "config", cfg.SourcePath)

	if cfg.Service.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.Service.PIDFile)
		if err != nil {
			mainLog.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
			return 1
		}
		defer func() { _ = pidLock.Release() }()
		mainLog.Info("acquired PID lock", "path", pidLock.Path())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		mainLog.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			mainLog.Error("shutdown incomplete", "error", err)
		}
	}()

	if err := a.Load(ctx); err != nil {
		mainLog.Error("plugin load failed", "error", err, "kind", apperr.KindOf(err))
		return 1
	}
	if err := a.Start(ctx); err != nil {
		mainLog.Error("plugin start failed", "error", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server().Start(gctx) })

	mainLog.Info("arbor running (press Ctrl+C to stop)", "listen", cfg.API.Listen, "resources", len(a.Tree.Resources()))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		mainLog.Error("component failed", "error", err)
		return 1
	}
	mainLog.Info("arbor stopped")
	return 0
}

type systemStatus struct {
	Config    string `json:"config"`
	PIDFile   string `json:"pid_file,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Running   bool   `json:"running"`
	Listen    string `json:"listen"`
	Reachable bool   `json:"reachable"`
	Health    string `json:"health,omitempty"`
}

func (c *cli) runSystemStatus(args []string) int {
	fs, configPath := c.newFlagSet("status")
	jsonOut := fs.Bool("json", false, "Output status as JSON")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "Failed to load config: %v\n", err)
		return 1
	}

	st := systemStatus{Config: cfg.SourcePath, PIDFile: cfg.Service.PIDFile, Listen: cfg.API.Listen}
	if st.PIDFile != "" {
		if pid, err := lock.ReadPID(st.PIDFile); err == nil {
			st.PID = pid
			// A free lock means the recorded pid is stale.
			if l, err := lock.Acquire(st.PIDFile); errors.Is(err, lock.ErrLocked) {
				st.Running = true
			} else if err == nil {
				_ = l.Release()
			}
		}
	}
	st.Reachable, st.Health = probeHealth(cfg.API.Listen)

	if *jsonOut {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Fprintln(c.stdout, string(data))
	} else {
		fmt.Fprintf(c.stdout, "config:    %s\n", st.Config)
		if st.PID > 0 {
			fmt.Fprintf(c.stdout, "pid:       %d (running: %t)\n", st.PID, st.Running)
		} else {
			fmt.Fprintln(c.stdout, "pid:       none")
		}
		fmt.Fprintf(c.stdout, "api:       %s (reachable: %t)\n", st.Listen, st.Reachable)
		if st.Health != "" {
			fmt.Fprintf(c.stdout, "health:    %s\n", st.Health)
		}
	}
	if !st.Reachable {
		return 1
	}
	return 0
}

func probeHealth(listen string) (bool, string) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL(listen) + "/healthz")
	if err != nil {
		return false, ""
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return true, body.Status
}

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *cli) runWatch(args []string) int {
	fs, configPath := c.newFlagSet("watch")
	apiURL := fs.String("api-url", "", "Server URL (default: derived from api.listen)")
	apiKey := fs.String("api-key", os.Getenv("ARBOR_API_KEY"), "Bearer token with events:ro")
	prefix := fs.String("prefix", "", "Only show events whose name starts with this prefix")
	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}

	url := *apiURL
	if url == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(c.stderr, "Pass --api-url or a loadable config: %v\n", err)
			return 1
		}
		url = baseURL(cfg.API.Listen)
	}

	if err := watch.Run(watch.Options{APIURL: url, APIKey: *apiKey, Prefix: *prefix}); err != nil {
		fmt.Fprintf(c.stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
