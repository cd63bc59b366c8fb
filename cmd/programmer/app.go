package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"programmer/pkg/config"
	"programmer/pkg/llm"
	"programmer/pkg/llm/factory"
	"programmer/pkg/logx"
	"programmer/pkg/metrics"
	"programmer/pkg/persistence"
	"programmer/pkg/session"
	"programmer/pkg/tokens"
)

// newClient builds the model client. Tests replace it with a scripted one.
//
//nolint:gochecknoglobals // test seam
var newClient = func(cfg *config.Config) (llm.Client, error) {
	return factory.NewClient(cfg)
}

// app holds what every command shares: config, store, metrics and logging.
type app struct {
	cfg      *config.Config
	store    *persistence.Store
	recorder *metrics.Recorder
	logger   *logx.Logger
	logFile  *os.File
}

// loadApp reads the config and applies the global flags. The caller must
// close the returned app.
func loadApp(cmd *cobra.Command) (*app, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug.Enabled = true
	}
	if cmd.Flags().Lookup("metrics-addr") != nil {
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			cfg.Metrics.Addr = addr
		}
	}

	a := &app{cfg: cfg, recorder: metrics.NewRecorder(), logger: logx.NewLogger("programmer")}
	if cfg.Debug.Enabled {
		logx.SetDebug(true, cfg.Debug.Domains)
	}
	if cfg.Debug.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Debug.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Debug.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		a.logFile = f
		logx.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return a, nil
}

// openStore opens the session database unless persistence is disabled.
// Sessions left active by a previous process are marked crashed.
func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Persistence.Disabled {
		return nil
	}
	store, err := persistence.Open(a.cfg.Persistence.DBPath)
	if err != nil {
		return err
	}
	a.store = store
	if n, err := store.MarkStaleSessions(ctx); err != nil {
		a.logger.Warn("Failed to mark stale sessions: %v", err)
	} else if n > 0 {
		a.logger.Warn("⚠️  Marked %d stale sessions as crashed", n)
	}
	return nil
}

// startMetrics serves /metrics when an address is configured.
func (a *app) startMetrics(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	addr, err := a.recorder.Serve(ctx, a.cfg.Metrics.Addr)
	if err != nil {
		return err
	}
	a.logger.Info("📈 Metrics available at http://%s/metrics", addr)
	return nil
}

// sessionOptions assembles session collaborators for cfg. Batch tasks pass
// their own copy of the config.
func (a *app) sessionOptions(cfg *config.Config, out io.Writer) (session.Options, error) {
	client, err := newClient(cfg)
	if err != nil {
		return session.Options{}, err
	}
	opts := session.Options{
		Config:   cfg,
		Client:   client,
		Store:    a.store,
		Recorder: a.recorder,
		Output:   out,
	}
	counter, err := tokens.NewCounter(cfg.Model.Name)
	if err != nil {
		a.logger.Warn("Token counting falls back to estimates: %v", err)
	} else {
		opts.Counter = counter
	}
	return opts, nil
}

func (a *app) close() {
	if a.cfg.Metrics.TextfilePath != "" {
		if err := a.recorder.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			a.logger.Warn("Failed to write metrics textfile: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close session store: %v", err)
		}
	}
	if a.logFile != nil {
		logx.SetOutput(nil)
		_ = a.logFile.Close()
	}
}
