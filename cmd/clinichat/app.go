package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clinichat/clinichat/internal/ai"
	"github.com/clinichat/clinichat/internal/auth"
	"github.com/clinichat/clinichat/internal/backend"
	"github.com/clinichat/clinichat/internal/config"
	"github.com/clinichat/clinichat/internal/logger"
	"github.com/clinichat/clinichat/internal/ocr"
	"github.com/clinichat/clinichat/internal/session"
)

// app wires config, credentials, clients and the orchestrator for a single
// CLI invocation.
type app struct {
	cfg          config.Config
	creds        *auth.Provider
	backend      *backend.Client
	ai           *ai.Client
	orchestrator *session.Orchestrator
	cleanup      func() error
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cleanup := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	log := logger.L

	tokenFile := cfg.Identity.TokenFile
	if tokenFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			tokenFile = filepath.Join(home, ".clinichat", "credentials.json")
		}
	}

	creds := auth.NewProvider(log, cfg.Identity.BaseURL, tokenFile)
	if err := creds.Load(); err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	backendTimeout := config.ParseDuration(cfg.Backend.Timeout, 60*time.Second)
	backendClient := backend.NewClient(log, cfg.Backend.BaseURL, backendTimeout, cfg.Backend.PageSize, creds)

	aiTimeout := config.ParseDuration(cfg.AI.Timeout, 60*time.Second)
	aiClient := ai.NewClient(log, cfg.AI.BaseURL, aiTimeout, creds)

	poller := ocr.NewPoller(log, backendClient,
		config.ParseDuration(cfg.OCR.PollInterval, time.Second), cfg.OCR.MaxAttempts)

	store := session.NewStore()
	orchestrator := session.NewOrchestrator(log, store, backendClient, aiClient, poller, stderrNotifier{})

	return &app{
		cfg:          cfg,
		creds:        creds,
		backend:      backendClient,
		ai:           aiClient,
		orchestrator: orchestrator,
		cleanup:      cleanup,
	}, nil
}

func (a *app) close() {
	if a.cleanup != nil {
		_ = a.cleanup()
	}
}

// stderrNotifier renders user-facing notices on stderr, the CLI stand-in for
// UI toasts.
type stderrNotifier struct{}

func (stderrNotifier) Notify(n session.Notice) {
	fmt.Fprintf(os.Stderr, "[%s] %s", n.Level, n.Title)
	if n.Detail != "" {
		fmt.Fprintf(os.Stderr, ": %s", n.Detail)
	}
	fmt.Fprintln(os.Stderr)
}
