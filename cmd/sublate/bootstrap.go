package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/sublate/sublate/internal/asr"
	"github.com/sublate/sublate/internal/config"
	"github.com/sublate/sublate/internal/llm"
	"github.com/sublate/sublate/internal/pipeline"
	"github.com/sublate/sublate/internal/storage/sqlite"
	"github.com/sublate/sublate/internal/websocket"
	"github.com/sublate/sublate/pkg/logger"
)

// app holds the initialized shared dependencies of one command invocation
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *sql.DB
	lock      *flock.Flock
	jobs      *sqlite.JobStorage
	subtitles *sqlite.SubtitleStorage
}

// newApp loads configuration and opens the data directory. Every command
// that touches the database goes through here so the exclusive lock is always
// held.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}

	lock, err := sqlite.LockDataDir(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.Storage.DatabasePath, log)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	jobs, err := sqlite.NewJobStorage(db, log)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	subtitles, err := sqlite.NewSubtitleStorage(db, log)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		lock:      lock,
		jobs:      jobs,
		subtitles: subtitles,
	}, nil
}

// close releases the database and the data directory lock
func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("Failed to close database", logger.Error(err))
	}
	if err := a.lock.Unlock(); err != nil {
		a.log.Warn("Failed to release data directory lock", logger.Error(err))
	}
	_ = a.log.Sync()
}

// newService wires the processing pipeline. The WebSocket server may be nil
// for CLI-only runs.
func (a *app) newService(wsServer *websocket.Server) (*pipeline.Service, error) {
	var limiter *llm.RateLimiter
	if a.cfg.LLM.RPM > 0 {
		limiter = llm.NewRateLimiter(a.cfg.LLM.RPM)
	}

	llmClient, err := llm.NewClient(llm.ClientConfig{
		APIKeys:      a.cfg.LLM.APIKeys,
		KeyDelimiter: a.cfg.LLM.KeyDelimiter,
		BaseURL:      a.cfg.LLM.BaseURL,
		Model:        a.cfg.LLM.Model,
		Temperature:  a.cfg.LLM.Temperature,
		MaxRetries:   a.cfg.LLM.MaxRetries,
		Timeout:      time.Duration(a.cfg.LLM.TimeoutSeconds) * time.Second,
	}, limiter, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion client: %w", err)
	}

	asrClient := asr.NewClient(asr.ClientConfig{
		BaseURL:    a.cfg.ASR.BaseURL,
		Model:      a.cfg.ASR.Model,
		Timeout:    time.Duration(a.cfg.ASR.TimeoutSeconds) * time.Second,
		MaxRetries: a.cfg.ASR.MaxRetries,
	}, a.log)

	return pipeline.NewService(a.cfg, asrClient, llmClient, a.jobs, a.subtitles, wsServer, a.log), nil
}
