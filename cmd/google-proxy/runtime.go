package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/google-proxy/pkg/actor"
	"github.com/pario-ai/google-proxy/pkg/config"
	"github.com/pario-ai/google-proxy/pkg/store/sqlite"
	"github.com/pario-ai/google-proxy/pkg/usage"
)

// runtime bundles what the long-running commands share.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlite.Store
	actor  *actor.Actor
}

func newRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}

	tracker, err := usage.Open(db.DB())
	if err != nil {
		_ = db.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("init usage tracker: %w", err)
	}

	a, err := actor.NewFromPayload(cfg.Actor.ID, cfg.InitPayload(), actor.Deps{
		Store:             db,
		Usage:             tracker,
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		_ = db.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("init actor: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, db: db, actor: a}, nil
}

func (r *runtime) Close() {
	_ = r.db.Close()
	_ = r.logger.Sync()
}
