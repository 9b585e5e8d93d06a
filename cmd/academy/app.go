package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"flame_academy/internal/agent"
	"flame_academy/internal/config"
	"flame_academy/internal/domain"
	"flame_academy/internal/fs"
	"flame_academy/internal/messaging/inproc"
	"flame_academy/internal/orchestrator"
	"flame_academy/internal/plan"
	"flame_academy/internal/registry"
	"flame_academy/internal/router"
	sqlitestore "flame_academy/internal/store/sqlite"
)

// app holds the wired components every command works against.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	store        *sqlitestore.Store
	registry     *registry.Registry
	router       *router.Router
	orchestrator *orchestrator.Service
	bus          *inproc.Bus
	files        *fs.Gateway
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	dbPath, err := config.ExpandHome(cfg.Orchestrator.DBPath)
	if err != nil {
		return nil, err
	}
	exportDir, err := config.ExpandHome(cfg.Orchestrator.ExportDir)
	if err != nil {
		return nil, err
	}
	dbPath = filepath.Clean(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	reg, err := buildRegistry(cfg.Agents)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	files, err := fs.NewGateway(afero.NewOsFs(), filepath.Clean(exportDir), store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create snapshot gateway: %w", err)
	}

	r := router.New(reg, router.Config{Weights: cfg.Scoring}, store, logger.Named("router"))
	bus := inproc.New(256)
	orch := orchestrator.New(r, store, bus, orchestrator.Config{
		ConcurrentBatches: cfg.Orchestrator.ConcurrentBatches,
		MaxBatchWorkers:   cfg.Orchestrator.MaxBatchWorkers,
		TaskType:          domain.TaskType(cfg.Orchestrator.DefaultTaskType),
	}, logger.Named("orchestrator"))

	logger.Debug("academy wired",
		zap.String("db", dbPath),
		zap.String("exports", exportDir),
		zap.Int("agents", reg.Len()),
	)
	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		registry:     reg,
		router:       r,
		orchestrator: orch,
		bus:          bus,
		files:        files,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// restoreActivePlans re-registers the plans a previous run left active.
// Snapshots that no longer validate are skipped.
func (a *app) restoreActivePlans(ctx context.Context) (int, error) {
	records, err := a.store.ListPlans(ctx, domain.PlanStateActive)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, rec := range records {
		snap, _, err := a.store.GetPlan(ctx, rec.ID)
		if err != nil {
			return restored, err
		}
		p, err := plan.FromSnapshot(snap)
		if err != nil {
			a.logger.Warn("skip unrestorable plan", zap.String("plan_id", rec.ID), zap.Error(err))
			continue
		}
		if err := a.orchestrator.AddPlan(ctx, p); err != nil {
			if errors.Is(err, orchestrator.ErrPlanExists) {
				continue
			}
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// buildRegistry registers the built-in agents followed by the configured ones.
func buildRegistry(extra []config.AgentConfig) (*registry.Registry, error) {
	reg := registry.New()
	for _, a := range agent.Defaults() {
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	for _, ac := range extra {
		a, err := agent.New(ac.Spec())
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.ID, err)
		}
		if err := reg.Register(a); err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.ID, err)
		}
	}
	return reg, nil
}
