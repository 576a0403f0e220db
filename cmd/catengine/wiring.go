package main

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/catengine/config"
	"github.com/mohammad-safakhou/catengine/engine"
	"github.com/mohammad-safakhou/catengine/internal/estimator"
	"github.com/mohammad-safakhou/catengine/internal/logger"
	"github.com/mohammad-safakhou/catengine/internal/policy"
	"github.com/mohammad-safakhou/catengine/internal/recalibration"
	"github.com/mohammad-safakhou/catengine/internal/runtime"
	"github.com/mohammad-safakhou/catengine/internal/store"
	"github.com/mohammad-safakhou/catengine/repository"
	"github.com/mohammad-safakhou/catengine/session"
)

// app holds the process-wide collaborators built from configuration.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

func loadApp(cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.General.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	pg := a.cfg.Storage.Postgres
	rc := a.cfg.Recalibration
	tables := store.DefaultTables()
	tables.Items = rc.ItemsTable
	tables.StatsView = rc.StatsView
	tables.ChangeLog = rc.ChangeLogTable
	st, err := store.Open(ctx, store.Options{Driver: pg.Driver, DSN: pg.DSN(), Tables: tables})
	if err != nil {
		return nil, fmt.Errorf("open item bank: %w", err)
	}
	return st, nil
}

// sharedKV connects to redis for cross-instance state. When redis does not
// answer, an in-process store is used and a warning is logged.
func (a *app) sharedKV(ctx context.Context) repository.KV {
	r := a.cfg.Storage.Redis
	kv, err := repository.NewKV(ctx, repository.RepoTypeRedis, repository.RedisOptions{
		Host:     r.Host,
		Port:     r.Port,
		Password: r.Password,
		DB:       r.DB,
		Timeout:  r.Timeout,
	}, a.log)
	if err != nil {
		a.log.Warn("redis unavailable, policies stay local to this process", "error", err)
		kv, _ = repository.NewKV(ctx, repository.RepoTypeMemory, repository.RedisOptions{}, a.log)
	}
	return kv
}

func (a *app) resolver(kv repository.KV) *policy.Resolver {
	return policy.NewResolver(policy.Options{
		Default:   a.cfg.Selection.Policy(),
		TTL:       a.cfg.Selection.PolicyTTL,
		KeyPrefix: a.cfg.Storage.Redis.KeyPrefix,
		KV:        kv,
		Logger:    a.log,
	})
}

func (a *app) sessions(ctx context.Context) (session.Store, error) {
	r := a.cfg.Storage.Redis
	st, kind, err := session.NewStore(ctx, session.Options{
		Type:      session.StoreType(a.cfg.Session.Backend),
		TTL:       a.cfg.Session.TTL,
		KeyPrefix: r.KeyPrefix,
		Host:      r.Host,
		Port:      r.Port,
		Password:  r.Password,
		DB:        r.DB,
		Timeout:   r.Timeout,
	}, a.log)
	if err != nil {
		return nil, err
	}
	a.log.Info("session store ready", "backend", string(kind))
	return st, nil
}

func (a *app) engineConfig() engine.Config {
	c := a.cfg
	return engine.Config{
		Method: c.Estimator.Method,
		Prior:  estimator.Prior{Mean: c.Estimator.PriorMean, SD: c.Estimator.PriorSD},
		Stop: engine.StopConfig{
			MaxItems:    c.Stop.MaxItems,
			TimeLimit:   c.Stop.TimeLimitPtr(),
			SEThreshold: c.Stop.SEThreshold,
		},
		Exposure:         engine.ExposureConfig{MaxPerWindow: c.Exposure.MaxPerWindow, Window: c.Exposure.Window},
		Scale:            engine.ScaleConfig{MeanRef: c.Scale.MeanRef, SDRef: c.Scale.SDRef},
		ResolveHierarchy: c.Selection.ResolveHierarchy,
	}
}

func (a *app) runner(st *store.Store, tel *runtime.Telemetry) *recalibration.Runner {
	rc := a.cfg.Recalibration
	r := recalibration.NewRunner(st, st, recalibration.RunnerOptions{
		Method:         recalibration.ParseMethod(rc.Method),
		TargetRate:     rc.TargetCorrectRate,
		LearningRate:   rc.LearningRate,
		MinResponses:   rc.MinResponses,
		MaxItemsPerRun: rc.MaxItemsPerRun,
	}, a.log)
	if tel != nil {
		r = r.WithObserver(tel)
	}
	return r
}

func (a *app) telemetry() *runtime.Telemetry {
	t := a.cfg.Telemetry
	port := 0
	if t.MetricsEnabled {
		port = t.MetricsPort
	}
	return runtime.NewTelemetry(runtime.TelemetryOptions{MetricsPort: port, IncludeRuntime: true})
}
