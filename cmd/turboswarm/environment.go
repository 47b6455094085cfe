package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/turboswarm/internal/backend"
	"github.com/ShayCichocki/turboswarm/internal/bus"
	"github.com/ShayCichocki/turboswarm/internal/config"
	"github.com/ShayCichocki/turboswarm/internal/orchestrator"
	"github.com/ShayCichocki/turboswarm/internal/state"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// simulatedDelay is the per-task latency of the simulated backend.
const simulatedDelay = 20 * time.Millisecond

// environment is a session manager with the resources it was built from.
type environment struct {
	manager  *orchestrator.SessionManager
	store    state.Store
	bus      bus.Bus
	logger   *orchestrator.DebugLogger
	trackers map[models.ModelPreference]*backend.TokenTracker
	warnings []string
}

// newEnvironment wires config into a SessionManager. dryRun serves every
// model preference with the simulated backend.
func newEnvironment(ctx context.Context, cfg *config.Config, dryRun bool) (*environment, error) {
	env := &environment{}

	reg, trackers, warnings, err := buildRegistry(ctx, cfg, dryRun)
	if err != nil {
		return nil, err
	}
	env.trackers = trackers
	env.warnings = warnings

	if env.logger, err = orchestrator.NewDebugLogger(cfg.Logging.DebugFile); err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}

	if env.store, err = openStore(cfg.Store); err != nil {
		env.close(ctx)
		return nil, err
	}
	if env.bus, err = openBus(cfg.Bus); err != nil {
		env.close(ctx)
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithBus(env.bus),
		orchestrator.WithLogger(env.logger),
		orchestrator.WithPoolConfig(poolConfig(cfg)),
		orchestrator.WithQueueConfig(orchestrator.QueueConfig{RetryBudget: cfg.Scheduler.RetryBudget}),
	}
	if env.store != nil {
		opts = append(opts, orchestrator.WithStore(env.store), orchestrator.WithCheckpointOnFinish(true))
	}
	env.manager = orchestrator.NewSessionManager(reg, opts...)
	return env, nil
}

// close destroys live sessions, which checkpoints them, then releases the
// store, the bus and the debug log.
func (e *environment) close(ctx context.Context) {
	if e.manager != nil {
		if err := e.manager.Close(ctx); err != nil {
			log.Printf("[turboswarm] close sessions: %v", err)
		}
	}
	if e.bus != nil {
		_ = e.bus.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.logger != nil {
		orchestrator.SetDebugLogger(nil)
		_ = e.logger.Close()
	}
}

// tokenUsage sums usage over every tracked backend.
func (e *environment) tokenUsage() (input, output int64, calls int) {
	for _, t := range e.trackers {
		in, out := t.Total()
		input += in
		output += out
		calls += t.Calls()
	}
	return input, output, calls
}

func poolConfig(cfg *config.Config) orchestrator.PoolConfig {
	pc := orchestrator.DefaultPoolConfig()
	pc.MaxAgents = cfg.Pool.MaxAgents
	pc.ReplaceFailed = cfg.Pool.ReplaceFailed
	pc.TransientRetries = cfg.Scheduler.TransientRetries
	if pc.TransientRetries == 0 {
		// An explicit zero in config turns local retries off.
		pc.TransientRetries = -1
	}
	if cfg.Scheduler.TaskTimeout > 0 {
		pc.TaskTimeout = cfg.Scheduler.TaskTimeout
	}
	if cfg.Scheduler.IdleBackoffMin > 0 {
		pc.IdleBackoffMin = cfg.Scheduler.IdleBackoffMin
	}
	if cfg.Scheduler.IdleBackoffMax > 0 {
		pc.IdleBackoffMax = cfg.Scheduler.IdleBackoffMax
	}
	return pc
}

// openStore opens the configured session store. The none driver returns a
// nil store.
func openStore(sc config.StoreConfig) (state.Store, error) {
	switch sc.Driver {
	case config.StoreNone:
		return nil, nil
	case config.StoreBadger:
		dir := sc.Path
		if dir == "" {
			dir = filepath.Join(filepath.Dir(state.DefaultDBPath()), "badger")
		}
		s, err := state.OpenBadger(dir)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, nil
	default:
		path := sc.Path
		if path == "" {
			path = state.DefaultDBPath()
		}
		db, err := state.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		return db, nil
	}
}

func openBus(bc config.BusConfig) (bus.Bus, error) {
	if bc.Driver != config.BusDir {
		return bus.NewMemoryBus(bus.DefaultBufferSize), nil
	}
	dir := bc.Dir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(state.DefaultDBPath()), "events")
	}
	b, err := bus.NewDirBus(dir, bc.Retention)
	if err != nil {
		return nil, fmt.Errorf("open event spool: %w", err)
	}
	return b, nil
}

// buildRegistry maps each model preference to a backend. Providers without
// credentials fall back to the simulated backend and are reported as
// warnings.
func buildRegistry(ctx context.Context, cfg *config.Config, dryRun bool) (*backend.Registry, map[models.ModelPreference]*backend.TokenTracker, []string, error) {
	if dryRun {
		return backend.NewSimulatedRegistry(simulatedDelay), nil, nil, nil
	}

	reg := backend.NewRegistry()
	trackers := make(map[models.ModelPreference]*backend.TokenTracker)
	var warnings []string

	install := func(pref models.ModelPreference, b backend.Backend) {
		tracked := backend.NewTracked(b)
		trackers[pref] = tracked.Tracker()
		var wrapped backend.Backend = tracked
		if cfg.RateLimit.RequestsPerSecond > 0 {
			wrapped = backend.NewLimited(tracked, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		}
		reg.Register(pref, wrapped)
	}
	missing := func(pref models.ModelPreference, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v; using the simulated backend", pref, err))
	}

	if key, err := config.GetAPIKey(cfg, config.ProviderAnthropic); err == nil || cfg.Anthropic.UseBedrock {
		b, err := backend.NewAnthropic(backend.AnthropicConfig{
			Model:      cfg.Anthropic.Model,
			APIKey:     key,
			UseBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:  cfg.Anthropic.AWSRegion,
			AWSProfile: cfg.Anthropic.AWSProfile,
			MaxTokens:  cfg.Anthropic.MaxTokens,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create anthropic backend: %w", err)
		}
		install(models.ModelClaudeOpus45, b)
	} else {
		missing(models.ModelClaudeOpus45, err)
	}

	if key, err := config.GetAPIKey(cfg, config.ProviderOpenAI); err == nil {
		b, err := backend.NewOpenAI(backend.OpenAIConfig{APIKey: key, Model: cfg.OpenAI.Model, BaseURL: cfg.OpenAI.BaseURL})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create openai backend: %w", err)
		}
		install(models.ModelGPT51, b)
	} else {
		missing(models.ModelGPT51, err)
	}

	if key, err := config.GetAPIKey(cfg, config.ProviderGemini); err == nil {
		b, err := backend.NewGemini(ctx, backend.GeminiConfig{APIKey: key, Model: cfg.Gemini.Model})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create gemini backend: %w", err)
		}
		install(models.ModelGemini3Pro, b)
	} else {
		missing(models.ModelGemini3Pro, err)
	}

	if b, err := backend.NewCommand(backend.CommandConfig{
		Command: cfg.Browser.Command,
		Args:    cfg.Browser.Args,
		WorkDir: cfg.Browser.WorkDir,
	}, nil); err == nil {
		install(models.ModelNone, b)
	} else if !errors.Is(err, backend.ErrBackendUnavailable) {
		return nil, nil, nil, fmt.Errorf("create browser backend: %w", err)
	}

	for _, pref := range []models.ModelPreference{
		models.ModelGPT51, models.ModelClaudeOpus45, models.ModelGemini3Pro, models.ModelNone,
	} {
		if _, err := reg.Get(pref); err != nil {
			reg.Register(pref, &backend.Simulated{Pref: pref, Delay: simulatedDelay})
		}
	}
	return reg, trackers, warnings, nil
}
