// Package app wires the relay's components together and owns their
// lifecycle: store, broker, gateway, dispatcher, HTTP server and the
// retention sweep.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"chatrelay/internal/retention"
	"chatrelay/pkg/config"
	"chatrelay/pkg/dispatch"
	"chatrelay/pkg/gateway"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/notify"
	"chatrelay/pkg/state"
	"chatrelay/pkg/store"
	"chatrelay/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	broker     *notify.Broker
	queue      *dispatch.Queue
	dispatcher *dispatch.Dispatcher
	agent      gateway.Agent

	srv  *http.Server
	stop chan struct{}
}

// Option overrides a component before Run; used by tests and by deployments
// that bring their own agent.
type Option func(*App)

// WithAgent replaces the default Anthropic-backed agent.
func WithAgent(a gateway.Agent) Option {
	return func(app *App) { app.agent = a }
}

// New initializes resources that do not require a running context (store,
// validation rules, runtime keys, broker, dispatcher). It does not start the
// HTTP server or the workers; call Run to start those and block until
// shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string, opts ...Option) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	cfg := eff.Config

	// runtime keys
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, FrontendKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		runtimeCfg.FrontendKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	// validation rules
	initValidation(eff)

	// runtime folder layout under the db path
	if err := state.Init(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs: %w", err)
	}

	// open store
	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate, stop: make(chan struct{})}
	for _, o := range opts {
		o(a)
	}

	a.broker = notify.NewBroker(cfg.Notify.SubscriberBuffer, cfg.Notify.PublishTimeout.Duration())

	if a.agent == nil {
		keyEnv := cfg.Agent.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "ANTHROPIC_API_KEY"
		}
		apiKey := os.Getenv(keyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("agent api key missing: set %s", keyEnv)
		}
		a.agent = gateway.NewAnthropicGateway(apiKey, gateway.AnthropicConfig{
			Model:          cfg.Agent.Model,
			MaxTokens:      cfg.Agent.MaxTokens,
			System:         cfg.Agent.System,
			Timeout:        cfg.Agent.Timeout.Duration(),
			MaxMemoryTurns: cfg.Agent.MaxMemoryTurns,
		}, PebbleTranscripts{})
	}

	a.dispatcher = dispatch.NewDispatcher(a.agent, a.broker)
	if n := cfg.Dispatch.MaxPooledBufferBytes.Int64(); n > 0 {
		dispatch.SetMaxPooledBuffer(int(n))
	}
	a.queue = dispatch.NewQueue(cfg.Dispatch.QueueCapacity)

	return a, nil
}

// Dispatcher exposes the wired dispatcher; used by tests driving the
// pipeline directly.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Run starts the dispatch workers, the retention sweep and the HTTP server,
// and blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	cfg := a.eff.Config

	workers := cfg.Dispatch.Workers
	if workers <= 0 {
		workers = 4
	}
	a.dispatcher.Workers(a.queue, workers, a.stop)
	logger.Info("dispatch_workers_started", "workers", workers, "queue_capacity", a.queue.Cap())

	if cfg.Retention.Enabled {
		job, err := retention.NewJob(cfg.Retention)
		if err != nil {
			return fmt.Errorf("invalid retention config: %w", err)
		}
		go job.Run(ctx)
	}

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	// stop accepting requests first: in-flight handlers may still enqueue,
	// so the queue must outlive the HTTP server
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(sctx)
	}
	close(a.stop)
	a.queue.CloseAndDrain()
	a.broker.Close()
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}

// initValidation builds validation rules from config and sets them globally.
func initValidation(eff config.EffectiveConfigResult) {
	vr := validation.Rules{}
	if n := eff.Config.Limits.MaxQuestionBytes.Int64(); n > 0 {
		vr.MaxQuestionBytes = int(n)
	}
	if n := eff.Config.Limits.MaxIDBytes; n > 0 {
		vr.MaxIDBytes = n
	}
	validation.SetRules(vr)
}
