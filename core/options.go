package core

import (
	"context"
	"fmt"
	"time"

	opts "github.com/goliatone/go-options"

	"github.com/dealtimer/escrow-engine/adapters/gologger"
)

// Clock abstracts time.Now so scheduling decisions are deterministic in
// tests; production wiring always uses RealClock.
type Clock func() time.Time

func RealClock() time.Time { return time.Now().UTC() }

// Deps is the shared dependency bundle assembled once at boot in
// cmd/escrowd. NewDeps returns it by pointer, and cmd/escrowd hands its
// individual fields (Clock, Observer, ReplayLedger) to the constructors and
// structs of the top-level packages.
type Deps struct {
	Logger         Logger
	LoggerProvider LoggerProvider
	Metrics        MetricsRecorder
	Clock          Clock
	ReplayLedger   ReplayLedger
	Observer       *Observer
}

type Option func(*Deps)

func WithLogger(logger Logger) Option {
	return func(d *Deps) { d.Logger = logger }
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(d *Deps) { d.LoggerProvider = provider }
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(d *Deps) { d.Metrics = recorder }
}

func WithClock(clock Clock) Option {
	return func(d *Deps) { d.Clock = clock }
}

func WithReplayLedger(ledger ReplayLedger) Option {
	return func(d *Deps) { d.ReplayLedger = ledger }
}

// NewDeps resolves a Deps bundle the way the teacher resolves its service
// builder: sensible zero-value defaults, then apply overrides in order.
func NewDeps(serviceName string, options ...Option) *Deps {
	loggerProvider, logger := gologger.Resolve(serviceName, nil, nil)
	deps := &Deps{
		Logger:         logger,
		LoggerProvider: loggerProvider,
		Metrics:        NopMetricsRecorder{},
		Clock:          RealClock,
		ReplayLedger:   NewMemoryReplayLedger(5 * time.Minute),
	}
	for _, option := range options {
		if option != nil {
			option(deps)
		}
	}
	deps.Observer = NewObserver(deps.Logger, deps.Metrics)
	return deps
}

// ConfigLayerMerger merges a base Config, an environment-loaded Config, and
// a runtime override Config using go-options' scoped layer precedence,
// mirroring the teacher's three-tier config resolution but over the
// narrower escrow Config surface.
type ConfigLayerMerger struct{}

func (ConfigLayerMerger) Merge(ctx context.Context, defaults, loaded, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}

	resolved := defaults
	if v, ok := merged.Value["service_name"].(string); ok && v != "" {
		resolved.ServiceName = v
	}
	if v, ok := merged.Value["worker_concurrency"].(int); ok && v > 0 {
		resolved.WorkerConcurrency = v
	}
	if v, ok := merged.Value["notify_driver"].(string); ok && v != "" {
		resolved.NotifyDriver = NotifyDriver(v)
	}
	if v, ok := merged.Value["auto_finalize_release"].(bool); ok {
		resolved.AutoFinalizeRelease = v
	}
	if v, ok := merged.Value["auto_finalize_refund"].(bool); ok {
		resolved.AutoFinalizeRefund = v
	}
	if v, ok := merged.Value["redis_url"].(string); ok && v != "" {
		resolved.RedisURL = v
	}
	if v, ok := merged.Value["helius_webhook_secret"].(string); ok && v != "" {
		resolved.HeliusWebhookSecret = v
	}
	if v, ok := merged.Value["actions_base_url"].(string); ok && v != "" {
		resolved.ActionsBaseURL = v
	}
	if v, ok := merged.Value["rpc_url"].(string); ok && v != "" {
		resolved.RPCURL = v
	}
	if v, ok := merged.Value["log_level"].(string); ok && v != "" {
		resolved.LogLevel = v
	}
	if v, ok := merged.Value["notify_dialect_key"].(string); ok && v != "" {
		resolved.NotifyDialectKey = v
	}
	if v, ok := merged.Value["notify_dialect_baseurl"].(string); ok && v != "" {
		resolved.NotifyDialectBaseURL = v
	}
	if v, ok := merged.Value["burst_mode"].(string); ok && v != "" {
		resolved.BurstMode = v
	}
	if v, ok := merged.Value["burst_window_ms"].(int); ok && v > 0 {
		resolved.BurstWindowMs = v
	}

	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || cfg.ServiceName != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.WorkerConcurrency != 0 {
		layer["worker_concurrency"] = cfg.WorkerConcurrency
	}
	if includeZero || cfg.NotifyDriver != "" {
		layer["notify_driver"] = string(cfg.NotifyDriver)
	}
	if includeZero || cfg.AutoFinalizeRelease {
		layer["auto_finalize_release"] = cfg.AutoFinalizeRelease
	}
	if includeZero || cfg.AutoFinalizeRefund {
		layer["auto_finalize_refund"] = cfg.AutoFinalizeRefund
	}
	if includeZero || cfg.RedisURL != "" {
		layer["redis_url"] = cfg.RedisURL
	}
	if includeZero || cfg.HeliusWebhookSecret != "" {
		layer["helius_webhook_secret"] = cfg.HeliusWebhookSecret
	}
	if includeZero || cfg.ActionsBaseURL != "" {
		layer["actions_base_url"] = cfg.ActionsBaseURL
	}
	if includeZero || cfg.RPCURL != "" {
		layer["rpc_url"] = cfg.RPCURL
	}
	if includeZero || cfg.LogLevel != "" {
		layer["log_level"] = cfg.LogLevel
	}
	if includeZero || cfg.NotifyDialectKey != "" {
		layer["notify_dialect_key"] = cfg.NotifyDialectKey
	}
	if includeZero || cfg.NotifyDialectBaseURL != "" {
		layer["notify_dialect_baseurl"] = cfg.NotifyDialectBaseURL
	}
	if includeZero || cfg.BurstMode != "" {
		layer["burst_mode"] = cfg.BurstMode
	}
	if includeZero || cfg.BurstWindowMs != 0 {
		layer["burst_window_ms"] = cfg.BurstWindowMs
	}
	return layer
}
