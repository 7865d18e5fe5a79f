package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-config/cfgx"
)

// NotifyDriver selects the outbound notification transport.
type NotifyDriver string

const (
	NotifyDriverNoop    NotifyDriver = "noop"
	NotifyDriverDialect NotifyDriver = "dialect"
)

// Config is the fully resolved runtime configuration for the escrow timing
// engine, sourced from environment variables per the port contracts.
type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`

	RedisURL            string `koanf:"redis_url" mapstructure:"redis_url"`
	HeliusWebhookSecret string `koanf:"helius_webhook_secret" mapstructure:"helius_webhook_secret"`
	ActionsBaseURL      string `koanf:"actions_base_url" mapstructure:"actions_base_url"`
	RPCURL              string `koanf:"rpc_url" mapstructure:"rpc_url"`

	WorkerConcurrency int    `koanf:"worker_concurrency" mapstructure:"worker_concurrency"`
	LogLevel          string `koanf:"log_level" mapstructure:"log_level"`

	AutoFinalizeRelease bool `koanf:"auto_finalize_release" mapstructure:"auto_finalize_release"`
	AutoFinalizeRefund  bool `koanf:"auto_finalize_refund" mapstructure:"auto_finalize_refund"`

	NotifyDriver         NotifyDriver `koanf:"notify_driver" mapstructure:"notify_driver"`
	NotifyDialectKey     string       `koanf:"notify_dialect_key" mapstructure:"notify_dialect_key"`
	NotifyDialectBaseURL string       `koanf:"notify_dialect_baseurl" mapstructure:"notify_dialect_baseurl"`

	BurstMode     string `koanf:"burst_mode" mapstructure:"burst_mode"`
	BurstWindowMs int    `koanf:"burst_window_ms" mapstructure:"burst_window_ms"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:       "escrow-timing-engine",
		WorkerConcurrency: 5,
		LogLevel:          "info",
		NotifyDriver:      NotifyDriverNoop,
		BurstMode:         "debounce",
		BurstWindowMs:     2000,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("core: REDIS_URL is required")
	}
	if strings.TrimSpace(c.HeliusWebhookSecret) == "" {
		return fmt.Errorf("core: HELIUS_WEBHOOK_SECRET is required")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("core: worker_concurrency must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("core: invalid log_level %q", c.LogLevel)
	}
	switch c.NotifyDriver {
	case NotifyDriverNoop:
	case NotifyDriverDialect:
		if strings.TrimSpace(c.NotifyDialectBaseURL) == "" {
			return fmt.Errorf("core: NOTIFY_DIALECT_BASEURL is required when NOTIFY_DRIVER=dialect")
		}
		if !strings.HasSuffix(c.NotifyDialectBaseURL, "/") {
			return fmt.Errorf("core: NOTIFY_DIALECT_BASEURL must end with /")
		}
	default:
		return fmt.Errorf("core: invalid notify_driver %q", c.NotifyDriver)
	}
	switch strings.ToLower(strings.TrimSpace(c.BurstMode)) {
	case "none", "coalesce", "debounce":
	default:
		return fmt.Errorf("core: invalid burst_mode %q", c.BurstMode)
	}
	if c.BurstWindowMs <= 0 {
		return fmt.Errorf("core: burst_window_ms must be > 0")
	}
	return nil
}

// EnvLookup mirrors os.LookupEnv so tests can substitute a fake environment.
type EnvLookup func(key string) (string, bool)

// EnvConfigLoader assembles a raw config map from environment variables,
// following the teacher's RawConfigLoader contract so its output feeds
// cfgx.Build in LoadConfig.
type EnvConfigLoader struct {
	Lookup EnvLookup
}

func NewEnvConfigLoader(lookup EnvLookup) *EnvConfigLoader {
	return &EnvConfigLoader{Lookup: lookup}
}

func (l *EnvConfigLoader) LoadRaw(_ context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		return map[string]any{}, nil
	}
	raw := map[string]any{}
	setString := func(key, envVar string) {
		if v, ok := lookup(envVar); ok && strings.TrimSpace(v) != "" {
			raw[key] = strings.TrimSpace(v)
		}
	}
	setString("redis_url", "REDIS_URL")
	setString("helius_webhook_secret", "HELIUS_WEBHOOK_SECRET")
	setString("actions_base_url", "ACTIONS_BASEURL")
	setString("rpc_url", "RPC_URL")
	setString("log_level", "LOG_LEVEL")
	setString("notify_dialect_key", "NOTIFY_DIALECT_KEY")
	setString("notify_dialect_baseurl", "NOTIFY_DIALECT_BASEURL")
	setString("burst_mode", "BURST_MODE")

	if v, ok := lookup("WORKER_CONCURRENCY"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("core: invalid WORKER_CONCURRENCY %q: %w", v, err)
		}
		raw["worker_concurrency"] = n
	}
	if v, ok := lookup("BURST_WINDOW_MS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("core: invalid BURST_WINDOW_MS %q: %w", v, err)
		}
		raw["burst_window_ms"] = n
	}
	if v, ok := lookup("AUTO_FINALIZE_RELEASE"); ok {
		raw["auto_finalize_release"] = parseBoolFlag(v)
	}
	if v, ok := lookup("AUTO_FINALIZE_REFUND"); ok {
		raw["auto_finalize_refund"] = parseBoolFlag(v)
	}
	if v, ok := lookup("NOTIFY_DRIVER"); ok && strings.TrimSpace(v) != "" {
		raw["notify_driver"] = strings.ToLower(strings.TrimSpace(v))
	}
	return raw, nil
}

func parseBoolFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// runtimeEnvPrefix is the env-var prefix operators use for the "runtime
// overrides" tier: hot operational knobs (worker concurrency, log level,
// the finalize flags, notify driver) that can be dialed without touching
// the primary secret-bearing env vars. RUNTIME_WORKER_CONCURRENCY=3 wins
// over WORKER_CONCURRENCY the same way it would win over a config file.
const runtimeEnvPrefix = "RUNTIME_"

func prefixedLookup(lookup EnvLookup, prefix string) EnvLookup {
	if lookup == nil {
		return nil
	}
	return func(key string) (string, bool) { return lookup(prefix + key) }
}

// runtimeOverridesFromEnv builds the "runtime" tier ConfigLayerMerger.Merge
// expects. Only fields explicitly set via a RUNTIME_-prefixed var are
// populated; everything else is left at Config's zero value so
// configToLayerMap treats it as unset rather than shadowing the
// environment tier with a default.
func runtimeOverridesFromEnv(ctx context.Context, lookup EnvLookup) (Config, error) {
	loader := NewEnvConfigLoader(prefixedLookup(lookup, runtimeEnvPrefix))
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	var runtime Config
	if v, ok := raw["redis_url"].(string); ok {
		runtime.RedisURL = v
	}
	if v, ok := raw["helius_webhook_secret"].(string); ok {
		runtime.HeliusWebhookSecret = v
	}
	if v, ok := raw["actions_base_url"].(string); ok {
		runtime.ActionsBaseURL = v
	}
	if v, ok := raw["rpc_url"].(string); ok {
		runtime.RPCURL = v
	}
	if v, ok := raw["log_level"].(string); ok {
		runtime.LogLevel = v
	}
	if v, ok := raw["notify_dialect_key"].(string); ok {
		runtime.NotifyDialectKey = v
	}
	if v, ok := raw["notify_dialect_baseurl"].(string); ok {
		runtime.NotifyDialectBaseURL = v
	}
	if v, ok := raw["worker_concurrency"].(int); ok {
		runtime.WorkerConcurrency = v
	}
	if v, ok := raw["auto_finalize_release"].(bool); ok {
		runtime.AutoFinalizeRelease = v
	}
	if v, ok := raw["auto_finalize_refund"].(bool); ok {
		runtime.AutoFinalizeRefund = v
	}
	if v, ok := raw["notify_driver"].(string); ok {
		runtime.NotifyDriver = NotifyDriver(v)
	}
	if v, ok := raw["burst_mode"].(string); ok {
		runtime.BurstMode = v
	}
	if v, ok := raw["burst_window_ms"].(int); ok {
		runtime.BurstWindowMs = v
	}
	return runtime, nil
}

// LoadConfig resolves defaults through cfgx against the raw environment
// snapshot, layers a RUNTIME_-prefixed override tier on top via
// ConfigLayerMerger, then validates. This is the boot-time entry point
// cmd/escrowd uses; a missing required variable surfaces as a fatal boot
// error.
func LoadConfig(ctx context.Context, lookup EnvLookup) (Config, error) {
	defaults := DefaultConfig()
	loader := NewEnvConfigLoader(lookup)
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	loaded, err := cfgx.Build[Config](raw, cfgx.WithDefaults(defaults))
	if err != nil {
		return Config{}, err
	}

	runtime, err := runtimeOverridesFromEnv(ctx, lookup)
	if err != nil {
		return Config{}, err
	}

	merger := ConfigLayerMerger{}
	return merger.Merge(ctx, defaults, loaded, runtime)
}
