package core

import (
	"context"
	"testing"
)

func envLookup(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func requiredEnv() map[string]string {
	return map[string]string{
		"REDIS_URL":             "redis://localhost:6379/0",
		"HELIUS_WEBHOOK_SECRET": "shh",
	}
}

func TestLoadConfig_DefaultsWhenUnset(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), envLookup(requiredEnv()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkerConcurrency != 5 {
		t.Fatalf("expected default worker_concurrency 5, got %d", cfg.WorkerConcurrency)
	}
	if cfg.BurstMode != "debounce" {
		t.Fatalf("expected default burst_mode debounce, got %q", cfg.BurstMode)
	}
	if cfg.BurstWindowMs != 2000 {
		t.Fatalf("expected default burst_window_ms 2000, got %d", cfg.BurstWindowMs)
	}
}

func TestLoadConfig_EnvironmentOverridesDefaults(t *testing.T) {
	values := requiredEnv()
	values["WORKER_CONCURRENCY"] = "9"
	values["BURST_MODE"] = "coalesce"
	values["BURST_WINDOW_MS"] = "500"

	cfg, err := LoadConfig(context.Background(), envLookup(values))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkerConcurrency != 9 {
		t.Fatalf("expected env override worker_concurrency 9, got %d", cfg.WorkerConcurrency)
	}
	if cfg.BurstMode != "coalesce" {
		t.Fatalf("expected env override burst_mode coalesce, got %q", cfg.BurstMode)
	}
	if cfg.BurstWindowMs != 500 {
		t.Fatalf("expected env override burst_window_ms 500, got %d", cfg.BurstWindowMs)
	}
}

func TestLoadConfig_RuntimeOverridesWinOverEnvironment(t *testing.T) {
	values := requiredEnv()
	values["WORKER_CONCURRENCY"] = "9"
	values["RUNTIME_WORKER_CONCURRENCY"] = "2"

	cfg, err := LoadConfig(context.Background(), envLookup(values))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Fatalf("expected runtime override to win, got %d", cfg.WorkerConcurrency)
	}
}

func TestLoadConfig_MissingRequiredVarFails(t *testing.T) {
	if _, err := LoadConfig(context.Background(), envLookup(map[string]string{})); err == nil {
		t.Fatalf("expected error for missing required env vars")
	}
}

func TestLoadConfig_InvalidBurstModeFails(t *testing.T) {
	values := requiredEnv()
	values["BURST_MODE"] = "unbounded"
	if _, err := LoadConfig(context.Background(), envLookup(values)); err == nil {
		t.Fatalf("expected error for invalid burst_mode")
	}
}
