package graph

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowgrid.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
stream_capacity: 512
drain_timeout: 3s
priority: low
max_parallel: 4
retry:
  max_attempts: 4
  initial: 50ms
  max: 2s
  multiplier: 3.0
  strategy: exponential
breaker:
  failure_threshold: 7
  failure_window: 20s
  cooldown: 45s
  probe_quota: 2
governor:
  rate_per_second: 25
  cpu_soft_limit: 0.7
  cpu_hard_limit: 0.9
  heap_hard_limit_mb: 512
budget:
  max_tokens: 100000
  max_usd: 1.50
  max_steps: 200
checkpoint:
  every: 5
  keep_last: 10
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.StreamCapacity != 512 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 4 || cfg.Retry.Multiplier != 3.0 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Breaker.FailureThreshold != 7 {
		t.Errorf("breaker = %+v", cfg.Breaker)
	}
	if cfg.Budget.MaxUSD != 1.50 || cfg.Budget.MaxSteps != 200 {
		t.Errorf("budget = %+v", cfg.Budget)
	}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	ec := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(ec); err != nil {
			t.Fatal(err)
		}
	}
	if ec.streamCapacity != 512 {
		t.Errorf("stream capacity = %d", ec.streamCapacity)
	}
	if ec.drainTimeout != 3*time.Second {
		t.Errorf("drain timeout = %s", ec.drainTimeout)
	}
	if ec.priority != PriorityLow {
		t.Errorf("priority = %s", ec.priority)
	}
	if ec.maxParallel != 4 {
		t.Errorf("max parallel = %d", ec.maxParallel)
	}
	if ec.breakerCfg.FailureThreshold != 7 || ec.breakerCfg.Cooldown != 45*time.Second ||
		ec.breakerCfg.FailureWindow != 20*time.Second {
		t.Errorf("breaker = %+v", ec.breakerCfg)
	}
	if ec.governor == nil {
		t.Fatal("governor not configured")
	}
	if ec.governor.cfg.CPUSoftLimit != 0.7 || ec.governor.cfg.CPUHardLimit != 0.9 ||
		ec.governor.cfg.HeapHardLimit != 512<<20 {
		t.Errorf("governor = %+v", ec.governor.cfg)
	}
	if ec.budget.MaxTokens != 100000 {
		t.Errorf("budget = %+v", ec.budget)
	}
	if ec.checkpointEvery != 5 {
		t.Errorf("checkpoint every = %d", ec.checkpointEvery)
	}
	p := ec.policies.Resolve("any", KindNetwork)
	if p.Retry.MaxAttempts != 4 || p.Retry.Initial != 50*time.Millisecond {
		t.Errorf("retry policy = %+v", p.Retry)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("FLOWGRID_TEST_LEVEL", "warn")
	path := writeConfig(t, "log_level: ${FLOWGRID_TEST_LEVEL}\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q, want warn", cfg.LogLevel)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestConfigRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad duration", "drain_timeout: soon\n"},
		{"bad priority", "priority: urgent\n"},
		{"bad strategy", "retry:\n  max_attempts: 2\n  strategy: fibonacci\n"},
		{"bad cooldown", "breaker:\n  failure_threshold: 1\n  cooldown: whenever\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if _, err := cfg.Options(); err == nil {
				t.Error("invalid value accepted")
			}
		})
	}
}

func TestConfigZeroValueKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.Options()
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 0 {
		t.Errorf("empty config produced %d options", len(opts))
	}
}
