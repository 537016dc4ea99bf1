package graph

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/calyptra/flowgrid/graph/log"
)

// FileConfig is the YAML configuration surface for an engine. Every field
// is optional; zero values keep the built-in defaults. ${VAR} references
// expand from the environment after godotenv loading.
type FileConfig struct {
	LogLevel       string `yaml:"log_level"`
	StreamCapacity int    `yaml:"stream_capacity"`
	DrainTimeout   string `yaml:"drain_timeout"`
	Priority       string `yaml:"priority"`
	MaxParallel    int    `yaml:"max_parallel"`

	Retry struct {
		MaxAttempts int    `yaml:"max_attempts"`
		Initial     string `yaml:"initial"`
		Max         string `yaml:"max"`
		Multiplier  float64 `yaml:"multiplier"`
		Strategy    string `yaml:"strategy"`
	} `yaml:"retry"`

	Breaker struct {
		FailureThreshold int    `yaml:"failure_threshold"`
		FailureWindow    string `yaml:"failure_window"`
		Cooldown         string `yaml:"cooldown"`
		ProbeQuota       int    `yaml:"probe_quota"`
	} `yaml:"breaker"`

	Governor struct {
		RatePerSecond   float64 `yaml:"rate_per_second"`
		Burst           float64 `yaml:"burst"`
		StarvationAfter string  `yaml:"starvation_after"`
		HeapSoftLimitMB int     `yaml:"heap_soft_limit_mb"`
		HeapHardLimitMB int     `yaml:"heap_hard_limit_mb"`
		CPUSoftLimit    float64 `yaml:"cpu_soft_limit"`
		CPUHardLimit    float64 `yaml:"cpu_hard_limit"`
	} `yaml:"governor"`

	Budget struct {
		MaxTokens   int64   `yaml:"max_tokens"`
		MaxUSD      float64 `yaml:"max_usd"`
		MaxDuration string  `yaml:"max_duration"`
		MaxSteps    int     `yaml:"max_steps"`
	} `yaml:"budget"`

	Checkpoint struct {
		Every    int `yaml:"every"`
		KeepLast int `yaml:"keep_last"`
	} `yaml:"checkpoint"`
}

// LoadConfig reads a YAML config file, expanding ${VAR} from the
// environment. A .env file next to the process, when present, is loaded
// first (existing variables win).
func LoadConfig(path string) (*FileConfig, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Options converts the file configuration into engine options.
func (c *FileConfig) Options() ([]Option, error) {
	var opts []Option

	if c.LogLevel != "" {
		opts = append(opts, WithLogger(log.New(c.LogLevel)))
	}
	if c.StreamCapacity > 0 {
		opts = append(opts, WithStreamCapacity(c.StreamCapacity))
	}
	if c.DrainTimeout != "" {
		d, err := time.ParseDuration(c.DrainTimeout)
		if err != nil {
			return nil, fmt.Errorf("config drain_timeout: %w", err)
		}
		opts = append(opts, WithDrainTimeout(d))
	}
	if c.Priority != "" {
		p, err := parsePriority(c.Priority)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPriority(p))
	}
	if c.MaxParallel > 0 {
		opts = append(opts, WithMaxParallel(c.MaxParallel))
	}

	if c.Retry.MaxAttempts > 0 {
		policy := DefaultPolicy()
		policy.Retry.MaxAttempts = c.Retry.MaxAttempts
		if c.Retry.Initial != "" {
			d, err := time.ParseDuration(c.Retry.Initial)
			if err != nil {
				return nil, fmt.Errorf("config retry.initial: %w", err)
			}
			policy.Retry.Initial = d
		}
		if c.Retry.Max != "" {
			d, err := time.ParseDuration(c.Retry.Max)
			if err != nil {
				return nil, fmt.Errorf("config retry.max: %w", err)
			}
			policy.Retry.Max = d
		}
		if c.Retry.Multiplier > 0 {
			policy.Retry.Multiplier = c.Retry.Multiplier
		}
		switch c.Retry.Strategy {
		case "", "exponential":
			policy.Retry.Strategy = BackoffExponential
		case "linear":
			policy.Retry.Strategy = BackoffLinear
		case "constant":
			policy.Retry.Strategy = BackoffConstant
		default:
			return nil, fmt.Errorf("config retry.strategy: unknown %q", c.Retry.Strategy)
		}
		opts = append(opts, WithPolicies(NewPolicyRegistry(policy)))
	}

	if c.Breaker.FailureThreshold > 0 {
		bc := BreakerConfig{
			FailureThreshold: c.Breaker.FailureThreshold,
			ProbeQuota:       c.Breaker.ProbeQuota,
		}
		if c.Breaker.FailureWindow != "" {
			d, err := time.ParseDuration(c.Breaker.FailureWindow)
			if err != nil {
				return nil, fmt.Errorf("config breaker.failure_window: %w", err)
			}
			bc.FailureWindow = d
		}
		if c.Breaker.Cooldown != "" {
			d, err := time.ParseDuration(c.Breaker.Cooldown)
			if err != nil {
				return nil, fmt.Errorf("config breaker.cooldown: %w", err)
			}
			bc.Cooldown = d
		}
		opts = append(opts, WithBreakerConfig(bc))
	}

	if c.Governor.RatePerSecond > 0 {
		gc := GovernorConfig{
			RatePerSecond: c.Governor.RatePerSecond,
			Burst:         c.Governor.Burst,
			HeapSoftLimit: uint64(c.Governor.HeapSoftLimitMB) << 20,
			HeapHardLimit: uint64(c.Governor.HeapHardLimitMB) << 20,
			CPUSoftLimit:  c.Governor.CPUSoftLimit,
			CPUHardLimit:  c.Governor.CPUHardLimit,
		}
		if c.Governor.StarvationAfter != "" {
			d, err := time.ParseDuration(c.Governor.StarvationAfter)
			if err != nil {
				return nil, fmt.Errorf("config governor.starvation_after: %w", err)
			}
			gc.StarvationAfter = d
		}
		opts = append(opts, WithGovernor(NewGovernor(gc)))
	}

	b := Budget{
		MaxTokens: c.Budget.MaxTokens,
		MaxUSD:    c.Budget.MaxUSD,
		MaxSteps:  c.Budget.MaxSteps,
	}
	if c.Budget.MaxDuration != "" {
		d, err := time.ParseDuration(c.Budget.MaxDuration)
		if err != nil {
			return nil, fmt.Errorf("config budget.max_duration: %w", err)
		}
		b.MaxDuration = d
	}
	if !b.Unlimited() {
		opts = append(opts, WithBudget(b))
	}

	if c.Checkpoint.Every > 0 {
		opts = append(opts, WithCheckpointEvery(c.Checkpoint.Every))
	}
	return opts, nil
}

func parsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "background":
		return PriorityBackground, nil
	default:
		return PriorityNormal, fmt.Errorf("config priority: unknown %q", s)
	}
}
