package graph

import (
	"time"

	"github.com/calyptra/flowgrid/graph/emit"
	"github.com/calyptra/flowgrid/graph/log"
)

// engineConfig collects everything an Engine needs; options mutate it
// before construction.
type engineConfig struct {
	logger          log.Logger
	metrics         Metrics
	governor        *Governor
	policies        *PolicyRegistry
	breakerCfg      BreakerConfig
	checkpoints     *CheckpointManager
	checkpointEvery int
	budget          Budget
	priority        Priority
	emitters        []emit.Emitter
	streamCapacity  int
	streamBP        time.Duration
	maxParallel     int
	drainTimeout    time.Duration
	nodeTimeout     time.Duration
	classifierRules []ClassifierRule
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		logger:          log.Nop(),
		metrics:         NopMetrics{},
		policies:        NewPolicyRegistry(DefaultPolicy()),
		priority:        PriorityNormal,
		checkpointEvery: 1,
		streamCapacity:  256,
		drainTimeout:    5 * time.Second,
	}
}

// Option configures an Engine.
type Option func(*engineConfig) error

// WithLogger sets the engine logger.
func WithLogger(l log.Logger) Option {
	return func(c *engineConfig) error {
		if l == nil {
			return NewError(KindValidation, "", "logger must not be nil")
		}
		c.logger = l
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *engineConfig) error {
		if m == nil {
			return NewError(KindValidation, "", "metrics must not be nil")
		}
		c.metrics = m
		return nil
	}
}

// WithGovernor shares a resource governor across the engine's executions.
func WithGovernor(g *Governor) Option {
	return func(c *engineConfig) error {
		c.governor = g
		return nil
	}
}

// WithPolicies installs the recovery policy registry.
func WithPolicies(r *PolicyRegistry) Option {
	return func(c *engineConfig) error {
		if r == nil {
			return NewError(KindValidation, "", "policy registry must not be nil")
		}
		c.policies = r
		return nil
	}
}

// WithBreakerConfig tunes the per-node circuit breakers.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(c *engineConfig) error {
		c.breakerCfg = cfg
		return nil
	}
}

// WithCheckpoints enables checkpointing through the manager, saving after
// every node boundary.
func WithCheckpoints(m *CheckpointManager) Option {
	return func(c *engineConfig) error {
		c.checkpoints = m
		return nil
	}
}

// WithCheckpointEvery saves a checkpoint every n completed nodes instead
// of every one. Suspensions and terminal states always checkpoint.
func WithCheckpointEvery(n int) Option {
	return func(c *engineConfig) error {
		if n < 1 {
			return NewError(KindValidation, "", "checkpoint interval must be at least 1")
		}
		c.checkpointEvery = n
		return nil
	}
}

// WithBudget caps the per-execution spend.
func WithBudget(b Budget) Option {
	return func(c *engineConfig) error {
		c.budget = b
		return nil
	}
}

// WithPriority sets the governor priority of this engine's executions.
func WithPriority(p Priority) Option {
	return func(c *engineConfig) error {
		c.priority = p
		return nil
	}
}

// WithEmitter attaches an event sink. May be given multiple times.
func WithEmitter(e emit.Emitter) Option {
	return func(c *engineConfig) error {
		if e == nil {
			return NewError(KindValidation, "", "emitter must not be nil")
		}
		c.emitters = append(c.emitters, e)
		return nil
	}
}

// WithStreamCapacity bounds the per-execution event buffer.
func WithStreamCapacity(n int) Option {
	return func(c *engineConfig) error {
		if n < 16 {
			return NewError(KindValidation, "", "stream capacity must be at least 16")
		}
		c.streamCapacity = n
		return nil
	}
}

// WithStreamBackpressure bounds how long a publisher waits for event
// buffer space before the execution fails with resource exhaustion.
func WithStreamBackpressure(d time.Duration) Option {
	return func(c *engineConfig) error {
		if d <= 0 {
			return NewError(KindValidation, "", "stream backpressure must be positive")
		}
		c.streamBP = d
		return nil
	}
}

// WithMaxParallel caps how many fanout branches run concurrently.
func WithMaxParallel(n int) Option {
	return func(c *engineConfig) error {
		if n < 1 {
			return NewError(KindValidation, "", "max parallel must be at least 1")
		}
		c.maxParallel = n
		return nil
	}
}

// WithDrainTimeout bounds how long a canceled execution may spend writing
// its final checkpoint.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *engineConfig) error {
		if d <= 0 {
			return NewError(KindValidation, "", "drain timeout must be positive")
		}
		c.drainTimeout = d
		return nil
	}
}

// WithNodeTimeout caps each node attempt's wall-clock time. An attempt
// that overruns fails with a timeout error and goes through the node's
// recovery policy like any other failure.
func WithNodeTimeout(d time.Duration) Option {
	return func(c *engineConfig) error {
		if d <= 0 {
			return NewError(KindValidation, "", "node timeout must be positive")
		}
		c.nodeTimeout = d
		return nil
	}
}

// WithClassifierRule appends a rule to the error classifier, ahead of the
// built-in defaults.
func WithClassifierRule(r ClassifierRule) Option {
	return func(c *engineConfig) error {
		c.classifierRules = append(c.classifierRules, r)
		return nil
	}
}
