// Package graph provides the core workflow execution engine for flowgrid:
// typed graphs of nodes over a shared state container, a branch scheduler
// with fork/join parallelism, dynamic routing, error-recovery policies,
// circuit breakers, resource governance, checkpointing, and event streaming.
package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrorKind is the closed classification set for execution failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindNodeExecution
	KindTimeout
	KindNetwork
	KindServiceUnavailable
	KindRateLimit
	KindAuthentication
	KindResourceExhaustion
	KindGraphStructure
	KindCancellation
	KindCircuitBreakerOpen
	KindBudgetExhausted
)

// String returns the stable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNodeExecution:
		return "node_execution"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindRateLimit:
		return "rate_limit"
	case KindAuthentication:
		return "authentication"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindGraphStructure:
		return "graph_structure"
	case KindCancellation:
		return "cancellation"
	case KindCircuitBreakerOpen:
		return "circuit_breaker_open"
	case KindBudgetExhausted:
		return "budget_exhausted"
	default:
		return "unknown"
	}
}

// Transient reports the default transient-ness of the kind. Registered
// classifier rules can override per error.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindNetwork, KindServiceUnavailable, KindTimeout, KindRateLimit, KindResourceExhaustion:
		return true
	default:
		return false
	}
}

// Severity grades how serious a failure is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func defaultSeverity(k ErrorKind) Severity {
	switch k {
	case KindCancellation:
		return SeverityLow
	case KindTimeout, KindNetwork, KindRateLimit, KindServiceUnavailable:
		return SeverityMedium
	case KindValidation, KindNodeExecution, KindResourceExhaustion, KindCircuitBreakerOpen, KindBudgetExhausted:
		return SeverityHigh
	case KindAuthentication, KindGraphStructure:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// RecoveryAction is the closed set of actions the policy pipeline can take.
type RecoveryAction int

const (
	ActionRetry RecoveryAction = iota
	ActionSkip
	ActionFallback
	ActionRollback
	ActionHalt
	ActionEscalate
	ActionCircuitBreaker
	ActionContinue
)

// String returns the action name.
func (a RecoveryAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionSkip:
		return "skip"
	case ActionFallback:
		return "fallback"
	case ActionRollback:
		return "rollback"
	case ActionHalt:
		return "halt"
	case ActionEscalate:
		return "escalate"
	case ActionCircuitBreaker:
		return "circuit_breaker"
	case ActionContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// Sentinel errors surfaced by the engine. ErrLoopLimit classifies under
// KindGraphStructure and ErrMaxSteps under KindBudgetExhausted; both stay
// detectable with errors.Is.
var (
	ErrLoopLimit     = errors.New("loop limit exceeded")
	ErrMaxSteps      = errors.New("execution exceeded maximum steps limit")
	ErrNoRoute       = errors.New("no matching route from node")
	ErrGraphFrozen   = errors.New("graph is frozen: execution has begun")
	ErrDrainTimeout  = errors.New("cancellation drain window exceeded")
	ErrApprovalLapse = errors.New("approval deadline expired")
	ErrSuspended     = errors.New("execution suspended awaiting resume")
	ErrNotSuspended  = errors.New("no suspension registered for request")
)

// Error is the classified failure record carried through the policy
// pipeline. Classification happens once per failure and is immutable
// afterwards.
type Error struct {
	Kind      ErrorKind
	Severity  Severity
	Message   string
	NodeID    string
	Attempt   int
	Transient bool
	Timestamp time.Time
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a classified error with default severity and
// transient-ness for the kind.
func NewError(kind ErrorKind, nodeID, msg string) *Error {
	return &Error{
		Kind:      kind,
		Severity:  defaultSeverity(kind),
		Message:   msg,
		NodeID:    nodeID,
		Transient: kind.Transient(),
		Timestamp: time.Now().UTC(),
	}
}

// ClassifierRule maps raw errors to kinds. Rules are evaluated in
// registration order: exact matching via Match (errors.Is/As inside the
// func) first, then Pattern over the message when Match is nil.
type ClassifierRule struct {
	Match    func(error) bool
	Pattern  string
	Kind     ErrorKind
	Severity Severity

	// Transient overrides the kind's default transient-ness when non-nil.
	Transient *bool

	// HasSeverity marks Severity as explicitly set; SeverityLow is a valid
	// value, so presence cannot be inferred from the zero value.
	HasSeverity bool

	compiled *regexp.Regexp
}

// classifier runs the classification chain: already-classified errors pass
// through, context errors map to Cancellation/Timeout, then registered
// rules, then the default kind.
type classifier struct {
	rules []ClassifierRule
}

func newClassifier() *classifier {
	c := &classifier{}
	for _, r := range defaultClassifierRules() {
		_ = c.addRule(r)
	}
	return c
}

func (c *classifier) addRule(r ClassifierRule) error {
	if r.Match == nil && r.Pattern == "" {
		return errors.New("classifier rule needs Match or Pattern")
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("classifier pattern %q: %w", r.Pattern, err)
		}
		r.compiled = re
	}
	c.rules = append(c.rules, r)
	return nil
}

// Classify derives the immutable error context for a raw failure.
func (c *classifier) Classify(err error, nodeID string, attempt int) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		if ee.NodeID == "" {
			ee.NodeID = nodeID
		}
		if ee.Attempt == 0 {
			ee.Attempt = attempt
		}
		return ee
	}

	kind := KindUnknown
	var severity Severity
	hasSeverity := false
	var transient *bool

	switch {
	case errors.Is(err, context.Canceled):
		kind = KindCancellation
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, ErrLoopLimit), errors.Is(err, ErrNoRoute):
		kind = KindGraphStructure
	case errors.Is(err, ErrMaxSteps):
		kind = KindBudgetExhausted
	default:
		for _, r := range c.rules {
			matched := false
			if r.Match != nil {
				matched = r.Match(err)
			} else if r.compiled != nil {
				matched = r.compiled.MatchString(err.Error())
			}
			if matched {
				kind = r.Kind
				severity = r.Severity
				hasSeverity = r.HasSeverity
				transient = r.Transient
				break
			}
		}
	}

	out := NewError(kind, nodeID, err.Error())
	out.Cause = err
	out.Attempt = attempt
	if hasSeverity {
		out.Severity = severity
	}
	if transient != nil {
		out.Transient = *transient
	}
	return out
}

// defaultClassifierRules cover the common adapter failure shapes by message
// pattern. Exact-type rules should be registered by the integration that
// owns the error types.
func defaultClassifierRules() []ClassifierRule {
	return []ClassifierRule{
		{Pattern: `(?i)(connection refused|connection reset|no such host|broken pipe)`, Kind: KindNetwork},
		{Pattern: `(?i)(503|service unavailable|bad gateway|502)`, Kind: KindServiceUnavailable},
		{Pattern: `(?i)(429|rate limit|too many requests)`, Kind: KindRateLimit},
		{Pattern: `(?i)(401|403|unauthorized|forbidden|invalid api key|authentication)`, Kind: KindAuthentication},
		{Pattern: `(?i)(timeout|timed out|deadline exceeded)`, Kind: KindTimeout},
		{Pattern: `(?i)(out of memory|resource exhausted|quota exceeded)`, Kind: KindResourceExhaustion},
	}
}
