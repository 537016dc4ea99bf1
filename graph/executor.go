package graph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calyptra/flowgrid/graph/emit"
	"github.com/calyptra/flowgrid/graph/log"
	"github.com/calyptra/flowgrid/graph/state"
)

// Engine executes graphs. One engine can run many executions concurrently;
// breakers, the governor, and metrics are shared across them.
type Engine struct {
	cfg        *engineConfig
	graph      *Graph
	classifier *classifier
	breakers   *breakerSet

	suspMu      sync.Mutex
	suspensions map[string]*suspensionRecord
}

type suspensionRecord struct {
	checkpointKey string
	nodeID        string
	executionID   string
	deadline      time.Time
}

// NewEngine builds an engine for the graph. The graph is validated and
// frozen here; structural mutation afterwards fails.
func NewEngine(g *Graph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, NewError(KindValidation, "", "engine requires a graph")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := g.Freeze(); err != nil {
		return nil, err
	}

	cl := newClassifier()
	// user rules take precedence over the built-in defaults
	if len(cfg.classifierRules) > 0 {
		user := &classifier{}
		for _, r := range cfg.classifierRules {
			if err := user.addRule(r); err != nil {
				return nil, err
			}
		}
		user.rules = append(user.rules, cl.rules...)
		cl = user
	}

	return &Engine{
		cfg:         cfg,
		graph:       g,
		classifier:  cl,
		breakers:    newBreakerSet(cfg.breakerCfg),
		suspensions: make(map[string]*suspensionRecord),
	}, nil
}

// Result is the outcome of an execution.
type Result struct {
	ExecutionID string
	State       *state.State
	Cost        Cost
	Steps       int

	// Suspended is set when the execution paused for a human decision
	// instead of finishing.
	Suspended *SuspendedError

	// LastCheckpoint is the key of the newest checkpoint, when
	// checkpointing is enabled.
	LastCheckpoint string
}

// SuspendedError reports a paused execution. errors.Is matches
// ErrSuspended.
type SuspendedError struct {
	RequestID     string
	NodeID        string
	Prompt        string
	CheckpointKey string
	Deadline      time.Time
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("execution suspended at %s (request %s)", e.NodeID, e.RequestID)
}

func (e *SuspendedError) Is(target error) bool { return target == ErrSuspended }

// ExecContext is what a node sees during execution: the shared state, the
// execution identity, a logger scoped to the node, and hooks back into
// the engine for subgraphs and metric samples.
type ExecContext struct {
	State       *state.State
	ExecutionID string
	NodeID      string
	Attempt     int
	Logger      log.Logger

	run *run
}

// RunSubgraph executes a nested graph inline, sharing this execution's
// state, budget, events, and checkpoints.
func (ec *ExecContext) RunSubgraph(ctx context.Context, child *Graph) error {
	if err := child.Freeze(); err != nil {
		return err
	}
	return ec.run.walk(ctx, child, child.Entry(), "")
}

// EmitMetric publishes a droppable metric sample on the event stream.
func (ec *ExecContext) EmitMetric(meta map[string]string) {
	ec.run.publish(emit.MetricSample, ec.NodeID, meta)
}

// Checkpoint forces an immediate labeled checkpoint, independent of the
// configured interval, and returns its key. Fails when the engine has no
// checkpoint manager.
func (ec *ExecContext) Checkpoint(ctx context.Context, label string) (string, error) {
	return ec.run.labeledCheckpoint(ctx, ec.NodeID, label)
}

// run is the per-execution mutable context.
type run struct {
	eng            *Engine
	executionID    string
	st             *state.State
	stream         *emit.Stream
	budget         *budgetTracker
	logger         log.Logger
	lastCheckpoint string
	sinceCkpt      int
	suspended      *SuspendedError
	overflow       *Error
}

// Execute runs the graph from its entry node over the initial state. A
// nil initial state starts empty. On suspension the returned error matches
// ErrSuspended and Result.Suspended carries the resume handle.
func (e *Engine) Execute(ctx context.Context, initial *state.State) (*Result, error) {
	if initial == nil {
		initial = state.New()
	}
	r := &run{
		eng:         e,
		executionID: uuid.NewString(),
		st:          initial,
		stream:      e.newStream(),
		budget:      newBudgetTracker(e.cfg.budget),
		logger:      e.cfg.logger.With("graph", e.graph.Name()),
	}
	return e.drive(ctx, r, e.graph.Entry())
}

// ExecuteNode runs a single node over the initial state, ignoring the
// graph's edges. The node still gets the full attempt loop (breaker,
// governor, retries, recovery policy). Useful for targeted replays and
// for exercising one node against production state.
func (e *Engine) ExecuteNode(ctx context.Context, nodeID string, initial *state.State) (*Result, error) {
	return e.ExecuteSequence(ctx, []string{nodeID}, initial)
}

// ExecuteSequence runs the named nodes in the given order, ignoring the
// graph's edges and any routes the nodes return. Each node must exist in
// the graph.
func (e *Engine) ExecuteSequence(ctx context.Context, nodeIDs []string, initial *state.State) (*Result, error) {
	if len(nodeIDs) == 0 {
		return nil, NewError(KindValidation, "", "sequence requires at least one node")
	}
	if initial == nil {
		initial = state.New()
	}
	r := &run{
		eng:         e,
		executionID: uuid.NewString(),
		st:          initial,
		stream:      e.newStream(),
		budget:      newBudgetTracker(e.cfg.budget),
		logger:      e.cfg.logger.With("graph", e.graph.Name()),
	}
	start := e.begin(r, nodeIDs[0])
	err := r.sequence(ctx, nodeIDs)
	return e.finish(ctx, r, nodeIDs[0], start, err)
}

// sequence executes a fixed node order with no routing.
func (r *run) sequence(ctx context.Context, nodeIDs []string) error {
	for _, id := range nodeIDs {
		if err := ctx.Err(); err != nil {
			return r.eng.classifier.Classify(err, id, 0)
		}
		if r.overflow != nil {
			return r.overflow
		}
		if berr := r.budget.check(id); berr != nil {
			r.publish(emit.BudgetExceeded, id, map[string]string{"error": berr.Message})
			return berr
		}
		node, ok := r.eng.graph.Node(id)
		if !ok {
			return NewError(KindGraphStructure, id, "node not found")
		}
		if !node.ShouldExecute(r.st) {
			r.recordStep(id, state.StepSkipped, 0, 0, "")
			r.publish(emit.NodeSkipped, id, nil)
			continue
		}
		out, err := r.executeNode(ctx, r.eng.graph, node)
		if err != nil {
			return err
		}
		if out.suspend != nil {
			return r.suspend(ctx, r.eng.graph, node, out.suspend)
		}
		r.checkpoint(ctx, id, nil, false)
	}
	return nil
}

// Events returns a stream attached to every subsequent execution. Prefer
// WithEmitter for per-sink delivery; this is the pull-based surface.
func (e *Engine) newStream() *emit.Stream {
	s := emit.NewStream(e.cfg.streamCapacity)
	if e.cfg.streamBP > 0 {
		s.SetBackpressure(e.cfg.streamBP)
	}
	for _, em := range e.cfg.emitters {
		s.Attach(em)
	}
	return s
}

// drive wraps walk with execution-level lifecycle: events, metrics, the
// final checkpoint, and cancellation drain.
func (e *Engine) drive(ctx context.Context, r *run, from string) (*Result, error) {
	start := e.begin(r, from)
	err := r.walk(ctx, e.graph, from, "")
	return e.finish(ctx, r, from, start, err)
}

func (e *Engine) begin(r *run, from string) time.Time {
	e.cfg.metrics.ExecutionStarted(e.graph.Name())
	r.publish(emit.ExecutionStarted, "", nil)
	r.logger.Infof("execution %s started at %s", r.executionID, from)
	return time.Now()
}

func (e *Engine) finish(ctx context.Context, r *run, from string, start time.Time, err error) (*Result, error) {
	spent, steps := r.budget.snapshot()
	e.cfg.metrics.BudgetSpend(e.graph.Name(), spent)
	res := &Result{
		ExecutionID:    r.executionID,
		State:          r.st,
		Cost:           spent,
		Steps:          steps,
		Suspended:      r.suspended,
		LastCheckpoint: r.lastCheckpoint,
	}

	switch {
	case r.suspended != nil:
		r.publish(emit.ExecutionSuspended, r.suspended.NodeID, map[string]string{
			"request_id": r.suspended.RequestID,
		})
		r.logger.Infof("execution %s suspended at %s", r.executionID, r.suspended.NodeID)
	case err != nil && errors.Is(err, context.Canceled):
		r.drainCheckpoint(from)
		r.publish(emit.ExecutionCanceled, "", nil)
		r.logger.Warnf("execution %s canceled: %v", r.executionID, err)
	case err != nil:
		r.publish(emit.ExecutionFailed, "", map[string]string{"error": err.Error()})
		r.logger.Errorf("execution %s failed: %v", r.executionID, err)
	default:
		r.checkpoint(ctx, "", nil, true)
		r.publish(emit.ExecutionFinished, "", nil)
		r.logger.Infof("execution %s finished in %s", r.executionID, time.Since(start).Round(time.Millisecond))
	}
	e.cfg.metrics.ExecutionFinished(e.graph.Name(), time.Since(start), err)
	r.stream.Close()
	return res, err
}

// walk executes one branch from a node until Stop, the stopAt join node,
// a suspension, or a terminal error.
func (r *run) walk(ctx context.Context, g *Graph, from, stopAt string) error {
	cur := from
	for cur != "" && cur != stopAt {
		if err := ctx.Err(); err != nil {
			return r.eng.classifier.Classify(err, cur, 0)
		}
		if r.overflow != nil {
			return r.overflow
		}
		if berr := r.budget.check(cur); berr != nil {
			r.publish(emit.BudgetExceeded, cur, map[string]string{"error": berr.Message})
			return berr
		}
		node, ok := g.Node(cur)
		if !ok {
			return NewError(KindGraphStructure, cur, "node not found")
		}

		var route Route
		if !node.ShouldExecute(r.st) {
			r.recordStep(cur, state.StepSkipped, 0, 0, "")
			r.publish(emit.NodeSkipped, cur, nil)
			staticRoute, err := g.route(cur, r.st)
			if err != nil {
				return r.eng.classifier.Classify(err, cur, 0)
			}
			route = staticRoute
		} else {
			out, err := r.executeNode(ctx, g, node)
			if err != nil {
				return err
			}
			if out.suspend != nil {
				return r.suspend(ctx, g, node, out.suspend)
			}
			resolved, err := r.resolveRoute(g, node, out.route)
			if err != nil {
				return r.eng.classifier.Classify(err, cur, 0)
			}
			route = resolved
		}

		r.checkpoint(ctx, cur, route.Targets, false)

		switch {
		case route.IsStop():
			return nil
		case len(route.Targets) == 1:
			cur = route.Targets[0]
		default:
			joined, err := r.fanout(ctx, g, cur, route)
			if err != nil {
				return err
			}
			cur = joined
		}
	}
	return nil
}

// nodeOutcome is what one node's attempt loop resolved to.
type nodeOutcome struct {
	route   *Route
	suspend *Suspension
}

// executeNode runs the full attempt loop for one node: breaker gate,
// governor lease, hooks, classification, and the recovery policy.
func (r *run) executeNode(ctx context.Context, g *Graph, node Node) (nodeOutcome, error) {
	eng := r.eng
	nodeID := node.ID()
	breaker := eng.breakers.get(nodeID)
	hooks, _ := g.Hooks(nodeID)
	attemptKey := state.MetaAttemptKey + nodeID

	attempt := 1
	if raw, ok := r.st.Meta(attemptKey); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			attempt = n + 1
		}
	}

	for {
		if !breaker.Allow() {
			eng.cfg.metrics.BreakerState(eng.graph.Name(), nodeID, breaker.State())
			open := NewError(KindCircuitBreakerOpen, nodeID, "circuit breaker is open")
			return r.recover(ctx, g, node, open, attempt, nil)
		}

		if node.Executable() && eng.cfg.governor != nil {
			weight := 1.0
			if w, ok := node.(Weighted); ok && w.AcquireWeight() > 0 {
				weight = w.AcquireWeight()
			}
			lease, err := eng.cfg.governor.Acquire(ctx, weight, eng.cfg.priority)
			if err != nil {
				return nodeOutcome{}, eng.classifier.Classify(err, nodeID, attempt)
			}
			eng.cfg.metrics.GovernorWait(eng.graph.Name(), eng.cfg.priority, lease.Waited)
		}

		ec := &ExecContext{
			State:       r.st,
			ExecutionID: r.executionID,
			NodeID:      nodeID,
			Attempt:     attempt,
			Logger:      r.logger.With("node", nodeID),
			run:         r,
		}
		r.publish(emit.NodeStarted, nodeID, map[string]string{"attempt": strconv.Itoa(attempt)})
		if hooks != nil {
			hooks.Before(ctx, r.st)
		}
		preAttempt := r.st.Snapshot()
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if eng.cfg.nodeTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, eng.cfg.nodeTimeout)
		}
		started := time.Now()
		res := node.Execute(attemptCtx, ec)
		cancel()
		elapsed := time.Since(started)
		res.Cost.Duration += elapsed

		if res.Err != nil {
			classified := eng.classifier.Classify(res.Err, nodeID, attempt)
			if breaker.Failure() {
				r.publish(emit.BreakerOpened, nodeID, map[string]string{
					"kind": classified.Kind.String(),
				})
			}
			eng.cfg.metrics.BreakerState(eng.graph.Name(), nodeID, breaker.State())
			eng.cfg.metrics.NodeFinished(eng.graph.Name(), nodeID, elapsed, "failed")
			if hooks != nil {
				hooks.OnFailure(ctx, r.st, classified)
			}

			policy := eng.cfg.policies.Resolve(nodeID, classified.Kind)
			if policy.Retry.Retryable(classified, attempt) {
				r.st.SetMeta(attemptKey, strconv.Itoa(attempt))
				r.recordStep(nodeID, state.StepRetried, attempt, elapsed, classified.Kind.String())
				eng.cfg.metrics.RetryScheduled(eng.graph.Name(), nodeID, classified.Kind)
				delay := policy.Retry.Delay(attempt)
				r.publish(emit.NodeRetrying, nodeID, map[string]string{
					"attempt": strconv.Itoa(attempt),
					"delay":   delay.String(),
					"kind":    classified.Kind.String(),
					"error":   classified.Message,
				})
				r.logger.Warnf("node %s attempt %d failed (%s), retrying in %s",
					nodeID, attempt, classified.Kind, delay)
				select {
				case <-ctx.Done():
					return nodeOutcome{}, eng.classifier.Classify(ctx.Err(), nodeID, attempt)
				case <-time.After(delay):
				}
				attempt++
				continue
			}
			// one NodeFailed per node, on the attempt that exhausts retries
			r.publish(emit.NodeFailed, nodeID, map[string]string{
				"attempt": strconv.Itoa(attempt),
				"kind":    classified.Kind.String(),
				"error":   classified.Message,
			})
			return r.recover(ctx, g, node, classified, attempt, preAttempt)
		}

		// success
		if breaker.Success() {
			r.publish(emit.BreakerClosed, nodeID, nil)
		}
		for _, w := range res.Writes {
			if w.Remove {
				r.st.Remove(w.Key)
				continue
			}
			if err := r.st.Set(w.Key, w.Value); err != nil {
				return nodeOutcome{}, eng.classifier.Classify(err, nodeID, attempt)
			}
		}
		r.st.DeleteMeta(attemptKey)
		r.budget.charge(res.Cost, node.Executable())
		r.recordStep(nodeID, state.StepOK, attempt, elapsed, "")
		eng.cfg.metrics.NodeFinished(eng.graph.Name(), nodeID, elapsed, "ok")
		r.publish(emit.NodeFinished, nodeID, map[string]string{"attempt": strconv.Itoa(attempt)})
		if hooks != nil {
			hooks.After(ctx, r.st, res)
		}
		return nodeOutcome{route: res.Route, suspend: res.Suspend}, nil
	}
}

// recover applies the resolved policy's exhaustion action to a classified
// failure.
func (r *run) recover(ctx context.Context, g *Graph, node Node, classified *Error, attempt int, preAttempt *state.State) (nodeOutcome, error) {
	eng := r.eng
	nodeID := node.ID()
	policy := eng.cfg.policies.Resolve(nodeID, classified.Kind)
	breaker := eng.breakers.get(nodeID)

	if policy.TripBreaker {
		breaker.Trip()
		eng.cfg.metrics.BreakerState(eng.graph.Name(), nodeID, breaker.State())
		r.publish(emit.BreakerTripped, nodeID, map[string]string{"kind": classified.Kind.String()})
	}
	r.st.SetMeta(state.MetaErrorKind, classified.Kind.String())
	r.st.SetMeta(state.MetaErrorNode, nodeID)
	r.st.DeleteMeta(state.MetaAttemptKey + nodeID)

	switch policy.OnExhausted {
	case ActionSkip, ActionContinue:
		r.recordStep(nodeID, state.StepSkipped, attempt, 0, classified.Kind.String())
		r.logger.Warnf("node %s failed (%s), skipping per policy", nodeID, classified.Kind)
		route, err := g.route(nodeID, r.st)
		if err != nil {
			return nodeOutcome{}, eng.classifier.Classify(err, nodeID, attempt)
		}
		return nodeOutcome{route: &route}, nil

	case ActionFallback:
		if policy.FallbackNode == "" {
			return nodeOutcome{}, NewError(KindValidation, nodeID, "fallback policy without fallback node")
		}
		r.recordStep(nodeID, state.StepFailed, attempt, 0, classified.Kind.String())
		r.logger.Warnf("node %s failed (%s), falling back to %s", nodeID, classified.Kind, policy.FallbackNode)
		route := Goto(policy.FallbackNode)
		return nodeOutcome{route: &route}, nil

	case ActionRollback:
		if preAttempt != nil {
			r.st.Restore(preAttempt)
		}
		r.recordStep(nodeID, state.StepFailed, attempt, 0, classified.Kind.String())
		return nodeOutcome{}, classified

	case ActionEscalate:
		if classified.Severity < SeverityCritical {
			classified.Severity++
		}
		r.recordStep(nodeID, state.StepFailed, attempt, 0, classified.Kind.String())
		return nodeOutcome{}, classified

	case ActionCircuitBreaker:
		breaker.Trip()
		eng.cfg.metrics.BreakerState(eng.graph.Name(), nodeID, breaker.State())
		r.publish(emit.BreakerTripped, nodeID, map[string]string{"kind": classified.Kind.String()})
		r.recordStep(nodeID, state.StepFailed, attempt, 0, classified.Kind.String())
		return nodeOutcome{}, classified

	default: // ActionHalt, ActionRetry past exhaustion
		r.recordStep(nodeID, state.StepFailed, attempt, 0, classified.Kind.String())
		return nodeOutcome{}, classified
	}
}

// resolveRoute applies routing precedence: the node's own decision, then
// an attached dynamic router, then static edges. A router abstention falls
// through to the static edges.
func (r *run) resolveRoute(g *Graph, node Node, explicit *Route) (Route, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if router, ok := g.DynamicRouterFor(node.ID()); ok {
		decision, err := router.Decide(r.st)
		if err != nil {
			return Stop(), fmt.Errorf("router at %s: %w", node.ID(), err)
		}
		if !decision.Abstain {
			r.publish(emit.RouteDecided, node.ID(), map[string]string{"reason": decision.Reason})
			return decision.Route, nil
		}
		r.logger.Debugf("router at %s abstained: %s", node.ID(), decision.Reason)
	}
	if router, ok := node.(Router); ok {
		return router.Next(r.st)
	}
	return g.route(node.ID(), r.st)
}

// fanout runs each target as an isolated branch over a snapshot of the
// fork-point state, at most maxParallel at a time, then joins the branch
// deltas back left to right in declared order. Returns the node where
// execution continues ("" when the branches ran to completion).
func (r *run) fanout(ctx context.Context, g *Graph, from string, route Route) (string, error) {
	r.publish(emit.BranchForked, from, map[string]string{
		"branches": strconv.Itoa(len(route.Targets)),
		"join":     route.Join,
	})

	base := r.st.Snapshot()

	type branchResult struct {
		st  *state.State
		err error
	}
	results := make([]branchResult, len(route.Targets))
	limit := r.eng.cfg.maxParallel
	if limit <= 0 || limit > len(route.Targets) {
		limit = len(route.Targets)
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, target := range route.Targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			branch := &run{
				eng:         r.eng,
				executionID: r.executionID,
				st:          base.Snapshot(),
				stream:      r.stream,
				budget:      r.budget,
				logger:      r.logger.With("branch", target),
			}
			err := branch.walk(ctx, g, target, route.Join)
			if branch.suspended != nil && err == nil {
				err = branch.suspended
			}
			results[i] = branchResult{st: branch.st, err: err}
		}(i, target)
	}
	wg.Wait()

	states := make([]*state.State, len(results))
	for i, br := range results {
		if br.err != nil {
			return "", fmt.Errorf("branch %s: %w", route.Targets[i], br.err)
		}
		states[i] = br.st
	}

	// each branch contributes only what it changed against the fork
	// snapshot, so untouched sibling copies never re-enter the merge
	out, err := state.MergeBranches(base, states, g.MergeSpec())
	if err != nil {
		for _, c := range out.Conflicts {
			r.publish(emit.MergeConflict, route.Join, map[string]string{
				"key":    c.Key,
				"reason": c.Reason,
			})
		}
		return "", r.eng.classifier.Classify(err, route.Join, 0)
	}
	r.st.Restore(out.State)
	r.publish(emit.BranchJoined, route.Join, map[string]string{
		"branches": strconv.Itoa(len(route.Targets)),
	})
	return route.Join, nil
}

// suspend checkpoints the paused execution and registers the resume
// handle.
func (r *run) suspend(ctx context.Context, g *Graph, node Node, susp *Suspension) error {
	eng := r.eng
	se := &SuspendedError{
		RequestID: susp.RequestID,
		NodeID:    node.ID(),
		Prompt:    susp.Prompt,
		Deadline:  susp.Deadline,
	}
	if eng.cfg.checkpoints != nil {
		cp := &Checkpoint{
			ExecutionID:     r.executionID,
			GraphName:       eng.graph.Name(),
			CurrentNodeID:   node.ID(),
			AttemptCounters: r.attemptCounters(),
			Suspended:       susp,
		}
		key, size, err := eng.cfg.checkpoints.Save(ctx, cp, r.st)
		if err != nil {
			return fmt.Errorf("suspend checkpoint: %w", err)
		}
		eng.cfg.metrics.CheckpointSaved(eng.graph.Name(), size)
		r.publish(emit.CheckpointSaved, node.ID(), map[string]string{"key": key})
		r.lastCheckpoint = key
		se.CheckpointKey = key
	}
	eng.suspMu.Lock()
	eng.suspensions[susp.RequestID] = &suspensionRecord{
		checkpointKey: se.CheckpointKey,
		nodeID:        node.ID(),
		executionID:   r.executionID,
		deadline:      susp.Deadline,
	}
	eng.suspMu.Unlock()
	r.suspended = se
	return se
}

// Resume continues a suspended execution with the approver's decision.
// The request must have been produced by this engine instance; for
// cross-process resumption use ResumeFromCheckpoint.
func (e *Engine) Resume(ctx context.Context, requestID string, d Decision) (*Result, error) {
	e.suspMu.Lock()
	rec, ok := e.suspensions[requestID]
	if ok {
		delete(e.suspensions, requestID)
	}
	e.suspMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSuspended, requestID)
	}
	if !rec.deadline.IsZero() && time.Now().After(rec.deadline) {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrApprovalLapse)
	}

	if rec.checkpointKey != "" {
		return e.resumeFromKey(ctx, rec.checkpointKey, d)
	}
	return nil, fmt.Errorf("%w: request %s has no checkpoint", ErrNotSuspended, requestID)
}

// ResumeFromCheckpoint continues a suspended execution persisted by
// another process.
func (e *Engine) ResumeFromCheckpoint(ctx context.Context, checkpointKey string, d Decision) (*Result, error) {
	return e.resumeFromKey(ctx, checkpointKey, d)
}

func (e *Engine) resumeFromKey(ctx context.Context, key string, d Decision) (*Result, error) {
	if e.cfg.checkpoints == nil {
		return nil, NewError(KindValidation, "", "resume requires a checkpoint manager")
	}
	cp, st, err := e.cfg.checkpoints.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if cp.Suspended != nil && !cp.Suspended.Deadline.IsZero() && time.Now().After(cp.Suspended.Deadline) {
		return nil, fmt.Errorf("request %s: %w", cp.Suspended.RequestID, ErrApprovalLapse)
	}
	node, ok := e.graph.Node(cp.CurrentNodeID)
	if !ok {
		return nil, NewError(KindGraphStructure, cp.CurrentNodeID, "suspended node no longer in graph")
	}

	r := &run{
		eng:            e,
		executionID:    cp.ExecutionID,
		st:             st,
		stream:         e.newStream(),
		budget:         newBudgetTracker(e.cfg.budget),
		logger:         e.cfg.logger.With("graph", e.graph.Name()),
		lastCheckpoint: key,
	}
	r.publish(emit.ExecutionResumed, cp.CurrentNodeID, map[string]string{"checkpoint": key})

	if approval, ok := node.(*ApprovalNode); ok {
		for _, w := range approval.applyDecision(d) {
			if err := st.Set(w.Key, w.Value); err != nil {
				return nil, err
			}
		}
	}

	route, err := r.resolveRoute(e.graph, node, nil)
	if err != nil {
		return nil, e.classifier.Classify(err, cp.CurrentNodeID, 0)
	}
	from := ""
	if !route.IsStop() {
		if len(route.Targets) > 1 {
			joined, ferr := r.fanout(ctx, e.graph, cp.CurrentNodeID, route)
			if ferr != nil {
				return nil, ferr
			}
			from = joined
		} else {
			from = route.Targets[0]
		}
	}
	if from == "" {
		r.checkpoint(ctx, "", nil, true)
		r.publish(emit.ExecutionFinished, "", nil)
		r.stream.Close()
		spent, steps := r.budget.snapshot()
		return &Result{
			ExecutionID:    r.executionID,
			State:          r.st,
			Cost:           spent,
			Steps:          steps,
			LastCheckpoint: r.lastCheckpoint,
		}, nil
	}
	return e.drive(ctx, r, from)
}

// Restore continues an execution from its newest checkpoint, typically
// after a crash.
func (e *Engine) Restore(ctx context.Context, executionID string) (*Result, error) {
	if e.cfg.checkpoints == nil {
		return nil, NewError(KindValidation, "", "restore requires a checkpoint manager")
	}
	cp, st, err := e.cfg.checkpoints.Latest(ctx, executionID)
	if err != nil {
		return nil, err
	}
	r := &run{
		eng:         e,
		executionID: cp.ExecutionID,
		st:          st,
		stream:      e.newStream(),
		budget:      newBudgetTracker(e.cfg.budget),
		logger:      e.cfg.logger.With("graph", e.graph.Name()),
	}
	r.publish(emit.CheckpointLoaded, cp.CurrentNodeID, map[string]string{
		"execution": executionID,
	})
	from := e.graph.Entry()
	if len(cp.PendingSuccessors) == 1 {
		from = cp.PendingSuccessors[0]
	} else if cp.CurrentNodeID != "" {
		// re-resolve routing from the last completed node
		node, ok := e.graph.Node(cp.CurrentNodeID)
		if ok {
			route, rerr := r.resolveRoute(e.graph, node, nil)
			if rerr == nil && len(route.Targets) == 1 {
				from = route.Targets[0]
			}
		}
	}
	return e.drive(ctx, r, from)
}

// Graph returns the engine's frozen graph.
func (e *Engine) Graph() *Graph { return e.graph }

// checkpoint saves the running state at a node boundary when the interval
// (or force) says so.
func (r *run) checkpoint(ctx context.Context, nodeID string, pending []string, force bool) {
	eng := r.eng
	if eng.cfg.checkpoints == nil {
		return
	}
	r.sinceCkpt++
	if !force && r.sinceCkpt < eng.cfg.checkpointEvery {
		return
	}
	r.sinceCkpt = 0
	cp := &Checkpoint{
		ExecutionID:       r.executionID,
		GraphName:         eng.graph.Name(),
		CurrentNodeID:     nodeID,
		PendingSuccessors: pending,
		AttemptCounters:   r.attemptCounters(),
	}
	key, size, err := eng.cfg.checkpoints.Save(ctx, cp, r.st)
	if err != nil {
		// checkpointing is best-effort on the hot path; the execution
		// continues and the failure is visible in the log
		r.logger.Errorf("checkpoint at %s failed: %v", nodeID, err)
		return
	}
	r.lastCheckpoint = key
	eng.cfg.metrics.CheckpointSaved(eng.graph.Name(), size)
	r.publish(emit.CheckpointSaved, nodeID, map[string]string{"key": key})
}

// labeledCheckpoint saves an explicit checkpoint carrying a label, outside
// the interval accounting.
func (r *run) labeledCheckpoint(ctx context.Context, nodeID, label string) (string, error) {
	eng := r.eng
	if eng.cfg.checkpoints == nil {
		return "", NewError(KindValidation, nodeID, "checkpointing is not enabled")
	}
	cp := &Checkpoint{
		ExecutionID:     r.executionID,
		GraphName:       eng.graph.Name(),
		CurrentNodeID:   nodeID,
		AttemptCounters: r.attemptCounters(),
		Label:           label,
	}
	key, size, err := eng.cfg.checkpoints.Save(ctx, cp, r.st)
	if err != nil {
		return "", fmt.Errorf("labeled checkpoint %q: %w", label, err)
	}
	r.lastCheckpoint = key
	eng.cfg.metrics.CheckpointSaved(eng.graph.Name(), size)
	r.publish(emit.CheckpointSaved, nodeID, map[string]string{"key": key, "label": label})
	return key, nil
}

// drainCheckpoint writes the final checkpoint of a canceled execution
// under the drain window, detached from the canceled context.
func (r *run) drainCheckpoint(nodeID string) {
	if r.eng.cfg.checkpoints == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.eng.cfg.drainTimeout)
	defer cancel()
	r.checkpoint(ctx, nodeID, nil, true)
}

// attemptCounters collects the persisted per-node attempt counts from
// state metadata.
func (r *run) attemptCounters() map[string]int {
	out := make(map[string]int)
	for k, v := range r.st.MetaMap() {
		if len(k) > len(state.MetaAttemptKey) && k[:len(state.MetaAttemptKey)] == state.MetaAttemptKey {
			if n, err := strconv.Atoi(v); err == nil {
				out[k[len(state.MetaAttemptKey):]] = n
			}
		}
	}
	return out
}

func (r *run) recordStep(nodeID string, status state.StepStatus, attempt int, d time.Duration, errKind string) {
	now := time.Now().UTC()
	r.st.AppendStep(state.Step{
		NodeID:     nodeID,
		StartedAt:  now.Add(-d),
		FinishedAt: now,
		Status:     status,
		Attempt:    attempt,
		DurationMS: d.Milliseconds(),
		ErrorKind:  errKind,
	})
}

func (r *run) publish(kind emit.Kind, nodeID string, meta map[string]string) {
	err := r.stream.Publish(emit.Event{
		Kind:        kind,
		ExecutionID: r.executionID,
		NodeID:      nodeID,
		Meta:        meta,
	})
	if err != nil && r.overflow == nil {
		// lifecycle events must not be lost; a consumer that cannot keep
		// up past the backpressure budget fails the execution
		r.overflow = NewError(KindResourceExhaustion, nodeID, "event stream overflow: "+err.Error())
	}
}
