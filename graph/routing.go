package graph

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/calyptra/flowgrid/graph/state"
)

// RouteDecision is the outcome of a dynamic router: a concrete route, or
// an abstention that lets the static edges decide.
type RouteDecision struct {
	Route Route

	// Abstain defers to the node's static edges.
	Abstain bool

	// Reason is recorded on the routing event for observability.
	Reason string
}

// Decide builds a concrete decision.
func Decide(route Route, reason string) RouteDecision {
	return RouteDecision{Route: route, Reason: reason}
}

// Passthrough abstains, handing routing back to the static edges.
func Passthrough(reason string) RouteDecision {
	return RouteDecision{Abstain: true, Reason: reason}
}

// DynamicRouter picks successors at runtime. A router attached to a node
// wins over its static edges; abstaining falls back to them.
type DynamicRouter interface {
	Decide(s *state.State) (RouteDecision, error)
}

// RouterFunc adapts a function to DynamicRouter.
type RouterFunc func(s *state.State) (RouteDecision, error)

// Decide implements DynamicRouter.
func (f RouterFunc) Decide(s *state.State) (RouteDecision, error) { return f(s) }

// FirstMatchRouter evaluates rules in order and routes to the first whose
// predicate holds. Without a match it abstains.
type FirstMatchRouter struct {
	Rules []RouteRule
}

// RouteRule pairs a predicate with its target.
type RouteRule struct {
	When   Predicate
	Target string
}

// Decide implements DynamicRouter.
func (r *FirstMatchRouter) Decide(s *state.State) (RouteDecision, error) {
	for i, rule := range r.Rules {
		ok, err := rule.When(s)
		if err != nil {
			return RouteDecision{}, fmt.Errorf("route rule %d: %w", i, err)
		}
		if ok {
			return Decide(Goto(rule.Target), fmt.Sprintf("rule %d matched", i)), nil
		}
	}
	return Passthrough("no rule matched"), nil
}

// WeightedRouter samples a successor from a weight table. The generator is
// seeded explicitly so replayed executions take identical routes.
type WeightedRouter struct {
	mu      sync.Mutex
	rng     *rand.Rand
	targets []string
	weights []float64
	total   float64
}

// NewWeightedRouter builds a probabilistic router over target->weight.
// Weights must be positive; the seed makes routing reproducible.
func NewWeightedRouter(weights map[string]float64, seed int64) (*WeightedRouter, error) {
	if len(weights) == 0 {
		return nil, NewError(KindValidation, "", "weighted router requires targets")
	}
	r := &WeightedRouter{rng: rand.New(rand.NewSource(seed))}
	targets := make([]string, 0, len(weights))
	for t := range weights {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		w := weights[t]
		if w <= 0 {
			return nil, NewError(KindValidation, "", fmt.Sprintf("weight for %q must be positive", t))
		}
		r.targets = append(r.targets, t)
		r.weights = append(r.weights, w)
		r.total += w
	}
	return r, nil
}

// Decide implements DynamicRouter.
func (r *WeightedRouter) Decide(*state.State) (RouteDecision, error) {
	r.mu.Lock()
	x := r.rng.Float64() * r.total
	r.mu.Unlock()
	for i, w := range r.weights {
		if x < w {
			return Decide(Goto(r.targets[i]), "weighted sample"), nil
		}
		x -= w
	}
	return Decide(Goto(r.targets[len(r.targets)-1]), "weighted sample"), nil
}

// HistoryRouter routes by inspecting the execution history: when the last
// pass through a watched node failed it takes the Recover target,
// otherwise it abstains.
type HistoryRouter struct {
	Watch   string
	Recover string
}

// Decide implements DynamicRouter.
func (r *HistoryRouter) Decide(s *state.State) (RouteDecision, error) {
	history := s.History()
	for i := len(history) - 1; i >= 0; i-- {
		step := history[i]
		if step.NodeID != r.Watch {
			continue
		}
		if step.Status == state.StepFailed {
			return Decide(Goto(r.Recover), fmt.Sprintf("last %s attempt failed", r.Watch)), nil
		}
		break
	}
	return Passthrough("watched node healthy"), nil
}

// SimilarityRouter routes by token-overlap similarity between a query key
// and per-target exemplar phrases. The target with the highest overlap
// above Threshold wins; below the threshold the router abstains.
type SimilarityRouter struct {
	QueryKey  string
	Exemplars map[string]string
	Threshold float64
}

// Decide implements DynamicRouter.
func (r *SimilarityRouter) Decide(s *state.State) (RouteDecision, error) {
	query, ok := s.GetString(r.QueryKey)
	if !ok {
		return Passthrough("query key absent"), nil
	}
	qset := tokenSet(query)
	if len(qset) == 0 {
		return Passthrough("empty query"), nil
	}

	best, bestScore := "", 0.0
	targets := make([]string, 0, len(r.Exemplars))
	for t := range r.Exemplars {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		score := jaccard(qset, tokenSet(r.Exemplars[t]))
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	if best == "" || bestScore < r.Threshold {
		return Passthrough(fmt.Sprintf("best similarity %.2f below threshold", bestScore)), nil
	}
	return Decide(Goto(best), fmt.Sprintf("similarity %.2f to %s", bestScore, best)), nil
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(tok, ".,;:!?\"'")] = struct{}{}
	}
	delete(set, "")
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
