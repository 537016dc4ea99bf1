package graph

import (
	"fmt"
	"sync"

	"github.com/calyptra/flowgrid/graph/state"
)

// Predicate evaluates a condition over the current state.
type Predicate func(*state.State) (bool, error)

// Edge is a directed connection between two nodes. Unconditional edges
// have a nil predicate. Conditional edges are evaluated in declared order;
// the first edge whose predicate holds wins.
type Edge struct {
	From      string
	To        string
	Predicate Predicate

	// Label names the edge in validation reports and events.
	Label string
}

// Graph is a directed graph of nodes with static edges, a designated entry
// node, and a merge spec for parallel joins. Graphs freeze on first
// execution: structural mutation afterwards fails with ErrGraphFrozen.
type Graph struct {
	mu      sync.RWMutex
	name    string
	nodes   map[string]Node
	order   []string
	edges   map[string][]Edge
	entry   string
	merge   state.MergeSpec
	hooks   map[string]Hooks
	routers map[string]DynamicRouter
	frozen  bool
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		name:    name,
		nodes:   make(map[string]Node),
		edges:   make(map[string][]Edge),
		hooks:   make(map[string]Hooks),
		routers: make(map[string]DynamicRouter),
		merge:   state.MergeSpec{Default: state.FailOnConflict},
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// AddNode registers a node. The first node added becomes the entry unless
// SetEntry overrides it.
func (g *Graph) AddNode(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return ErrGraphFrozen
	}
	if n == nil || n.ID() == "" {
		return NewError(KindValidation, "", "cannot add nil or unidentified node")
	}
	if _, exists := g.nodes[n.ID()]; exists {
		return NewError(KindValidation, n.ID(), "duplicate node ID")
	}
	g.nodes[n.ID()] = n
	g.order = append(g.order, n.ID())
	if g.entry == "" {
		g.entry = n.ID()
	}
	return nil
}

// AddEdge wires an unconditional edge from one node to another.
func (g *Graph) AddEdge(from, to string) error {
	return g.addEdge(Edge{From: from, To: to})
}

// AddConditionalEdge wires an edge taken only when pred holds. Conditional
// edges are tried in the order they were declared.
func (g *Graph) AddConditionalEdge(from, to string, pred Predicate) error {
	return g.addEdge(Edge{From: from, To: to, Predicate: pred})
}

func (g *Graph) addEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return ErrGraphFrozen
	}
	if e.From == "" || e.To == "" {
		return NewError(KindValidation, "", "edge requires both endpoints")
	}
	g.edges[e.From] = append(g.edges[e.From], e)
	return nil
}

// SetEntry designates the entry node.
func (g *Graph) SetEntry(nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return ErrGraphFrozen
	}
	if _, ok := g.nodes[nodeID]; !ok {
		return NewError(KindValidation, nodeID, "entry node not found")
	}
	g.entry = nodeID
	return nil
}

// SetMergeSpec configures how parallel branches merge at joins.
func (g *Graph) SetMergeSpec(spec state.MergeSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return ErrGraphFrozen
	}
	g.merge = spec
	return nil
}

// SetHooks attaches lifecycle hooks to a node.
func (g *Graph) SetHooks(nodeID string, h Hooks) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return ErrGraphFrozen
	}
	if _, ok := g.nodes[nodeID]; !ok {
		return NewError(KindValidation, nodeID, "node not found")
	}
	g.hooks[nodeID] = h
	return nil
}

// SetRouter attaches a dynamic router to a node. Dynamic decisions win
// over static edges; when the router abstains the static edges apply.
func (g *Graph) SetRouter(nodeID string, r DynamicRouter) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return ErrGraphFrozen
	}
	if _, ok := g.nodes[nodeID]; !ok {
		return NewError(KindValidation, nodeID, "node not found")
	}
	g.routers[nodeID] = r
	return nil
}

// Entry returns the entry node ID.
func (g *Graph) Entry() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entry
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns node IDs in insertion order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Edges returns the outgoing edges of a node in declared order.
func (g *Graph) Edges(from string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.edges[from]...)
}

// MergeSpec returns the join merge configuration.
func (g *Graph) MergeSpec() state.MergeSpec {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.merge
}

// Hooks returns the hooks attached to a node, if any.
func (g *Graph) Hooks(nodeID string) (Hooks, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.hooks[nodeID]
	return h, ok
}

// DynamicRouterFor returns the dynamic router attached to a node, if any.
func (g *Graph) DynamicRouterFor(nodeID string) (DynamicRouter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.routers[nodeID]
	return r, ok
}

// Freeze validates the graph and locks its structure. Idempotent: a frozen
// graph freezes again without revalidating.
func (g *Graph) Freeze() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return nil
	}
	if err := g.validateLocked(); err != nil {
		return err
	}
	g.frozen = true
	return nil
}

// Frozen reports whether the graph structure is locked.
func (g *Graph) Frozen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frozen
}

// route resolves the static successors of a node against the state: the
// first conditional edge whose predicate holds, otherwise all declared
// unconditional edges (several mean a fan-out).
func (g *Graph) route(from string, s *state.State) (Route, error) {
	edges := g.Edges(from)
	if len(edges) == 0 {
		return Stop(), nil
	}

	var unconditional []string
	for _, e := range edges {
		if e.Predicate == nil {
			unconditional = append(unconditional, e.To)
			continue
		}
		ok, err := e.Predicate(s)
		if err != nil {
			return Stop(), fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
		}
		if ok {
			return Goto(e.To), nil
		}
	}
	if len(unconditional) == 0 {
		return Stop(), fmt.Errorf("node %s: %w", from, ErrNoRoute)
	}
	return Route{Targets: unconditional}, nil
}
