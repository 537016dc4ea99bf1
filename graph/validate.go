package graph

import (
	"fmt"
)

// ValidationIssue is one finding from graph validation.
type ValidationIssue struct {
	NodeID  string
	Message string

	// Fatal issues block freezing; the rest are advisory.
	Fatal bool
}

func (i ValidationIssue) String() string {
	if i.NodeID != "" {
		return fmt.Sprintf("%s: %s", i.NodeID, i.Message)
	}
	return i.Message
}

// Validate runs the structural checks without freezing the graph: node
// configuration, edge endpoints, entry reachability, unguarded cycles, and
// input keys never produced upstream. seeded lists state keys present
// before execution starts.
func (g *Graph) Validate(seeded ...string) []ValidationIssue {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.validateIssuesLocked(seeded)
}

// validateLocked is the freeze-time gate: any fatal issue aborts.
func (g *Graph) validateLocked() error {
	issues := g.validateIssuesLocked(nil)
	for _, i := range issues {
		if i.Fatal {
			return NewError(KindGraphStructure, i.NodeID, i.Message)
		}
	}
	return nil
}

func (g *Graph) validateIssuesLocked(seeded []string) []ValidationIssue {
	var issues []ValidationIssue
	fatal := func(nodeID, msg string) {
		issues = append(issues, ValidationIssue{NodeID: nodeID, Message: msg, Fatal: true})
	}
	warn := func(nodeID, msg string) {
		issues = append(issues, ValidationIssue{NodeID: nodeID, Message: msg})
	}

	if len(g.nodes) == 0 {
		fatal("", "graph has no nodes")
		return issues
	}
	if g.entry == "" {
		fatal("", "graph has no entry node")
	} else if _, ok := g.nodes[g.entry]; !ok {
		fatal(g.entry, "entry node not found")
	}

	for _, id := range g.order {
		if err := g.nodes[id].Validate(); err != nil {
			fatal(id, err.Error())
		}
	}

	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			fatal(from, "edge from unknown node")
		}
		for _, e := range edges {
			if _, ok := g.nodes[e.To]; !ok {
				fatal(from, fmt.Sprintf("edge to unknown node %q", e.To))
			}
		}
	}
	// routing targets declared inside node configuration count as edges
	// for reachability but cannot all be checked statically; the ones the
	// built-in node types expose are.
	for _, id := range g.order {
		for _, target := range staticTargets(g.nodes[id]) {
			if target == "" {
				continue
			}
			if _, ok := g.nodes[target]; !ok {
				fatal(id, fmt.Sprintf("routes to unknown node %q", target))
			}
		}
	}

	reachable := g.reachableLocked()
	for _, id := range g.order {
		if !reachable[id] {
			warn(id, "unreachable from entry")
		}
	}

	if cycleNode := g.unguardedCycleLocked(); cycleNode != "" {
		fatal(cycleNode, "cycle without a loop node on its path")
	}

	produced := make(map[string]bool)
	for _, k := range seeded {
		produced[k] = true
	}
	for _, id := range g.order {
		for _, k := range g.nodes[id].OutputKeys() {
			produced[k] = true
		}
	}
	for _, id := range g.order {
		for _, k := range g.nodes[id].InputKeys() {
			if !produced[k] {
				warn(id, fmt.Sprintf("input key %q is never produced", k))
			}
		}
	}
	return issues
}

// staticTargets extracts the routing targets declared on the built-in
// node types.
func staticTargets(n Node) []string {
	switch t := n.(type) {
	case *ConditionalNode:
		return []string{t.Then, t.Else}
	case *SwitchNode:
		out := []string{t.Default}
		for _, c := range t.Cases {
			out = append(out, c.Target)
		}
		return out
	case *LoopNode:
		return []string{t.Body, t.After}
	case *ForEachNode:
		return []string{t.Body, t.After}
	case *ErrorHandlerNode:
		out := []string{t.Default}
		for _, target := range t.ByKind {
			out = append(out, target)
		}
		return out
	default:
		return nil
	}
}

// successorsLocked returns every statically known successor of a node.
func (g *Graph) successorsLocked(id string) []string {
	var out []string
	for _, e := range g.edges[id] {
		out = append(out, e.To)
	}
	out = append(out, staticTargets(g.nodes[id])...)
	return out
}

func (g *Graph) reachableLocked() map[string]bool {
	seen := make(map[string]bool)
	if g.entry == "" {
		return seen
	}
	stack := []string{g.entry}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, next := range g.successorsLocked(id) {
			if next != "" && !seen[next] {
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// unguardedCycleLocked finds a cycle none of whose members is a loop
// node, returning one node on it, or "".
func (g *Graph) unguardedCycleLocked() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(id string, path []string) string
	visit = func(id string, path []string) string {
		color[id] = gray
		path = append(path, id)
		for _, next := range g.successorsLocked(id) {
			if next == "" {
				continue
			}
			if _, ok := g.nodes[next]; !ok {
				continue
			}
			switch color[next] {
			case gray:
				if !cycleHasLoopNode(g, path, next) {
					return next
				}
			case white:
				if bad := visit(next, path); bad != "" {
					return bad
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, id := range g.order {
		if color[id] == white {
			if bad := visit(id, nil); bad != "" {
				return bad
			}
		}
	}
	return ""
}

func cycleHasLoopNode(g *Graph, path []string, back string) bool {
	start := 0
	for i, id := range path {
		if id == back {
			start = i
			break
		}
	}
	for _, id := range path[start:] {
		switch g.nodes[id].(type) {
		case *LoopNode, *ForEachNode:
			return true
		}
	}
	return false
}
