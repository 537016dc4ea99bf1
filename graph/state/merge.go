package state

import (
	"errors"
	"fmt"
)

// MergePolicy selects how a key conflict between a base state and an
// overlay is resolved when parallel branches join.
type MergePolicy int

const (
	// PreferBase keeps the base value on conflict.
	PreferBase MergePolicy = iota

	// PreferOverlay takes the overlay value on conflict.
	PreferOverlay

	// Reduce combines values: numeric sum for ints and floats, list
	// concatenation, shallow merge for nested maps. Anything else is a
	// conflict.
	Reduce

	// FailOnConflict records a conflict and aborts the merge.
	FailOnConflict
)

// String returns the policy name.
func (p MergePolicy) String() string {
	switch p {
	case PreferBase:
		return "prefer_base"
	case PreferOverlay:
		return "prefer_overlay"
	case Reduce:
		return "reduce"
	case FailOnConflict:
		return "fail_on_conflict"
	default:
		return "unknown"
	}
}

// ErrMergeConflict is returned by Merge when a FailOnConflict key (or an
// irreducible Reduce key) conflicts.
var ErrMergeConflict = errors.New("state: merge conflict")

// MergeFunc is a custom per-key resolver. It receives both values and
// returns the merged result.
type MergeFunc func(key string, base, overlay Value) (Value, error)

// MergeSpec configures merge resolution: a default policy, per-key policy
// overrides, and per-key custom resolvers. Custom resolvers win over
// per-key policies, which win over the default.
type MergeSpec struct {
	Default MergePolicy
	PerKey  map[string]MergePolicy
	Custom  map[string]MergeFunc
}

// Conflict describes one key whose base and overlay values could not be
// merged cleanly under the applied policy.
type Conflict struct {
	Key     string
	Base    Value
	Overlay Value
	Reason  string
}

// MergeResult carries the merged state, the conflicts encountered, and the
// policy applied per conflicting key.
type MergeResult struct {
	State     *State
	Conflicts []Conflict
	Applied   map[string]MergePolicy
}

// Merge combines base and overlay under the per-key policies. The base
// state is not mutated; the result is an independent copy.
//
// Keys present in only one side are taken as-is. Keys present in both
// sides with equal values are not conflicts. Merging is commutative for
// FailOnConflict and for Reduce over commutative reducers (sums, map
// union over disjoint keys); PreferBase and PreferOverlay are inherently
// ordered, so the engine merges branches left to right in declared order.
func Merge(base, overlay *State, spec MergeSpec) (*MergeResult, error) {
	result := &MergeResult{
		State:   base.Snapshot(),
		Applied: make(map[string]MergePolicy),
	}

	for _, key := range overlay.Keys() {
		ov, _ := overlay.TryGet(key)
		bv, exists := result.State.TryGet(key)
		if !exists {
			if err := result.State.Replace(key, ov); err != nil {
				return nil, err
			}
			continue
		}
		if bv.Equal(ov) {
			continue
		}

		if fn, ok := spec.Custom[key]; ok {
			merged, err := fn(key, bv, ov)
			if err != nil {
				return nil, fmt.Errorf("state: custom merge for %q: %w", key, err)
			}
			if err := result.State.Replace(key, merged); err != nil {
				return nil, err
			}
			continue
		}

		policy := spec.Default
		if p, ok := spec.PerKey[key]; ok {
			policy = p
		}
		result.Applied[key] = policy

		switch policy {
		case PreferBase:
			// keep base
		case PreferOverlay:
			if err := result.State.Replace(key, ov); err != nil {
				return nil, err
			}
		case Reduce:
			merged, err := reduceValues(bv, ov)
			if err != nil {
				result.Conflicts = append(result.Conflicts, Conflict{
					Key: key, Base: bv, Overlay: ov, Reason: err.Error(),
				})
				return result, fmt.Errorf("%w: key %q: %v", ErrMergeConflict, key, err)
			}
			if err := result.State.Replace(key, merged); err != nil {
				return nil, err
			}
		case FailOnConflict:
			result.Conflicts = append(result.Conflicts, Conflict{
				Key: key, Base: bv, Overlay: ov, Reason: "conflicting writes",
			})
			return result, fmt.Errorf("%w: key %q", ErrMergeConflict, key)
		}
	}

	// overlay metadata wins on collision; engine-reserved keys carry
	// attempt counters forward through joins
	for k, v := range overlay.MetaMap() {
		result.State.SetMeta(k, v)
	}
	return result, nil
}

// branchDelta is one key a branch changed relative to the fork-point base.
type branchDelta struct {
	key     string
	value   Value
	removed bool
}

// deltas lists what the branch changed: keys written with a value that
// differs from the base, keys added, and keys removed.
func deltas(base, branch *State) []branchDelta {
	var out []branchDelta
	for _, key := range branch.Keys() {
		ov, _ := branch.TryGet(key)
		if bv, exists := base.TryGet(key); exists && bv.Equal(ov) {
			continue
		}
		out = append(out, branchDelta{key: key, value: ov})
	}
	for _, key := range base.Keys() {
		if !branch.Contains(key) {
			out = append(out, branchDelta{key: key, removed: true})
		}
	}
	return out
}

// MergeBranches joins parallel branches that forked from a shared base.
// Each branch contributes only the keys it changed relative to the base,
// so an untouched sibling copy of a base value never participates: a key
// written in one branch survives the join unmodified by branches that
// left it alone. When two branches change the same key, the per-key
// policy resolves between the branch values, folding left to right in
// declared order.
func MergeBranches(base *State, branches []*State, spec MergeSpec) (*MergeResult, error) {
	result := &MergeResult{
		State:   base.Snapshot(),
		Applied: make(map[string]MergePolicy),
	}
	touched := make(map[string]bool)

	for _, branch := range branches {
		for _, d := range deltas(base, branch) {
			if err := foldDelta(result, d, touched, spec); err != nil {
				return result, err
			}
		}
		// later branch metadata wins; attempt counters ride through joins
		for k, v := range branch.MetaMap() {
			result.State.SetMeta(k, v)
		}
	}
	return result, nil
}

// foldDelta applies one branch change to the accumulating join state. The
// first branch to touch a key applies directly; siblings resolve against
// the accumulated value under the key's policy.
func foldDelta(result *MergeResult, d branchDelta, touched map[string]bool, spec MergeSpec) error {
	key := d.key
	if !touched[key] {
		touched[key] = true
		if d.removed {
			result.State.Remove(key)
			return nil
		}
		return result.State.Replace(key, d.value)
	}

	cur, curExists := result.State.TryGet(key)

	if fn, ok := spec.Custom[key]; ok && !d.removed && curExists {
		merged, err := fn(key, cur, d.value)
		if err != nil {
			return fmt.Errorf("state: custom merge for %q: %w", key, err)
		}
		return result.State.Replace(key, merged)
	}

	policy := spec.Default
	if p, ok := spec.PerKey[key]; ok {
		policy = p
	}
	result.Applied[key] = policy

	// a removal racing a sibling write is only resolvable by order
	if d.removed || !curExists {
		switch policy {
		case PreferBase:
			return nil
		case PreferOverlay:
			if d.removed {
				result.State.Remove(key)
				return nil
			}
			return result.State.Replace(key, d.value)
		default:
			result.Conflicts = append(result.Conflicts, Conflict{
				Key: key, Base: cur, Overlay: d.value,
				Reason: "removal conflicts with a sibling write",
			})
			return fmt.Errorf("%w: key %q", ErrMergeConflict, key)
		}
	}

	switch policy {
	case PreferBase:
		// the earlier branch's write stands
	case PreferOverlay:
		return result.State.Replace(key, d.value)
	case Reduce:
		merged, err := reduceValues(cur, d.value)
		if err != nil {
			result.Conflicts = append(result.Conflicts, Conflict{
				Key: key, Base: cur, Overlay: d.value, Reason: err.Error(),
			})
			return fmt.Errorf("%w: key %q: %v", ErrMergeConflict, key, err)
		}
		return result.State.Replace(key, merged)
	case FailOnConflict:
		if cur.Equal(d.value) {
			return nil
		}
		result.Conflicts = append(result.Conflicts, Conflict{
			Key: key, Base: cur, Overlay: d.value, Reason: "conflicting branch writes",
		})
		return fmt.Errorf("%w: key %q", ErrMergeConflict, key)
	}
	return nil
}

// reduceValues combines two values of the same kind: numeric sum, list
// concatenation, shallow map merge. Mismatched or unsupported kinds fail.
func reduceValues(base, overlay Value) (Value, error) {
	if base.Kind() != overlay.Kind() {
		return Value{}, fmt.Errorf("cannot reduce %s with %s", base.Kind(), overlay.Kind())
	}
	switch base.Kind() {
	case KindInt:
		b, _ := base.AsInt()
		o, _ := overlay.AsInt()
		return Int(b + o), nil
	case KindFloat:
		b, _ := base.AsFloat()
		o, _ := overlay.AsFloat()
		return Float(b + o), nil
	case KindList:
		b, _ := base.AsList()
		o, _ := overlay.AsList()
		return List(append(b, o...)...), nil
	case KindMap:
		b, _ := base.AsMap()
		o, _ := overlay.AsMap()
		for k, v := range o {
			b[k] = v
		}
		return Map(b), nil
	default:
		return Value{}, fmt.Errorf("kind %s is not reducible", base.Kind())
	}
}
