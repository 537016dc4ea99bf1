package state

import (
	"errors"
	"testing"
)

func pair(t *testing.T) (*State, *State) {
	t.Helper()
	base := New()
	if err := base.Set("shared", Int(1)); err != nil {
		t.Fatal(err)
	}
	if err := base.Set("base_only", String("b")); err != nil {
		t.Fatal(err)
	}
	overlay := New()
	if err := overlay.Set("shared", Int(2)); err != nil {
		t.Fatal(err)
	}
	if err := overlay.Set("overlay_only", String("o")); err != nil {
		t.Fatal(err)
	}
	return base, overlay
}

func TestMergePolicies(t *testing.T) {
	t.Run("prefer base", func(t *testing.T) {
		base, overlay := pair(t)
		res, err := Merge(base, overlay, MergeSpec{Default: PreferBase})
		if err != nil {
			t.Fatal(err)
		}
		if n, _ := res.State.GetInt("shared"); n != 1 {
			t.Errorf("shared = %d, want base value 1", n)
		}
		if v, _ := res.State.GetString("overlay_only"); v != "o" {
			t.Error("disjoint overlay key missing")
		}
	})

	t.Run("prefer overlay", func(t *testing.T) {
		base, overlay := pair(t)
		res, err := Merge(base, overlay, MergeSpec{Default: PreferOverlay})
		if err != nil {
			t.Fatal(err)
		}
		if n, _ := res.State.GetInt("shared"); n != 2 {
			t.Errorf("shared = %d, want overlay value 2", n)
		}
	})

	t.Run("reduce sums ints", func(t *testing.T) {
		base, overlay := pair(t)
		res, err := Merge(base, overlay, MergeSpec{Default: Reduce})
		if err != nil {
			t.Fatal(err)
		}
		if n, _ := res.State.GetInt("shared"); n != 3 {
			t.Errorf("shared = %d, want 3", n)
		}
	})

	t.Run("fail on conflict", func(t *testing.T) {
		base, overlay := pair(t)
		res, err := Merge(base, overlay, MergeSpec{Default: FailOnConflict})
		if !errors.Is(err, ErrMergeConflict) {
			t.Fatalf("got %v, want ErrMergeConflict", err)
		}
		if len(res.Conflicts) != 1 || res.Conflicts[0].Key != "shared" {
			t.Errorf("conflicts = %+v", res.Conflicts)
		}
	})

	t.Run("equal values are not conflicts", func(t *testing.T) {
		base, overlay := pair(t)
		if err := overlay.Replace("shared", Int(1)); err != nil {
			t.Fatal(err)
		}
		if _, err := Merge(base, overlay, MergeSpec{Default: FailOnConflict}); err != nil {
			t.Errorf("equal values should merge cleanly: %v", err)
		}
	})
}

func TestMergePerKeyAndCustom(t *testing.T) {
	base, overlay := pair(t)
	res, err := Merge(base, overlay, MergeSpec{
		Default: FailOnConflict,
		PerKey:  map[string]MergePolicy{"shared": Reduce},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.State.GetInt("shared"); n != 3 {
		t.Errorf("per-key reduce: shared = %d, want 3", n)
	}

	base2, overlay2 := pair(t)
	res, err = Merge(base2, overlay2, MergeSpec{
		Default: FailOnConflict,
		Custom: map[string]MergeFunc{
			"shared": func(key string, b, o Value) (Value, error) {
				bv, _ := b.AsInt()
				ov, _ := o.AsInt()
				return Int(bv * ov * 10), nil
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.State.GetInt("shared"); n != 20 {
		t.Errorf("custom merge: shared = %d, want 20", n)
	}
}

func TestMergeReduceLists(t *testing.T) {
	base := New()
	if err := base.Set("items", List(Int(1))); err != nil {
		t.Fatal(err)
	}
	overlay := New()
	if err := overlay.Set("items", List(Int(2), Int(3))); err != nil {
		t.Fatal(err)
	}

	res, err := Merge(base, overlay, MergeSpec{Default: Reduce})
	if err != nil {
		t.Fatal(err)
	}
	list, err := res.State.GetList("items")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Errorf("concatenated list length = %d, want 3", len(list))
	}
}

func TestMergeReduceKindMismatch(t *testing.T) {
	base := New()
	if err := base.Set("k", Int(1)); err != nil {
		t.Fatal(err)
	}
	overlay := New()
	if err := overlay.Set("k", String("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := Merge(base, overlay, MergeSpec{Default: Reduce}); !errors.Is(err, ErrMergeConflict) {
		t.Errorf("got %v, want ErrMergeConflict", err)
	}
}

func forkBase(t *testing.T) *State {
	t.Helper()
	base := New()
	if err := base.Set("count", Int(0)); err != nil {
		t.Fatal(err)
	}
	if err := base.Set("x", Int(5)); err != nil {
		t.Fatal(err)
	}
	return base
}

func TestMergeBranchesReduceIncrement(t *testing.T) {
	// two branches each increment the same counter from the fork point;
	// reducing the branch deltas must see both increments
	base := forkBase(t)
	left := base.Snapshot()
	right := base.Snapshot()
	if err := left.Replace("count", Int(1)); err != nil {
		t.Fatal(err)
	}
	if err := right.Replace("count", Int(1)); err != nil {
		t.Fatal(err)
	}

	res, err := MergeBranches(base, []*State{left, right}, MergeSpec{Default: Reduce})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.State.GetInt("count"); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestMergeBranchesOneSidedWrite(t *testing.T) {
	// only one branch touches x; the sibling's untouched copy must not
	// re-enter the join as a second write
	base := forkBase(t)
	left := base.Snapshot()
	right := base.Snapshot()
	if err := left.Replace("x", Int(6)); err != nil {
		t.Fatal(err)
	}
	if err := right.Set("y", Int(1)); err != nil {
		t.Fatal(err)
	}

	res, err := MergeBranches(base, []*State{left, right}, MergeSpec{Default: Reduce})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.State.GetInt("x"); n != 6 {
		t.Errorf("x = %d, want 6", n)
	}
	if n, _ := res.State.GetInt("y"); n != 1 {
		t.Errorf("y = %d, want 1", n)
	}
}

func TestMergeBranchesPreferOverlayOrder(t *testing.T) {
	base := forkBase(t)
	left := base.Snapshot()
	right := base.Snapshot()
	if err := left.Replace("x", Int(10)); err != nil {
		t.Fatal(err)
	}
	if err := right.Replace("x", Int(20)); err != nil {
		t.Fatal(err)
	}

	res, err := MergeBranches(base, []*State{left, right}, MergeSpec{Default: PreferOverlay})
	if err != nil {
		t.Fatal(err)
	}
	// branches fold left to right, so the later branch wins
	if n, _ := res.State.GetInt("x"); n != 20 {
		t.Errorf("x = %d, want 20", n)
	}
}

func TestMergeBranchesEqualWritesStillReduce(t *testing.T) {
	// equal sibling writes are distinct contributions under Reduce, but
	// clean under FailOnConflict
	base := forkBase(t)
	left := base.Snapshot()
	right := base.Snapshot()
	if err := left.Replace("count", Int(3)); err != nil {
		t.Fatal(err)
	}
	if err := right.Replace("count", Int(3)); err != nil {
		t.Fatal(err)
	}

	res, err := MergeBranches(base, []*State{left, right}, MergeSpec{Default: Reduce})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := res.State.GetInt("count"); n != 6 {
		t.Errorf("count = %d, want 6", n)
	}

	if _, err := MergeBranches(base, []*State{left.Snapshot(), right.Snapshot()},
		MergeSpec{Default: FailOnConflict}); err != nil {
		t.Errorf("equal writes should not conflict: %v", err)
	}
}

func TestMergeBranchesRemovalConflictsWithWrite(t *testing.T) {
	base := forkBase(t)
	left := base.Snapshot()
	right := base.Snapshot()
	left.Remove("x")
	if err := right.Replace("x", Int(7)); err != nil {
		t.Fatal(err)
	}

	res, err := MergeBranches(base, []*State{left, right}, MergeSpec{Default: Reduce})
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("got %v, want ErrMergeConflict", err)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Key != "x" {
		t.Errorf("conflicts = %+v", res.Conflicts)
	}
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	base, overlay := pair(t)
	if _, err := Merge(base, overlay, MergeSpec{Default: PreferOverlay}); err != nil {
		t.Fatal(err)
	}
	if n, _ := base.GetInt("shared"); n != 1 {
		t.Errorf("base mutated: shared = %d", n)
	}
	if base.Contains("overlay_only") {
		t.Error("base gained overlay keys")
	}
}
