package emit

import (
	"testing"
)

func TestBufferedEmitterFilters(t *testing.T) {
	b := NewBufferedEmitter(LifecycleOnly(), 0)
	b.Emit(Event{Kind: NodeStarted})
	b.Emit(Event{Kind: MetricSample})
	b.Emit(Event{Kind: NodeFinished})

	got := b.Events()
	if len(got) != 2 {
		t.Fatalf("retained %d events, want 2", len(got))
	}
	for _, e := range got {
		if e.Kind == MetricSample {
			t.Error("sample passed a lifecycle-only filter")
		}
	}
}

func TestBufferedEmitterForNode(t *testing.T) {
	b := NewBufferedEmitter(ForNode("fetch"), 0)
	b.Emit(Event{Kind: NodeStarted, NodeID: "fetch"})
	b.Emit(Event{Kind: NodeStarted, NodeID: "other"})

	got := b.Events()
	if len(got) != 1 || got[0].NodeID != "fetch" {
		t.Errorf("retained %+v", got)
	}
}

func TestBufferedEmitterKinds(t *testing.T) {
	b := NewBufferedEmitter(Kinds(NodeFailed, NodeRetrying), 0)
	b.Emit(Event{Kind: NodeStarted})
	b.Emit(Event{Kind: NodeFailed})
	b.Emit(Event{Kind: NodeRetrying})
	b.Emit(Event{Kind: NodeFinished})

	got := b.Events()
	if len(got) != 2 {
		t.Errorf("retained %d events, want 2", len(got))
	}
}

func TestBufferedEmitterCapEvictsOldest(t *testing.T) {
	b := NewBufferedEmitter(nil, 3)
	for i := 0; i < 5; i++ {
		b.Emit(Event{Kind: NodeStarted, Seq: uint64(i + 1)})
	}
	got := b.Events()
	if len(got) != 3 {
		t.Fatalf("retained %d events", len(got))
	}
	if got[0].Seq != 3 || got[2].Seq != 5 {
		t.Errorf("window = %d..%d, want 3..5", got[0].Seq, got[2].Seq)
	}
}

func TestBufferedEmitterReset(t *testing.T) {
	b := NewBufferedEmitter(nil, 0)
	b.Emit(Event{Kind: NodeStarted})
	b.Reset()
	if len(b.Events()) != 0 {
		t.Error("events remain after reset")
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b int
	m := Multi{
		EmitterFunc(func(Event) { a++ }),
		nil,
		EmitterFunc(func(Event) { b++ }),
	}
	m.Emit(Event{Kind: NodeStarted})
	if a != 1 || b != 1 {
		t.Errorf("fanout a=%d b=%d", a, b)
	}
}
