package graph

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryMetricsAggregates(t *testing.T) {
	m := NewMemoryMetrics()

	m.ExecutionStarted("pipeline")
	m.NodeFinished("pipeline", "fetch", 10*time.Millisecond, "ok")
	m.NodeFinished("pipeline", "fetch", 30*time.Millisecond, "ok")
	m.NodeFinished("pipeline", "fetch", 20*time.Millisecond, "failed")
	m.RetryScheduled("pipeline", "fetch", KindNetwork)
	m.BudgetSpend("pipeline", Cost{Tokens: 100, USD: 0.01})
	m.BudgetSpend("pipeline", Cost{Tokens: 50})
	m.ExecutionFinished("pipeline", 100*time.Millisecond, nil)

	ns := m.NodeSnapshot("pipeline", "fetch")
	if ns.Executions != 3 || ns.Failures != 1 || ns.Retries != 1 {
		t.Errorf("node stats = %+v", ns)
	}
	if ns.Max != 30*time.Millisecond {
		t.Errorf("max = %s", ns.Max)
	}
	if ns.Mean() != 20*time.Millisecond {
		t.Errorf("mean = %s", ns.Mean())
	}

	es := m.ExecutionSnapshot("pipeline")
	if es.Started != 1 || es.Finished != 1 || es.Failed != 0 {
		t.Errorf("execution stats = %+v", es)
	}
	if es.Spend.Tokens != 150 || es.Spend.USD != 0.01 {
		t.Errorf("spend = %+v", es.Spend)
	}
}

func TestMemoryMetricsCountsFailures(t *testing.T) {
	m := NewMemoryMetrics()
	m.ExecutionStarted("pipeline")
	m.ExecutionFinished("pipeline", time.Millisecond, errors.New("boom"))

	es := m.ExecutionSnapshot("pipeline")
	if es.Failed != 1 || es.Finished != 0 {
		t.Errorf("execution stats = %+v", es)
	}
}

func TestMemoryMetricsUnknownKeysAreZero(t *testing.T) {
	m := NewMemoryMetrics()
	if s := m.NodeSnapshot("g", "n"); s.Executions != 0 {
		t.Errorf("stats = %+v", s)
	}
	if s := m.ExecutionSnapshot("g"); s.Started != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMultiMetricsFansOut(t *testing.T) {
	a, b := NewMemoryMetrics(), NewMemoryMetrics()
	mm := MultiMetrics{a, b, NopMetrics{}}

	mm.ExecutionStarted("g")
	mm.NodeFinished("g", "n", time.Millisecond, "ok")
	mm.BudgetSpend("g", Cost{Tokens: 7})

	for i, m := range []*MemoryMetrics{a, b} {
		if s := m.ExecutionSnapshot("g"); s.Started != 1 || s.Spend.Tokens != 7 {
			t.Errorf("sink %d execution stats = %+v", i, s)
		}
		if s := m.NodeSnapshot("g", "n"); s.Executions != 1 {
			t.Errorf("sink %d node stats = %+v", i, s)
		}
	}
}
