package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives execution measurements. Implementations must be safe
// for concurrent use.
type Metrics interface {
	ExecutionStarted(graphName string)
	ExecutionFinished(graphName string, d time.Duration, err error)
	NodeFinished(graphName, nodeID string, d time.Duration, status string)
	RetryScheduled(graphName, nodeID string, kind ErrorKind)
	BreakerState(graphName, nodeID string, s BreakerState)
	GovernorWait(graphName string, p Priority, waited time.Duration)
	CheckpointSaved(graphName string, bytes int)
	BudgetSpend(graphName string, c Cost)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) ExecutionStarted(string)                            {}
func (NopMetrics) ExecutionFinished(string, time.Duration, error)     {}
func (NopMetrics) NodeFinished(string, string, time.Duration, string) {}
func (NopMetrics) RetryScheduled(string, string, ErrorKind)           {}
func (NopMetrics) BreakerState(string, string, BreakerState)          {}
func (NopMetrics) GovernorWait(string, Priority, time.Duration)       {}
func (NopMetrics) CheckpointSaved(string, int)                        {}
func (NopMetrics) BudgetSpend(string, Cost)                           {}

// PrometheusMetrics exports measurements as Prometheus collectors.
type PrometheusMetrics struct {
	executions    *prometheus.CounterVec
	execDuration  *prometheus.HistogramVec
	nodeDuration  *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	breakerGauge  *prometheus.GaugeVec
	governorWait  *prometheus.HistogramVec
	checkpointSz  prometheus.Histogram
	tokensSpent   *prometheus.CounterVec
	usdSpent      *prometheus.CounterVec
	inFlight      *prometheus.GaugeVec
	registerOnce  sync.Once
	registerError error
}

// NewPrometheusMetrics builds the collector set under the "flowgrid"
// namespace.
func NewPrometheusMetrics() *PrometheusMetrics {
	ns := "flowgrid"
	return &PrometheusMetrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "executions_total",
			Help: "Executions by graph and outcome.",
		}, []string{"graph", "outcome"}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "execution_duration_seconds",
			Help:    "End-to-end execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"graph"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "node_duration_seconds",
			Help:    "Per-node attempt duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"graph", "node", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "retries_total",
			Help: "Retry attempts by node and error kind.",
		}, []string{"graph", "node", "kind"}),
		breakerGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"graph", "node"}),
		governorWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "governor_wait_seconds",
			Help:    "Time spent waiting for a governor lease.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"graph", "priority"}),
		checkpointSz: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "checkpoint_bytes",
			Help:    "Serialized checkpoint sizes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}),
		tokensSpent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "tokens_spent_total",
			Help: "Model tokens charged to executions.",
		}, []string{"graph"}),
		usdSpent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "usd_spent_total",
			Help: "Dollar cost charged to executions.",
		}, []string{"graph"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "executions_in_flight",
			Help: "Currently running executions.",
		}, []string{"graph"}),
	}
}

// Register installs the collectors on the registry (defaults to the global
// registerer when nil). Safe to call once per metrics instance.
func (m *PrometheusMetrics) Register(reg prometheus.Registerer) error {
	m.registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		for _, c := range []prometheus.Collector{
			m.executions, m.execDuration, m.nodeDuration, m.retries,
			m.breakerGauge, m.governorWait, m.checkpointSz,
			m.tokensSpent, m.usdSpent, m.inFlight,
		} {
			if err := reg.Register(c); err != nil {
				m.registerError = err
				return
			}
		}
	})
	return m.registerError
}

func (m *PrometheusMetrics) ExecutionStarted(graph string) {
	m.inFlight.WithLabelValues(graph).Inc()
}

func (m *PrometheusMetrics) ExecutionFinished(graph string, d time.Duration, err error) {
	m.inFlight.WithLabelValues(graph).Dec()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.executions.WithLabelValues(graph, outcome).Inc()
	m.execDuration.WithLabelValues(graph).Observe(d.Seconds())
}

func (m *PrometheusMetrics) NodeFinished(graph, nodeID string, d time.Duration, status string) {
	m.nodeDuration.WithLabelValues(graph, nodeID, status).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RetryScheduled(graph, nodeID string, kind ErrorKind) {
	m.retries.WithLabelValues(graph, nodeID, kind.String()).Inc()
}

func (m *PrometheusMetrics) BreakerState(graph, nodeID string, s BreakerState) {
	m.breakerGauge.WithLabelValues(graph, nodeID).Set(float64(s))
}

func (m *PrometheusMetrics) GovernorWait(graph string, p Priority, waited time.Duration) {
	m.governorWait.WithLabelValues(graph, p.String()).Observe(waited.Seconds())
}

func (m *PrometheusMetrics) CheckpointSaved(graph string, bytes int) {
	m.checkpointSz.Observe(float64(bytes))
}

func (m *PrometheusMetrics) BudgetSpend(graph string, c Cost) {
	if c.Tokens > 0 {
		m.tokensSpent.WithLabelValues(graph).Add(float64(c.Tokens))
	}
	if c.USD > 0 {
		m.usdSpent.WithLabelValues(graph).Add(c.USD)
	}
}

// NodeStats is the in-memory aggregate for one node.
type NodeStats struct {
	Executions int
	Failures   int
	Retries    int
	Total      time.Duration
	Max        time.Duration
}

// Mean returns the average attempt duration.
func (s NodeStats) Mean() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Executions)
}

// ExecutionStats is the in-memory aggregate for one graph.
type ExecutionStats struct {
	Started  int
	Finished int
	Failed   int
	Total    time.Duration
	Spend    Cost
}

// MemoryMetrics aggregates measurements in process memory for queryable
// snapshots, e.g. in tests or admin endpoints. Pair it with
// PrometheusMetrics through Multi when both are wanted.
type MemoryMetrics struct {
	mu    sync.Mutex
	nodes map[string]*NodeStats
	execs map[string]*ExecutionStats
}

// NewMemoryMetrics creates an empty aggregate set.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		nodes: make(map[string]*NodeStats),
		execs: make(map[string]*ExecutionStats),
	}
}

func (m *MemoryMetrics) exec(graph string) *ExecutionStats {
	s, ok := m.execs[graph]
	if !ok {
		s = &ExecutionStats{}
		m.execs[graph] = s
	}
	return s
}

func (m *MemoryMetrics) node(graph, nodeID string) *NodeStats {
	key := graph + "/" + nodeID
	s, ok := m.nodes[key]
	if !ok {
		s = &NodeStats{}
		m.nodes[key] = s
	}
	return s
}

func (m *MemoryMetrics) ExecutionStarted(graph string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exec(graph).Started++
}

func (m *MemoryMetrics) ExecutionFinished(graph string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.exec(graph)
	s.Total += d
	if err != nil {
		s.Failed++
		return
	}
	s.Finished++
}

func (m *MemoryMetrics) NodeFinished(graph, nodeID string, d time.Duration, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.node(graph, nodeID)
	s.Executions++
	s.Total += d
	if d > s.Max {
		s.Max = d
	}
	if status == "failed" {
		s.Failures++
	}
}

func (m *MemoryMetrics) RetryScheduled(graph, nodeID string, kind ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.node(graph, nodeID).Retries++
}

func (m *MemoryMetrics) BreakerState(string, string, BreakerState)    {}
func (m *MemoryMetrics) GovernorWait(string, Priority, time.Duration) {}
func (m *MemoryMetrics) CheckpointSaved(string, int)                  {}

func (m *MemoryMetrics) BudgetSpend(graph string, c Cost) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.exec(graph)
	s.Spend = s.Spend.Add(c)
}

// NodeSnapshot returns the aggregate for one node.
func (m *MemoryMetrics) NodeSnapshot(graph, nodeID string) NodeStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.nodes[graph+"/"+nodeID]; ok {
		return *s
	}
	return NodeStats{}
}

// ExecutionSnapshot returns the aggregate for one graph.
func (m *MemoryMetrics) ExecutionSnapshot(graph string) ExecutionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.execs[graph]; ok {
		return *s
	}
	return ExecutionStats{}
}

// MultiMetrics forwards every measurement to each sink in order.
type MultiMetrics []Metrics

func (mm MultiMetrics) ExecutionStarted(g string) {
	for _, m := range mm {
		m.ExecutionStarted(g)
	}
}

func (mm MultiMetrics) ExecutionFinished(g string, d time.Duration, err error) {
	for _, m := range mm {
		m.ExecutionFinished(g, d, err)
	}
}

func (mm MultiMetrics) NodeFinished(g, n string, d time.Duration, status string) {
	for _, m := range mm {
		m.NodeFinished(g, n, d, status)
	}
}

func (mm MultiMetrics) RetryScheduled(g, n string, kind ErrorKind) {
	for _, m := range mm {
		m.RetryScheduled(g, n, kind)
	}
}

func (mm MultiMetrics) BreakerState(g, n string, s BreakerState) {
	for _, m := range mm {
		m.BreakerState(g, n, s)
	}
}

func (mm MultiMetrics) GovernorWait(g string, p Priority, w time.Duration) {
	for _, m := range mm {
		m.GovernorWait(g, p, w)
	}
}

func (mm MultiMetrics) CheckpointSaved(g string, bytes int) {
	for _, m := range mm {
		m.CheckpointSaved(g, bytes)
	}
}

func (mm MultiMetrics) BudgetSpend(g string, c Cost) {
	for _, m := range mm {
		m.BudgetSpend(g, c)
	}
}
