package emit

import (
	"sync"

	"github.com/calyptra/flowgrid/graph/log"
)

// LogEmitter writes events through the engine logger. Lifecycle failures
// log at error level, retries and drops at warn, the rest at debug.
type LogEmitter struct {
	Logger log.Logger
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(l log.Logger) *LogEmitter {
	return &LogEmitter{Logger: l}
}

// Emit implements Emitter.
func (e *LogEmitter) Emit(ev Event) {
	if e.Logger == nil {
		return
	}
	l := e.Logger.With("exec", ev.ExecutionID, "node", ev.NodeID, "seq", ev.Seq)
	switch ev.Kind {
	case ExecutionFailed, NodeFailed, BreakerTripped, BudgetExceeded, MergeConflict:
		l.Errorf("%s %v", ev.Kind, ev.Meta)
	case NodeRetrying, ExecutionCanceled, ExecutionSuspended:
		l.Warnf("%s %v", ev.Kind, ev.Meta)
	case MetricSample:
		l.Debugf("%s %v", ev.Kind, ev.Meta)
	default:
		l.Infof("%s", ev.Kind)
	}
}

// Filter selects which events a BufferedEmitter retains.
type Filter func(Event) bool

// LifecycleOnly keeps everything except metric samples.
func LifecycleOnly() Filter {
	return func(e Event) bool { return e.Kind.Lifecycle() }
}

// ForNode keeps events for one node.
func ForNode(nodeID string) Filter {
	return func(e Event) bool { return e.NodeID == nodeID }
}

// Kinds keeps events of the listed kinds.
func Kinds(kinds ...Kind) Filter {
	set := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Kind]
		return ok
	}
}

// BufferedEmitter retains matching events in memory for later inspection,
// capped at a maximum history length (oldest evicted first).
type BufferedEmitter struct {
	mu     sync.Mutex
	filter Filter
	max    int
	events []Event
}

// NewBufferedEmitter creates a buffer keeping up to max matching events.
// A nil filter keeps everything; max <= 0 means 1024.
func NewBufferedEmitter(filter Filter, max int) *BufferedEmitter {
	if max <= 0 {
		max = 1024
	}
	return &BufferedEmitter{filter: filter, max: max}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(e Event) {
	if b.filter != nil && !b.filter(e) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	if len(b.events) > b.max {
		b.events = b.events[len(b.events)-b.max:]
	}
}

// Events returns a copy of the retained history.
func (b *BufferedEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

// Reset clears the history.
func (b *BufferedEmitter) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
