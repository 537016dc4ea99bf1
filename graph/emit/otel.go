package emit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter maps the event stream onto OpenTelemetry spans: one span per
// execution, one child span per node run. Span boundaries come from the
// lifecycle events; failures set the span status.
type OTelEmitter struct {
	tracer trace.Tracer

	mu    sync.Mutex
	execs map[string]*execSpans
}

type execSpans struct {
	ctx   context.Context
	span  trace.Span
	nodes map[string]trace.Span
}

// NewOTelEmitter creates an emitter on the named tracer from the global
// provider.
func NewOTelEmitter(tracerName string) *OTelEmitter {
	if tracerName == "" {
		tracerName = "flowgrid"
	}
	return &OTelEmitter{
		tracer: otel.Tracer(tracerName),
		execs:  make(map[string]*execSpans),
	}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch e.Kind {
	case ExecutionStarted:
		ctx, span := o.tracer.Start(context.Background(), "execution",
			trace.WithAttributes(attribute.String("flowgrid.execution_id", e.ExecutionID)))
		o.execs[e.ExecutionID] = &execSpans{ctx: ctx, span: span, nodes: make(map[string]trace.Span)}

	case ExecutionFinished, ExecutionFailed, ExecutionCanceled:
		es, ok := o.execs[e.ExecutionID]
		if !ok {
			return
		}
		if e.Kind == ExecutionFailed {
			es.span.SetStatus(codes.Error, e.Meta["error"])
		}
		for _, span := range es.nodes {
			span.End()
		}
		es.span.End()
		delete(o.execs, e.ExecutionID)

	case NodeStarted:
		es, ok := o.execs[e.ExecutionID]
		if !ok {
			return
		}
		_, span := o.tracer.Start(es.ctx, "node:"+e.NodeID,
			trace.WithAttributes(attribute.String("flowgrid.node_id", e.NodeID)))
		es.nodes[e.NodeID] = span

	case NodeFinished, NodeFailed, NodeSkipped:
		es, ok := o.execs[e.ExecutionID]
		if !ok {
			return
		}
		span, ok := es.nodes[e.NodeID]
		if !ok {
			return
		}
		if e.Kind == NodeFailed {
			span.SetStatus(codes.Error, e.Meta["error"])
		}
		span.End()
		delete(es.nodes, e.NodeID)

	default:
		if es, ok := o.execs[e.ExecutionID]; ok {
			es.span.AddEvent(string(e.Kind), trace.WithAttributes(metaAttrs(e.Meta)...))
		}
	}
}

func metaAttrs(meta map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(meta))
	for k, v := range meta {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
