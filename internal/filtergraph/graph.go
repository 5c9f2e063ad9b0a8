// Package filtergraph implements a topologically sorted graph of
// filters (InTrace → InTrace) and detectors (InTrace → EventStream),
// ticked whenever the AcquisitionEngine publishes new samples.
// Capability tags describe what kind of node each stage is (single vs
// multiple analog input, single vs multiple event input, detector).
package filtergraph

import (
	"fmt"
	"sync"

	"github.com/relacs/relacsd/internal/ids"
)

// Capability is the bitmask a node declares at registration, one bit
// per input/output shape it supports.
type Capability uint8

const (
	SingleAnalog Capability = 1 << iota
	MultipleAnalog
	SingleEvent
	MultipleEvent
	Detector
)

// Range is the newly available input range handed to a node on each
// tick: the half-open interval [From, To) of absolute sample (or
// event) indices that advanced since the node's last invocation.
type Range struct {
	From ids.SampleIndex
	To   ids.SampleIndex
}

// Empty reports whether the range carries no new data.
func (r Range) Empty() bool { return r.To <= r.From }

// Node is one stage of the graph: a filter, detector, or composite.
// Tick is called with the newly available input range for each of the
// node's declared inputs, and must not block — it appends output
// samples/events and returns, its own size() advancing monotonically
// as a side effect of those appends.
type Node interface {
	Ident() string
	Capabilities() Capability
	// Tick processes newly available input and advances the node's
	// own outputs. inputRanges is keyed by the input index order the
	// node was registered with.
	Tick(inputRanges []Range) error
	// Adjust is called before the next Tick whenever an upstream
	// input's gain changed, letting the node rescale thresholds
	// before new data flows.
	Adjust()
}

// node wraps a registered Node with the graph-maintained cursor of
// how much of each of its inputs has already been processed.
type node struct {
	n            Node
	inputs       []*inputCursor
	lastProcessed ids.SampleIndex // this node's own output cursor, for dependents
}

// inputCursor tracks one upstream dependency: a function returning the
// current size() of the upstream trace/stream, and how much of it this
// node has already consumed.
type inputCursor struct {
	size func() ids.SampleIndex
	seen ids.SampleIndex
}

// Graph holds a single mutex while advancing a tick; readers outside
// the graph see atomic cursors on output traces and may read back to
// minIndex() without contention.
type Graph struct {
	mu    sync.Mutex
	nodes []*node
}

// New creates an empty Graph.
func New() *Graph { return &Graph{} }

// Register adds n to the graph with the given upstream size functions,
// one per declared input, in the order Tick's inputRanges will be
// passed. The graph is effectively topologically sorted by
// registration order: a node's inputs must already be registered.
func (g *Graph) Register(n Node, inputSizes ...func() ids.SampleIndex) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cursors := make([]*inputCursor, len(inputSizes))
	for i, f := range inputSizes {
		cursors[i] = &inputCursor{size: f}
	}
	g.nodes = append(g.nodes, &node{n: n, inputs: cursors})
}

// Tick walks every registered node in registration order, passing each
// the newly available range per input since it last advanced. Every
// node sees only inputs already advanced to the current size() at the
// moment Tick is called — a node registered later never observes a
// partially-advanced upstream from within the same Tick call.
func (g *Graph) Tick() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, nd := range g.nodes {
		ranges := make([]Range, len(nd.inputs))
		any := false
		for i, c := range nd.inputs {
			cur := c.size()
			ranges[i] = Range{From: c.seen, To: cur}
			if !ranges[i].Empty() {
				any = true
			}
			c.seen = cur
		}
		if !any {
			continue
		}
		if err := nd.n.Tick(ranges); err != nil {
			return fmt.Errorf("filtergraph: node %q: %w", nd.n.Ident(), err)
		}
	}
	return nil
}

// AdjustAll calls Adjust on every registered node, used when the
// AcquisitionEngine reports an input gain change.
func (g *Graph) AdjustAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, nd := range g.nodes {
		nd.n.Adjust()
	}
}
