package filtergraph

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/relacs/relacsd/internal/acquisition"
	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/events"
)

func armedTrace(t *testing.T, capacity int) *acquisition.InTrace {
	t.Helper()
	tr := acquisition.NewInTrace(1, 1, capacity)
	if err := tr.Arm(1e-3, 1.0, 0, devices.Differential, true, 0, -10, 10, "V", "V-1"); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	return tr
}

func TestProjectionFilterWindowedMean(t *testing.T) {
	in := armedTrace(t, 64)
	out := acquisition.NewInTrace(2, 1, 64)
	_ = out.Arm(1e-3, 1.0, 0, devices.Differential, true, 0, -10, 10, "proj", "proj-1")

	projector := mat.NewVecDense(4, []float64{0.25, 0.25, 0.25, 0.25})
	node := &ProjectionFilter{NodeIdent: "mean4", Input: in, Output: out, Projector: projector, WindowSize: 4}

	g := New()
	g.Register(node, in.Size)

	in.Append([]float32{1, 2, 3, 4, 5, 6, 7, 8})
	if err := g.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if out.Size() != 2 {
		t.Fatalf("out.Size() = %d, want 2", out.Size())
	}
	v0, _ := out.At(0)
	v1, _ := out.At(1)
	if v0 != 2.5 || v1 != 6.5 {
		t.Fatalf("out samples = %v, %v, want 2.5, 6.5", v0, v1)
	}
}

func TestDetectorNodeTicksOnNewRange(t *testing.T) {
	in := armedTrace(t, 256)
	cfg := events.Config{Threshold: 1.0, MinThresh: 0.1, MaxThresh: 10, FitMethod: events.ClosestSample}
	det := events.NewDetector(cfg)
	out := events.NewStream(16)

	node := &DetectorNode{NodeIdent: "spikes", Input: in, Det: det, Output: out, MinThresh: 0.1, MaxThresh: 10}
	g := New()
	g.Register(node, in.Size)

	samples := make([]float32, 0, 200)
	for i := 0; i < 200; i++ {
		if i == 100 {
			samples = append(samples, 5)
		} else {
			samples = append(samples, 0)
		}
	}
	in.Append(samples)
	if err := g.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if out.Size() != 1 {
		t.Fatalf("out.Size() = %d, want 1", out.Size())
	}
}

func TestGraphTickSkipsNodesWithNoNewData(t *testing.T) {
	in := armedTrace(t, 64)
	calls := 0
	node := &countingNode{ident: "counter", onTick: func() { calls++ }}
	g := New()
	g.Register(node, in.Size)

	if err := g.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 (no new data yet)", calls)
	}
	in.Append([]float32{1})
	if err := g.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

type countingNode struct {
	ident  string
	onTick func()
}

func (c *countingNode) Ident() string           { return c.ident }
func (c *countingNode) Capabilities() Capability { return SingleAnalog }
func (c *countingNode) Tick(ranges []Range) error {
	c.onTick()
	return nil
}
func (c *countingNode) Adjust() {}
