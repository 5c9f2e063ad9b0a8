package filtergraph

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/relacs/relacsd/internal/acquisition"
	"github.com/relacs/relacsd/internal/events"
	"github.com/relacs/relacsd/internal/ids"
)

// DetectorNode adapts an events.Detector into a Node: InTrace →
// EventStream. It carries the Detector capability tag.
type DetectorNode struct {
	NodeIdent string
	Input     *acquisition.InTrace
	Det       *events.Detector
	Output    *events.Stream
	MinThresh float64
	MaxThresh float64
}

func (d *DetectorNode) Ident() string             { return d.NodeIdent }
func (d *DetectorNode) Capabilities() Capability   { return SingleAnalog | Detector }

func (d *DetectorNode) Tick(inputRanges []Range) error {
	if len(inputRanges) != 1 {
		return fmt.Errorf("filtergraph: %s: want 1 input, got %d", d.NodeIdent, len(inputRanges))
	}
	r := inputRanges[0]
	if r.Empty() {
		return nil
	}
	from := r.From
	if from < d.Input.MinIndex() {
		from = d.Input.MinIndex()
	}
	samples, err := d.Input.Slice(from, r.To)
	if err != nil {
		return fmt.Errorf("filtergraph: %s: %w", d.NodeIdent, err)
	}
	d.Det.Process(samples, from, d.Input.StepSize(), d.Output)
	return nil
}

// Adjust rescales the detector's threshold window, called after the
// AcquisitionEngine reports an input gain change.
func (d *DetectorNode) Adjust() {
	d.Det.Adjust(d.MinThresh, d.MaxThresh)
}

// ProjectionFilter is a linear-projection derived-trace node: it
// projects successive non-overlapping windows of an input InTrace onto
// a basis vector, appending one derived sample per window to an output
// InTrace. This generalizes a per-pulse-record feature-extraction
// pipeline (project a fixed-length record onto a basis, keep one
// scalar per record) to a continuous windowed linear feature.
type ProjectionFilter struct {
	NodeIdent  string
	Input      *acquisition.InTrace
	Output     *acquisition.InTrace
	Projector  *mat.VecDense // length WindowSize
	WindowSize int

	cursor ids.SampleIndex
}

func (p *ProjectionFilter) Ident() string           { return p.NodeIdent }
func (p *ProjectionFilter) Capabilities() Capability { return SingleAnalog }

func (p *ProjectionFilter) Tick(inputRanges []Range) error {
	if len(inputRanges) != 1 {
		return fmt.Errorf("filtergraph: %s: want 1 input, got %d", p.NodeIdent, len(inputRanges))
	}
	if p.cursor < p.Input.MinIndex() {
		p.cursor = p.Input.MinIndex()
	}
	to := inputRanges[0].To
	for p.cursor+ids.SampleIndex(p.WindowSize) <= to {
		samples, err := p.Input.Slice(p.cursor, p.cursor+ids.SampleIndex(p.WindowSize))
		if err != nil {
			return fmt.Errorf("filtergraph: %s: %w", p.NodeIdent, err)
		}
		window := make([]float64, len(samples))
		for i, v := range samples {
			window[i] = float64(v)
		}
		vec := mat.NewVecDense(len(window), window)
		value := mat.Dot(p.Projector, vec)
		p.Output.Append([]float32{float32(value)})
		p.cursor += ids.SampleIndex(p.WindowSize)
	}
	return nil
}

// Adjust is a no-op: the projector basis is fixed at configuration
// time, independent of input gain (a gain change affects the raw
// InTrace's scale, which the basis already projects through linearly).
func (p *ProjectionFilter) Adjust() {}
