package events

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/relacs/relacsd/internal/ids"
)

// FitMethod selects how an accepted crossing's time is refined.
type FitMethod int

const (
	ClosestSample FitMethod = iota
	LinearInterp
	LinearFit
	QuadraticFit
)

// Outcome is the per-candidate result of a detection attempt.
type Outcome int

const (
	Accept Outcome = iota
	Discard
	Resume
)

// Config is the generic peak detector's configuration. Threshold,
// MaxWidth, UpdateTime and HistoryTime share their names with
// original_source/plugins/ephys/src/intraspikedetector.cc's fields;
// that detector's AbsPeak/TestWidth/FitPeak/FitWidth have no field
// here (the fit window is set by FitWindowFraction and FitMethod).
type Config struct {
	Threshold        float64
	MinThresh        float64
	MaxThresh        float64
	Ratio            float64 // adaptive threshold := Ratio * 2 * size
	Adapt            bool
	RefractoryPeriod float64 // seconds
	FitWindowFraction float64
	FitMethod        FitMethod
	MaxWidth         float64 // seconds, 0 disables the width test
	BaselineTau      float64 // seconds, single-pole low-pass time constant
	UpdateTime       float64 // seconds, summary recompute interval
	HistoryTime      float64 // seconds; stored but not read, Rate/MeanSize cover the last UpdateTime interval only
}

type candidate struct {
	active        bool
	startIndex    ids.SampleIndex
	crossingIndex ids.SampleIndex
	crossingTime  float64
	peakValue     float64
	peakIndex     ids.SampleIndex
	window        []float64 // samples since startIndex, for fit-window refinement
}

// Detector is a generic peak threshold detector: a candidate starts
// when a sample reaches the threshold and ends when a sample falls
// below it. Troughs (downward excursions) are not detected. It operates
// on an explicit sample window handed to it each tick by
// the FilterGraph (rather than reading an InTrace directly), so this
// package has no dependency on internal/acquisition.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	threshold float64
	baseline  float64
	candidate candidate
	lastEventTime float64
	haveLast  bool

	rate     float64
	meanSize float64
	nSinceUpdate int
	sumSize  float64
	timeSinceUpdate float64

	lastOutcome Outcome
}

// NewDetector creates a Detector with the given configuration.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, threshold: cfg.Threshold}
}

// Adjust rescales the threshold window when input gains change,
// clamping the current threshold into the new [minThresh, maxThresh]
// range.
func (d *Detector) Adjust(minThresh, maxThresh float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.MinThresh, d.cfg.MaxThresh = minThresh, maxThresh
	d.threshold = clamp(d.threshold, minThresh, maxThresh)
}

// Threshold returns the detector's current threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Rate and MeanSize return the most recently computed summary
// statistics, refreshed every cfg.UpdateTime seconds of processed
// data (grounded on intraspikedetector.cc's UpdateTime/HistoryTime).
func (d *Detector) Rate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate
}

func (d *Detector) MeanSize() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meanSize
}

// LastOutcome reports the outcome of the most recently finished
// candidate: Accept if it was appended to the event stream, Discard
// if it failed the size or refractory-period test, or Resume if a
// candidate is still active, straddling into the next Process call.
func (d *Detector) LastOutcome() Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOutcome
}

// Process scans samples (covering absolute indices
// [startIndex, startIndex+len(samples))) for threshold crossings,
// appending accepted events to out. It maintains candidate state
// across calls so a spike straddling a tick boundary resumes instead
// of being missed or double-counted.
func (d *Detector) Process(samples []float32, startIndex ids.SampleIndex, stepSize float64, out *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()

	alpha := 1.0
	if d.cfg.BaselineTau > 0 {
		alpha = 1 - math.Exp(-stepSize/d.cfg.BaselineTau)
	}

	for i, s := range samples {
		idx := startIndex + ids.SampleIndex(i)
		t := float64(idx) * stepSize
		v := float64(s)

		d.baseline += alpha * (v - d.baseline)

		if !d.candidate.active {
			if v >= d.threshold {
				d.candidate = candidate{
					active:        true,
					startIndex:    idx,
					crossingIndex: idx,
					crossingTime:  t,
					peakValue:     v,
					peakIndex:     idx,
					window:        []float64{v},
				}
			}
			continue
		}

		d.candidate.window = append(d.candidate.window, v)
		if v > d.candidate.peakValue {
			d.candidate.peakValue = v
			d.candidate.peakIndex = idx
		}

		spansTooWide := d.cfg.MaxWidth > 0 && float64(len(d.candidate.window))*stepSize > d.cfg.MaxWidth
		if v < d.threshold || spansTooWide {
			d.lastOutcome = d.resolve(stepSize, out)
		}
	}

	if d.candidate.active {
		d.lastOutcome = Resume
	}

	d.timeSinceUpdate += float64(len(samples)) * stepSize
	if d.cfg.UpdateTime > 0 && d.timeSinceUpdate >= d.cfg.UpdateTime {
		if d.nSinceUpdate > 0 {
			d.rate = float64(d.nSinceUpdate) / d.timeSinceUpdate
			d.meanSize = d.sumSize / float64(d.nSinceUpdate)
		} else {
			d.rate = 0
		}
		d.nSinceUpdate = 0
		d.sumSize = 0
		d.timeSinceUpdate = 0
	}
}

// resolve finalizes the active candidate: computes size, applies
// debouncing and the size<=0 discard rule, refines the accepted
// event's time, and either appends to out or discards.
func (d *Detector) resolve(stepSize float64, out *Stream) Outcome {
	c := d.candidate
	d.candidate = candidate{}

	size := c.peakValue - d.baseline
	if size <= 0 {
		if d.cfg.Adapt {
			d.threshold = clamp(d.threshold*1.1, d.cfg.MinThresh, d.cfg.MaxThresh)
		}
		return Discard
	}

	refined := d.refineTime(c, stepSize)
	if d.haveLast && refined-d.lastEventTime < d.cfg.RefractoryPeriod {
		return Discard // within refractory period
	}

	width := float64(len(c.window)) * stepSize
	out.Append(Event{Time: refined, Size: size, Width: width})
	d.lastEventTime = refined
	d.haveLast = true
	d.sumSize += size
	d.nSinceUpdate++

	if d.cfg.Adapt {
		d.threshold = clamp(d.cfg.Ratio*2*size, d.cfg.MinThresh, d.cfg.MaxThresh)
	}
	return Accept
}

// refineTime applies the configured timing-refinement method. The fit
// methods build a small regression over a window sized by
// FitWindowFraction of the half-width from crossing to peak, solving
// the normal equations with gonum/mat.
func (d *Detector) refineTime(c candidate, stepSize float64) float64 {
	switch d.cfg.FitMethod {
	case ClosestSample:
		return c.crossingTime

	case LinearInterp:
		if len(c.window) < 2 {
			return c.crossingTime
		}
		v0, v1 := c.window[0], c.window[1]
		if v1 == v0 {
			return c.crossingTime
		}
		frac := (d.threshold - v0) / (v1 - v0)
		return c.crossingTime + frac*stepSize

	case LinearFit, QuadraticFit:
		halfWidth := float64(c.peakIndex-c.crossingIndex) * stepSize
		windowSamples := int(d.cfg.FitWindowFraction * halfWidth / stepSize)
		if windowSamples < 1 {
			windowSamples = 1
		}
		n := windowSamples*2 + 1
		if n > len(c.window) {
			n = len(c.window)
		}
		if d.cfg.FitMethod == QuadraticFit && n < 3 {
			return c.crossingTime
		}
		return d.fitCrossing(c, n, stepSize)

	default:
		return c.crossingTime
	}
}

func (d *Detector) fitCrossing(c candidate, n int, stepSize float64) float64 {
	degree := 1
	if d.cfg.FitMethod == QuadraticFit {
		degree = 2
	}
	ys := c.window[:n]
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i) * stepSize
	}
	mean := floats.Sum(xs) / float64(n)

	cols := degree + 1
	a := mat.NewDense(n, cols, nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x := xs[i] - mean
		a.Set(i, 0, 1)
		if cols > 1 {
			a.Set(i, 1, x)
		}
		if cols > 2 {
			a.Set(i, 2, x*x)
		}
		b.SetVec(i, ys[i])
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var atb mat.VecDense
	atb.MulVec(a.T(), b)

	var coeffs mat.VecDense
	if err := coeffs.SolveVec(&ata, &atb); err != nil {
		return c.crossingTime
	}

	threshold := d.threshold
	var rootOffset float64
	if degree == 1 {
		c0, c1 := coeffs.AtVec(0), coeffs.AtVec(1)
		if c1 == 0 {
			return c.crossingTime
		}
		rootOffset = (threshold - c0) / c1
	} else {
		c0, c1, c2 := coeffs.AtVec(0), coeffs.AtVec(1), coeffs.AtVec(2)
		if c2 == 0 {
			if c1 == 0 {
				return c.crossingTime
			}
			rootOffset = (threshold - c0) / c1
		} else {
			disc := c1*c1 - 4*c2*(c0-threshold)
			if disc < 0 {
				return c.crossingTime
			}
			sq := math.Sqrt(disc)
			r1 := (-c1 + sq) / (2 * c2)
			r2 := (-c1 - sq) / (2 * c2)
			rootOffset = closestTo(r1, r2, 0)
		}
	}
	return c.crossingTime + mean + rootOffset
}

func closestTo(a, b, target float64) float64 {
	if math.Abs(a-target) <= math.Abs(b-target) {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if hi > lo {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
	}
	return v
}
