// Package stimulus drives the output queue, the attenuator stack, and
// the direct/timed write protocol. Outputs are started by the engine's
// own StartWrite call, not by an input device's start; a timed write
// only stamps its onset on the input traces bound with
// BindCoAcquisition. A failed StartWrite rearms and restarts once
// rather than aborting outright.
package stimulus

import (
	"math"

	"github.com/relacs/relacsd/internal/errs"
	"github.com/relacs/relacsd/internal/ids"
)

// MuteIntensity is the sentinel intensity value meaning "mute".
var MuteIntensity = math.Inf(-1)

// OutSignal is the output waveform submitted to the StimulusEngine.
type OutSignal struct {
	Trace       ids.TraceID
	StepSize    float64 // seconds/sample, 0 means single-sample/DC
	Delay       float64 // seconds, >= 0
	StartSource int     // 0 = software, >0 = hardware trigger line
	Intensity   float64 // logical level passed to the attenuator interface
	Ident       string
	Samples     []float32 // secondary unit

	Flags errs.Flag

	// RealisedIntensity is filled in by the engine after the
	// attenuator stack has translated Intensity, so the submitting
	// RePro can inspect what was actually delivered.
	RealisedIntensity float64
}

// Validate checks that the signal's fields are self-consistent: delay >= 0.
func (s *OutSignal) Validate() errs.Flag {
	if s.Delay < 0 {
		s.Flags |= errs.InvalidDelay
	}
	return s.Flags
}

// IsMute reports whether Intensity is the mute sentinel.
func (s *OutSignal) IsMute() bool { return math.IsInf(s.Intensity, -1) }
