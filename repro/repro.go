// Package repro collects example RePro implementations exercising
// RunControl end-to-end: a constant-DC hold, a timed sine stimulus
// that waits for the acquired trace to catch up, and a handoff pair
// that demonstrates RunControl's macro FallBack action. Each is a
// plain ReProFunc rather than a class instance, since a RePro's only
// real requirement is a callable taking a ReProContext.
package repro

import (
	"fmt"
	"math"
	"time"

	"github.com/relacs/relacsd/internal/errs"
	"github.com/relacs/relacsd/internal/ids"
	"github.com/relacs/relacsd/internal/runcontrol"
	"github.com/relacs/relacsd/internal/stimulus"
)

// ConstantDC holds trace at the given intensity (written as the DC
// sample value) for duration, then mutes and returns. It demonstrates
// the DirectWrite path (StepSize 0).
func ConstantDC(trace ids.TraceID, intensity float64, duration time.Duration) runcontrol.ReProFunc {
	return func(ctx *runcontrol.ReProContext) errs.Result {
		signal := &stimulus.OutSignal{Trace: trace, Intensity: intensity, Ident: "constant-dc", Samples: []float32{float32(intensity)}}
		if res := ctx.WriteStimulus(signal); res.Outcome != errs.Completed {
			return res
		}
		if ctx.SleepFor(duration) {
			mute := &stimulus.OutSignal{Trace: trace, Intensity: stimulus.MuteIntensity, Ident: "constant-dc-mute"}
			ctx.WriteStimulus(mute)
			return errs.Result{Outcome: errs.Aborted, Reason: "interrupted"}
		}
		mute := &stimulus.OutSignal{Trace: trace, Intensity: stimulus.MuteIntensity, Ident: "constant-dc-mute"}
		return ctx.WriteStimulus(mute)
	}
}

// SineStimulus submits a timed sine waveform on trace, then blocks
// until the named input trace has acquired at least through the
// stimulus's sample count, demonstrating TimedWrite plus a RePro
// reading back its own evoked response.
func SineStimulus(outTrace ids.TraceID, inTraceName string, freqHz, amplitude, stepSize float64, nsamples int) runcontrol.ReProFunc {
	return func(ctx *runcontrol.ReProContext) errs.Result {
		samples := make([]float32, nsamples)
		for i := range samples {
			t := float64(i) * stepSize
			samples[i] = float32(amplitude * math.Sin(2*math.Pi*freqHz*t))
		}
		signal := &stimulus.OutSignal{
			Trace:    outTrace,
			StepSize: stepSize,
			Intensity: amplitude,
			Ident:    "sine",
			Samples:  samples,
		}
		res := ctx.WriteStimulus(signal)
		if res.Outcome != errs.Completed {
			return res
		}

		view, ok := ctx.Traces()[inTraceName]
		if !ok {
			return errs.Result{Outcome: errs.Failed, Reason: fmt.Sprintf("no trace registered under %q", inTraceName)}
		}
		target := view.Size() + int64(nsamples)
		if !ctx.WaitSamples(inTraceName, target) {
			return errs.Result{Outcome: errs.Aborted, Reason: "interrupted while waiting for response"}
		}
		return errs.Result{Outcome: errs.Completed}
	}
}

// HandoffFirst completes immediately; paired with RunControl's
// SetHandoff(FallBack, HandoffSecond) it demonstrates macro handoff:
// completion of First triggers Second without an explicit Start call
// from the operator.
func HandoffFirst(ctx *runcontrol.ReProContext) errs.Result {
	return errs.Result{Outcome: errs.Completed}
}

// HandoffSecond is the fallback target for HandoffFirst.
func HandoffSecond(ctx *runcontrol.ReProContext) errs.Result {
	return errs.Result{Outcome: errs.Completed}
}
