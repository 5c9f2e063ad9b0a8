package stimulus

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/davecgh/go-spew/spew"

	"github.com/relacs/relacsd/internal/acquisition"
	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/errs"
	"github.com/relacs/relacsd/internal/ids"
)

// outputRoute is everything the engine needs to drive one output
// trace: the physical device, the channel spec used to arm it, an
// optional attenuator interface, and the set of InTraces that must be
// stamped with the onset signalIndex on a timed write.
type outputRoute struct {
	device      devices.AnalogOutput
	spec        devices.ChannelSpec
	attenuator  devices.AttenuatorInterface
	coAcquiring []ids.TraceID
}

// Engine drives output traces: routing, attenuation, and the
// direct/timed write protocol.
type Engine struct {
	mu     sync.Mutex
	routes map[ids.TraceID]*outputRoute
	acq    *acquisition.Engine

	// MaxAttenuationRetries bounds the attenuator-stack adjustment
	// loop; each retry adjusts the requested intensity by
	// ±ceil/floor(delta) from the previous attempt's shortfall.
	MaxAttenuationRetries int

	// onWrite, if set, is called after every successfully completed
	// DirectWrite/TimedWrite, letting a stimulus index and telemetry
	// publisher observe every stamped signal without the engine
	// depending on either package — the output-side analogue of
	// acquisition.Engine.OnPublish.
	onWrite func(*OutSignal)
}

// OnWrite registers f to be called after every signal this engine
// successfully writes.
func (e *Engine) OnWrite(f func(*OutSignal)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onWrite = f
}

func (e *Engine) notifyWrite(signal *OutSignal) {
	e.mu.Lock()
	f := e.onWrite
	e.mu.Unlock()
	if f != nil {
		f(signal)
	}
}

// NewEngine creates a StimulusEngine that stamps signalIndex on traces
// owned by acq.
func NewEngine(acq *acquisition.Engine) *Engine {
	return &Engine{
		routes:                make(map[ids.TraceID]*outputRoute),
		acq:                   acq,
		MaxAttenuationRetries: 4,
	}
}

// RegisterOutput binds an output trace to a physical AnalogOutput
// device and channel spec. attenuator may be nil if the trace is
// written directly in secondary units with no intensity translation.
func (e *Engine) RegisterOutput(trace ids.TraceID, device devices.AnalogOutput, spec devices.ChannelSpec, attenuator devices.AttenuatorInterface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.routes[trace] = &outputRoute{device: device, spec: spec, attenuator: attenuator}
}

// BindCoAcquisition names the InTraces that must receive the onset
// signalIndex whenever trace is written in timed mode.
func (e *Engine) BindCoAcquisition(trace ids.TraceID, coAcquiring []ids.TraceID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.routes[trace]; ok {
		r.coAcquiring = coAcquiring
	}
}

func (e *Engine) route(trace ids.TraceID) (*outputRoute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routes[trace]
	if !ok {
		return nil, fmt.Errorf("stimulus: trace %d not registered", trace)
	}
	return r, nil
}

// attenuate translates signal.Intensity through the route's attenuator
// interface, retrying up to MaxAttenuationRetries times by adjusting
// the requested value by ±ceil/floor of the shortfall.
func (e *Engine) attenuate(r *outputRoute, channel int, signal *OutSignal) {
	if r.attenuator == nil || signal.IsMute() {
		if signal.IsMute() && r.attenuator != nil {
			realised, flags := r.attenuator.Intensity(channel, MuteIntensity)
			signal.RealisedIntensity = realised
			signal.Flags |= flags
		} else {
			signal.RealisedIntensity = signal.Intensity
		}
		return
	}

	requested := signal.Intensity
	var realised float64
	var allFlags, flags errs.Flag
	for attempt := 0; attempt < e.MaxAttenuationRetries; attempt++ {
		realised, flags = r.attenuator.Intensity(channel, requested)
		allFlags |= flags
		delta := requested - realised
		if delta == 0 {
			break
		}
		if delta > 0 {
			requested -= math.Ceil(delta)
		} else {
			requested -= math.Floor(delta)
		}
	}
	signal.Flags |= allFlags
	signal.RealisedIntensity = realised
	log.Printf("stimulus: attenuate trace=%d requested=%.3f realised=%.3f flags=%s\n%s",
		signal.Trace, signal.Intensity, realised, allFlags, spew.Sdump(signal))
}

// DirectWrite pushes a single value immediately, with no timing
// relation to acquisition: bias currents, resting potentials.
func (e *Engine) DirectWrite(signal *OutSignal) errs.Result {
	r, err := e.route(signal.Trace)
	if err != nil {
		return errs.Result{Outcome: errs.Failed, Reason: err.Error()}
	}
	if flags := signal.Validate(); flags != 0 {
		return errs.Result{Outcome: errs.Failed, Reason: flags.String()}
	}

	e.attenuate(r, r.spec.Channel, signal)

	value := float32(0)
	if len(signal.Samples) > 0 {
		value = signal.Samples[0]
	}
	if err := r.device.DirectWrite(r.spec.Channel, value); err != nil {
		signal.Flags |= errs.WriteError
		return errs.Result{Outcome: errs.Failed, Reason: err.Error()}
	}
	e.notifyWrite(signal)
	return errs.Result{Outcome: errs.Completed}
}

// TimedWrite plays out a waveform with a well-defined onset, stamping
// signalIndex on every co-acquiring InTrace at the exact sample index
// of onset. It arms the route's device (PrepareWrite, plus
// StageWaveform where the device has it), begins output, then stamps
// the onset; no other output is bound to the same start source. If
// StartWrite fails, the engine records OverflowUnderrun on the signal
// and retries once from step 1 after restoring the previous DC level.
func (e *Engine) TimedWrite(signal *OutSignal) errs.Result {
	r, err := e.route(signal.Trace)
	if err != nil {
		return errs.Result{Outcome: errs.Failed, Reason: err.Error()}
	}
	if flags := signal.Validate(); flags != 0 {
		return errs.Result{Outcome: errs.Failed, Reason: flags.String()}
	}

	e.attenuate(r, r.spec.Channel, signal)

	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Step 1: arm the output device with the signal's sample
		// rate, delay and buffer.
		spec := r.spec
		spec.SampleRate = sampleRateFor(signal)
		spec.Delay = signal.Delay
		spec.StartSource = signal.StartSource
		if flags := r.device.PrepareWrite([]devices.ChannelSpec{spec}); flags != 0 {
			signal.Flags |= flags
			return errs.Result{Outcome: errs.Failed, Reason: flags.String()}
		}

		if staged, ok := r.device.(interface{ StageWaveform([][]float32) }); ok {
			perChannel := make([][]float32, r.spec.Channel+1)
			perChannel[r.spec.Channel] = signal.Samples
			staged.StageWaveform(perChannel)
		}

		// Step 2: begin output.
		if err := r.device.StartWrite(); err != nil {
			lastErr = err
			signal.Flags |= errs.OverflowUnderrun
			_ = r.device.DirectWrite(r.spec.Channel, lastDirectValue(signal))
			continue
		}

		// Step 3: stamp the onset on every co-acquiring InTrace
		// after the samples that carry it are already durable —
		// the simulated hardware has zero additional latency, so the
		// onset is the co-acquiring trace's current size().
		for _, traceID := range r.coAcquiring {
			if t, ok := e.acq.Trace(traceID); ok {
				t.SetSignalIndex(t.Size())
			}
		}
		e.notifyWrite(signal)
		return errs.Result{Outcome: errs.Completed}
	}

	reason := "overflow/underrun after retry"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return errs.Result{Outcome: errs.Failed, Reason: reason}
}

func sampleRateFor(signal *OutSignal) float64 {
	if signal.StepSize <= 0 {
		return 0
	}
	return 1.0 / signal.StepSize
}

func lastDirectValue(signal *OutSignal) float32 {
	if len(signal.Samples) > 0 {
		return signal.Samples[0]
	}
	return 0
}
