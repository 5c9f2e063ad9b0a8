package stimulus

import (
	"testing"

	"github.com/relacs/relacsd/internal/acquisition"
	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/devices/simulated"
	"github.com/relacs/relacsd/internal/errs"
	"github.com/relacs/relacsd/internal/ids"
)

func newAcqWithTrace(t *testing.T, capacity int) (*acquisition.Engine, *simulated.AnalogInput) {
	t.Helper()
	input := simulated.NewAnalogInput(1, 20000)
	_ = input.Open("", nil)
	acq := acquisition.NewEngine()
	err := acq.Prepare([]acquisition.TraceRequest{{
		Trace:  1,
		Device: 1,
		Input:  input,
		Spec: devices.ChannelSpec{
			Channel:    0,
			SampleRate: 10000,
			Reference:  devices.Differential,
			Unipolar:   true,
		},
		Unit:     "V",
		Ident:    "V-1",
		MinValue: -10,
		MaxValue: 10,
		Capacity: capacity,
	}})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := acq.Start(acquisition.CoStartSet{Primary: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = acq.Stop(1) })
	return acq, input
}

func TestDirectWriteHoldsDC(t *testing.T) {
	output := simulated.NewAnalogOutput(1, 20000)
	_ = output.Open("", nil)

	e := NewEngine(nil)
	e.RegisterOutput(1, output, devices.ChannelSpec{Channel: 0, SampleRate: 20000}, nil)

	signal := &OutSignal{Trace: 1, Samples: []float32{2.5}}
	res := e.DirectWrite(signal)
	if res.Outcome != errs.Completed {
		t.Fatalf("DirectWrite outcome = %v, want Completed", res.Outcome)
	}
	v, ok := output.ValueAt(0, 0)
	if !ok || v != 2.5 {
		t.Fatalf("ValueAt(0,0) = %v,%v, want 2.5,true", v, ok)
	}
}

func TestTimedWriteStampsSignalIndex(t *testing.T) {
	acq, _ := newAcqWithTrace(t, 1024)
	if err := acq.WaitForSamples(1, 64, nil); err != nil {
		t.Fatalf("WaitForSamples: %v", err)
	}

	output := simulated.NewAnalogOutput(1, 20000)
	_ = output.Open("", nil)

	e := NewEngine(acq)
	e.RegisterOutput(2, output, devices.ChannelSpec{Channel: 0, SampleRate: 10000}, nil)
	e.BindCoAcquisition(2, []ids.TraceID{1})

	signal := &OutSignal{Trace: 2, StepSize: 1e-4, Delay: 0, Samples: []float32{1, 0, -1, 0}}
	res := e.TimedWrite(signal)
	if res.Outcome != errs.Completed {
		t.Fatalf("TimedWrite outcome = %v (%s), want Completed", res.Outcome, res.Reason)
	}

	tr, _ := acq.Trace(1)
	if tr.SignalIndex() < 0 {
		t.Fatalf("SignalIndex not stamped, got %d", tr.SignalIndex())
	}
}

func TestOnWriteFiresAfterDirectAndTimedWrite(t *testing.T) {
	acq, _ := newAcqWithTrace(t, 1024)
	if err := acq.WaitForSamples(1, 64, nil); err != nil {
		t.Fatalf("WaitForSamples: %v", err)
	}

	output := simulated.NewAnalogOutput(1, 20000)
	_ = output.Open("", nil)

	e := NewEngine(acq)
	e.RegisterOutput(1, output, devices.ChannelSpec{Channel: 0, SampleRate: 20000}, nil)
	e.RegisterOutput(2, output, devices.ChannelSpec{Channel: 0, SampleRate: 10000}, nil)
	e.BindCoAcquisition(2, []ids.TraceID{1})

	var seen []string
	e.OnWrite(func(s *OutSignal) { seen = append(seen, s.Ident) })

	if res := e.DirectWrite(&OutSignal{Trace: 1, Ident: "dc", Samples: []float32{1}}); res.Outcome != errs.Completed {
		t.Fatalf("DirectWrite outcome = %v", res.Outcome)
	}
	if res := e.TimedWrite(&OutSignal{Trace: 2, Ident: "sine", StepSize: 1e-4, Samples: []float32{1, 0, -1, 0}}); res.Outcome != errs.Completed {
		t.Fatalf("TimedWrite outcome = %v (%s)", res.Outcome, res.Reason)
	}

	if len(seen) != 2 || seen[0] != "dc" || seen[1] != "sine" {
		t.Fatalf("OnWrite callbacks = %v, want [dc sine]", seen)
	}
}

func TestAttenuatorOverflowRetry(t *testing.T) {
	atten := simulated.NewAttenuator(1, 1.0, 100.0)
	_ = atten.Open("", nil)
	iface := simulated.NewAttenuatorInterface(atten, 0, 100)
	_ = iface.Open("", nil)

	output := simulated.NewAnalogOutput(1, 20000)
	_ = output.Open("", nil)

	e := NewEngine(nil)
	e.RegisterOutput(1, output, devices.ChannelSpec{Channel: 0, SampleRate: 20000}, iface)

	signal := &OutSignal{Trace: 1, Intensity: 200, Samples: []float32{1}}
	res := e.DirectWrite(signal)
	if res.Outcome != errs.Completed {
		t.Fatalf("DirectWrite outcome = %v (%s)", res.Outcome, res.Reason)
	}
	if !signal.Flags.Set(errs.Overflow) {
		t.Fatalf("expected Overflow flag, got %s", signal.Flags)
	}
	if signal.RealisedIntensity != 100 {
		t.Fatalf("RealisedIntensity = %v, want 100", signal.RealisedIntensity)
	}
}
