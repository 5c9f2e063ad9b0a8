package acquisition

import (
	"testing"
	"time"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/devices/simulated"
	"github.com/relacs/relacsd/internal/ids"
)

func TestInTraceAppendAndSlice(t *testing.T) {
	tr := NewInTrace(1, 1, 8)
	if err := tr.Arm(1e-3, 1.0, 0, devices.Differential, true, 0, -10, 10, "V", "V-1"); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	tr.Append([]float32{1, 2, 3})
	if got := tr.Size(); got != 3 {
		t.Fatalf("Size() = %d, want 3", got)
	}
	vals, err := tr.Slice(0, 3)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if vals[0] != 1 || vals[1] != 2 || vals[2] != 3 {
		t.Fatalf("Slice = %v, want [1 2 3]", vals)
	}
}

func TestInTraceWrapAroundMinIndex(t *testing.T) {
	tr := NewInTrace(1, 1, 4)
	if err := tr.Arm(1e-3, 1.0, 0, devices.Differential, true, 0, -10, 10, "V", "V-1"); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	tr.Append([]float32{1, 2, 3, 4, 5, 6})
	if got := tr.Size(); got != 6 {
		t.Fatalf("Size() = %d, want 6", got)
	}
	if got := tr.MinIndex(); got != 2 {
		t.Fatalf("MinIndex() = %d, want 2", got)
	}
	if _, err := tr.At(1); err == nil {
		t.Fatalf("At(1) should fail, overwritten by wraparound")
	}
	v, err := tr.At(5)
	if err != nil {
		t.Fatalf("At(5): %v", err)
	}
	if v != 6 {
		t.Fatalf("At(5) = %v, want 6", v)
	}
}

func TestInTraceWaitForSamples(t *testing.T) {
	tr := NewInTrace(1, 1, 16)
	if err := tr.Arm(1e-3, 1.0, 0, devices.Differential, true, 0, -10, 10, "V", "V-1"); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	done := make(chan bool, 1)
	go func() {
		done <- tr.WaitForSamples(5, nil)
	}()
	time.Sleep(10 * time.Millisecond)
	tr.Append([]float32{1, 2, 3, 4, 5})
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("WaitForSamples returned false")
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForSamples did not return")
	}
}

func TestInTraceWaitForSamplesCancel(t *testing.T) {
	tr := NewInTrace(1, 1, 16)
	if err := tr.Arm(1e-3, 1.0, 0, devices.Differential, true, 0, -10, 10, "V", "V-1"); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	stop := make(chan struct{})
	done := make(chan bool, 1)
	go func() {
		done <- tr.WaitForSamples(100, stop)
	}()
	time.Sleep(10 * time.Millisecond)
	close(stop)
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("WaitForSamples returned true after cancel with no samples")
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForSamples did not return after cancel")
	}
}

func TestEnginePrepareAndAcquire(t *testing.T) {
	input := simulated.NewAnalogInput(2, 20000)
	input.SetWaveform(0, simulated.Constant(1.5))
	input.SetWaveform(1, simulated.Sine(100, 2.0))
	if err := input.Open("", nil); err != nil {
		t.Fatalf("Open: %v", err)
	}

	e := NewEngine()
	reqs := []TraceRequest{
		{
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
			Capacity: 1024,
		},
		{
			Trace:  2,
			Device: 1,
			Input:  input,
			Spec: devices.ChannelSpec{
				Channel:    1,
				SampleRate: 10000,
				Reference:  devices.Differential,
				Unipolar:   true,
			},
			Unit:     "V",
			Ident:    "V-2",
			MinValue: -10,
			MaxValue: 10,
			Capacity: 1024,
		},
	}
	if err := e.Prepare(reqs); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := e.Start(CoStartSet{Primary: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(1)

	if err := e.WaitForSamples(1, 100, nil); err != nil {
		t.Fatalf("WaitForSamples: %v", err)
	}

	tr, _ := e.Trace(1)
	vals, err := tr.Slice(tr.MinIndex(), 100)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	for i, v := range vals {
		if v < 1.4 || v > 1.6 {
			t.Fatalf("sample %d = %v, want ~1.5", i, v)
		}
	}
}

func TestEngineActivateGains(t *testing.T) {
	input := simulated.NewAnalogInput(1, 20000)
	input.SetWaveform(0, simulated.Constant(1.0))
	_ = input.Open("", nil)

	e := NewEngine()
	req := TraceRequest{
		Trace:  1,
		Device: 1,
		Input:  input,
		Spec: devices.ChannelSpec{
			Channel:    0,
			SampleRate: 10000,
			Reference:  devices.Differential,
			Unipolar:   true,
		},
		Unit:       "V",
		Ident:      "V-1",
		MinValue:   -10,
		MaxValue:   10,
		Capacity:   1024,
		RawToScale: 1.0,
	}
	if err := e.Prepare([]TraceRequest{req}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := e.Start(CoStartSet{Primary: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.WaitForSamples(1, 64, nil); err != nil {
		t.Fatalf("WaitForSamples: %v", err)
	}

	if err := e.ActivateGains(1, 1, 2.0); err != nil {
		t.Fatalf("ActivateGains: %v", err)
	}
	defer e.Stop(1)

	tr, _ := e.Trace(1)
	if err := e.WaitForSamples(1, tr.Size()+64, nil); err != nil {
		t.Fatalf("WaitForSamples after gain change: %v", err)
	}
	if tr.RestartIndex() <= 0 {
		t.Fatalf("RestartIndex was not set after gain activation, got %d", tr.RestartIndex())
	}
}
