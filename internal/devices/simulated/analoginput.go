// Package simulated provides in-process fake devices that satisfy the
// internal/devices capability contracts. They stand in for real
// hardware driver collaborators the same way a software waveform
// generator stands in for a real DAQ card: enough behaviour to drive
// the acquisition/stimulus/
// filter/event pipeline end to end in tests and as a runnable default.
package simulated

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/errs"
)

// Waveform generates the next raw sample for a simulated channel at
// tick t (seconds since PrepareRead).
type Waveform func(t float64) float32

// Sine returns a Waveform producing a sine at freqHz with the given
// peak amplitude (secondary units, e.g. volts).
func Sine(freqHz, amplitude float64) Waveform {
	return func(t float64) float32 {
		return float32(amplitude * math.Sin(2*math.Pi*freqHz*t))
	}
}

// Constant returns a Waveform producing a fixed value forever.
func Constant(value float64) Waveform {
	return func(t float64) float32 { return float32(value) }
}

// AnalogInput is a software-only AnalogInput: each channel is driven
// by a Waveform function of simulated time, optionally looped back
// from an AnalogOutput's last written value (see Loopback).
type AnalogInput struct {
	devices.Base

	mu         sync.Mutex
	nchan      int
	maxRate    float64
	waveforms  []Waveform
	sampleRate float64
	start      time.Time
	nextSample int64
	running    bool

	// Loopback, if set, is consulted instead of the configured
	// Waveform for channels that should mirror an AnalogOutput, used
	// by the sine round-trip test scenario.
	Loopback func(channel int, t float64) (float32, bool)
}

// NewAnalogInput creates a simulated AnalogInput with nchan channels,
// each defaulting to silence until SetWaveform is called.
func NewAnalogInput(nchan int, maxRate float64) *AnalogInput {
	return &AnalogInput{
		nchan:     nchan,
		maxRate:   maxRate,
		waveforms: make([]Waveform, nchan),
	}
}

// SetWaveform assigns the generator for one channel.
func (a *AnalogInput) SetWaveform(channel int, w Waveform) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.waveforms[channel] = w
}

func (a *AnalogInput) Open(path string, options map[string]any) error {
	a.SetOpen(true)
	return nil
}
func (a *AnalogInput) Close() error {
	a.running = false
	a.SetOpen(false)
	return nil
}
func (a *AnalogInput) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSample = 0
	a.running = false
	return nil
}

func (a *AnalogInput) Channels() int           { return a.nchan }
func (a *AnalogInput) Bits() int                { return 16 }
func (a *AnalogInput) MaxRate() float64         { return a.maxRate }
func (a *AnalogInput) MaxRanges() int           { return 1 }
func (a *AnalogInput) UnipolarRange(int) float64 { return 10.0 }
func (a *AnalogInput) BipolarRange(int) float64  { return 10.0 }

func (a *AnalogInput) TestRead(specs []devices.ChannelSpec) errs.Flag {
	return devices.ValidateChannelSpecs(specs, a.nchan, a.maxRate, 1)
}

func (a *AnalogInput) PrepareRead(specs []devices.ChannelSpec) errs.Flag {
	if flags := a.TestRead(specs); flags != 0 {
		return flags
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sampleRate = specs[0].SampleRate
	a.nextSample = 0
	a.SetSettings(map[string]any{"sampleRate": a.sampleRate, "channels": len(specs)})
	return 0
}

func (a *AnalogInput) StartRead() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.start = time.Now()
	a.running = true
	return nil
}

// ReadData paces the simulated device to its sample rate: it sleeps
// until the wall-clock time since StartRead has caught up with the
// next chunk of samples, then reports that fixed chunk size as
// available. The samples themselves are generated on demand in
// ConvertData.
func (a *AnalogInput) ReadData() (int, error) {
	const chunk = 64
	a.mu.Lock()
	running := a.running
	var due time.Time
	if a.sampleRate > 0 {
		due = a.start.Add(time.Duration(float64(a.nextSample+chunk) / a.sampleRate * float64(time.Second)))
	}
	a.mu.Unlock()
	if !running {
		return 0, devices.ErrStopped
	}
	if wait := time.Until(due); wait > 0 {
		time.Sleep(wait)
	}
	return chunk, nil
}

func (a *AnalogInput) ConvertData(dst [][]float32) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return 0, devices.ErrStopped
	}
	const chunk = 64
	if len(dst) < a.nchan {
		return 0, fmt.Errorf("simulated analoginput: dst has %d channels, want %d", len(dst), a.nchan)
	}
	period := 1.0 / a.sampleRate
	for i := 0; i < chunk; i++ {
		t := float64(a.nextSample) * period
		a.nextSample++
		for ch := 0; ch < a.nchan; ch++ {
			var v float32
			if a.Loopback != nil {
				if lv, ok := a.Loopback(ch, t); ok {
					v = lv
					dst[ch] = append(dst[ch], v)
					continue
				}
			}
			if a.waveforms[ch] != nil {
				v = a.waveforms[ch](t)
			}
			dst[ch] = append(dst[ch], v)
		}
	}
	return chunk, nil
}

func (a *AnalogInput) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	return nil
}
