package simulated

import (
	"sync"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/errs"
)

// AnalogOutput is a software-only AnalogOutput. It holds the last
// value written per channel so an AnalogInput.Loopback can read it
// back, which is how the sine round-trip test scenario is exercised
// without real hardware.
type AnalogOutput struct {
	devices.Base

	mu       sync.RWMutex
	nchan    int
	maxRate  float64
	lastDC   []float32
	waveform [][]float32 // staged timed-write buffer, one slice per channel
	running  bool
}

func NewAnalogOutput(nchan int, maxRate float64) *AnalogOutput {
	return &AnalogOutput{nchan: nchan, maxRate: maxRate, lastDC: make([]float32, nchan)}
}

func (o *AnalogOutput) Open(path string, options map[string]any) error { o.SetOpen(true); return nil }
func (o *AnalogOutput) Close() error                                   { o.SetOpen(false); return nil }
func (o *AnalogOutput) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.lastDC {
		o.lastDC[i] = 0
	}
	o.waveform = nil
	o.running = false
	return nil
}

func (o *AnalogOutput) Channels() int   { return o.nchan }
func (o *AnalogOutput) Bits() int       { return 16 }
func (o *AnalogOutput) MaxRate() float64 { return o.maxRate }

func (o *AnalogOutput) TestWrite(specs []devices.ChannelSpec) errs.Flag {
	return devices.ValidateChannelSpecs(specs, o.nchan, o.maxRate, 1)
}

func (o *AnalogOutput) PrepareWrite(specs []devices.ChannelSpec) errs.Flag {
	return o.TestWrite(specs)
}

// DirectWrite immediately sets channel to value, with no timing
// relation to acquisition.
func (o *AnalogOutput) DirectWrite(channel int, value float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if channel < 0 || channel >= o.nchan {
		return errs.InvalidChannel
	}
	o.lastDC[channel] = value
	return nil
}

// StageWaveform sets the per-channel sample buffer a subsequent
// StartWrite will play out. Real devices would DMA this to hardware;
// the simulated device just marks itself running and lets
// AnalogInput.Loopback sample the staged waveform directly by index.
func (o *AnalogOutput) StageWaveform(perChannel [][]float32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waveform = perChannel
}

func (o *AnalogOutput) StartWrite() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = true
	return nil
}

func (o *AnalogOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	return nil
}

// ValueAt returns the staged waveform value for channel at sample
// index idx, or the last DC value if idx is out of range / no
// waveform was staged. Used by AnalogInput.Loopback.
func (o *AnalogOutput) ValueAt(channel, idx int) (float32, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.waveform != nil && channel < len(o.waveform) && idx >= 0 && idx < len(o.waveform[channel]) {
		return o.waveform[channel][idx], true
	}
	if channel < len(o.lastDC) {
		return o.lastDC[channel], true
	}
	return 0, false
}
