package simulated

import (
	"math"
	"sync"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/errs"
)

// Attenuator is a simulated step attenuator grounded on
// original_source/hardware/include/relacs/cs3310pp.h: a fixed number
// of discrete dB steps between 0 and MaxDB, requests are quantised to
// the nearest step and clamped to [0, MaxDB].
type Attenuator struct {
	devices.Base

	mu       sync.Mutex
	lines    int
	StepDB   float64
	MaxDB    float64
	muted    bool
}

// NewAttenuator creates a simulated attenuator with the given number
// of lines, step size and maximum attenuation in dB.
func NewAttenuator(lines int, stepDB, maxDB float64) *Attenuator {
	return &Attenuator{lines: lines, StepDB: stepDB, MaxDB: maxDB}
}

func (a *Attenuator) Open(path string, options map[string]any) error { a.SetOpen(true); return nil }
func (a *Attenuator) Close() error                                   { a.SetOpen(false); return nil }
func (a *Attenuator) Reset() error                                   { a.mu.Lock(); a.muted = false; a.mu.Unlock(); return nil }

func (a *Attenuator) Lines() int { return a.lines }

func (a *Attenuator) quantise(db float64) (float64, errs.Flag) {
	var flags errs.Flag
	if db > a.MaxDB {
		flags |= errs.Overflow
		db = a.MaxDB
	} else if db < 0 {
		flags |= errs.Underflow
		db = 0
	}
	steps := math.Round(db / a.StepDB)
	return steps * a.StepDB, flags
}

func (a *Attenuator) Attenuate(channel int, db float64) (float64, errs.Flag) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if channel < 0 || channel >= a.lines {
		return 0, errs.InvalidChannel
	}
	realised, flags := a.quantise(db)
	return realised, flags
}

func (a *Attenuator) TestAttenuate(channel int, db float64) (float64, errs.Flag) {
	return a.Attenuate(channel, db)
}

func (a *Attenuator) SetMute(mute bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted = mute
	return nil
}

func (a *Attenuator) Calibrate() error { return nil }
