package simulated

import (
	"math"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/errs"
)

// AttenuatorInterface translates a logical intensity level into an
// attenuation request on an underlying devices.Attenuator. The
// mapping here is the simplest one that exercises clipping/
// quantisation: intensity in dB, realised
// by attenuating (MaxIntensityDB - intensity) dB.
type AttenuatorInterface struct {
	devices.Base

	Atten        devices.Attenuator
	MaxIntensityDB float64
	MinIntensityDB float64
}

func NewAttenuatorInterface(atten devices.Attenuator, minDB, maxDB float64) *AttenuatorInterface {
	return &AttenuatorInterface{Atten: atten, MinIntensityDB: minDB, MaxIntensityDB: maxDB}
}

func (a *AttenuatorInterface) Open(path string, options map[string]any) error { a.SetOpen(true); return nil }
func (a *AttenuatorInterface) Close() error                                   { a.SetOpen(false); return nil }
func (a *AttenuatorInterface) Reset() error                                   { return nil }

func (a *AttenuatorInterface) MaxIntensity() float64 { return a.MaxIntensityDB }
func (a *AttenuatorInterface) MinIntensity() float64 { return a.MinIntensityDB }

// Intensity implements devices.AttenuatorInterface. An intensity of
// math.Inf(-1) means "mute".
func (a *AttenuatorInterface) Intensity(channel int, intensity float64) (float64, errs.Flag) {
	if math.IsInf(intensity, -1) {
		_ = a.Atten.SetMute(true)
		return intensity, 0
	}
	if intensity > a.MaxIntensityDB {
		db, flags := a.Atten.Attenuate(channel, 0)
		_ = a.Atten.SetMute(false)
		return a.MaxIntensityDB - db, flags | errs.Overflow
	}
	if intensity < a.MinIntensityDB {
		db, flags := a.Atten.Attenuate(channel, a.MaxIntensityDB-a.MinIntensityDB)
		_ = a.Atten.SetMute(false)
		return a.MaxIntensityDB - db, flags | errs.Underflow
	}
	requestedDB := a.MaxIntensityDB - intensity
	realisedDB, flags := a.Atten.Attenuate(channel, requestedDB)
	_ = a.Atten.SetMute(false)
	return a.MaxIntensityDB - realisedDB, flags
}
