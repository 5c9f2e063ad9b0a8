// Package devices implements a registry of opened hardware plugins and
// the capability-based device contracts: AnalogInput, AnalogOutput,
// DigitalIO, Trigger, Attenuator and AttenuatorInterface. Rather than a
// deep inheritance hierarchy, each concrete plugin implements only the
// slice of interfaces it actually supports, the same "capability
// group" shape as a source catalogue where each named plugin is
// reachable by a string key.
package devices

import (
	"fmt"

	"github.com/relacs/relacsd/internal/errs"
	"github.com/relacs/relacsd/internal/ids"
)

// ChannelSpec describes one analog channel as configured before it is
// armed: the static parameters an AnalogInput/AnalogOutput needs to
// validate and prepare for streaming. It is the devices-package
// counterpart of RELACS's InData/OutData header fields, kept minimal
// here since the full cyclic-buffer InTrace lives in internal/acquisition
// (which depends on this package, not the other way around).
type ChannelSpec struct {
	Trace       ids.TraceID
	Channel     int
	SampleRate  float64
	Reference   Reference
	Unipolar    bool
	GainIndex   int
	Delay       float64
	StartSource int
	DeviceGroup string // set by the caller to detect cross-device mismatches
}

// Reference is the input reference mode.
type Reference int

const (
	Differential Reference = iota
	Common
	Ground
	OtherReference
)

func (r Reference) String() string {
	switch r {
	case Differential:
		return "differential"
	case Common:
		return "common"
	case Ground:
		return "ground"
	default:
		return "other"
	}
}

// Device is the lifecycle every plugin, regardless of capability group,
// must implement: open/close/reset plus a settings snapshot for
// persistence.
type Device interface {
	Open(path string, options map[string]any) error
	Close() error
	// Reset stops activity and zeros internal buffers. Calling Reset
	// twice in a row must be idempotent.
	Reset() error
	IsOpen() bool
	Ident() string
	SetIdent(string)
	Settings() map[string]any
}

// AnalogInput is the device contract for analog input hardware.
type AnalogInput interface {
	Device

	Channels() int
	Bits() int
	MaxRate() float64
	MaxRanges() int
	UnipolarRange(index int) float64
	BipolarRange(index int) float64

	// TestRead validates specs against the device's capabilities
	// without committing to them. Returns a per-spec flag set;
	// non-zero means at least one spec is invalid.
	TestRead(specs []ChannelSpec) errs.Flag
	// PrepareRead arms the device for the given specs.
	PrepareRead(specs []ChannelSpec) errs.Flag
	// StartRead begins non-blocking acquisition.
	StartRead() error
	// ReadData blocks briefly and returns the number of raw samples
	// read into the device's internal staging buffer, or an error.
	// A return of (0, ErrStopped) means acquisition has ended.
	ReadData() (int, error)
	// ConvertData drains the staging buffer, converting raw samples
	// to the secondary unit (volts) per channel, appending the
	// result to dst (one slice per channel, channel-index order).
	// Returns the number of samples appended per channel.
	ConvertData(dst [][]float32) (int, error)
	Stop() error
}

// ErrStopped is returned by AnalogInput.ReadData/ConvertData when the
// device has been stopped and no more data will arrive.
var ErrStopped = fmt.Errorf("device: stopped")

// AnalogOutput mirrors AnalogInput plus the direct/timed write
// split.
type AnalogOutput interface {
	Device

	Channels() int
	Bits() int
	MaxRate() float64

	TestWrite(specs []ChannelSpec) errs.Flag
	PrepareWrite(specs []ChannelSpec) errs.Flag
	// DirectWrite pushes a single value (or single-sample vector)
	// immediately, with no timing relation to acquisition.
	DirectWrite(channel int, value float32) error
	// StartWrite begins non-blocking output on the channels armed by
	// PrepareWrite. This interface carries no sample data; a device
	// that plays a waveform takes it through its own staging method
	// (the simulated device's StageWaveform) before StartWrite.
	StartWrite() error
	Stop() error
}

// DigitalIO is the line-level digital I/O contract.
type DigitalIO interface {
	Device

	AllocateLine(line int, owner string) error
	FreeLines(owner string)
	ConfigureLine(line int, output bool) error
	WriteLine(line int, val bool) error
	ReadLine(line int) (bool, error)
	WriteLines(mask, val uint32) error
	ReadLines(mask uint32) (uint32, error)
	SetSyncPulse(modeMask, modeBits uint32, line int, duration float64, mode int) error
	ClearSyncPulse(line int) error
}

// HoopAction is the action a Trigger's state machine performs when a
// hoop's condition is met.
type HoopAction int

const (
	Ignore HoopAction = iota
	SetHigh
	SetLow
)

// Hoop is one stage of a multi-stage trigger state machine, following
// a crossing/peak/trough action model.
type Hoop struct {
	Delay        float64
	Width        float64
	OnCrossing   HoopAction
	OnPeak       HoopAction
	OnTrough     HoopAction
	Level        float64
}

// Trigger is the analog-trigger device contract: up to 5 sequential
// hoops, each with its own actions.
type Trigger interface {
	Device

	SetHoops(hoops []Hoop) error
	Activate() error
	Disable() error
}

// Attenuator is the physical attenuator device contract.
type Attenuator interface {
	Device

	Lines() int
	// Attenuate requests dB attenuation on channel; returns the
	// realised attenuation (which may differ due to step
	// quantisation) and the resulting error flags (Overflow if dB
	// was clamped down, Underflow if clamped up).
	Attenuate(channel int, db float64) (realised float64, flags errs.Flag)
	TestAttenuate(channel int, db float64) (realised float64, flags errs.Flag)
	SetMute(mute bool) error
	Calibrate() error
}

// AttenuatorInterface is the logical layer that translates an
// intensity (e.g. dB-SPL) through an Attenuator's discrete step table
// to a device-level amplitude.
type AttenuatorInterface interface {
	Device

	// Intensity translates a logical intensity level into an
	// attenuation request on the underlying Attenuator and returns
	// the realised intensity plus any Overflow/Underflow flags.
	Intensity(channel int, intensity float64) (realised float64, flags errs.Flag)
	MaxIntensity() float64
	MinIntensity() float64
}

// Miscellaneous is the catch-all capability group for plugins that
// implement neither analog I/O, digital I/O, trigger nor attenuator
// contracts but still need a slot in the registry.
type Miscellaneous interface {
	Device
}
