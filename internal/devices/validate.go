package devices

import "github.com/relacs/relacsd/internal/errs"

// ValidateChannelSpecs runs the generic checks every AnalogInput/
// AnalogOutput plugin must apply before accepting a batch of
// ChannelSpecs, grounded on AnalogInput::testReadData in the original
// RELACS source: channel range, sample rate vs maxRate, reference
// validity, gain index range, and "all specs in one batch share one
// start source, one delay, one sample rate" (a single device's traces
// must be homogeneous on those axes even though different devices in
// a co-start group need not be).
func ValidateChannelSpecs(specs []ChannelSpec, channels int, maxRate float64, maxRanges int) errs.Flag {
	var flags errs.Flag
	if len(specs) == 0 {
		return errs.NoData
	}

	startSource := specs[0].StartSource
	delay := specs[0].Delay
	rate := specs[0].SampleRate
	for _, s := range specs {
		if s.Channel < 0 || s.Channel >= channels {
			flags |= errs.InvalidChannel
		}
		if s.SampleRate <= 0 || s.SampleRate > maxRate {
			flags |= errs.InvalidSampleRate
		}
		if s.Reference != Differential && s.Reference != Common && s.Reference != Ground && s.Reference != OtherReference {
			flags |= errs.InvalidReference
		}
		if s.GainIndex < 0 || s.GainIndex >= maxRanges {
			flags |= errs.InvalidGain
		}
		if s.Delay < 0 {
			flags |= errs.InvalidDelay
		}
		if s.StartSource != startSource {
			flags |= errs.MultipleStartSources
		}
		if s.Delay != delay {
			flags |= errs.MultipleDelays
		}
		if s.SampleRate != rate {
			flags |= errs.MultipleSampleRates
		}
	}
	return flags
}
