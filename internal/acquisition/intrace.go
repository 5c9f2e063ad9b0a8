// Package acquisition implements the cyclic InTrace buffer, one worker
// goroutine per analog input device, co-start, and gain activation. The
// per-trace metadata (SignalIndex, RestartIndex, GainIndex, Scale,
// Unit, MinValue/MaxValue, Reference, Unipolar, Ident) mirrors the
// fields a hardware driver needs to describe one armed input channel;
// a channel's Delay and StartSource are not stored on the InTrace and
// stay on the devices.ChannelSpec it was armed from. The append/trim discipline keeps a
// fixed-capacity ring of absolute 64-bit sample indices, trimming the
// oldest segment whenever a new append would exceed capacity.
package acquisition

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/ids"
)

// InTrace is the cyclic input buffer. It has exactly one writer (the
// AcquisitionEngine worker for its device) and any number of readers.
// The writer publishes size via atomic.Int64 after the corresponding
// samples are durable in the ring, so a reader that observes
// size()==N may read [minIndex(),N) without tearing.
type InTrace struct {
	// Static configuration, set once when the trace is armed and
	// immutable thereafter except across a reconfiguration guarded
	// by cfgMu (gain changes, reset).
	cfgMu sync.RWMutex

	Trace       ids.TraceID
	Device      ids.DeviceID
	Channel     int
	Reference   devices.Reference
	Unipolar    bool
	GainIndex   int
	MinValue    float64
	MaxValue    float64
	Unit        string
	Mode        int
	Ident       string
	stepSize    float64 // seconds/sample; 0 until armed
	scale       float64 // raw-to-secondary conversion factor

	capacity    int64
	writeMargin int64
	ring        []float32

	size         atomic.Int64 // total samples written since reset, monotonic
	signalIndex  atomic.Int64 // most recent stimulus-onset index, or ids.NoSignal
	restartIndex atomic.Int64 // index timing was last restarted at

	sampleReady chan struct{} // closed+replaced on every publish, used by waiters
	readyMu     sync.Mutex
}

// NewInTrace creates an InTrace with the given ring capacity. The
// trace starts unarmed (stepSize==0); Arm must be called before
// samples may be appended, after which stepSize is always > 0.
func NewInTrace(trace ids.TraceID, device ids.DeviceID, capacity int) *InTrace {
	t := &InTrace{
		Trace:       trace,
		Device:      device,
		capacity:    int64(capacity),
		writeMargin: 0,
		ring:        make([]float32, capacity),
		scale:       1.0,
	}
	t.signalIndex.Store(int64(ids.NoSignal))
	t.sampleReady = make(chan struct{})
	return t
}

// Arm sets the per-trace parameters finalized by AcquisitionEngine.prepare:
// sample interval, scale, channel metadata. Must be called before the
// device's worker starts appending.
func (t *InTrace) Arm(stepSize, scale float64, channel int, ref devices.Reference, unipolar bool, gainIndex int, minV, maxV float64, unit, ident string) error {
	if stepSize <= 0 {
		return fmt.Errorf("acquisition: stepSize must be > 0, got %v", stepSize)
	}
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()
	t.stepSize = stepSize
	t.scale = scale
	t.Channel = channel
	t.Reference = ref
	t.Unipolar = unipolar
	t.GainIndex = gainIndex
	t.MinValue = minV
	t.MaxValue = maxV
	t.Unit = unit
	t.Ident = ident
	return nil
}

// StepSize returns the sample interval in seconds, 0 if unarmed.
func (t *InTrace) StepSize() float64 {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.stepSize
}

// Scale returns the raw-to-secondary conversion factor in effect for
// samples written after the last gain activation.
func (t *InTrace) Scale() float64 {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return t.scale
}

// Capacity returns the ring's fixed capacity.
func (t *InTrace) Capacity() int64 { return t.capacity }

// Size returns the total number of samples written since the last
// Reset (monotonic, never decreases except across Reset).
func (t *InTrace) Size() ids.SampleIndex { return ids.SampleIndex(t.size.Load()) }

// MinIndex returns the oldest index still valid to read:
// max(0, size - capacity + writeMargin).
func (t *InTrace) MinIndex() ids.SampleIndex {
	n := t.size.Load() - t.capacity + t.writeMargin
	if n < 0 {
		n = 0
	}
	return ids.SampleIndex(n)
}

// SignalIndex returns the index of the most recent stimulus onset, or
// ids.NoSignal if none has occurred since the last Reset.
func (t *InTrace) SignalIndex() ids.SampleIndex { return ids.SampleIndex(t.signalIndex.Load()) }

// RestartIndex returns the index at which timing was last restarted
// after a stop/reset/gain-activation gap.
func (t *InTrace) RestartIndex() ids.SampleIndex { return ids.SampleIndex(t.restartIndex.Load()) }

// Append is called by exactly one goroutine (the owning AcquisitionEngine
// worker). It writes samples into the ring at physical slot
// index%capacity and then release-publishes the new size, so any
// reader that subsequently observes the new Size() is guaranteed to
// see these samples.
func (t *InTrace) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	start := t.size.Load()
	cap := t.capacity
	for i, v := range samples {
		slot := (start + int64(i)) % cap
		t.ring[slot] = v
	}
	t.size.Store(start + int64(len(samples)))
	t.publishReady()
}

func (t *InTrace) publishReady() {
	t.readyMu.Lock()
	close(t.sampleReady)
	t.sampleReady = make(chan struct{})
	t.readyMu.Unlock()
}

// waitChan returns the channel that closes the next time Append (or
// SetSignalIndex/Reset) publishes new state.
func (t *InTrace) waitChan() <-chan struct{} {
	t.readyMu.Lock()
	defer t.readyMu.Unlock()
	return t.sampleReady
}

// SetSignalIndex publishes a new stimulus-onset index. It must be
// called only after the onset sample itself has been appended
// (Append) to this trace, so any reader observing the new SignalIndex
// also observes the corresponding samples.
func (t *InTrace) SetSignalIndex(idx ids.SampleIndex) {
	t.signalIndex.Store(int64(idx))
	t.publishReady()
}

// SetRestartIndex publishes a new restart index, called by the engine
// after a gain-activation or error-recovery gap.
func (t *InTrace) SetRestartIndex(idx ids.SampleIndex) {
	t.restartIndex.Store(int64(idx))
}

// ErrRange is returned by Slice/At when the requested index is
// outside [MinIndex(), Size()).
var ErrRange = fmt.Errorf("acquisition: index out of valid range")

// At returns the sample at absolute index idx. idx must be in
// [MinIndex(), Size()).
func (t *InTrace) At(idx ids.SampleIndex) (float32, error) {
	if idx < t.MinIndex() || idx >= t.Size() {
		return 0, ErrRange
	}
	slot := int64(idx) % t.capacity
	return t.ring[slot], nil
}

// Slice copies the half-open range [from, to) into a freshly allocated
// slice. A reader that observed Size()==N may call Slice(MinIndex(), N)
// and is guaranteed an atomic, non-torn view because the writer never
// overwrites a slot until size has advanced past it by a full lap.
func (t *InTrace) Slice(from, to ids.SampleIndex) ([]float32, error) {
	if from > to {
		return nil, fmt.Errorf("acquisition: from %d > to %d", from, to)
	}
	if from < t.MinIndex() || to > t.Size() {
		return nil, ErrRange
	}
	out := make([]float32, 0, to-from)
	for i := from; i < to; i++ {
		slot := int64(i) % t.capacity
		out = append(out, t.ring[slot])
	}
	return out, nil
}

// Reset clears the cyclic buffer back to empty and republishes a
// fresh signalIndex/restartIndex. Calling Reset twice in a row is
// idempotent.
func (t *InTrace) Reset() {
	t.size.Store(0)
	t.signalIndex.Store(int64(ids.NoSignal))
	t.restartIndex.Store(0)
	t.publishReady()
}

// WaitForSamples blocks until Size() >= min or the channel stop is
// closed for cooperative cancellation; it has no timeout of its own.
// It returns true once the condition is satisfied, and false if stop
// closed first with fewer than min samples written.
func (t *InTrace) WaitForSamples(min ids.SampleIndex, stop <-chan struct{}) bool {
	for t.Size() < min {
		ch := t.waitChan()
		select {
		case <-ch:
		case <-stop:
			return t.Size() >= min
		}
	}
	return true
}
