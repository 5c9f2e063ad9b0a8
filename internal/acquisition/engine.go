package acquisition

import (
	"fmt"
	"log"
	"sync"

	"github.com/relacs/relacsd/internal/devices"
	"github.com/relacs/relacsd/internal/errs"
	"github.com/relacs/relacsd/internal/ids"
)

// TraceRequest bundles the configuration needed to arm one InTrace
// against one AnalogInput device.
type TraceRequest struct {
	Trace      ids.TraceID
	Device     ids.DeviceID
	Input      devices.AnalogInput
	Spec       devices.ChannelSpec
	Unit       string
	Ident      string
	MinValue   float64
	MaxValue   float64
	Capacity   int
	RawToScale float64 // secondary-unit volts per raw ADC count, 0 means 1.0; applied as given (GainIndex does not enter it), ActivateGains replaces it
}

// deviceWorker owns one physical AnalogInput device and the InTraces
// multiplexed onto its channels: one goroutine drives
// ReadData/ConvertData in a loop until stopped.
type deviceWorker struct {
	device  devices.AnalogInput
	traces  []*InTrace
	specs   []devices.ChannelSpec
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// Engine is the AcquisitionEngine: it owns the per-device worker
// goroutines and the InTrace buffers they feed.
type Engine struct {
	mu      sync.Mutex
	workers map[ids.DeviceID]*deviceWorker
	traces  map[ids.TraceID]*InTrace

	// onPublish, if set, is called after every read/convert/append
	// cycle with the device id that advanced, letting FilterGraph and
	// EventStreams schedule a tick without polling.
	onPublish func(ids.DeviceID)
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	return &Engine{
		workers: make(map[ids.DeviceID]*deviceWorker),
		traces:  make(map[ids.TraceID]*InTrace),
	}
}

// OnPublish installs the FilterGraph/EventStreams tick callback.
func (e *Engine) OnPublish(f func(ids.DeviceID)) { e.onPublish = f }

// Trace returns the InTrace for id, if it has been prepared.
func (e *Engine) Trace(id ids.TraceID) (*InTrace, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.traces[id]
	return t, ok
}

// Prepare validates each requested trace against its device and arms
// the InTrace ring buffers: rate <= maxRate, channel in range,
// reference valid, gain index in range, a single start source and
// consistent delay/sample rate across all traces of one device.
// It fails as a whole if any trace is fatal, returning the first
// non-zero per-trace error flag encountered.
func (e *Engine) Prepare(requests []TraceRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	byDevice := make(map[ids.DeviceID][]TraceRequest)
	for _, r := range requests {
		byDevice[r.Device] = append(byDevice[r.Device], r)
	}

	for devID, reqs := range byDevice {
		specs := make([]devices.ChannelSpec, len(reqs))
		for i, r := range reqs {
			specs[i] = r.Spec
		}
		input := reqs[0].Input
		if flags := input.TestRead(specs); flags != 0 {
			return fmt.Errorf("acquisition: prepare device %d: %w", devID, flags)
		}
		if flags := input.PrepareRead(specs); flags != 0 {
			return fmt.Errorf("acquisition: prepare device %d: %w", devID, flags)
		}

		w := &deviceWorker{device: input, specs: specs}
		for i, r := range reqs {
			capacity := r.Capacity
			if capacity <= 0 {
				capacity = 1 << 20
			}
			trace := NewInTrace(r.Trace, devID, capacity)
			scale := r.RawToScale
			if scale == 0 {
				scale = 1.0
			}
			if err := trace.Arm(1.0/r.Spec.SampleRate, scale, r.Spec.Channel, r.Spec.Reference, r.Spec.Unipolar, r.Spec.GainIndex, r.MinValue, r.MaxValue, r.Unit, r.Ident); err != nil {
				return fmt.Errorf("acquisition: arm trace %d: %w", r.Trace, err)
			}
			e.traces[r.Trace] = trace
			w.traces = append(w.traces, trace)
		}
		e.workers[devID] = w
	}
	return nil
}

// CoStartSet names the devices Start begins acquisition on: the primary
// first, then each secondary, each through its own StartRead call. No
// shared start trigger is used, so the secondaries' clocks are not
// latched to the primary's.
type CoStartSet struct {
	Primary    ids.DeviceID
	Secondaries []ids.DeviceID
}

// Start begins acquisition on every device in the co-start set. The
// primary's first sample index is defined as 0 on all devices; callers
// must never infer sample alignment from wall-clock time.
func (e *Engine) Start(set CoStartSet) error {
	e.mu.Lock()
	all := append([]ids.DeviceID{set.Primary}, set.Secondaries...)
	workers := make([]*deviceWorker, 0, len(all))
	for _, id := range all {
		w, ok := e.workers[id]
		if !ok {
			e.mu.Unlock()
			return fmt.Errorf("acquisition: device %d not prepared", id)
		}
		workers = append(workers, w)
	}
	e.mu.Unlock()

	for _, w := range workers {
		if err := w.device.StartRead(); err != nil {
			return fmt.Errorf("acquisition: startRead: %w", err)
		}
		w.stop = make(chan struct{})
		w.done = make(chan struct{})
		w.running = true
		go e.run(w)
	}
	return nil
}

// run is the worker body: read from the driver, convert raw to
// secondary units, append to the cyclic buffers, then publish.
// Read errors are retried up to maxTransientRetries times in a row;
// after that the device is stopped and the worker returns. No error is
// recorded on the device's traces and their waiters are not woken: a
// WaitForSamples caller stays blocked until its stop channel closes or
// the trace is next appended to or Reset.
func (e *Engine) run(w *deviceWorker) {
	defer close(w.done)
	staging := make([][]float32, w.device.Channels())
	const maxTransientRetries = 3
	retries := 0
	for {
		select {
		case <-w.stop:
			_ = w.device.Stop()
			return
		default:
		}

		if _, err := w.device.ReadData(); err != nil {
			if err == devices.ErrStopped {
				return
			}
			retries++
			if retries > maxTransientRetries {
				log.Printf("acquisition: device fatal error after %d retries: %v", retries, err)
				_ = w.device.Stop()
				return
			}
			continue
		}
		retries = 0

		for i := range staging {
			staging[i] = staging[i][:0]
		}
		n, err := w.device.ConvertData(staging)
		if err != nil {
			if err == devices.ErrStopped {
				return
			}
			log.Printf("acquisition: convertData error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		for i, trace := range w.traces {
			ch := w.specs[i].Channel
			raw := staging[ch]
			scale := trace.Scale()
			converted := make([]float32, len(raw))
			for j, v := range raw {
				converted[j] = v * float32(scale)
			}
			trace.Append(converted)
		}
		if e.onPublish != nil {
			e.onPublish(trace0Device(w))
		}
	}
}

func trace0Device(w *deviceWorker) ids.DeviceID {
	if len(w.traces) == 0 {
		return 0
	}
	return w.traces[0].Device
}

// Stop halts acquisition on the named device.
func (e *Engine) Stop(device ids.DeviceID) error {
	e.mu.Lock()
	w, ok := e.workers[device]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("acquisition: device %d not running", device)
	}
	if w.stop != nil {
		close(w.stop)
		<-w.done
	}
	return nil
}

// ActivateGains applies a pending per-channel gain change at the next
// safe boundary: stop hardware, rearm with new gains, set
// restartIndex = size() after the gap. errs.Flag is returned if the
// device rejects the new gain.
func (e *Engine) ActivateGains(trace ids.TraceID, newGainIndex int, newScale float64) error {
	e.mu.Lock()
	t, ok := e.traces[trace]
	var worker *deviceWorker
	if ok {
		worker = e.workers[t.Device]
	}
	e.mu.Unlock()
	if !ok || worker == nil {
		return fmt.Errorf("acquisition: trace %d not prepared", trace)
	}

	if err := e.Stop(t.Device); err != nil {
		return err
	}
	spec := worker.specs[0]
	spec.GainIndex = newGainIndex
	if flags := worker.device.PrepareRead(worker.specs); flags != 0 {
		return fmt.Errorf("acquisition: activateGains: %w", flags)
	}
	t.cfgMu.Lock()
	t.GainIndex = newGainIndex
	t.scale = newScale
	t.cfgMu.Unlock()
	t.SetRestartIndex(t.Size())

	if err := worker.device.StartRead(); err != nil {
		return err
	}
	worker.stop = make(chan struct{})
	worker.done = make(chan struct{})
	worker.running = true
	go e.run(worker)
	return nil
}

// WaitForSamples blocks until the given trace's Size() reaches min or
// stop is closed.
func (e *Engine) WaitForSamples(trace ids.TraceID, min ids.SampleIndex, stop <-chan struct{}) error {
	t, ok := e.Trace(trace)
	if !ok {
		return fmt.Errorf("acquisition: trace %d not prepared", trace)
	}
	if !t.WaitForSamples(min, stop) {
		return errs.Flag(0) // cancelled, caller distinguishes via stop channel
	}
	return nil
}
