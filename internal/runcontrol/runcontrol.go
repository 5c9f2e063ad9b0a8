// Package runcontrol implements the RePro/Session state machine, macro
// handoff, and the cooperative cancellation contract a RePro runs
// under. The supervisor/worker split and duplicate-name
// uniquification generalize a signal-based RePro wrapper
// (MacroName/MacroParam, a startRePro/stopRePro signal pair, and a
// "for k; for j=k+1 ..." duplicate-name-on-collision loop) into a
// goroutine/channel pair.
package runcontrol

import (
	"fmt"
	"sync"
	"time"

	"github.com/relacs/relacsd/internal/errs"
	"github.com/relacs/relacsd/internal/stimulus"
)

// MacroAction is consulted when the running RePro returns, to decide
// what runs next.
type MacroAction int

const (
	Continue MacroAction = iota
	FallBack
	ExplicitFallBack
)

// ReProFunc is a RePro: a plain Go function taking a context that
// bundles everything it needs.
type ReProFunc func(ctx *ReProContext) errs.Result

// TraceView and EventView are the read-only collaborator views handed
// to a RePro, kept as minimal interfaces rather than the concrete
// acquisition.InTrace/events.Stream types so a RePro's contract is
// expressed independently of the acquisition/events internals; see
// views.go for the adapters that wrap the concrete types.
type TraceView interface {
	Size() int64
	WaitForSamples(min int64, stop <-chan struct{}) bool
}

type EventView interface {
	Size() int64
	WaitForEvents(min int64, stop <-chan struct{}) bool
}

// ReProContext is the RePro-facing contract: read-only trace/event
// views that track live cursors, a write handle to the
// StimulusEngine, and a cooperative interrupt predicate.
type ReProContext struct {
	stimulus  *stimulus.Engine
	traces    map[string]TraceView
	events    map[string]EventView
	interrupt <-chan struct{}
}

// Traces returns the read-only InTrace views available to this RePro,
// keyed by ident.
func (c *ReProContext) Traces() map[string]TraceView { return c.traces }

// Events returns the read-only EventStream views available to this
// RePro, keyed by ident.
func (c *ReProContext) Events() map[string]EventView { return c.events }

// WaitSamples blocks until the named trace has at least min samples,
// or the RePro is interrupted.
func (c *ReProContext) WaitSamples(trace string, min int64) bool {
	t, ok := c.traces[trace]
	if !ok {
		return false
	}
	return t.WaitForSamples(min, c.interrupt)
}

// WriteStimulus submits signal for direct or timed output, per the
// signal's StepSize (0 means direct/DC).
func (c *ReProContext) WriteStimulus(signal *stimulus.OutSignal) errs.Result {
	if signal.StepSize <= 0 {
		return c.stimulus.DirectWrite(signal)
	}
	return c.stimulus.TimedWrite(signal)
}

// Interrupted reports whether a stop has been requested.
func (c *ReProContext) Interrupted() bool {
	select {
	case <-c.interrupt:
		return true
	default:
		return false
	}
}

// SleepFor blocks for d or until interrupted, whichever comes first,
// returning true if it returned early due to interruption.
func (c *ReProContext) SleepFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-c.interrupt:
		return true
	}
}

// reproSlot holds the one RePro that may be Running at a time.
type reproSlot struct {
	name      string
	cancel    chan struct{}
	done      chan struct{}
	result    errs.Result
}

// RunControl is the supervisor that runs RePros one at a time.
type RunControl struct {
	mu      sync.Mutex
	current *reproSlot
	names   map[string]bool

	sessionRunning bool

	stimEngine *stimulus.Engine
	traces     map[string]TraceView
	events     map[string]EventView

	// GracePeriod bounds how long WaitStopped() waits for the RePro
	// to return after Stop() before the caller is told it may have to
	// force a hard interrupt. RunControl itself never kills a
	// goroutine; WaitStopped() simply reports whether the grace period
	// elapsed, and the caller decides what "hard interrupt" means.
	GracePeriod time.Duration

	fallback  ReProFunc
	onMacro   MacroAction
}

// New creates a RunControl driving the given StimulusEngine.
func New(stimEngine *stimulus.Engine) *RunControl {
	return &RunControl{
		names:       make(map[string]bool),
		stimEngine:  stimEngine,
		traces:      make(map[string]TraceView),
		events:      make(map[string]EventView),
		GracePeriod: 2 * time.Second,
	}
}

// RegisterTrace makes an InTrace view available to every RePro run
// from this point on, under ident.
func (rc *RunControl) RegisterTrace(ident string, v TraceView) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.traces[ident] = v
}

// RegisterEvent makes an EventStream view available to every RePro
// run from this point on, under ident.
func (rc *RunControl) RegisterEvent(ident string, v EventView) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.events[ident] = v
}

// UniqueName registers name, appending an incrementing suffix on
// collision.
func (rc *RunControl) UniqueName(name string) string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	candidate := name
	for k := 2; rc.names[candidate]; k++ {
		candidate = fmt.Sprintf("%s-%d", name, k)
	}
	rc.names[candidate] = true
	return candidate
}

// SessionRunning reports whether a Session is Running, gating
// persistence/Sink behavior.
func (rc *RunControl) SessionRunning() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.sessionRunning
}

func (rc *RunControl) SetSessionRunning(running bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.sessionRunning = running
}

// Start transitions any currently Running RePro to Stopping and waits
// for it to return, then hands repro a fresh context and runs it on a
// dedicated worker goroutine.
func (rc *RunControl) Start(name string, repro ReProFunc) {
	rc.mu.Lock()
	prev := rc.current
	rc.mu.Unlock()

	if prev != nil {
		rc.Stop()
		<-prev.done
	}

	slot := &reproSlot{name: name, cancel: make(chan struct{}), done: make(chan struct{})}
	rc.mu.Lock()
	rc.current = slot
	traces := make(map[string]TraceView, len(rc.traces))
	for k, v := range rc.traces {
		traces[k] = v
	}
	evs := make(map[string]EventView, len(rc.events))
	for k, v := range rc.events {
		evs[k] = v
	}
	rc.mu.Unlock()

	ctx := &ReProContext{stimulus: rc.stimEngine, traces: traces, events: evs, interrupt: slot.cancel}

	go func() {
		defer close(slot.done)
		result := repro(ctx)
		slot.result = result
		rc.handleCompletion(slot, result)
	}()
}

// Stop sets the current RePro's cancellation flag; the RePro is
// expected to return at its next cooperative check. It does not
// block.
func (rc *RunControl) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.current == nil {
		return
	}
	select {
	case <-rc.current.cancel:
	default:
		close(rc.current.cancel)
	}
}

// WaitStopped blocks until the current RePro has returned or the
// grace period elapses, returning false in the latter case (the
// caller may then decide to force a hard interrupt).
func (rc *RunControl) WaitStopped() bool {
	rc.mu.Lock()
	slot := rc.current
	rc.mu.Unlock()
	if slot == nil {
		return true
	}
	select {
	case <-slot.done:
		return true
	case <-time.After(rc.GracePeriod):
		return false
	}
}

// SetHandoff designates a fallback RePro and the macro action applied
// when the current RePro finishes.
func (rc *RunControl) SetHandoff(action MacroAction, fallback ReProFunc) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.onMacro = action
	rc.fallback = fallback
}

func (rc *RunControl) handleCompletion(slot *reproSlot, result errs.Result) {
	rc.mu.Lock()
	if rc.current == slot {
		rc.current = nil
	}
	action := rc.onMacro
	fallback := rc.fallback
	if fallback != nil && result.Outcome != errs.Aborted && (action == FallBack || action == ExplicitFallBack) {
		rc.onMacro = Continue
		rc.fallback = nil
	}
	rc.mu.Unlock()

	if fallback == nil {
		return
	}
	switch {
	case result.Outcome == errs.Aborted:
		return // aborted RePros do not trigger handoff
	case action == Continue:
		return
	case action == FallBack, action == ExplicitFallBack:
		rc.Start(rc.UniqueName(slot.name+"-fallback"), fallback)
	}
}
