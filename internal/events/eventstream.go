// Package events implements event streams and detectors: an
// append-only (time, size, width) tuple stream with a fixed-capacity
// history, and a generic peak threshold detector (troughs are not
// detected) with adaptive threshold, cross-tick continuity, timing
// refinement, and debouncing. Configuration field names (Threshold,
// MinThresh, MaxThresh, Ratio, Adapt, RefractoryPeriod,
// FitWindowFraction, FitMethod, MaxWidth, BaselineTau, UpdateTime,
// HistoryTime) describe an analog spike detector's tunables.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/relacs/relacsd/internal/ids"
)

// Event is one detected occurrence on a trace.
type Event struct {
	Time  float64 // seconds
	Size  float64 // secondary unit, peak - baseline
	Width float64 // seconds
}

// Stream is an append-only ring of the last Capacity events, with a
// monotonically increasing size() cursor mirroring InTrace's
// publication discipline; readers see the retained events through
// Recent and Last.
type Stream struct {
	mu       sync.RWMutex
	capacity int
	events   []Event
	size     atomic.Int64 // total events ever appended

	ready   chan struct{}
	readyMu sync.Mutex
}

// NewStream creates an EventStream that keeps the last capacity events.
func NewStream(capacity int) *Stream {
	s := &Stream{capacity: capacity, events: make([]Event, 0, capacity), ready: make(chan struct{})}
	return s
}

// Append adds an event. Within one stream events must be appended in
// strictly increasing time order; Append panics on violation since
// that would indicate a detector bug, not bad input.
func (s *Stream) Append(e Event) {
	s.mu.Lock()
	if n := len(s.events); n > 0 && e.Time <= s.events[n-1].Time {
		s.mu.Unlock()
		panic("events: out-of-order append")
	}
	if len(s.events) >= s.capacity {
		s.events = s.events[1:]
	}
	s.events = append(s.events, e)
	s.mu.Unlock()
	s.size.Add(1)
	s.publishReady()
}

func (s *Stream) publishReady() {
	s.readyMu.Lock()
	close(s.ready)
	s.ready = make(chan struct{})
	s.readyMu.Unlock()
}

func (s *Stream) waitChan() <-chan struct{} {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	return s.ready
}

// Size returns the total number of events ever appended.
func (s *Stream) Size() ids.SampleIndex { return ids.SampleIndex(s.size.Load()) }

// Recent returns a copy of up to n most recently appended events,
// oldest first.
func (s *Stream) Recent(n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.events) {
		n = len(s.events)
	}
	out := make([]Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

// Last returns the most recently appended event and whether one exists.
func (s *Stream) Last() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return Event{}, false
	}
	return s.events[len(s.events)-1], true
}

// WaitForEvents blocks until Size() >= min or stop is closed.
func (s *Stream) WaitForEvents(min ids.SampleIndex, stop <-chan struct{}) bool {
	for s.Size() < min {
		ch := s.waitChan()
		select {
		case <-ch:
		case <-stop:
			return s.Size() >= min
		}
	}
	return true
}
