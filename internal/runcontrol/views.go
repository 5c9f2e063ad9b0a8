package runcontrol

import (
	"github.com/relacs/relacsd/internal/acquisition"
	"github.com/relacs/relacsd/internal/events"
	"github.com/relacs/relacsd/internal/ids"
)

func sampleIndex(v int64) ids.SampleIndex { return ids.SampleIndex(v) }

// TraceAdapter adapts an *acquisition.InTrace to the TraceView
// interface, converting between ids.SampleIndex and the plain int64
// that the TraceView/EventView interfaces are written in.
type TraceAdapter struct{ Trace *acquisition.InTrace }

func (a TraceAdapter) Size() int64 { return int64(a.Trace.Size()) }

func (a TraceAdapter) WaitForSamples(min int64, stop <-chan struct{}) bool {
	return a.Trace.WaitForSamples(sampleIndex(min), stop)
}

// EventAdapter adapts an *events.Stream to the EventView interface.
type EventAdapter struct{ Stream *events.Stream }

func (a EventAdapter) Size() int64 { return int64(a.Stream.Size()) }

func (a EventAdapter) WaitForEvents(min int64, stop <-chan struct{}) bool {
	return a.Stream.WaitForEvents(sampleIndex(min), stop)
}
