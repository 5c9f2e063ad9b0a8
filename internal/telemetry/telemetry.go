// Package telemetry publishes stimulus-descriptor and event-stream
// summary records on ZMQ PUB sockets: a Channeler per topic,
// wire-format records built with encoding/binary into a []byte pair
// and pushed onto the Channeler's SendChan. This is the attachment
// point a downstream Sink/Presentation layer subscribes to, sitting
// between the acquisition-side producers and everything downstream.
package telemetry

import (
	"bytes"
	"encoding/binary"
	"fmt"

	czmq "github.com/zeromq/goczmq"
)

// Publisher holds the optional PUB channelers; a nil channeler means
// that topic is not being published.
type Publisher struct {
	StimulusPub *czmq.Channeler
	EventPub    *czmq.Channeler
}

func (p *Publisher) HasStimulusPub() bool { return p.StimulusPub != nil }
func (p *Publisher) HasEventPub() bool    { return p.EventPub != nil }

// SetStimulusPub opens a PUB socket bound to hostname (e.g.
// "tcp://*:5570") for StimulusDescriptor records.
func (p *Publisher) SetStimulusPub(hostname string) {
	if p.StimulusPub != nil {
		panic("telemetry: StimulusPub already set, call RemoveStimulusPub first")
	}
	p.StimulusPub = czmq.NewPubChanneler(hostname)
}

func (p *Publisher) RemoveStimulusPub() {
	p.StimulusPub.Destroy()
	p.StimulusPub = nil
}

// SetEventPub opens a PUB socket bound to hostname for event-stream
// summary records.
func (p *Publisher) SetEventPub(hostname string) {
	if p.EventPub != nil {
		panic("telemetry: EventPub already set, call RemoveEventPub first")
	}
	p.EventPub = czmq.NewPubChanneler(hostname)
}

func (p *Publisher) RemoveEventPub() {
	p.EventPub.Destroy()
	p.EventPub = nil
}

// StimulusRecord is the wire payload for one stamped stimulus.
type StimulusRecord struct {
	SignalIndex int64
	StartTime   float64
	Trace       string
	Intensity   float64
	Ident       string
}

// PublishStimulus pushes rec onto StimulusPub's SendChan if publishing
// is enabled; a no-op otherwise.
func (p *Publisher) PublishStimulus(rec StimulusRecord) {
	if !p.HasStimulusPub() {
		return
	}
	p.StimulusPub.SendChan <- messageStimulus(rec)
}

// EventSummary is a periodic detector-rate snapshot for one event
// stream.
type EventSummary struct {
	Ident    string
	Count    int64
	Rate     float64
	MeanSize float64
}

// PublishEventSummary pushes summary onto EventPub's SendChan if
// publishing is enabled.
func (p *Publisher) PublishEventSummary(summary EventSummary) {
	if !p.HasEventPub() {
		return
	}
	p.EventPub.SendChan <- messageEventSummary(summary)
}

// messageStimulus builds a two-part multipart message: a fixed-size
// header of the scalar fields, then the variable-length identifier
// strings length-prefixed in a separate payload part.
func messageStimulus(rec StimulusRecord) [][]byte {
	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, rec.SignalIndex)
	binary.Write(header, binary.LittleEndian, rec.StartTime)
	binary.Write(header, binary.LittleEndian, rec.Intensity)

	payload := new(bytes.Buffer)
	writeString(payload, rec.Trace)
	writeString(payload, rec.Ident)
	return [][]byte{header.Bytes(), payload.Bytes()}
}

func messageEventSummary(s EventSummary) [][]byte {
	header := new(bytes.Buffer)
	binary.Write(header, binary.LittleEndian, s.Count)
	binary.Write(header, binary.LittleEndian, s.Rate)
	binary.Write(header, binary.LittleEndian, s.MeanSize)

	payload := new(bytes.Buffer)
	writeString(payload, s.Ident)
	return [][]byte{header.Bytes(), payload.Bytes()}
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

// DefaultStimulusHostname and DefaultEventHostname build a
// "tcp://*:<port>" ZMQ bind address, using a distinct pair of default
// ports for the relacsd control plane.
func DefaultStimulusHostname(port int) string {
	return fmt.Sprintf("tcp://*:%d", port)
}

func DefaultEventHostname(port int) string {
	return fmt.Sprintf("tcp://*:%d", port)
}
