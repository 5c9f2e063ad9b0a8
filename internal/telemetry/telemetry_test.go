package telemetry

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestPublisherNoopWithoutSockets(t *testing.T) {
	p := &Publisher{}
	if p.HasStimulusPub() || p.HasEventPub() {
		t.Fatal("fresh Publisher should report no active sockets")
	}
	// Must not panic or block when no PUB socket is configured.
	p.PublishStimulus(StimulusRecord{Ident: "sine-01"})
	p.PublishEventSummary(EventSummary{Ident: "spikes-1"})
}

func TestMessageStimulusWireFormat(t *testing.T) {
	rec := StimulusRecord{
		SignalIndex: 4096,
		StartTime:   2.5,
		Trace:       "V-1",
		Intensity:   3.0,
		Ident:       "sine-01",
	}
	parts := messageStimulus(rec)
	if len(parts) != 2 {
		t.Fatalf("messageStimulus returned %d parts, want 2", len(parts))
	}
	header := bytes.NewReader(parts[0])
	var signalIndex int64
	var startTime, intensity float64
	if err := binary.Read(header, binary.LittleEndian, &signalIndex); err != nil {
		t.Fatalf("read SignalIndex: %v", err)
	}
	if err := binary.Read(header, binary.LittleEndian, &startTime); err != nil {
		t.Fatalf("read StartTime: %v", err)
	}
	if err := binary.Read(header, binary.LittleEndian, &intensity); err != nil {
		t.Fatalf("read Intensity: %v", err)
	}
	if signalIndex != rec.SignalIndex || startTime != rec.StartTime || intensity != rec.Intensity {
		t.Fatalf("decoded header = %v/%v/%v, want %v/%v/%v",
			signalIndex, startTime, intensity, rec.SignalIndex, rec.StartTime, rec.Intensity)
	}

	payload := bytes.NewReader(parts[1])
	trace := readString(t, payload)
	ident := readString(t, payload)
	if trace != rec.Trace || ident != rec.Ident {
		t.Fatalf("decoded payload = %q/%q, want %q/%q", trace, ident, rec.Trace, rec.Ident)
	}
}

func TestMessageEventSummaryWireFormat(t *testing.T) {
	s := EventSummary{Ident: "spikes-1", Count: 42, Rate: 17.5, MeanSize: 0.9}
	parts := messageEventSummary(s)
	if len(parts) != 2 {
		t.Fatalf("messageEventSummary returned %d parts, want 2", len(parts))
	}
	header := bytes.NewReader(parts[0])
	var count int64
	var rate, meanSize float64
	binary.Read(header, binary.LittleEndian, &count)
	binary.Read(header, binary.LittleEndian, &rate)
	binary.Read(header, binary.LittleEndian, &meanSize)
	if count != s.Count || rate != s.Rate || meanSize != s.MeanSize {
		t.Fatalf("decoded header = %v/%v/%v, want %v/%v/%v", count, rate, meanSize, s.Count, s.Rate, s.MeanSize)
	}
	payload := bytes.NewReader(parts[1])
	if ident := readString(t, payload); ident != s.Ident {
		t.Fatalf("decoded Ident = %q, want %q", ident, s.Ident)
	}
}

func readString(t *testing.T, r *bytes.Reader) string {
	t.Helper()
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("read string bytes: %v", err)
	}
	return string(buf)
}
