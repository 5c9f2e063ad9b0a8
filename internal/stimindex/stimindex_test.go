package stimindex

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRingKeepsOnlyCapacityMostRecent(t *testing.T) {
	r := NewRing(2)
	r.Append(Descriptor{Ident: "a"})
	r.Append(Descriptor{Ident: "b"})
	r.Append(Descriptor{Ident: "c"})

	recent := r.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d items, want 2", len(recent))
	}
	if recent[0].Ident != "b" || recent[1].Ident != "c" {
		t.Fatalf("Recent(2) = %+v, want [b c]", recent)
	}
}

func TestRingRecentMoreThanAvailable(t *testing.T) {
	r := NewRing(4)
	r.Append(Descriptor{Ident: "only"})
	recent := r.Recent(10)
	if len(recent) != 1 {
		t.Fatalf("Recent(10) returned %d items, want 1", len(recent))
	}
}

func TestWriterLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stim.idx")
	w := NewWriter(path)
	if err := w.CreateFile(); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if w.HeaderWritten() {
		t.Fatal("HeaderWritten should be false before WriteHeader")
	}
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if !w.HeaderWritten() {
		t.Fatal("HeaderWritten should be true after WriteHeader")
	}
	if err := w.WriteHeader(); err == nil {
		t.Fatal("expected error writing header twice")
	}

	d := Descriptor{
		SignalIndex: 1000,
		StartTime:   1.5,
		Trace:       "V-1",
		Intensity:   3.0,
		Waveform:    "sine:200Hz:3V",
		Duration:    0.5,
		Ident:       "sine-01",
	}
	if err := w.WriteRecord(d); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if w.RecordsWritten() != 1 {
		t.Fatalf("RecordsWritten() = %d, want 1", w.RecordsWritten())
	}
	if err := w.WriteRecord(d); err != nil {
		t.Fatalf("second WriteRecord: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.RecordsWritten() != 2 {
		t.Fatalf("RecordsWritten() = %d, want 2", w.RecordsWritten())
	}

	stat, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Size() == 0 {
		t.Fatal("expected non-empty file after Close")
	}
}

func TestWriteRecordBeforeHeaderErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stim.idx")
	w := NewWriter(path)
	if err := w.CreateFile(); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := w.WriteRecord(Descriptor{Ident: "too-early"}); err == nil {
		t.Fatal("expected error writing record before header")
	}
}
