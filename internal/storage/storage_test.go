package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveTakePath(t *testing.T) {
	tests := []struct {
		tag      string
		sequence int
		want     string
	}{
		{"take", 1, "take_001.wav"},
		{"take", 42, "take_042.wav"},
		{"gig_20260826", 7, "gig_20260826_007.wav"},
		{"take", 1234, "take_1234.wav"},
	}
	for _, tt := range tests {
		got := ResolveTakePath("/data/session", tt.tag, tt.sequence)
		want := filepath.Join("/data/session", tt.want)
		if got != want {
			t.Errorf("ResolveTakePath(%s, %d) = %s, want %s", tt.tag, tt.sequence, got, want)
		}
	}
}

func TestMarkerPath(t *testing.T) {
	got := MarkerPath("/data/session/take_001.wav")
	if got != "/data/session/take_001.yaml" {
		t.Errorf("MarkerPath = %s", got)
	}
}

func TestMarkerRoundtrip(t *testing.T) {
	dir := t.TempDir()
	takePath := filepath.Join(dir, "take_001.wav")

	m := Marker{
		Status:      "complete",
		Duration:    12.5,
		Channels:    18,
		SampleRate:  48000,
		FinalizedAt: time.Now(),
	}
	if err := WriteMarker(takePath, m); err != nil {
		t.Fatalf("writing marker: %v", err)
	}

	got, err := ReadMarker(takePath)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if got == nil {
		t.Fatal("marker not found after write")
	}
	if got.Status != "complete" || got.Duration != 12.5 || got.Channels != 18 || got.SampleRate != 48000 {
		t.Errorf("marker fields lost: %+v", got)
	}
}

func TestReadMarkerMissing(t *testing.T) {
	m, err := ReadMarker(filepath.Join(t.TempDir(), "take_001.wav"))
	if err != nil {
		t.Fatalf("missing marker should not error: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil marker, got %+v", m)
	}
}

func TestScanTakesOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"take_003.wav", "take_001.wav", "take_002.wav"} {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, 100), 0644); err != nil {
			t.Fatal(err)
		}
	}
	// Files outside the naming scheme are ignored.
	for _, name := range []string{"session.yaml", "notes.txt", "take_01.wav", ".stagedeck.lock"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	takes, err := ScanTakes(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(takes) != 3 {
		t.Fatalf("expected 3 takes, got %d", len(takes))
	}
	for i, take := range takes {
		if take.Sequence != i+1 {
			t.Errorf("takes out of order: index %d has sequence %d", i, take.Sequence)
		}
		if take.Tag != "take" {
			t.Errorf("unexpected tag %s", take.Tag)
		}
		if take.Marker != nil {
			t.Errorf("unexpected marker on bare take %d", take.Sequence)
		}
	}
}

func TestScanTakesReadsMarkers(t *testing.T) {
	dir := t.TempDir()
	takePath := filepath.Join(dir, "take_001.wav")
	if err := os.WriteFile(takePath, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteMarker(takePath, Marker{Status: "complete", Duration: 3.0}); err != nil {
		t.Fatal(err)
	}

	takes, err := ScanTakes(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(takes) != 1 || takes[0].Marker == nil {
		t.Fatalf("marker not picked up: %+v", takes)
	}
	if takes[0].Marker.Status != "complete" || takes[0].Marker.Duration != 3.0 {
		t.Errorf("marker fields wrong: %+v", takes[0].Marker)
	}
}

func TestCheckWritable(t *testing.T) {
	if err := CheckWritable(t.TempDir()); err != nil {
		t.Errorf("temp dir should be writable: %v", err)
	}
	if err := CheckWritable(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFreeSpace(t *testing.T) {
	free, err := FreeSpace(t.TempDir())
	if err != nil {
		t.Fatalf("free space: %v", err)
	}
	if free == 0 {
		t.Error("expected nonzero free space on temp filesystem")
	}
}
