package storage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildWAV assembles a minimal RIFF/WAVE file with the given byte rate
// and data payload size.
func buildWAV(byteRate uint32, dataSize uint32, declaredSize int32) []byte {
	buf := make([]byte, 0, 44+dataSize)

	data := make([]byte, dataSize)

	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:2], 1) // PCM
	binary.LittleEndian.PutUint16(fmtChunk[2:4], 18)
	binary.LittleEndian.PutUint32(fmtChunk[4:8], 48000)
	binary.LittleEndian.PutUint32(fmtChunk[8:12], byteRate)

	declared := uint32(declaredSize)
	if declaredSize < 0 {
		declared = dataSize
	}

	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, 36+dataSize)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = append(buf, fmtChunk...)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, declared)
	buf = append(buf, data...)
	return buf
}

func writeWAV(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "take_001.wav")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbeDuration(t *testing.T) {
	// 2 seconds of audio at a 1000 bytes/sec byte rate.
	path := writeWAV(t, buildWAV(1000, 2000, -1))

	d, err := ProbeDuration(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if d != 2.0 {
		t.Errorf("expected 2.0s, got %v", d)
	}
}

func TestProbeDurationStaleSizeField(t *testing.T) {
	// Interrupted captures leave a zero data size; duration must come
	// from the bytes on disk instead.
	path := writeWAV(t, buildWAV(1000, 3000, 0))

	d, err := ProbeDuration(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if d != 3.0 {
		t.Errorf("expected 3.0s from file size, got %v", d)
	}
}

func TestProbeDurationRejectsNonWAV(t *testing.T) {
	path := writeWAV(t, []byte("definitely not audio data, padded to be long enough"))
	if _, err := ProbeDuration(path); err == nil {
		t.Error("expected error for non-WAV file")
	}
}

func TestHasAudioData(t *testing.T) {
	small := writeWAV(t, make([]byte, 44))
	if HasAudioData(small) {
		t.Error("header-only file reported as holding audio data")
	}

	big := writeWAV(t, buildWAV(1000, 100, -1))
	if !HasAudioData(big) {
		t.Error("file with payload reported as empty")
	}

	if HasAudioData(filepath.Join(t.TempDir(), "missing.wav")) {
		t.Error("missing file reported as holding audio data")
	}
}
