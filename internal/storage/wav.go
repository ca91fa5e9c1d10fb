package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// wavHeaderSize is the smallest possible RIFF/WAVE header. A take file
// at or below this size carries no audio data.
const wavHeaderSize = 44

// HasAudioData reports whether a take file contains any samples beyond
// the WAV header. Used to distinguish a salvageable partial take from a
// corrupt one after a capture crash.
func HasAudioData(path string) bool {
	return FileSize(path) > wavHeaderSize
}

// ProbeDuration reads the WAV header of a finished take and computes
// its duration in seconds from the data chunk size and byte rate.
func ProbeDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening wav file: %w", err)
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return 0, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, fmt.Errorf("%s is not a WAV file", path)
	}

	var byteRate uint32
	// Walk chunks until both fmt (byte rate) and data (size) are seen.
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			return 0, fmt.Errorf("reading wav chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			var fmtChunk [16]byte
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return 0, fmt.Errorf("reading wav fmt chunk: %w", err)
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			if size > 16 {
				if _, err := f.Seek(int64(size-16), io.SeekCurrent); err != nil {
					return 0, err
				}
			}
		case "data":
			if byteRate == 0 {
				return 0, fmt.Errorf("wav data chunk before fmt chunk in %s", path)
			}
			dataBytes := int64(size)
			// An interrupted capture leaves a stale size field; fall
			// back to counting the bytes actually on disk.
			if size == 0 || size == 0xFFFFFFFF {
				pos, err := f.Seek(0, io.SeekCurrent)
				if err != nil {
					return 0, err
				}
				dataBytes = FileSize(path) - pos
				if dataBytes < 0 {
					dataBytes = 0
				}
			}
			return float64(dataBytes) / float64(byteRate), nil
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return 0, err
			}
		}
	}
}
