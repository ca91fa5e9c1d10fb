// Package storage is the gateway to the mounted recording volume: path
// resolution for take files, writability and free-space checks, and the
// yaml sidecar markers that record a take's terminal status.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// TakeExtension is the fixed extension for take audio files.
const TakeExtension = ".wav"

// Marker is the yaml sidecar written next to a take file when it is
// finalized. A take file with no sidecar is treated as Incomplete on
// rescan.
type Marker struct {
	Status      string    `yaml:"status"`
	Duration    float64   `yaml:"duration_seconds,omitempty"`
	Channels    int       `yaml:"channels,omitempty"`
	SampleRate  int       `yaml:"sample_rate,omitempty"`
	FinalizedAt time.Time `yaml:"finalized_at"`
}

// ScannedTake is one take file discovered by ScanTakes.
type ScannedTake struct {
	Sequence int
	Tag      string
	Path     string
	Size     int64
	Marker   *Marker
}

// CheckWritable verifies the directory exists and accepts new files by
// creating and removing a probe file.
func CheckWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("session directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("session directory is not a directory: %s", dir)
	}

	probe, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("session directory not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// FreeSpace reports the bytes available to unprivileged writers on the
// filesystem holding dir.
func FreeSpace(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// ResolveTakePath builds the deterministic path for a take:
// <dir>/<tag>_NNN.wav with a zero-padded sequence number.
func ResolveTakePath(dir, tag string, sequence int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%03d%s", tag, sequence, TakeExtension))
}

// MarkerPath returns the sidecar path for a take file.
func MarkerPath(takePath string) string {
	return strings.TrimSuffix(takePath, TakeExtension) + ".yaml"
}

// WriteMarker persists a take's terminal status next to its audio file.
func WriteMarker(takePath string, m Marker) error {
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshaling take marker: %w", err)
	}
	if err := os.WriteFile(MarkerPath(takePath), data, 0644); err != nil {
		return fmt.Errorf("writing take marker: %w", err)
	}
	return nil
}

// ReadMarker loads a take's sidecar. Returns (nil, nil) if no sidecar
// exists.
func ReadMarker(takePath string) (*Marker, error) {
	data, err := os.ReadFile(MarkerPath(takePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading take marker: %w", err)
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing take marker %s: %w", MarkerPath(takePath), err)
	}
	return &m, nil
}

var takeNamePattern = regexp.MustCompile(`^(.+)_(\d{3,})\` + TakeExtension + `$`)

// ScanTakes rebuilds the take list from directory contents, ordered by
// sequence number. Only files matching the <tag>_NNN.wav scheme are
// considered; everything else in the directory is ignored.
func ScanTakes(dir string) ([]ScannedTake, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning session directory: %w", err)
	}

	var takes []ScannedTake
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := takeNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		marker, err := ReadMarker(path)
		if err != nil {
			return nil, err
		}

		takes = append(takes, ScannedTake{
			Sequence: seq,
			Tag:      m[1],
			Path:     path,
			Size:     info.Size(),
			Marker:   marker,
		})
	}

	sort.Slice(takes, func(i, j int) bool { return takes[i].Sequence < takes[j].Sequence })
	return takes, nil
}

// FileSize returns the current size of a take file, or 0 if it does not
// exist yet.
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
