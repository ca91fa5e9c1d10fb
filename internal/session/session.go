// Package session owns the ordered list of takes for the current
// session: identifier allocation, terminal status bookkeeping, and the
// current-take pointer driven by Rewind/Next.
package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/stagedeck/internal/storage"
)

// Status is the lifecycle state of a single take.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusRecording  Status = "recording"
	StatusComplete   Status = "complete"
	StatusIncomplete Status = "incomplete"
	StatusCorrupt    Status = "corrupt"
)

// Terminal reports whether a status is a finalized one.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusIncomplete || s == StatusCorrupt
}

// Take is one recorded or recordable audio unit within the session.
type Take struct {
	Sequence   int     `json:"sequence"`
	ID         string  `json:"id"`
	Path       string  `json:"path"`
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sample_rate"`
	Status     Status  `json:"status"`
	Duration   float64 `json:"duration_seconds"`
}

// manifest is the session.yaml file written into the session directory.
// It identifies the session; the takes themselves are rebuilt from the
// directory on every open.
type manifest struct {
	SessionID string    `yaml:"session_id"`
	Tag       string    `yaml:"tag"`
	Channels  int       `yaml:"channels"`
	OpenedAt  time.Time `yaml:"opened_at"`
}

// Session is an append-only ordered sequence of takes sharing one
// storage directory and channel configuration. It holds an advisory
// lock on the directory for its lifetime so two engines never write
// the same session.
// Readers get copies: the engine is the only writer, but the control
// surface lists takes concurrently.
type Session struct {
	dir  string
	tag  string
	id   string
	lock *flock.Flock

	mu      sync.RWMutex
	takes   []*Take
	current int // index into takes, -1 when no finished take exists
}

func cloneTake(t *Take) *Take {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Open acquires the session directory, rebuilds the take list from its
// contents, and positions the current pointer at the last finished
// take. The directory is created if missing.
func Open(dir, tag string, channels, sampleRate int) (*Session, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".stagedeck.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking session directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("session directory %s is in use by another engine", dir)
	}

	s := &Session{
		dir:     dir,
		tag:     tag,
		id:      uuid.NewString(),
		current: -1,
		lock:    lock,
	}

	if err := s.rebuild(channels, sampleRate); err != nil {
		lock.Unlock()
		return nil, err
	}

	if err := s.writeManifest(channels); err != nil {
		lock.Unlock()
		return nil, err
	}

	slog.Info("session opened", "dir", dir, "tag", tag, "takes", len(s.takes), "session_id", s.id)
	return s, nil
}

// rebuild scans the directory and infers take status from file
// presence and sidecar markers. A take file with no marker is treated
// as incomplete.
func (s *Session) rebuild(channels, sampleRate int) error {
	scanned, err := storage.ScanTakes(s.dir)
	if err != nil {
		return err
	}

	for _, st := range scanned {
		take := &Take{
			Sequence:   st.Sequence,
			ID:         fmt.Sprintf("%s_%03d", st.Tag, st.Sequence),
			Path:       st.Path,
			Channels:   channels,
			SampleRate: sampleRate,
			Status:     StatusIncomplete,
		}
		if st.Marker != nil {
			switch Status(st.Marker.Status) {
			case StatusComplete, StatusIncomplete, StatusCorrupt:
				take.Status = Status(st.Marker.Status)
			}
			take.Duration = st.Marker.Duration
			if st.Marker.Channels != 0 {
				take.Channels = st.Marker.Channels
			}
			if st.Marker.SampleRate != 0 {
				take.SampleRate = st.Marker.SampleRate
			}
		}
		s.takes = append(s.takes, take)
	}

	// Pointer lands on the newest navigable take.
	for i := len(s.takes) - 1; i >= 0; i-- {
		if s.takes[i].Status == StatusComplete || s.takes[i].Status == StatusIncomplete {
			s.current = i
			break
		}
	}
	return nil
}

func (s *Session) writeManifest(channels int) error {
	m := manifest{
		SessionID: s.id,
		Tag:       s.tag,
		Channels:  channels,
		OpenedAt:  time.Now(),
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshaling session manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "session.yaml"), data, 0644); err != nil {
		return fmt.Errorf("writing session manifest: %w", err)
	}
	return nil
}

// Close releases the directory lock.
func (s *Session) Close() error {
	if s.lock != nil {
		return s.lock.Unlock()
	}
	return nil
}

// Dir returns the session directory.
func (s *Session) Dir() string { return s.dir }

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// BeginTake allocates the next sequential take with a non-colliding
// file path and status Recording. Storage writability is the caller's
// guard; this only allocates bookkeeping.
func (s *Session) BeginTake(channels, sampleRate int) (*Take, error) {
	if err := storage.CheckWritable(s.dir); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := 1
	if n := len(s.takes); n > 0 {
		seq = s.takes[n-1].Sequence + 1
	}

	take := &Take{
		Sequence:   seq,
		ID:         fmt.Sprintf("%s_%03d", s.tag, seq),
		Path:       storage.ResolveTakePath(s.dir, s.tag, seq),
		Channels:   channels,
		SampleRate: sampleRate,
		Status:     StatusRecording,
	}
	s.takes = append(s.takes, take)

	slog.Debug("take allocated", "id", take.ID, "path", take.Path)
	return cloneTake(take), nil
}

// ErrAlreadyFinalized is returned when a take is finalized twice with
// conflicting outcomes.
var ErrAlreadyFinalized = fmt.Errorf("take already finalized")

// FinalizeTake records a take's terminal status and writes its sidecar
// marker. Calling it again with the same outcome is a no-op; a
// conflicting outcome returns ErrAlreadyFinalized.
func (s *Session) FinalizeTake(sequence int, outcome Status) error {
	if !outcome.Terminal() {
		return fmt.Errorf("finalize outcome must be terminal, got %q", outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	take := s.bySequence(sequence)
	if take == nil {
		return fmt.Errorf("unknown take sequence %d", sequence)
	}

	if take.Status.Terminal() {
		if take.Status == outcome {
			return nil
		}
		return fmt.Errorf("%w: take %s is %s, refusing %s", ErrAlreadyFinalized, take.ID, take.Status, outcome)
	}

	take.Status = outcome
	if outcome != StatusCorrupt {
		if d, err := storage.ProbeDuration(take.Path); err == nil {
			take.Duration = d
		} else {
			slog.Debug("take duration probe failed", "take", take.ID, "error", err)
		}
	}

	if err := storage.WriteMarker(take.Path, storage.Marker{
		Status:      string(outcome),
		Duration:    take.Duration,
		Channels:    take.Channels,
		SampleRate:  take.SampleRate,
		FinalizedAt: time.Now(),
	}); err != nil {
		return err
	}

	// Pointer moves onto the newly finished take when it is navigable.
	if outcome == StatusComplete || outcome == StatusIncomplete {
		for i, t := range s.takes {
			if t.Sequence == sequence {
				s.current = i
				break
			}
		}
	}

	slog.Info("take finalized", "id", take.ID, "status", outcome, "duration", take.Duration)
	return nil
}

// Current returns the take the pointer refers to, or nil when the
// session has no finished take.
func (s *Session) Current() *Take {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTake(s.currentLocked())
}

func (s *Session) currentLocked() *Take {
	if s.current < 0 || s.current >= len(s.takes) {
		return nil
	}
	return s.takes[s.current]
}

// AdvanceNext moves the pointer to the next navigable take. At the
// last take it is a no-op returning the unchanged current take.
func (s *Session) AdvanceNext() *Take {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := s.current + 1; i < len(s.takes); i++ {
		if s.takes[i].Status == StatusComplete || s.takes[i].Status == StatusIncomplete {
			s.current = i
			break
		}
	}
	return cloneTake(s.currentLocked())
}

// AdvancePrevious moves the pointer to the previous navigable take. At
// the first take it is a no-op returning the unchanged current take.
func (s *Session) AdvancePrevious() *Take {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := s.current - 1; i >= 0; i-- {
		if s.takes[i].Status == StatusComplete || s.takes[i].Status == StatusIncomplete {
			s.current = i
			break
		}
	}
	return cloneTake(s.currentLocked())
}

// Takes returns the ordered take list.
func (s *Session) Takes() []*Take {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Take, len(s.takes))
	for i, t := range s.takes {
		out[i] = cloneTake(t)
	}
	return out
}

// ByID finds a take by its identifier.
func (s *Session) ByID(id string) *Take {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.takes {
		if t.ID == id {
			return cloneTake(t)
		}
	}
	return nil
}

func (s *Session) bySequence(seq int) *Take {
	for _, t := range s.takes {
		if t.Sequence == seq {
			return t
		}
	}
	return nil
}
