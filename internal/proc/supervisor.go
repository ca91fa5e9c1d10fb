// Package proc supervises the single external audio process (capture
// or playback): spawn, suspend/resume, graceful termination, and
// liveness reporting. It never touches transport state; unexpected
// exits are surfaced as events for the engine to act on.
package proc

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Kind selects which external tool a spawn drives.
type Kind string

const (
	KindCapture  Kind = "capture"
	KindPlayback Kind = "playback"
)

// Params describes one audio process invocation.
type Params struct {
	Device     string // ALSA device, e.g. "hw:3,0"
	Channels   int
	SampleRate int
	Format     string // ALSA sample format, e.g. "S32_LE"
	Path       string // destination (capture) or source (playback) file
}

// State is the liveness of a supervised process as seen by Poll.
type State string

const (
	StateRunning             State = "running"
	StateExitedCleanly       State = "exited"
	StateExitedWithError     State = "exited_with_error"
	StateCrashedUnexpectedly State = "crashed"
)

// ExitReport describes how a supervised process ended.
type ExitReport struct {
	ExitCode int
	Forced   bool
	Stderr   string
}

// Handle is the exclusive ownership token for one live process. At
// most one Handle is live per Supervisor.
type Handle struct {
	kind Kind
	cmd  *exec.Cmd

	mu        sync.Mutex
	suspended bool
	stopReq   bool // a graceful termination was requested
	waitErr   error
	done      chan struct{}

	stderr *stderrSink
}

// stderrSink buffers subprocess diagnostics. Wiring it as cmd.Stderr
// (rather than a pipe) makes Wait block until every byte is captured,
// so an immediate-failure classification never races the reader.
type stderrSink struct {
	kind Kind

	mu  sync.Mutex
	buf strings.Builder
}

func (w *stderrSink) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	w.mu.Unlock()
	slog.Debug("audio process output", "kind", w.kind, "text", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (w *stderrSink) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// Kind returns whether the handle drives capture or playback.
func (h *Handle) Kind() Kind { return h.kind }

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the process exit code. Only meaningful once Done
// has been closed; signal deaths report -1 or the shell convention
// 128+signal depending on the tool.
func (h *Handle) ExitCode() int { return exitCode(h.waitErr) }

// Stderr returns the diagnostic output captured so far.
func (h *Handle) Stderr() string { return h.stderr.String() }

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor spawns and owns at most one external audio process.
type Supervisor struct {
	captureBin  string
	playbackBin string
	spawnProbe  time.Duration

	mu   sync.Mutex
	live *Handle
}

// New returns a supervisor using the given capture/playback binaries.
// spawnProbe bounds how long Spawn watches for an immediate failure
// (device busy or missing) before declaring the process healthy.
func New(captureBin, playbackBin string, spawnProbe time.Duration) *Supervisor {
	return &Supervisor{
		captureBin:  captureBin,
		playbackBin: playbackBin,
		spawnProbe:  spawnProbe,
	}
}

// ErrProcessLive is returned by Spawn while a handle is still live.
var ErrProcessLive = fmt.Errorf("an audio process is already live")

// Spawn launches one external audio process. Capture and playback are
// mutually exclusive; a second spawn while a handle is live fails.
func (s *Supervisor) Spawn(kind Kind, p Params) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live != nil && !s.live.exited() {
		return nil, ErrProcessLive
	}

	argv := buildArgv(s.captureBin, s.playbackBin, kind, p)
	slog.Info("spawning audio process", "kind", kind, "command", strings.Join(argv, " "))

	cmd := exec.Command(argv[0], argv[1:]...)
	sink := &stderrSink{kind: kind}
	cmd.Stderr = sink
	h := &Handle{kind: kind, cmd: cmd, stderr: sink, done: make(chan struct{})}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s process: %w", kind, err)
	}

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	// An immediate exit means the tool rejected the device or file;
	// report that synchronously instead of as a later crash.
	select {
	case <-h.done:
		return nil, spawnFailure(kind, h)
	case <-time.After(s.spawnProbe):
	}

	s.live = h
	return h, nil
}

// Release drops the supervisor's claim on a handle after the engine
// has consumed its exit. A new Spawn is legal afterwards.
func (s *Supervisor) Release(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == h {
		s.live = nil
	}
}

// ErrNotRunning is returned by Suspend/Resume when the process is gone.
var ErrNotRunning = fmt.Errorf("process is not running")

// Suspend stops scheduling the process without terminating it; the
// process and its file handle stay open. This is how Pause works: the
// underlying tools have no native pause primitive, so the boundary is
// silence-free but not frame-accurate.
func (s *Supervisor) Suspend(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited() {
		return ErrNotRunning
	}
	if h.suspended {
		return nil
	}
	if err := h.cmd.Process.Signal(unix.SIGSTOP); err != nil {
		return fmt.Errorf("suspending process: %w", err)
	}
	h.suspended = true
	slog.Debug("process suspended", "kind", h.kind, "pid", h.cmd.Process.Pid)
	return nil
}

// Resume continues a suspended process from the same stream position.
func (s *Supervisor) Resume(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited() {
		return ErrNotRunning
	}
	if !h.suspended {
		return nil
	}
	if err := h.cmd.Process.Signal(unix.SIGCONT); err != nil {
		return fmt.Errorf("resuming process: %w", err)
	}
	h.suspended = false
	slog.Debug("process resumed", "kind", h.kind, "pid", h.cmd.Process.Pid)
	return nil
}

// Terminate requests graceful exit with SIGINT and force-kills after
// gracefulTimeout. A suspended process is resumed first so it can
// handle the signal and flush its file.
func (s *Supervisor) Terminate(h *Handle, gracefulTimeout time.Duration) ExitReport {
	h.mu.Lock()
	h.stopReq = true
	if h.suspended && !h.exited() {
		h.cmd.Process.Signal(unix.SIGCONT)
		h.suspended = false
	}
	h.mu.Unlock()

	forced := false
	if !h.exited() {
		slog.Debug("sending SIGINT to audio process", "kind", h.kind, "pid", h.cmd.Process.Pid)
		if err := h.cmd.Process.Signal(unix.SIGINT); err != nil {
			slog.Debug("interrupt failed, falling back to SIGKILL", "error", err)
			h.cmd.Process.Kill()
			forced = true
		}

		select {
		case <-h.done:
		case <-time.After(gracefulTimeout):
			slog.Warn("audio process did not exit within timeout, force killing", "kind", h.kind)
			h.cmd.Process.Kill()
			forced = true
			<-h.done
		}
	}

	s.Release(h)

	report := ExitReport{
		ExitCode: exitCode(h.waitErr),
		Forced:   forced,
		Stderr:   h.Stderr(),
	}
	slog.Debug("audio process terminated", "kind", h.kind, "exit_code", report.ExitCode, "forced", report.Forced)
	return report
}

// Poll is a non-blocking liveness check. An exit that happened without
// a termination request is reported as a crash.
func (s *Supervisor) Poll(h *Handle) State {
	if !h.exited() {
		return StateRunning
	}

	h.mu.Lock()
	stopReq := h.stopReq
	h.mu.Unlock()

	if !stopReq {
		return StateCrashedUnexpectedly
	}
	if signalExit(h.waitErr) || h.waitErr == nil {
		return StateExitedCleanly
	}
	return StateExitedWithError
}

// buildArgv constructs the arecord/aplay command line for a process.
func buildArgv(captureBin, playbackBin string, kind Kind, p Params) []string {
	if kind == KindCapture {
		return []string{
			captureBin,
			"-D", p.Device,
			"-f", p.Format,
			"-c", strconv.Itoa(p.Channels),
			"-r", strconv.Itoa(p.SampleRate),
			p.Path,
		}
	}
	return []string{
		playbackBin,
		"-D", p.Device,
		"-f", p.Format,
		"-c", strconv.Itoa(p.Channels),
		"-r", strconv.Itoa(p.SampleRate),
		p.Path,
	}
}

// spawnFailure classifies an immediate exit during the spawn probe.
func spawnFailure(kind Kind, h *Handle) error {
	stderr := h.Stderr()
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "busy"):
		return &SpawnError{Kind: kind, Reason: ReasonDeviceBusy, Stderr: stderr}
	case strings.Contains(lower, "no such device") || strings.Contains(lower, "no such file or directory"):
		return &SpawnError{Kind: kind, Reason: ReasonDeviceMissing, Stderr: stderr}
	default:
		return &SpawnError{Kind: kind, Reason: ReasonSpawnFailed, Stderr: stderr}
	}
}

// SpawnReason classifies why a spawn was rejected by the tool.
type SpawnReason string

const (
	ReasonDeviceBusy    SpawnReason = "device_busy"
	ReasonDeviceMissing SpawnReason = "device_missing"
	ReasonSpawnFailed   SpawnReason = "spawn_failed"
)

// SpawnError reports an immediate subprocess failure with its captured
// diagnostics.
type SpawnError struct {
	Kind   Kind
	Reason SpawnReason
	Stderr string
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("%s process failed to start (%s)", e.Kind, e.Reason)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// signalExit reports whether the process ended due to the signal we
// sent it. arecord and aplay exit via SIGINT on graceful stop.
func signalExit(waitErr error) bool {
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok || exitErr.ProcessState == nil {
		return false
	}
	state := exitErr.ProcessState.String()
	return state == "signal: interrupt" || state == "signal: killed"
}
