// Package transport implements the tape-machine control core: a
// serialized command actor that turns Record/Pause/Resume/Stop/Play/
// Rewind/Next intents into subprocess lifecycles and take bookkeeping.
package transport

import (
	"errors"
	"log/slog"
	"os"

	"github.com/audiolibrelab/stagedeck/internal/config"
	"github.com/audiolibrelab/stagedeck/internal/proc"
	"github.com/audiolibrelab/stagedeck/internal/session"
	"github.com/audiolibrelab/stagedeck/internal/storage"
)

// State is the single authoritative description of what the engine is
// doing.
type State string

const (
	StateIdle            State = "idle"
	StateRecording       State = "recording"
	StateRecordingPaused State = "recording_paused"
	StatePlaying         State = "playing"
	StatePlaybackPaused  State = "playback_paused"
	StateStopping        State = "stopping"
	StateFaulted         State = "faulted"
)

// Result is what every command returns to the control surface: the
// state after the command, the take the transport is positioned on,
// and the error (nil when accepted).
type Result struct {
	State       State         `json:"state"`
	CurrentTake *session.Take `json:"current_take"`
	Err         error         `json:"-"`
}

type cmdKind int

const (
	cmdStatus cmdKind = iota
	cmdRecord
	cmdPause
	cmdResume
	cmdStop
	cmdPlay
	cmdRewind
	cmdNext
	cmdReset
	cmdShutdown
	cmdProcExited // enqueued by the handle watcher, never by callers
)

type request struct {
	kind   cmdKind
	handle *proc.Handle // cmdProcExited only
	reply  chan Result
}

// Engine is the transport state machine. All state is owned by a
// single goroutine; commands are queued and processed one at a time in
// arrival order, so no two transitions ever race. The process watcher
// can only enqueue an exit event into the same stream.
type Engine struct {
	cfg  *config.Config
	sess *session.Session
	sup  *proc.Supervisor

	cmds    chan request
	stopped chan struct{}

	// fields below are owned by the run loop
	state      State
	handle     *proc.Handle
	activeTake *session.Take
	exitCode   int
}

// New creates an engine over an open session. Run must be called
// before commands are issued.
func New(cfg *config.Config, sess *session.Session, sup *proc.Supervisor) *Engine {
	return &Engine{
		cfg:     cfg,
		sess:    sess,
		sup:     sup,
		cmds:    make(chan request, 16),
		stopped: make(chan struct{}),
		state:   StateIdle,
	}
}

// Run processes commands until Shutdown and returns the engine exit
// code: 0, or non-zero if final take finalization failed.
func (e *Engine) Run() int {
	for req := range e.cmds {
		res := e.dispatch(req)
		if req.reply != nil {
			req.reply <- res
		}
		if req.kind == cmdShutdown && res.Err == nil {
			close(e.stopped)
			go e.rejectAfterShutdown(res.State)
			return e.exitCode
		}
	}
	return e.exitCode
}

// rejectAfterShutdown answers commands that arrive after the engine
// has shut down, so no caller ever blocks on a dead queue.
func (e *Engine) rejectAfterShutdown(final State) {
	for req := range e.cmds {
		if req.reply != nil {
			req.reply <- Result{State: final, Err: newError(ErrInvalidTransition, "engine has shut down")}
		}
	}
}

func (e *Engine) do(kind cmdKind) Result {
	req := request{kind: kind, reply: make(chan Result, 1)}
	e.cmds <- req
	return <-req.reply
}

// Status reports the current state without changing it.
func (e *Engine) Status() Result { return e.do(cmdStatus) }

// Record starts a new take.
func (e *Engine) Record() Result { return e.do(cmdRecord) }

// Pause suspends the live capture or playback process.
func (e *Engine) Pause() Result { return e.do(cmdPause) }

// Resume continues a paused process.
func (e *Engine) Resume() Result { return e.do(cmdResume) }

// Stop terminates the live process and finalizes the active take.
func (e *Engine) Stop() Result { return e.do(cmdStop) }

// Play starts playback of the current take.
func (e *Engine) Play() Result { return e.do(cmdPlay) }

// Rewind moves the take pointer to the previous take.
func (e *Engine) Rewind() Result { return e.do(cmdRewind) }

// Next moves the take pointer to the next take.
func (e *Engine) Next() Result { return e.do(cmdNext) }

// Reset clears a fault and returns to idle.
func (e *Engine) Reset() Result { return e.do(cmdReset) }

// Shutdown stops any live process (finalizing its take), then ends the
// engine. Run returns once the shutdown has been processed.
func (e *Engine) Shutdown() Result { return e.do(cmdShutdown) }

// dispatch runs on the engine goroutine only.
func (e *Engine) dispatch(req request) Result {
	switch req.kind {
	case cmdStatus:
		return e.result(nil)
	case cmdRecord:
		return e.result(e.record())
	case cmdPause:
		return e.result(e.pause())
	case cmdResume:
		return e.result(e.resume())
	case cmdStop:
		return e.result(e.stop())
	case cmdPlay:
		return e.result(e.play())
	case cmdRewind:
		return e.result(e.rewind())
	case cmdNext:
		return e.result(e.next())
	case cmdReset:
		return e.result(e.reset())
	case cmdShutdown:
		return e.result(e.shutdown())
	case cmdProcExited:
		e.procExited(req.handle)
		return e.result(nil)
	default:
		return e.result(newError(ErrInvalidTransition, "unknown command"))
	}
}

func (e *Engine) result(err error) Result {
	res := Result{State: e.state, Err: err}
	if e.activeTake != nil {
		res.CurrentTake = e.activeTake
	} else {
		res.CurrentTake = e.sess.Current()
	}
	return res
}

func (e *Engine) record() error {
	if e.state != StateIdle {
		return newError(ErrInvalidTransition, "cannot record while %s", e.state)
	}

	if err := storage.CheckWritable(e.sess.Dir()); err != nil {
		return wrapError(ErrStorageUnavailable, err, "session storage unavailable")
	}
	free, err := storage.FreeSpace(e.sess.Dir())
	if err != nil {
		return wrapError(ErrStorageUnavailable, err, "session storage unavailable")
	}
	if free < e.cfg.Session.MinFreeBytes {
		return newError(ErrDiskFull, "only %d bytes free, %d required", free, e.cfg.Session.MinFreeBytes)
	}

	take, err := e.sess.BeginTake(e.cfg.Device.Channels, e.cfg.Device.SampleRate)
	if err != nil {
		return wrapError(ErrStorageUnavailable, err, "allocating take")
	}

	handle, err := e.sup.Spawn(proc.KindCapture, e.captureParams(take))
	if err != nil {
		// The take never started recording; mark it corrupt so the
		// pointer skips it.
		if ferr := e.sess.FinalizeTake(take.Sequence, session.StatusCorrupt); ferr != nil {
			slog.Error("failed to finalize unstarted take", "take", take.ID, "error", ferr)
		}
		return spawnError(err)
	}

	e.handle = handle
	e.activeTake = take
	e.state = StateRecording
	e.watch(handle)

	slog.Info("recording started", "take", take.ID, "channels", take.Channels, "rate", take.SampleRate)
	return nil
}

func (e *Engine) pause() error {
	switch e.state {
	case StateRecording:
		if err := e.sup.Suspend(e.handle); err != nil {
			return suspendError(err)
		}
		e.state = StateRecordingPaused
	case StatePlaying:
		if err := e.sup.Suspend(e.handle); err != nil {
			return suspendError(err)
		}
		e.state = StatePlaybackPaused
	default:
		return newError(ErrInvalidTransition, "nothing to pause while %s", e.state)
	}
	return nil
}

func (e *Engine) resume() error {
	switch e.state {
	case StateRecordingPaused:
		if err := e.sup.Resume(e.handle); err != nil {
			return suspendError(err)
		}
		e.state = StateRecording
	case StatePlaybackPaused:
		if err := e.sup.Resume(e.handle); err != nil {
			return suspendError(err)
		}
		e.state = StatePlaying
	default:
		return newError(ErrInvalidTransition, "nothing to resume while %s", e.state)
	}
	return nil
}

func (e *Engine) stop() error {
	switch e.state {
	case StateRecording, StateRecordingPaused:
		return e.stopCapture()
	case StatePlaying, StatePlaybackPaused:
		return e.stopPlayback()
	default:
		return newError(ErrInvalidTransition, "nothing to stop while %s", e.state)
	}
}

func (e *Engine) stopCapture() error {
	e.state = StateStopping
	take := e.activeTake

	// If the process already died on its own, the take is not complete
	// even though the operator asked for a clean stop.
	crashed := e.sup.Poll(e.handle) == proc.StateCrashedUnexpectedly

	report := e.sup.Terminate(e.handle, e.cfg.Process.GracefulTimeout)
	e.handle = nil
	e.activeTake = nil

	outcome := session.StatusComplete
	if crashed {
		outcome = session.StatusIncomplete
		if !storage.HasAudioData(take.Path) {
			outcome = session.StatusCorrupt
		}
		slog.Warn("capture process had exited before stop", "take", take.ID, "stderr", report.Stderr)
	}

	err := e.sess.FinalizeTake(take.Sequence, outcome)
	e.state = StateIdle
	if err != nil {
		return finalizeError(err)
	}
	slog.Info("recording stopped", "take", take.ID, "status", outcome, "forced", report.Forced)
	return nil
}

func (e *Engine) stopPlayback() error {
	e.state = StateStopping
	report := e.sup.Terminate(e.handle, e.cfg.Process.GracefulTimeout)
	e.handle = nil
	e.state = StateIdle
	slog.Info("playback stopped", "forced", report.Forced)
	return nil
}

func (e *Engine) play() error {
	if e.state != StateIdle {
		return newError(ErrInvalidTransition, "cannot play while %s", e.state)
	}

	take := e.sess.Current()
	if take == nil {
		return newError(ErrInvalidTransition, "no take loaded")
	}
	if take.Status != session.StatusComplete && take.Status != session.StatusIncomplete {
		return newError(ErrInvalidTransition, "take %s is %s and cannot be played", take.ID, take.Status)
	}
	if _, err := os.Stat(take.Path); err != nil {
		return wrapError(ErrStorageUnavailable, err, "take file missing")
	}

	handle, err := e.sup.Spawn(proc.KindPlayback, e.playbackParams(take))
	if err != nil {
		return spawnError(err)
	}

	e.handle = handle
	e.state = StatePlaying
	e.watch(handle)

	slog.Info("playback started", "take", take.ID)
	return nil
}

func (e *Engine) rewind() error {
	if e.state != StateIdle {
		return newError(ErrInvalidTransition, "cannot rewind while %s", e.state)
	}
	e.sess.AdvancePrevious()
	return nil
}

func (e *Engine) next() error {
	if e.state != StateIdle {
		return newError(ErrInvalidTransition, "cannot advance while %s", e.state)
	}
	e.sess.AdvanceNext()
	return nil
}

func (e *Engine) reset() error {
	if e.state == StateIdle {
		// Nothing to clear.
		return nil
	}
	if e.state != StateFaulted {
		return newError(ErrInvalidTransition, "reset only applies to a faulted engine, currently %s", e.state)
	}
	if e.handle != nil {
		return newError(ErrInvalidTransition, "cannot reset with a live process")
	}
	e.state = StateIdle
	slog.Info("fault cleared")
	return nil
}

func (e *Engine) shutdown() error {
	switch e.state {
	case StateRecording, StateRecordingPaused:
		slog.Info("shutdown requested during recording, stopping first")
		if err := e.stopCapture(); err != nil {
			e.exitCode = 1
			slog.Error("finalization during shutdown failed", "error", err)
		}
	case StatePlaying, StatePlaybackPaused:
		if err := e.stopPlayback(); err != nil {
			e.exitCode = 1
		}
	}
	slog.Info("engine shut down", "exit_code", e.exitCode)
	return nil
}

// procExited handles an exit event from the handle watcher. Events for
// a handle the engine no longer owns are stale and ignored.
func (e *Engine) procExited(h *proc.Handle) {
	if h != e.handle {
		return
	}

	state := e.sup.Poll(h)
	if state == proc.StateRunning {
		return
	}

	// A playback process reaching end of file exits zero on its own;
	// that is a normal completion, not a crash, and the transport just
	// returns to idle.
	if h.Kind() == proc.KindPlayback && h.ExitCode() == 0 {
		e.sup.Release(h)
		e.handle = nil
		e.state = StateIdle
		slog.Info("playback finished")
		return
	}

	slog.Error("audio process exited unexpectedly", "kind", h.Kind(), "stderr", h.Stderr())

	if e.activeTake != nil {
		outcome := session.StatusIncomplete
		if !storage.HasAudioData(e.activeTake.Path) {
			outcome = session.StatusCorrupt
		}
		if err := e.sess.FinalizeTake(e.activeTake.Sequence, outcome); err != nil {
			slog.Error("failed to finalize crashed take", "take", e.activeTake.ID, "error", err)
		}
		e.activeTake = nil
	}

	e.sup.Release(h)
	e.handle = nil
	e.state = StateFaulted
}

// watch enqueues a single exit event for the handle once it is reaped.
// It never mutates engine state directly.
func (e *Engine) watch(h *proc.Handle) {
	go func() {
		<-h.Done()
		select {
		case e.cmds <- request{kind: cmdProcExited, handle: h}:
		case <-e.stopped:
		}
	}()
}

func (e *Engine) captureParams(take *session.Take) proc.Params {
	return proc.Params{
		Device:     e.cfg.Device.ALSADevice,
		Channels:   take.Channels,
		SampleRate: take.SampleRate,
		Format:     e.cfg.Device.SampleFormat,
		Path:       take.Path,
	}
}

func (e *Engine) playbackParams(take *session.Take) proc.Params {
	return proc.Params{
		Device:     e.cfg.Device.ALSADevice,
		Channels:   take.Channels,
		SampleRate: take.SampleRate,
		Format:     e.cfg.Device.SampleFormat,
		Path:       take.Path,
	}
}

func spawnError(err error) error {
	var se *proc.SpawnError
	if errors.As(err, &se) {
		switch se.Reason {
		case proc.ReasonDeviceBusy:
			return wrapError(ErrDeviceBusy, err, "audio device busy")
		case proc.ReasonDeviceMissing:
			return wrapError(ErrDeviceMissing, err, "audio device missing")
		}
		return wrapError(ErrSpawnFailed, err, "audio process failed to start")
	}
	if errors.Is(err, proc.ErrProcessLive) {
		return wrapError(ErrInvalidTransition, err, "a process is already live")
	}
	return wrapError(ErrSpawnFailed, err, "audio process failed to start")
}

func suspendError(err error) error {
	if errors.Is(err, proc.ErrNotRunning) {
		return wrapError(ErrNotRunning, err, "process is not running")
	}
	return wrapError(ErrNotRunning, err, "signaling process")
}

func finalizeError(err error) error {
	if errors.Is(err, session.ErrAlreadyFinalized) {
		return wrapError(ErrAlreadyFinalized, err, "take already finalized")
	}
	return wrapError(ErrStorageUnavailable, err, "finalizing take")
}
