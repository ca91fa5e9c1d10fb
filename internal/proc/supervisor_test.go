package proc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing stub tool: %v", err)
	}
	return path
}

func testParams(dir string) Params {
	return Params{
		Device:     "hw:0,0",
		Channels:   18,
		SampleRate: 48000,
		Format:     "S32_LE",
		Path:       filepath.Join(dir, "out.wav"),
	}
}

func TestBuildArgv(t *testing.T) {
	p := Params{Device: "hw:3,0", Channels: 18, SampleRate: 48000, Format: "S32_LE", Path: "/data/take_001.wav"}

	got := strings.Join(buildArgv("arecord", "aplay", KindCapture, p), " ")
	want := "arecord -D hw:3,0 -f S32_LE -c 18 -r 48000 /data/take_001.wav"
	if got != want {
		t.Errorf("capture argv = %q, want %q", got, want)
	}

	got = strings.Join(buildArgv("arecord", "aplay", KindPlayback, p), " ")
	want = "aplay -D hw:3,0 -f S32_LE -c 18 -r 48000 /data/take_001.wav"
	if got != want {
		t.Errorf("playback argv = %q, want %q", got, want)
	}
}

func TestSpawnSuspendResumeTerminate(t *testing.T) {
	tool := writeStub(t, `#!/bin/sh
trap 'exit 0' INT TERM
while :; do sleep 0.05; done
`)
	sup := New(tool, tool, 50*time.Millisecond)

	h, err := sup.Spawn(KindCapture, testParams(t.TempDir()))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if sup.Poll(h) != StateRunning {
		t.Fatalf("expected running, got %s", sup.Poll(h))
	}

	if err := sup.Suspend(h); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	// Suspending twice is harmless.
	if err := sup.Suspend(h); err != nil {
		t.Fatalf("re-suspend: %v", err)
	}
	if err := sup.Resume(h); err != nil {
		t.Fatalf("resume: %v", err)
	}

	report := sup.Terminate(h, 2*time.Second)
	if report.Forced {
		t.Error("graceful termination reported as forced")
	}
	if report.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", report.ExitCode)
	}
	if sup.Poll(h) != StateExitedCleanly {
		t.Errorf("expected clean exit, got %s", sup.Poll(h))
	}
}

func TestTerminateSuspendedProcess(t *testing.T) {
	tool := writeStub(t, `#!/bin/sh
trap 'exit 0' INT TERM
while :; do sleep 0.05; done
`)
	sup := New(tool, tool, 50*time.Millisecond)

	h, err := sup.Spawn(KindCapture, testParams(t.TempDir()))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := sup.Suspend(h); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	// A suspended process cannot handle SIGINT; Terminate must resume
	// it first rather than hang until the force-kill timeout.
	start := time.Now()
	report := sup.Terminate(h, 5*time.Second)
	if report.Forced {
		t.Error("termination of suspended process was forced")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("termination took %s, suspended process was not resumed", elapsed)
	}
}

func TestTerminateForcesStubbornProcess(t *testing.T) {
	tool := writeStub(t, `#!/bin/sh
trap '' INT TERM
while :; do sleep 0.05; done
`)
	sup := New(tool, tool, 50*time.Millisecond)

	h, err := sup.Spawn(KindCapture, testParams(t.TempDir()))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	report := sup.Terminate(h, 200*time.Millisecond)
	if !report.Forced {
		t.Error("expected forced termination of a process ignoring SIGINT")
	}
}

func TestSecondSpawnRejectedWhileLive(t *testing.T) {
	tool := writeStub(t, `#!/bin/sh
trap 'exit 0' INT TERM
while :; do sleep 0.05; done
`)
	sup := New(tool, tool, 50*time.Millisecond)

	h, err := sup.Spawn(KindCapture, testParams(t.TempDir()))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer sup.Terminate(h, time.Second)

	if _, err := sup.Spawn(KindPlayback, testParams(t.TempDir())); !errors.Is(err, ErrProcessLive) {
		t.Fatalf("expected ErrProcessLive, got %v", err)
	}
}

func TestSpawnClassifiesImmediateFailures(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   SpawnReason
	}{
		{"busy", "audio open error: Device or resource busy", ReasonDeviceBusy},
		{"missing", "main: audio open error: No such file or directory", ReasonDeviceMissing},
		{"other", "sample format non available", ReasonSpawnFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := writeStub(t, "#!/bin/sh\necho \""+tt.stderr+"\" >&2\nexit 1\n")
			sup := New(tool, tool, 200*time.Millisecond)

			_, err := sup.Spawn(KindCapture, testParams(t.TempDir()))
			var se *SpawnError
			if !errors.As(err, &se) {
				t.Fatalf("expected SpawnError, got %v", err)
			}
			if se.Reason != tt.want {
				t.Errorf("reason = %s, want %s", se.Reason, tt.want)
			}
			if !strings.Contains(se.Stderr, tt.stderr) {
				t.Errorf("stderr not captured: %q", se.Stderr)
			}

			// The failed spawn must not block a new one.
			tool2 := writeStub(t, "#!/bin/sh\ntrap 'exit 0' INT TERM\nwhile :; do sleep 0.05; done\n")
			sup2 := New(tool2, tool2, 50*time.Millisecond)
			h, err := sup2.Spawn(KindCapture, testParams(t.TempDir()))
			if err != nil {
				t.Fatalf("spawn after failure: %v", err)
			}
			sup2.Terminate(h, time.Second)
		})
	}
}

func TestPollReportsUnexpectedExitAsCrash(t *testing.T) {
	tool := writeStub(t, `#!/bin/sh
sleep 0.2
echo "i/o error" >&2
exit 1
`)
	sup := New(tool, tool, 50*time.Millisecond)

	h, err := sup.Spawn(KindCapture, testParams(t.TempDir()))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process never exited")
	}

	if sup.Poll(h) != StateCrashedUnexpectedly {
		t.Errorf("expected crash, got %s", sup.Poll(h))
	}
	if !strings.Contains(h.Stderr(), "i/o error") {
		t.Errorf("diagnostics not captured: %q", h.Stderr())
	}
}
