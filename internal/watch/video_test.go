// SPDX-License-Identifier: MIT

package watch

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/digitaltrails/onvifeye-go/internal/detect"
	"github.com/digitaltrails/onvifeye-go/internal/media"
)

// newStubRecorder returns a Recorder backed by a shell stub that logs its
// args to marker and optionally fails.
func newStubRecorder(t *testing.T, marker string, exitCode int) *media.Recorder {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg-stub")
	script := "#!/bin/sh\necho \"$@\" >> " + marker + "\nexit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil { // #nosec G306
		t.Fatal(err)
	}
	return &media.Recorder{FFmpegPath: path, Logger: testLogger()}
}

func videoConfig(t *testing.T, saveRoot, marker string, exitCode int) VideoWriterConfig {
	t.Helper()
	return VideoWriterConfig{
		CameraID:    "cam-1",
		StreamName:  "mainStream",
		ClipSeconds: 2,
		Targets:     detect.NewTargetSet([]string{"IsPeople"}),
		Table:       detect.NewTable(),
		Paths:       media.Paths{SaveRoot: saveRoot, CameraID: "cam-1"},
		Recorder:    newStubRecorder(t, marker, exitCode),
		Logger:      testLogger(),
	}
}

func TestVideoWriterRecordsClip(t *testing.T) {
	saveRoot := t.TempDir()
	marker := filepath.Join(t.TempDir(), "args.txt")
	cfg := videoConfig(t, saveRoot, marker, 0)
	h := NewVideoWriter(cfg)

	incident := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	h.act(context.Background(), "rtsp://u:p@cam/main", detect.Snapshot{"IsPeople": incident})

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("recorder never ran: %v", err)
	}
	args := string(data)
	wantPath := cfg.Paths.VideoPath(incident)
	for _, want := range []string{"-i rtsp://u:p@cam/main", "-t 2", wantPath} {
		if !strings.Contains(args, want) {
			t.Errorf("recorder args missing %q: %s", want, args)
		}
	}
}

func TestVideoWriterSkipsExistingFile(t *testing.T) {
	saveRoot := t.TempDir()
	marker := filepath.Join(t.TempDir(), "args.txt")
	cfg := videoConfig(t, saveRoot, marker, 0)
	h := NewVideoWriter(cfg)

	incident := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	path := cfg.Paths.VideoPath(incident)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	h.act(context.Background(), "rtsp://cam/main", detect.Snapshot{"IsPeople": incident})

	if _, err := os.Stat(marker); err == nil {
		t.Error("recorder ran despite existing target file")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "existing" {
		t.Error("existing clip was overwritten")
	}
}

func TestVideoWriterUsesIncidentTimeForPath(t *testing.T) {
	saveRoot := t.TempDir()
	marker := filepath.Join(t.TempDir(), "args.txt")
	cfg := videoConfig(t, saveRoot, marker, 0)
	h := NewVideoWriter(cfg)

	// Two keys, different first-seen instants: the earlier one names the file.
	t0 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	snap := detect.Snapshot{"IsPeople": t0.Add(3 * time.Second), "IsCar": t0}
	h.act(context.Background(), "rtsp://cam/main", snap)

	data, _ := os.ReadFile(marker)
	if !strings.Contains(string(data), "20250102-030405.mp4") {
		t.Errorf("clip path should use the earliest instant: %s", data)
	}
}

func TestVideoWriterDispatchesVideoEnded(t *testing.T) {
	saveRoot := t.TempDir()
	marker := filepath.Join(t.TempDir(), "args.txt")
	execMarker := filepath.Join(t.TempDir(), "exec.txt")
	handlerStub := writeHandlerStub(t, execMarker)

	cfg := videoConfig(t, saveRoot, marker, 1) // recording fails
	cfg.Targets = detect.NewTargetSet([]string{"IsPeople", "VideoEnded"})
	cfg.Executor = NewExecutor("cam-1", handlerStub, testLogger())
	h := NewVideoWriter(cfg)

	incident := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	h.act(context.Background(), "rtsp://cam/main", detect.Snapshot{"IsPeople": incident})

	// VideoEnded fires even though the recording failed.
	got := waitForFile(t, execMarker)
	if !strings.HasPrefix(got, "cam-1 VideoEnded/") {
		t.Errorf("exec argv = %q, want VideoEnded dispatch", got)
	}
}

func TestVideoWriterNoVideoEndedWhenUntargeted(t *testing.T) {
	saveRoot := t.TempDir()
	marker := filepath.Join(t.TempDir(), "args.txt")
	execMarker := filepath.Join(t.TempDir(), "exec.txt")
	handlerStub := writeHandlerStub(t, execMarker)

	cfg := videoConfig(t, saveRoot, marker, 0)
	cfg.Executor = NewExecutor("cam-1", handlerStub, testLogger())
	h := NewVideoWriter(cfg)

	h.act(context.Background(), "rtsp://cam/main", detect.Snapshot{"IsPeople": time.Now()})

	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(execMarker); err == nil {
		t.Error("VideoEnded dispatched although not in the target set")
	}
}
