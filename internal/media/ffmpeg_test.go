// SPDX-License-Identifier: MIT

package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeStub writes an executable shell script standing in for ffmpeg.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg-stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil { // #nosec G306
		t.Fatal(err)
	}
	return path
}

func TestRecordClipSuccess(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "args.txt")
	stub := writeStub(t, `echo "$@" > `+marker+`
exit 0`)

	r := &Recorder{FFmpegPath: stub, Logger: testLogger()}
	out := filepath.Join(dir, "clip.mp4")
	if err := r.RecordClip(context.Background(), "rtsp://cam/main", out, 30); err != nil {
		t.Fatalf("RecordClip failed: %v", err)
	}

	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	args := string(data)
	for _, want := range []string{
		"-rtsp_transport tcp", "-t 30", "-i rtsp://cam/main",
		"-f mpegts", "-c:v h264", "-c:a aac",
		"-preset ultrafast", "-tune zerolatency", out,
	} {
		if !strings.Contains(args, want) {
			t.Errorf("ffmpeg args missing %q: %s", want, args)
		}
	}
}

func TestRecordClipFailureCarriesStderr(t *testing.T) {
	stub := writeStub(t, `echo "connection refused" >&2
exit 1`)

	var logged strings.Builder
	r := &Recorder{FFmpegPath: stub, Logger: slog.New(slog.NewTextHandler(&logged, nil))}
	err := r.RecordClip(context.Background(), "rtsp://cam/main", filepath.Join(t.TempDir(), "c.mp4"), 1)
	if err == nil {
		t.Fatal("expected error from non-zero exit")
	}
	if !strings.Contains(logged.String(), "connection refused") {
		t.Errorf("failure log missing ffmpeg stderr: %s", logged.String())
	}
}

func TestRecordClipTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("timeout test sleeps")
	}
	// The internal deadlines are tens of seconds; drive the shared run()
	// through a short context deadline instead and check the child dies.
	stub := writeStub(t, `sleep 60
exit 0`)

	r := &Recorder{FFmpegPath: stub, Logger: testLogger()}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.RecordClip(ctx, "rtsp://cam/main", filepath.Join(t.TempDir(), "c.mp4"), 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RecordClip error = %v, want context deadline", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("terminate did not stop the child promptly")
	}
}

func TestRecorderStderrTee(t *testing.T) {
	stub := writeStub(t, `echo "frame=1" >&2
exit 0`)

	log, err := NewRotatingWriter(filepath.Join(t.TempDir(), "cam.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	r := &Recorder{FFmpegPath: stub, Logger: testLogger(), Stderr: log}
	if err := r.ExtractFrame(context.Background(), "in.mp4", "out.jpg"); err != nil {
		t.Fatalf("ExtractFrame failed: %v", err)
	}
	if log.Size() == 0 {
		t.Error("ffmpeg stderr was not written to the capture log")
	}
}

func TestExtractFrameArgs(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "args.txt")
	stub := writeStub(t, `echo "$@" > `+marker+`
exit 0`)

	r := &Recorder{FFmpegPath: stub, Logger: testLogger()}
	if err := r.ExtractFrame(context.Background(), "/v/clip.mp4", "/i/still.jpg"); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(marker)
	args := string(data)
	for _, want := range []string{"-ss 0", "-i /v/clip.mp4", "-vframes 1", "-q:v 2", "/i/still.jpg"} {
		if !strings.Contains(args, want) {
			t.Errorf("extract args missing %q: %s", want, args)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	if _, err := b.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatal(err)
	}
	if got := b.String(); got != "89abcdef" {
		t.Errorf("tail = %q, want last 8 bytes", got)
	}
}
