// SPDX-License-Identifier: MIT

package watch

import (
	"context"
	"log/slog"
	"os"
	"os/exec"

	"github.com/digitaltrails/onvifeye-go/internal/detect"
	"github.com/digitaltrails/onvifeye-go/internal/media"
)

// Executor spawns the configured external handler program for triggered
// detections. The child is fire-and-forget: it is reaped in the background
// and its exit status is not observed.
type Executor struct {
	CameraID    string
	HandlerPath string
	Logger      *slog.Logger
}

// NewExecutor creates an executor for one camera.
func NewExecutor(cameraID, handlerPath string, logger *slog.Logger) *Executor {
	return &Executor{
		CameraID:    cameraID,
		HandlerPath: handlerPath,
		Logger:      logger.With("camera", cameraID, "component", "event-exec"),
	}
}

// Dispatch spawns the handler with one positional argument per detection:
//
//	[handler, camera-id, "<Key>/<YYYYMMDD-HHMMSS>", ...]
//
// The handler path must exist, not be a directory, and be executable;
// otherwise a critical error is logged and nothing is spawned.
func (e *Executor) Dispatch(snap detect.Snapshot) {
	if !e.runnable() {
		return
	}

	args := make([]string, 0, len(snap)+1)
	args = append(args, e.CameraID)
	for _, key := range snap.Keys() {
		args = append(args, key+"/"+snap[key].Format(media.TimestampLayout))
	}

	// #nosec G204 - handler path is from validated configuration
	cmd := exec.Command(e.HandlerPath, args...)
	if err := cmd.Start(); err != nil {
		e.Logger.Error("failed to spawn event handler", "handler", e.HandlerPath, "error", err)
		return
	}
	e.Logger.Info("spawned event handler", "handler", e.HandlerPath, "args", args)

	// Reap in the background; the exit status is deliberately ignored.
	go func() { _ = cmd.Wait() }()
}

// runnable checks the spawn preconditions.
func (e *Executor) runnable() bool {
	info, err := os.Stat(e.HandlerPath)
	if err != nil {
		e.Logger.Error("critical: event handler does not exist", "handler", e.HandlerPath, "error", err)
		return false
	}
	if info.IsDir() {
		e.Logger.Error("critical: event handler is a directory", "handler", e.HandlerPath)
		return false
	}
	if info.Mode().Perm()&0111 == 0 {
		e.Logger.Error("critical: event handler is not executable", "handler", e.HandlerPath)
		return false
	}
	return true
}

// NewExecHandler builds the handler role that forwards every fresh
// relevant trigger to the external executor. No stream URI is needed.
func NewExecHandler(cameraID string, targets detect.TargetSet, table *detect.Table,
	executor *Executor, logger *slog.Logger) *Handler {
	act := func(_ context.Context, _ string, snap detect.Snapshot) {
		executor.Dispatch(snap)
	}
	return NewHandler(cameraID, "event-exec", targets, table, nil, act, logger)
}
