// SPDX-License-Identifier: MIT

package watch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/digitaltrails/onvifeye-go/internal/detect"
	"github.com/digitaltrails/onvifeye-go/internal/media"
)

// VideoEnded is the synthetic detection emitted through the external
// executor when a recording attempt completes, letting downstream tools
// react to clip availability.
const VideoEnded = "VideoEnded"

// VideoWriterConfig wires a video writer role.
type VideoWriterConfig struct {
	CameraID    string
	StreamName  string
	ClipSeconds int
	Targets     detect.TargetSet
	Table       *detect.Table
	Paths       media.Paths
	Recorder    *media.Recorder
	Resolve     ResolveFunc
	Executor    *Executor // optional, for the VideoEnded synthetic event
	Logger      *slog.Logger
}

// NewVideoWriter builds the handler that records a bounded clip of the
// primary stream for every fresh relevant detection.
//
// Contract notes: an existing target file is skipped, never overwritten; a
// recording failure or timeout still leaves the incident marked handled
// (the common ledger contract), logged at error so operators can tell
// "nothing happened" from "encoder failed"; after the attempt, success or
// not, a VideoEnded synthetic detection is dispatched if it is targeted.
func NewVideoWriter(cfg VideoWriterConfig) *Handler {
	logger := cfg.Logger.With("camera", cfg.CameraID, "component", "video-writer")

	act := func(ctx context.Context, uri string, snap detect.Snapshot) {
		incident := snap.Incident()
		path := cfg.Paths.VideoPath(incident)

		if err := media.Prepare(path); err != nil {
			if errors.Is(err, media.ErrFileExists) {
				logger.Error("skipping save, file already exists", "path", path)
			} else {
				logger.Error("cannot prepare save path", "path", path, "error", err)
			}
		} else {
			logger.Info("writing clip", "path", path, "detections", snap.Keys())
			err := cfg.Recorder.RecordClip(ctx, uri, path, cfg.ClipSeconds)
			switch {
			case err == nil:
				logger.Info("closed clip", "path", path)
			case errors.Is(err, media.ErrCaptureTimeout):
				logger.Error("recording timed out, incident dropped", "path", path)
			default:
				logger.Error("recording failed, incident dropped", "path", path, "error", err)
			}
		}

		if cfg.Executor != nil && cfg.Targets.Contains(VideoEnded) {
			cfg.Executor.Dispatch(detect.Snapshot{VideoEnded: time.Now()})
		}
	}

	return NewHandler(cfg.CameraID, "video-writer", cfg.Targets, cfg.Table, cfg.Resolve, act, cfg.Logger)
}
