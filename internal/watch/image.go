// SPDX-License-Identifier: MIT

package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/digitaltrails/onvifeye-go/internal/detect"
	"github.com/digitaltrails/onvifeye-go/internal/media"
)

const (
	// clipInitialDelay is how long the image writer waits before first
	// looking for the clip the video writer is producing concurrently.
	clipInitialDelay = 4 * time.Second

	// clipPollAttempts / clipPollInterval bound the follow-up polling for
	// that clip. If it never appears the still is abandoned, not retried.
	clipPollAttempts = 4
	clipPollInterval = time.Second
)

// ImageWriterConfig wires an image writer role.
type ImageWriterConfig struct {
	CameraID string
	// StillsStreamName is the profile used for direct grabs.
	StillsStreamName string
	// GrabFromVideo selects extract-from-clip mode: decode one frame from
	// the clip the video writer records for the same incident instead of
	// opening a second RTSP session.
	GrabFromVideo bool
	Targets       detect.TargetSet
	Table         *detect.Table
	Paths         media.Paths
	Recorder      *media.Recorder
	Resolve       ResolveFunc
	Logger        *slog.Logger

	// initialDelay/pollEvery/pollAttempts override the clip-wait
	// schedule in tests; zero values select the defaults.
	initialDelay time.Duration
	pollEvery    time.Duration
	pollAttempts int
}

// NewImageWriter builds the handler that saves one JPEG per incident,
// either extracted from the concurrently-recorded clip or grabbed straight
// from the stills stream.
func NewImageWriter(cfg ImageWriterConfig) *Handler {
	logger := cfg.Logger.With("camera", cfg.CameraID, "component", "image-writer")

	initialDelay := cfg.initialDelay
	if initialDelay == 0 {
		initialDelay = clipInitialDelay
	}
	pollEvery := cfg.pollEvery
	if pollEvery == 0 {
		pollEvery = clipPollInterval
	}
	pollAttempts := cfg.pollAttempts
	if pollAttempts == 0 {
		pollAttempts = clipPollAttempts
	}

	act := func(ctx context.Context, uri string, snap detect.Snapshot) {
		incident := snap.Incident()
		path := cfg.Paths.ImagePath(incident)

		if err := media.Prepare(path); err != nil {
			if errors.Is(err, media.ErrFileExists) {
				logger.Error("skipping save, file already exists", "path", path)
			} else {
				logger.Error("cannot prepare save path", "path", path, "error", err)
			}
			return
		}

		logger.Info("writing still", "path", path, "detections", snap.Keys())

		var err error
		if cfg.GrabFromVideo {
			clipPath := cfg.Paths.VideoPath(incident)
			if !waitForClip(ctx, clipPath, initialDelay, pollEvery, pollAttempts) {
				logger.Error("clip never appeared, giving up on still", "clip", clipPath)
				return
			}
			err = cfg.Recorder.ExtractFrame(ctx, clipPath, path)
		} else {
			err = cfg.Recorder.GrabFrame(ctx, uri, path)
		}

		if err != nil {
			logger.Error("still save failed", "path", path, "error", err)
			return
		}
		logger.Info("closed still", "path", path)
	}

	return NewHandler(cfg.CameraID, "image-writer", cfg.Targets, cfg.Table, cfg.Resolve, act, cfg.Logger)
}

// waitForClip waits initialDelay, then polls for the clip up to attempts
// more times. Returns false if the clip never shows up or ctx ends.
func waitForClip(ctx context.Context, clipPath string, initialDelay, pollEvery time.Duration, attempts int) bool {
	if sleepCtx(ctx, initialDelay) != nil {
		return false
	}
	for i := 0; ; i++ {
		if _, err := os.Stat(clipPath); err == nil {
			return true
		}
		if i >= attempts {
			return false
		}
		if sleepCtx(ctx, pollEvery) != nil {
			return false
		}
	}
}
