// SPDX-License-Identifier: MIT

// Package media turns a triggered detection into files on disk: a bounded
// ffmpeg clip recording, a still extracted from that clip, or a single frame
// grabbed straight from RTSP. All ffmpeg work runs in a child process with a
// hard timeout so a wedged encoder can never stall the event loops.
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout is the basename layout for saved media. The timestamp is
// the incident time, not the capture-completion time, so the clip and the
// still for one incident always share a basename.
const TimestampLayout = "20060102-150405"

// ErrFileExists is returned when a save path already exists. Existing files
// are never overwritten; the save is skipped and logged.
var ErrFileExists = errors.New("save file already exists")

// Paths resolves the on-disk layout under a camera's save folder:
//
//	<save-root>/videos/<camera-id>/YYYYMMDD-HHMMSS.mp4
//	<save-root>/images/<camera-id>/YYYYMMDD-HHMMSS.jpg
//	<save-root>/logs/<camera-id>.log
type Paths struct {
	SaveRoot string
	CameraID string
}

// VideoPath returns the clip path for an incident time.
func (p Paths) VideoPath(incident time.Time) string {
	return filepath.Join(p.SaveRoot, "videos", p.CameraID, incident.Format(TimestampLayout)+".mp4")
}

// ImagePath returns the still path for an incident time.
func (p Paths) ImagePath(incident time.Time) string {
	return filepath.Join(p.SaveRoot, "images", p.CameraID, incident.Format(TimestampLayout)+".jpg")
}

// CaptureLogPath returns the per-camera ffmpeg log path.
func (p Paths) CaptureLogPath() string {
	return filepath.Join(p.SaveRoot, "logs", p.CameraID+".log")
}

// Prepare creates the parent directories of path and refuses to reuse an
// existing file.
//
// Returns ErrFileExists (wrapped) when path is already present.
func Prepare(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create save directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat save path: %w", err)
	}
	return nil
}
