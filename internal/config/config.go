// SPDX-License-Identifier: MIT

// Package config loads and persists per-camera configuration.
//
// Each camera has one UTF-8 JSON file under <config-root>/camera_conf/
// named *.conf. Parsing is lax (trailing commas are tolerated) because the
// files are usually hand-edited. Command-line flags override the matching
// field on every loaded config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfFileExt is the required camera config filename extension.
const ConfFileExt = ".conf"

// CameraConfig describes one camera. Immutable after load: it is handed
// read-only to every per-camera component.
type CameraConfig struct {
	CameraUsername            string   `json:"camera_username" koanf:"camera_username"`
	CameraPassword            string   `json:"camera_password" koanf:"camera_password"`
	CameraID                  string   `json:"camera_id" koanf:"camera_id"`
	CameraModel               string   `json:"camera_model" koanf:"camera_model"` // reserved
	CameraIPAddr              string   `json:"camera_ip_addr" koanf:"camera_ip_addr"`
	CameraOnvifPort           string   `json:"camera_onvif_port" koanf:"camera_onvif_port"`
	CameraStreamName          string   `json:"camera_stream_name" koanf:"camera_stream_name"`
	CameraStillsStreamName    string   `json:"camera_stills_stream_name" koanf:"camera_stills_stream_name"`
	CameraClipSeconds         int      `json:"camera_clip_seconds" koanf:"camera_clip_seconds"`
	CameraTargetEvents        []string `json:"camera_target_events" koanf:"camera_target_events"`
	CameraEventExec           string   `json:"camera_event_exec" koanf:"camera_event_exec"`
	CameraSaveFolder          string   `json:"camera_save_folder" koanf:"camera_save_folder"`
	CameraGrabStillsFromVideo bool     `json:"camera_grab_stills_from_video" koanf:"camera_grab_stills_from_video"`
}

// Default returns a CameraConfig with the stock defaults. The primary
// stream name defaults to mainStream (Tapo's current naming); older
// firmware calling it majorStream can override per camera.
func Default() CameraConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return CameraConfig{
		CameraUsername:            "tapo-admin",
		CameraPassword:            "",
		CameraID:                  "",
		CameraModel:               "",
		CameraIPAddr:              "",
		CameraOnvifPort:           "2020",
		CameraStreamName:          "mainStream",
		CameraStillsStreamName:    "jpegStream",
		CameraClipSeconds:         30,
		CameraTargetEvents:        []string{"IsPeople", "IsCar"},
		CameraEventExec:           "",
		CameraSaveFolder:          filepath.Join(home, "onvifeye"),
		CameraGrabStillsFromVideo: true,
	}
}

// DisplayID returns the camera's identifier, falling back to its address
// when camera_id is unset.
func (c CameraConfig) DisplayID() string {
	if c.CameraID != "" {
		return c.CameraID
	}
	return c.CameraIPAddr
}

// Validate checks a loaded configuration for values the daemon cannot run
// with. Failures here are fatal at startup.
func (c CameraConfig) Validate() error {
	if c.CameraIPAddr == "" {
		return fmt.Errorf("camera_ip_addr cannot be empty")
	}
	if c.CameraOnvifPort == "" {
		return fmt.Errorf("camera_onvif_port cannot be empty")
	}
	if c.CameraClipSeconds <= 0 {
		return fmt.Errorf("camera_clip_seconds must be positive")
	}
	if c.CameraSaveFolder == "" {
		return fmt.Errorf("camera_save_folder cannot be empty")
	}
	if len(c.CameraTargetEvents) == 0 {
		return fmt.Errorf("camera_target_events cannot be empty")
	}
	return nil
}

// ConfigRoot returns the daemon's configuration directory.
func ConfigRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "onvifeye")
}

// CameraConfDir returns the directory scanned for *.conf camera files.
func CameraConfDir() string {
	return filepath.Join(ConfigRoot(), "camera_conf")
}
