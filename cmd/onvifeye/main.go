// Package main implements the onvifeye daemon: an ONVIF event monitor and
// clip recorder.
//
// For every configured camera the daemon subscribes to the camera's
// PullPoint event stream and reacts to motion/object detections by
// recording a bounded RTSP clip, saving a still for the incident, and
// optionally invoking an external handler program.
//
// Usage:
//
//	onvifeye [options]
//
// Options:
//
//	-v, --verbose              Elevate log level to debug
//	-c, --create-config NAME   Write a default camera config named NAME
//	                           (must end in .conf) to the camera config
//	                           directory and exit
//	--camera_<field> VALUE     Override the field on every loaded config
//
// Configuration is read from every *.conf file under
// ~/.config/onvifeye/camera_conf/; when the directory is empty a single
// default config (plus command-line overrides) is used.
//
// Signals: SIGINT and SIGHUP trigger graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/digitaltrails/onvifeye-go/internal/config"
	"github.com/digitaltrails/onvifeye-go/internal/detect"
	"github.com/digitaltrails/onvifeye-go/internal/media"
	"github.com/digitaltrails/onvifeye-go/internal/onvifcam"
	"github.com/digitaltrails/onvifeye-go/internal/supervisor"
	"github.com/digitaltrails/onvifeye-go/internal/term"
	"github.com/digitaltrails/onvifeye-go/internal/util"
	"github.com/digitaltrails/onvifeye-go/internal/watch"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

const (
	exitSuccess     = 0
	exitConfigError = 1
	exitPanic       = 2
)

func main() {
	err := util.RecoverToError(func() error {
		return run(os.Args[1:], os.Stderr)
	})
	switch {
	case err == nil:
		os.Exit(exitSuccess)
	case errors.Is(err, util.ErrPanic):
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(exitPanic)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitConfigError)
	}
}

// run is the daemon entry point, extracted for testability. A returned
// error means a configuration problem (exit 1); panics are converted by
// the caller (exit 2).
func run(args []string, logOut io.Writer) error {
	fs := pflag.NewFlagSet("onvifeye", pflag.ContinueOnError)
	fs.SortFlags = false

	verbose := fs.BoolP("verbose", "v", false, "elevate log level to debug")
	createConfig := fs.StringP("create-config", "c", "",
		"write a default camera config with this filename (must end in .conf) and exit")
	registerOverrideFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	logger.Info("onvifeye", "version", Version, "commit", GitCommit, "built", BuildDate)

	if *createConfig != "" {
		return createConfigFile(*createConfig, fs, logger)
	}

	configs, err := loadConfigs(fs)
	if err != nil {
		return err
	}

	ffmpegPath, err := findFFmpegPath()
	if err != nil {
		return err
	}
	logger.Info("using ffmpeg", "path", ffmpegPath)

	// ffmpeg can disturb terminal attributes; put them back on exit.
	ttyState := term.Capture()
	defer ttyState.Restore()

	sup := supervisor.New("onvifeye", supervisor.Config{
		FailureBackoff:  5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Logger:          logger,
	})

	var captureLogs []io.Closer
	defer func() {
		for _, c := range captureLogs {
			_ = c.Close()
		}
	}()

	for _, camCfg := range configs {
		captureLog, err := registerCamera(sup, camCfg, ffmpegPath, logger)
		if err != nil {
			return err
		}
		captureLogs = append(captureLogs, captureLog)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP)
	util.SafeGo("signal-handler", logger, func() {
		sig := <-sigCh
		logger.Warn("signal received, shutting down", "signal", sig.String())
		cancel()
	})
	defer signal.Stop(sigCh)

	logger.Info("watching cameras", "cameras", len(configs), "services", sup.ServiceCount())
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor stopped", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// createConfigFile writes a default config (with any command-line
// overrides applied) into the camera config directory.
func createConfigFile(name string, fs *pflag.FlagSet, logger *slog.Logger) error {
	if !strings.HasSuffix(name, config.ConfFileExt) {
		return fmt.Errorf("config filename must end in %s: %s", config.ConfFileExt, name)
	}

	cfg := config.Default()
	applyOverrides(fs, &cfg)

	path := filepath.Join(config.CameraConfDir(), name)
	if err := cfg.Save(path); err != nil {
		return err
	}
	logger.Info("wrote camera config, please customise it for your camera", "path", path)
	return nil
}

// loadConfigs reads every camera config, falling back to a single default
// config when the directory is empty, and applies command-line overrides.
func loadConfigs(fs *pflag.FlagSet) ([]config.CameraConfig, error) {
	configs, err := config.LoadDir(config.CameraConfDir())
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		configs = []config.CameraConfig{config.Default()}
	}

	for i := range configs {
		applyOverrides(fs, &configs[i])
		if err := configs[i].Validate(); err != nil {
			return nil, fmt.Errorf("camera %d: %w", i, err)
		}
	}
	return configs, nil
}

// registerCamera wires one camera's component set into the supervisor:
// a notification puller (always), a video writer when a primary stream is
// configured, an image writer when a stills stream is configured, and an
// external-exec handler when a handler program is configured.
func registerCamera(sup *supervisor.Supervisor, camCfg config.CameraConfig,
	ffmpegPath string, logger *slog.Logger) (io.Closer, error) {
	id := camCfg.DisplayID()

	client := onvifcam.New(camCfg.CameraIPAddr, camCfg.CameraOnvifPort,
		camCfg.CameraUsername, camCfg.CameraPassword, detect.DefaultExpiry, logger)
	table := detect.NewTable()
	targets := detect.NewTargetSet(camCfg.CameraTargetEvents)
	paths := media.Paths{SaveRoot: camCfg.CameraSaveFolder, CameraID: id}

	captureLog, err := media.NewRotatingWriter(paths.CaptureLogPath(), media.WithCompression(true))
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", id, err)
	}

	recorder := &media.Recorder{
		FFmpegPath: ffmpegPath,
		Logger:     logger.With("camera", id),
		Stderr:     captureLog,
	}

	var executor *watch.Executor
	if camCfg.CameraEventExec != "" {
		executor = watch.NewExecutor(id, camCfg.CameraEventExec, logger)
	}

	sup.Add(watch.NewPuller(id, watch.NewPullSource(client), table, detect.DefaultExpiry, logger))

	if streamName := camCfg.CameraStreamName; streamName != "" {
		sup.Add(watch.NewVideoWriter(watch.VideoWriterConfig{
			CameraID:    id,
			StreamName:  streamName,
			ClipSeconds: camCfg.CameraClipSeconds,
			Targets:     targets,
			Table:       table,
			Paths:       paths,
			Recorder:    recorder,
			Resolve: func(ctx context.Context) (string, error) {
				return client.StreamURIByName(ctx, streamName)
			},
			Executor: executor,
			Logger:   logger,
		}))
	}

	if stillsName := camCfg.CameraStillsStreamName; stillsName != "" {
		sup.Add(watch.NewImageWriter(watch.ImageWriterConfig{
			CameraID:         id,
			StillsStreamName: stillsName,
			GrabFromVideo:    camCfg.CameraGrabStillsFromVideo,
			Targets:          targets,
			Table:            table,
			Paths:            paths,
			Recorder:         recorder,
			Resolve: func(ctx context.Context) (string, error) {
				return client.StreamURIByName(ctx, stillsName)
			},
			Logger: logger,
		}))
	}

	if executor != nil {
		sup.Add(watch.NewExecHandler(id, targets, table, executor, logger))
	}

	return captureLog, nil
}

// registerOverrideFlags declares one flag per CameraConfig field; a flag
// that was set overrides that field on every loaded config. Flag types are
// inferred from the defaults.
func registerOverrideFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String("camera_username", def.CameraUsername, "override camera_username")
	fs.String("camera_password", def.CameraPassword, "override camera_password")
	fs.String("camera_id", def.CameraID, "override camera_id")
	fs.String("camera_model", def.CameraModel, "override camera_model")
	fs.String("camera_ip_addr", def.CameraIPAddr, "override camera_ip_addr")
	fs.String("camera_onvif_port", def.CameraOnvifPort, "override camera_onvif_port")
	fs.String("camera_stream_name", def.CameraStreamName, "override camera_stream_name")
	fs.String("camera_stills_stream_name", def.CameraStillsStreamName, "override camera_stills_stream_name")
	fs.Int("camera_clip_seconds", def.CameraClipSeconds, "override camera_clip_seconds")
	fs.StringSlice("camera_target_events", def.CameraTargetEvents, "override camera_target_events")
	fs.String("camera_event_exec", def.CameraEventExec, "override camera_event_exec")
	fs.String("camera_save_folder", def.CameraSaveFolder, "override camera_save_folder")
	fs.Bool("camera_grab_stills_from_video", def.CameraGrabStillsFromVideo, "override camera_grab_stills_from_video")
}

// applyOverrides copies every explicitly-set override flag onto cfg.
func applyOverrides(fs *pflag.FlagSet, cfg *config.CameraConfig) {
	if fs.Changed("camera_username") {
		cfg.CameraUsername, _ = fs.GetString("camera_username")
	}
	if fs.Changed("camera_password") {
		cfg.CameraPassword, _ = fs.GetString("camera_password")
	}
	if fs.Changed("camera_id") {
		cfg.CameraID, _ = fs.GetString("camera_id")
	}
	if fs.Changed("camera_model") {
		cfg.CameraModel, _ = fs.GetString("camera_model")
	}
	if fs.Changed("camera_ip_addr") {
		cfg.CameraIPAddr, _ = fs.GetString("camera_ip_addr")
	}
	if fs.Changed("camera_onvif_port") {
		cfg.CameraOnvifPort, _ = fs.GetString("camera_onvif_port")
	}
	if fs.Changed("camera_stream_name") {
		cfg.CameraStreamName, _ = fs.GetString("camera_stream_name")
	}
	if fs.Changed("camera_stills_stream_name") {
		cfg.CameraStillsStreamName, _ = fs.GetString("camera_stills_stream_name")
	}
	if fs.Changed("camera_clip_seconds") {
		cfg.CameraClipSeconds, _ = fs.GetInt("camera_clip_seconds")
	}
	if fs.Changed("camera_target_events") {
		cfg.CameraTargetEvents, _ = fs.GetStringSlice("camera_target_events")
	}
	if fs.Changed("camera_event_exec") {
		cfg.CameraEventExec, _ = fs.GetString("camera_event_exec")
	}
	if fs.Changed("camera_save_folder") {
		cfg.CameraSaveFolder, _ = fs.GetString("camera_save_folder")
	}
	if fs.Changed("camera_grab_stills_from_video") {
		cfg.CameraGrabStillsFromVideo, _ = fs.GetBool("camera_grab_stills_from_video")
	}
}

// findFFmpegPath locates the ffmpeg binary.
func findFFmpegPath() (string, error) {
	paths := []string{
		"/usr/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/opt/homebrew/bin/ffmpeg",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		p := filepath.Join(dir, "ffmpeg")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in common locations or PATH")
}
