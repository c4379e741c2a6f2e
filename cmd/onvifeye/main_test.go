package main

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"

	"github.com/digitaltrails/onvifeye-go/internal/config"
)

func TestCreateConfigWritesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := run([]string{"--create-config", "cam1.conf"}, io.Discard); err != nil {
		t.Fatalf("run --create-config failed: %v", err)
	}

	path := filepath.Join(config.CameraConfDir(), "cam1.conf")
	got, err := config.Load(path)
	if err != nil {
		t.Fatalf("created config unreadable: %v", err)
	}
	if !reflect.DeepEqual(got, config.Default()) {
		t.Errorf("created config differs from defaults:\ngot  %+v\nwant %+v", got, config.Default())
	}
}

func TestCreateConfigAppliesOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	args := []string{
		"--create-config", "garden.conf",
		"--camera_ip_addr", "192.168.1.77",
		"--camera_clip_seconds", "10",
		"--camera_grab_stills_from_video=false",
	}
	if err := run(args, io.Discard); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	got, err := config.Load(filepath.Join(config.CameraConfDir(), "garden.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if got.CameraIPAddr != "192.168.1.77" || got.CameraClipSeconds != 10 || got.CameraGrabStillsFromVideo {
		t.Errorf("overrides not applied: %+v", got)
	}
}

func TestCreateConfigRejectsWrongExtension(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := run([]string{"--create-config", "cam1"}, io.Discard); err == nil {
		t.Error("missing .conf extension should be a configuration error")
	}
	if _, err := os.Stat(filepath.Join(config.CameraConfDir(), "cam1")); err == nil {
		t.Error("file was written despite the bad extension")
	}
}

func TestLoadConfigsFallsBackToDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerOverrideFlags(fs)
	if err := fs.Parse([]string{"--camera_ip_addr", "10.0.0.5"}); err != nil {
		t.Fatal(err)
	}

	configs, err := loadConfigs(fs)
	if err != nil {
		t.Fatalf("loadConfigs failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("got %d configs, want the single default", len(configs))
	}
	if configs[0].CameraIPAddr != "10.0.0.5" {
		t.Errorf("override not applied to default config: %+v", configs[0])
	}
}

func TestLoadConfigsOverridesEveryConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir := config.CameraConfDir()
	for _, name := range []string{"a.conf", "b.conf"} {
		cfg := config.Default()
		cfg.CameraIPAddr = "192.168.1." + name[:1]
		cfg.CameraID = name[:1]
		if err := cfg.Save(filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerOverrideFlags(fs)
	if err := fs.Parse([]string{"--camera_clip_seconds", "7"}); err != nil {
		t.Fatal(err)
	}

	configs, err := loadConfigs(fs)
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 2 {
		t.Fatalf("got %d configs, want 2", len(configs))
	}
	for _, cfg := range configs {
		if cfg.CameraClipSeconds != 7 {
			t.Errorf("override missed config %s: %+v", cfg.CameraID, cfg)
		}
	}
}

func TestLoadConfigsRejectsInvalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := config.Default() // empty camera_ip_addr
	if err := cfg.Save(filepath.Join(config.CameraConfDir(), "bad.conf")); err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerOverrideFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}

	if _, err := loadConfigs(fs); err == nil {
		t.Error("config without an address should fail validation")
	}
}

func TestApplyOverridesUntouchedWhenUnset(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerOverrideFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.CameraIPAddr = "192.168.1.50"
	cfg.CameraClipSeconds = 12
	before := cfg

	applyOverrides(fs, &cfg)
	if !reflect.DeepEqual(cfg, before) {
		t.Errorf("unset flags mutated the config:\ngot  %+v\nwant %+v", cfg, before)
	}
}
