// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EmailConfig configures the companion mail helper. It lives in its own
// JSON file, read independently of the camera configs.
type EmailConfig struct {
	SendFrom string   `json:"send_from" koanf:"send_from"`
	SendTo   []string `json:"send_to" koanf:"send_to"`
	Server   string   `json:"server" koanf:"server"`
	Port     int      `json:"port" koanf:"port"`
	Username string   `json:"username" koanf:"username"`
	Password string   `json:"password" koanf:"password"`
}

// EmailConfPath returns the default mail helper config location.
func EmailConfPath() string {
	return filepath.Join(ConfigRoot(), "onvifeye-email.conf")
}

// LoadEmail reads the mail helper configuration with the same lax JSON
// handling as the camera configs.
func LoadEmail(path string) (EmailConfig, error) {
	cfg := EmailConfig{
		Server: "localhost",
		Port:   587,
	}

	// #nosec G304 - config path comes from the user's config directory
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read email config: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(ScrubTrailingCommas(data)), kjson.Parser()); err != nil {
		return cfg, fmt.Errorf("failed to parse email config %s: %w", path, err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal email config %s: %w", path, err)
	}

	if cfg.SendFrom == "" || len(cfg.SendTo) == 0 {
		return cfg, fmt.Errorf("email config needs send_from and send_to")
	}
	return cfg, nil
}
