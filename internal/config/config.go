package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.wasync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	// QRInTerminal controls whether pairing QR codes are rendered to stderr.
	// Defaults to on; set false when the daemon runs headless under a supervisor.
	QRInTerminal *bool `toml:"qr_in_terminal"`
}

// RenderQR reports whether pairing codes should be drawn in the terminal.
func (c *Config) RenderQR() bool {
	if c == nil || c.QRInTerminal == nil {
		return true
	}
	return *c.QRInTerminal
}

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
