package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/psf2rom/internal/psflib"
)

// Config represents the psf2rom configuration file (~/.config/psf2rom/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Output
	OutputDir string `yaml:"output_dir"`
	OutputExt string `yaml:"output_ext"`

	// Resolution limits
	MaxNestLevel *int    `yaml:"max_nest_level"`
	MaxImageSize *uint64 `yaml:"max_image_size"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	LibraryRoot   string `yaml:"library_root"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "psf2rom", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolver returns a resolver honouring the configured limits.
func (c Config) Resolver() *psflib.Resolver {
	r := &psflib.Resolver{}
	if c.MaxNestLevel != nil {
		r.MaxNestLevel = *c.MaxNestLevel
	}
	if c.MaxImageSize != nil {
		r.MaxImageSize = *c.MaxImageSize
	}
	return r
}

// applyLogConfig applies config file defaults to the logging flags when they
// were not set explicitly.
func applyLogConfig(c *cli.Command, cfg Config, level, format *string) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		*level = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		*format = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr, root *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.LibraryRoot != "" && !c.IsSet("root") {
		*root = cfg.LibraryRoot
	}
}
