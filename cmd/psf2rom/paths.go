package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultOutputExt is appended to the input name with its extension removed.
const defaultOutputExt = ".data.bin"

// resolveOutputPath picks where a ROM image is written. An explicit output
// wins; otherwise the input extension is replaced by the configured (or
// default) extension, in the configured output directory when there is one.
func resolveOutputPath(input, outFlag string, cfg Config) (string, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		return filepath.Clean(outFlag), nil
	}

	ext := cfg.OutputExt
	if ext == "" {
		ext = defaultOutputExt
	}

	base := filepath.Base(input)
	if base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid input path: %q", input)
	}
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ext

	dir := strings.TrimSpace(cfg.OutputDir)
	if dir == "" {
		return filepath.Join(filepath.Dir(input), name), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
