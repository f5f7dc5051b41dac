package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fetekit/fete-agent/internal/defaults"
)

// runInit initializes a Fete working directory with default files.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Fete workspace in %s\n", dir)

	dbDir := filepath.Join(dir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dbDir, err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml to point at your model backends, then run: fete serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never clobbers user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
