// Package yaml writes state snapshots atomically and reads them back,
// falling back to the previous snapshot when the current one is corrupt.
package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// AtomicWrite marshals data and replaces path with it. The previous file,
// if any, is kept as path.bak.
func AtomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw checks that content parses, writes it to a temp file in
// path's directory and renames it over path. Invalid content leaves the
// directory untouched.
func AtomicWriteRaw(path string, content []byte) error {
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmpName, err := writeTemp(dir, content)
	if err != nil {
		return err
	}
	if err := keepBackup(path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// writeTemp writes content to a synced temp file in dir and returns its
// name.
func writeTemp(dir string, content []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".orchestra-tmp-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	_, werr := f.Write(content)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", werr)
	}
	return f.Name(), nil
}

// keepBackup copies the current file at path, if there is one, to path.bak.
func keepBackup(path string) error {
	current, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read current %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(backupPath(path), current, 0644); err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	return nil
}

func backupPath(path string) string { return path + ".bak" }

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}
