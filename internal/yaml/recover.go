package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// Read unmarshals the YAML file at path into v. If the file does not parse,
// it is moved into quarantineDir and the .bak written by AtomicWrite is
// restored and read instead. recovered reports whether that happened.
func Read(path, quarantineDir string, v any) (recovered bool, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if err := yamlv3.Unmarshal(content, v); err == nil {
		return false, nil
	} else if _, qerr := Quarantine(quarantineDir, path); qerr != nil {
		return false, fmt.Errorf("parse %s: %v; quarantine: %w", path, err, qerr)
	}

	if err := RestoreFromBackup(path); err != nil {
		return false, fmt.Errorf("recover %s: %w", path, err)
	}
	content, err = os.ReadFile(path)
	if err != nil {
		return true, err
	}
	if err := yamlv3.Unmarshal(content, v); err != nil {
		return true, fmt.Errorf("parse restored %s: %w", path, err)
	}
	return true, nil
}

// Quarantine moves a corrupt file aside as <name>.<timestamp>.corrupt and
// returns its new path.
func Quarantine(quarantineDir, filePath string) (string, error) {
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405.000"))
	dst := filepath.Join(quarantineDir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

// RestoreFromBackup copies path.bak over path after checking it parses.
func RestoreFromBackup(filePath string) error {
	bak := backupPath(filePath)
	content, err := os.ReadFile(bak)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}
	if err := AtomicWriteRaw(filePath, content); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}
