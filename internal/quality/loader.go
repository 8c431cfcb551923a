package quality

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the only rule file version understood.
const SchemaVersion = "1.0.0"

// RuleFile is the on-disk shape of a rules file.
type RuleFile struct {
	SchemaVersion string `yaml:"schema_version"`
	Rules         []Rule `yaml:"rules"`
}

// Loader reads rule files from a directory.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) Dir() string { return l.dir }

// LoadRules reads every .yaml/.yml file under the directory in lexical
// order and concatenates their rules. A missing directory yields no rules.
// Any invalid file or rule fails the whole load.
func (l *Loader) LoadRules() ([]Rule, error) {
	if _, err := os.Stat(l.dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var rules []Rule
	seen := make(map[string]string)
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasExtension(path, ".yaml", ".yml") {
			return nil
		}
		fileRules, err := l.LoadFromFile(path)
		if err != nil {
			return err
		}
		for _, r := range fileRules {
			if prev, dup := seen[r.Name]; dup {
				return fmt.Errorf("%w: duplicate rule name %q in %s (first defined in %s)", ErrInvalidRule, r.Name, path, prev)
			}
			seen[r.Name] = path
		}
		rules = append(rules, fileRules...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// LoadFromFile parses and validates one rules file.
func (l *Loader) LoadFromFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	rules, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return rules, nil
}

// LoadFromBytes parses and validates rule YAML. Unknown fields are errors.
func (l *Loader) LoadFromBytes(data []byte) ([]Rule, error) {
	var file RuleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse YAML: %v", ErrInvalidRule, err)
	}

	if file.SchemaVersion == "" {
		return nil, fmt.Errorf("%w: schema_version is required", ErrInvalidRule)
	}
	if file.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version: %s", ErrInvalidRule, file.SchemaVersion)
	}
	for i, r := range file.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return file.Rules, nil
}

// LoadRules replaces e's rules with those under dir, or with the fallback
// rules when dir holds none. On error the current rules are kept.
func (e *Engine) LoadRules(dir string) (int, error) {
	rules, err := NewLoader(dir).LoadRules()
	if err != nil {
		return 0, err
	}
	if len(rules) == 0 {
		rules = e.opts.FallbackRules
	}
	if err := e.SetRules(rules); err != nil {
		return 0, err
	}
	return len(rules), nil
}

func hasExtension(path string, extensions ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}
