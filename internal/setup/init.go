// Package setup handles orchestra project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/orchestra/internal/config"
	"github.com/msageha/orchestra/internal/model"
	"github.com/msageha/orchestra/internal/tmux"
	atomicyaml "github.com/msageha/orchestra/internal/yaml"
	"github.com/msageha/orchestra/templates"
)

// Run initializes the .orchestra/ directory structure in the given project
// directory. projectName overrides the directory basename when non-empty.
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, config.DirName)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	// Create directory structure
	dirs := []string{
		"state",
		"locks",
		"logs",
		"quarantine",
		"quality_rules",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := config.Validate(*cfg); err != nil {
		return fmt.Errorf("generated config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, config.FileName), cfg); err != nil {
		return fmt.Errorf("write %s: %w", config.FileName, err)
	}

	if err := copyTemplateFile("quality_rules.yaml", filepath.Join(base, "quality_rules", "default.yaml")); err != nil {
		return err
	}
	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(projectDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, config.FileName)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	cfg.Project.Path = projectDir

	prefix := cfg.Tmux.SessionPrefix
	if prefix == "" {
		prefix = "orchestra"
	}
	session := tmux.SessionName(prefix+"-", cfg.Project.Name)
	for i := range cfg.Agents {
		cfg.Agents[i].Target = fmt.Sprintf("%s:0.%d", session, i)
	}
	return &cfg, nil
}
