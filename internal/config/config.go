// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the process-wide configuration. The configuration is
// read once at startup and treated as immutable afterwards; concurrent
// sessions share it by reference without synchronization.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvVar is a single environment entry for the playbook runner.
type EnvVar struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// RunnerOverride customizes how ansible-playbook is invoked for one source.
type RunnerOverride struct {
	Path string   `yaml:"path,omitempty"`
	Args []string `yaml:"args,omitempty"`
	Env  []EnvVar `yaml:"env,omitempty"`
}

// SourceSpec is the raw, unvalidated configuration of one playbook source.
// Compilation of the match pattern and path checks happen when the source
// registry is built.
type SourceSpec struct {
	Name            string          `yaml:"-"`
	Path            string          `yaml:"path"`
	Recurse         bool            `yaml:"recurse,omitempty"`
	PlaybookMatch   string          `yaml:"playbook_match,omitempty"`
	PreProvision    string          `yaml:"pre_provision,omitempty"`
	AnsiblePlaybook *RunnerOverride `yaml:"ansible_playbook,omitempty"`
}

// Config is the full process configuration. Sources keep the order in which
// they appear in the configuration file; the wizard menu follows it.
type Config struct {
	Debug    bool
	Language string
	Sources  []SourceSpec
}

// CandidatePaths returns the ordered list of locations probed when no
// explicit configuration file is given. The first existing file wins.
func CandidatePaths() []string {
	var paths []string
	if env := os.Getenv("SETMEUP_CONF"); env != "" {
		paths = append(paths, env)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "setmeup", "setmeup.yml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".setmeup.yml"))
	}
	paths = append(paths,
		"/etc/setmeup/setmeup.yml",
		"/etc/setmeup.yml",
	)
	return paths
}

// Locate resolves the configuration file path. An explicit path (from the
// --config flag) is used as-is; otherwise the candidate locations are probed
// in order.
func Locate(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, p := range CandidatePaths() {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("no configuration file found (tried %d locations)", len(CandidatePaths()))
}

// Load locates, parses and validates the configuration. Viper handles the
// file read, scalar settings and SETMEUP_* environment overrides; the sources
// block is decoded separately with yaml.v3 so that the document order of the
// source mapping is preserved for the wizard menu.
func Load(explicit string) (*Config, error) {
	path, err := Locate(explicit)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("debug", false)
	v.SetDefault("language", "en")
	v.SetEnvPrefix("SETMEUP")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration from %s: %w", path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration from %s: %w", path, err)
	}
	sources, err := parseSources(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Config{
		Debug:    v.GetBool("debug"),
		Language: v.GetString("language"),
		Sources:  sources,
	}, nil
}

// parseSources decodes the sources mapping while keeping document order.
// yaml.Node keeps mapping keys and values as alternating entries in Content.
func parseSources(raw []byte) ([]SourceSpec, error) {
	var doc struct {
		Sources yaml.Node `yaml:"sources"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc.Sources.Kind == 0 || doc.Sources.IsZero() {
		return nil, fmt.Errorf("missing or empty sources")
	}
	if doc.Sources.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("sources must be a mapping of name to source parameters")
	}

	var specs []SourceSpec
	seen := make(map[string]bool)
	for i := 0; i+1 < len(doc.Sources.Content); i += 2 {
		keyNode := doc.Sources.Content[i]
		valNode := doc.Sources.Content[i+1]

		var spec SourceSpec
		if err := valNode.Decode(&spec); err != nil {
			return nil, fmt.Errorf("source %q: %w", keyNode.Value, err)
		}
		spec.Name = keyNode.Value
		if err := validateSpec(&spec); err != nil {
			return nil, fmt.Errorf("source %q: %w", spec.Name, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate source name %q", spec.Name)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("missing or empty sources")
	}
	return specs, nil
}

func validateSpec(spec *SourceSpec) error {
	if spec.Path == "" {
		return fmt.Errorf("missing path parameter")
	}
	if spec.AnsiblePlaybook != nil {
		for _, e := range spec.AnsiblePlaybook.Env {
			if e.Name == "" {
				return fmt.Errorf("missing name property for environment variable")
			}
		}
	}
	return nil
}
