// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

// Package source manages the configured playbook sources and discovers the
// playbooks they offer. The registry is built once at startup and immutable
// afterwards; discovery re-scans the filesystem on every enumeration so that
// a pre-provision hook (e.g. git pull) takes effect immediately.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/setmeup/setmeup/internal/config"
)

// DefaultMatch is the playbook pattern used when a source does not override
// playbook_match.
const DefaultMatch = `\.ya?ml$`

// Source is one validated playbook source. Immutable after construction.
type Source struct {
	Name         string
	Root         string // absolute, home-expanded
	Recurse      bool
	Match        *regexp.Regexp
	PreProvision string

	// Runner override; zero values mean installation defaults.
	RunnerPath string
	RunnerArgs []string
	RunnerEnv  []config.EnvVar
}

// Playbook is a discovered playbook: a path relative to its source's root.
type Playbook struct {
	Source *Source
	Path   string
}

func (p Playbook) String() string {
	return fmt.Sprintf("%s: %s", p.Source.Name, p.Path)
}

// Warning reports a source that had to be excluded from an enumeration.
type Warning struct {
	Source string
	Err    error
}

// Registry holds the fixed set of sources for the process lifetime.
type Registry struct {
	sources []*Source
}

// NewRegistry validates the configured source specs and builds the registry.
// Order is preserved from the configuration.
func NewRegistry(specs []config.SourceSpec) (*Registry, error) {
	var sources []*Source
	for _, spec := range specs {
		s, err := newSource(spec)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", spec.Name, err)
		}
		sources = append(sources, s)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}
	return &Registry{sources: sources}, nil
}

func newSource(spec config.SourceSpec) (*Source, error) {
	root, err := homedir.Expand(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot expand path %q: %w", spec.Path, err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("failed to read directory at %s", root)
	}

	pattern := spec.PlaybookMatch
	if pattern == "" {
		pattern = DefaultMatch
	}
	match, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid playbook_match: %w", err)
	}

	s := &Source{
		Name:         spec.Name,
		Root:         root,
		Recurse:      spec.Recurse,
		Match:        match,
		PreProvision: spec.PreProvision,
	}
	if ap := spec.AnsiblePlaybook; ap != nil {
		if ap.Path != "" {
			if err := checkExecutable(ap.Path); err != nil {
				return nil, err
			}
			s.RunnerPath = ap.Path
		}
		s.RunnerArgs = ap.Args
		s.RunnerEnv = ap.Env
	}
	return s, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
		return fmt.Errorf("no executable ansible-playbook at %s", path)
	}
	return nil
}

// Sources returns the registry's sources in configuration order.
func (r *Registry) Sources() []*Source { return r.sources }

// Enumerate runs each source's pre-provision hook and scans it for playbooks.
// A failing hook excludes that source and is reported as a warning; the other
// sources remain usable. Results are ordered source-first (configuration
// order), then lexically by playbook path, so the rendered menu is stable.
func (r *Registry) Enumerate(ctx context.Context) ([]Playbook, []Warning) {
	var playbooks []Playbook
	var warnings []Warning
	for _, s := range r.sources {
		if err := s.update(ctx); err != nil {
			warnings = append(warnings, Warning{Source: s.Name, Err: err})
			continue
		}
		found := s.scan()
		for _, rel := range found {
			playbooks = append(playbooks, Playbook{Source: s, Path: rel})
		}
	}
	return playbooks, warnings
}

// update runs the pre-provision hook, if any, with the source root as the
// working directory. Combined output is captured for the warning message.
func (s *Source) update(ctx context.Context) error {
	if s.PreProvision == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", s.PreProvision)
	cmd.Dir = s.Root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pre-provision command failed: %w (output: %s)", err, string(out))
	}
	return nil
}

// scan walks the source root and collects playbook paths relative to the
// root that match the source pattern. Unreadable entries are skipped; a
// source that cannot be read at all simply yields nothing.
func (s *Source) scan() []string {
	var found []string
	_ = filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if d.IsDir() {
			if !s.Recurse && path != s.Root {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(s.Root, path)
		if relErr != nil {
			return nil
		}
		if s.Match.MatchString(rel) {
			found = append(found, rel)
		}
		return nil
	})
	sort.Strings(found)
	return found
}
