// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/setmeup/setmeup/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setmeup.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadKeepsSourceDocumentOrder(t *testing.T) {
	path := writeConfig(t, `
sources:
  zeta:
    path: /tmp
  alpha:
    path: /tmp
  middle:
    path: /tmp
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	var names []string
	for _, s := range cfg.Sources {
		names = append(names, s.Name)
	}
	got := strings.Join(names, ",")
	if got != "zeta,alpha,middle" {
		t.Fatalf("sources out of document order: %s", got)
	}
}

func TestLoadFullSourceSpec(t *testing.T) {
	path := writeConfig(t, `
debug: true
sources:
  lab:
    path: /srv/playbooks
    recurse: true
    playbook_match: '\.yml$'
    pre_provision: git pull --ff-only
    ansible_playbook:
      path: /usr/bin/ansible-playbook
      args: ['--diff', '-v']
      env:
        - name: ANSIBLE_NOCOWS
          value: "1"
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Debug {
		t.Fatalf("debug flag not parsed")
	}
	if len(cfg.Sources) != 1 {
		t.Fatalf("expected one source, got %d", len(cfg.Sources))
	}
	s := cfg.Sources[0]
	if s.Name != "lab" || s.Path != "/srv/playbooks" || !s.Recurse {
		t.Fatalf("unexpected source: %+v", s)
	}
	if s.PlaybookMatch != `\.yml$` {
		t.Fatalf("unexpected playbook_match: %q", s.PlaybookMatch)
	}
	if s.PreProvision != "git pull --ff-only" {
		t.Fatalf("unexpected pre_provision: %q", s.PreProvision)
	}
	ap := s.AnsiblePlaybook
	if ap == nil || ap.Path != "/usr/bin/ansible-playbook" || len(ap.Args) != 2 {
		t.Fatalf("unexpected ansible_playbook override: %+v", ap)
	}
	if len(ap.Env) != 1 || ap.Env[0].Name != "ANSIBLE_NOCOWS" || ap.Env[0].Value != "1" {
		t.Fatalf("unexpected env entries: %+v", ap.Env)
	}
}

func TestLoadRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no sources", "debug: false\n", "missing or empty sources"},
		{"empty sources", "sources: {}\n", "missing or empty sources"},
		{"sources not mapping", "sources:\n  - /tmp\n", "must be a mapping"},
		{"missing path", "sources:\n  broken: {}\n", "missing path parameter"},
		{"env without name", `
sources:
  broken:
    path: /tmp
    ansible_playbook:
      env:
        - value: "1"
`, "missing name property"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, err := config.Load(path)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("wrong error: %v", err)
			}
		})
	}
}

func TestLocateHonorsEnvOverride(t *testing.T) {
	path := writeConfig(t, "sources:\n  a:\n    path: /tmp\n")
	t.Setenv("SETMEUP_CONF", path)
	got, err := config.Locate("")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if got != path {
		t.Fatalf("expected %s, got %s", path, got)
	}
}

func TestLocateExplicitWins(t *testing.T) {
	t.Setenv("SETMEUP_CONF", "/nonexistent/env.yml")
	got, err := config.Locate("/explicit/path.yml")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if got != "/explicit/path.yml" {
		t.Fatalf("explicit path should win, got %s", got)
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setmeup.yml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if len(cfg.Sources) == 0 {
		t.Fatalf("sample config has no sources")
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}
