// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	runErr := fn()
	w.Close()
	out, _ := io.ReadAll(r)
	return string(out), runErr
}

func writeTestConfig(t *testing.T, root string) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "setmeup.yml")
	cfg := "sources:\n  main:\n    path: " + root + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestInitWritesSampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setmeup.yml")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"init", path})

	if _, err := captureStdout(t, cmd.Execute); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("sample not written: %v", err)
	}
	if !strings.Contains(string(data), "sources:") {
		t.Fatalf("sample lacks a sources section:\n%s", data)
	}

	// A second run must not clobber the file.
	cmd = newRootCmd()
	cmd.SetArgs([]string{"init", path})
	if _, err := captureStdout(t, cmd.Execute); err == nil {
		t.Fatalf("expected refusal to overwrite existing config")
	}
}

func TestValidateListsPlaybooks(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{"site.yml", "extra.yaml", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(root, f), []byte("---\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	cfgPath := writeTestConfig(t, root)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"validate", "--config", cfgPath})
	out, err := captureStdout(t, cmd.Execute)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "source main: 2 playbook(s)") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "main: site.yml") || !strings.Contains(out, "main: extra.yaml") {
		t.Fatalf("playbooks not listed:\n%s", out)
	}
	if strings.Contains(out, "notes.txt") {
		t.Fatalf("non-playbook file listed:\n%s", out)
	}
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "setmeup.yml")
	if err := os.WriteFile(cfgPath, []byte("sources:\n  broken:\n    recurse: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCmd()
	cmd.SetArgs([]string{"validate", "--config", cfgPath})
	_, err := captureStdout(t, cmd.Execute)
	if err == nil || !strings.Contains(err.Error(), "missing path parameter") {
		t.Fatalf("expected missing path error, got %v", err)
	}
}
