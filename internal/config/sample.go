// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const sampleConfig = `# Set Me Up configuration.
#
# Each source names a directory of Ansible playbooks offered to clients.
debug: false

# Dialogue language shown to clients. Supported: "en", "de".
language: en

sources:
  base:
    path: /srv/setmeup/playbooks
    # recurse: true
    # playbook_match: '\.ya?ml$'
    # pre_provision: git pull --ff-only
    # ansible_playbook:
    #   path: /usr/local/bin/ansible-playbook
    #   args: ['--diff']
    #   env:
    #     - name: ANSIBLE_NOCOWS
    #       value: "1"
`

// WriteSample creates a commented starter configuration at path. It refuses
// to overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing configuration at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("could not write configuration: %w", err)
	}
	return nil
}
