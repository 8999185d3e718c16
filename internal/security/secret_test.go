// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestSecretRedactionAndJSON(t *testing.T) {
	s := FromString("supersecret")
	if fmt.Sprintf("%v", s) != "[SECRET]" {
		t.Fatalf("unexpected fmt output: %q", fmt.Sprintf("%v", s))
	}
	if fmt.Sprintf("%s", s) != "[SECRET]" {
		t.Fatalf("unexpected %%s output: %q", fmt.Sprintf("%s", s))
	}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	if string(b) != "\"[SECRET]\"" {
		t.Fatalf("unexpected json marshal: %s", string(b))
	}
}

func TestSecretZero(t *testing.T) {
	s := FromString("abc123")
	raw := []byte(s)
	(&s).Zero()
	for i := range raw {
		if raw[i] != 0 {
			t.Fatalf("expected zeroed byte at index %d, got %d", i, raw[i])
		}
	}
	if s != nil {
		t.Fatalf("expected nil slice after Zero")
	}
}

func TestSecretBytesIsCopy(t *testing.T) {
	s := FromString("copyme")
	b := s.Bytes()
	b[0] = 'X'
	if string(s.Bytes()) != "copyme" {
		t.Fatalf("Bytes should return an independent copy")
	}
}
