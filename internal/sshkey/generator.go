// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

// Package sshkey issues the ephemeral session key pairs. Every session gets a
// fresh ed25519 pair; the public half is rendered as a single authorized_keys
// line for the client to install, the private half stays in process memory
// until the session ends.
package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/setmeup/setmeup/internal/security"
)

// KeyPair is an ephemeral session credential. The private half is an OpenSSH
// PEM document wrapped in a Secret; call Destroy when the session ends.
type KeyPair struct {
	// PublicLine is the public key in authorized_keys format, including the
	// session comment, without a trailing newline.
	PublicLine string

	private security.Secret
}

// Generate creates a fresh ed25519 key pair using crypto/rand. The comment is
// appended to the authorized_keys line so the client can recognize the entry
// later.
func Generate(comment string) (*KeyPair, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPubKey)))
	if comment != "" {
		line = fmt.Sprintf("%s %s", line, comment)
	}

	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	kp := &KeyPair{
		PublicLine: line,
		private:    security.FromBytes(pem.EncodeToMemory(pemBlock)),
	}
	// The ed25519 seed is no longer needed once the PEM copy exists.
	for i := range privKey {
		privKey[i] = 0
	}
	return kp, nil
}

// Signer parses the private half into an ssh.Signer for authentication.
func (k *KeyPair) Signer() (ssh.Signer, error) {
	var signer ssh.Signer
	err := k.private.Use(func(pemBytes []byte) error {
		s, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			return fmt.Errorf("unable to parse session private key: %w", err)
		}
		signer = s
		return nil
	})
	return signer, err
}

// PrivatePEM exposes the private half for a scoped use, e.g. writing the
// executor's temporary key file. The slice passed to fn is the live backing
// array; fn must not retain it.
func (k *KeyPair) PrivatePEM(fn func([]byte) error) error {
	return k.private.Use(fn)
}

// Destroy zeroes the private half. The KeyPair is unusable afterwards.
func (k *KeyPair) Destroy() {
	k.private.Zero()
}
