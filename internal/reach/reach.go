// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

// Package reach proves that the client installed the issued session key. It
// dials back through the client's reverse tunnel on the loopback address and
// authenticates with exactly that key: no agent, no stored credentials, no
// fallback. Success therefore demonstrates that this specific key works.
package reach

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/setmeup/setmeup/internal/i18n"
	"github.com/setmeup/setmeup/internal/sshkey"
)

// Category classifies a failed verification so the wizard can show an
// actionable message.
type Category int

const (
	// Other covers failures with no more specific category.
	Other Category = iota
	// Timeout: the tunnel did not answer within the deadline.
	Timeout
	// ConnectionRefused: nothing listens on the loopback port.
	ConnectionRefused
	// AuthRejected: the client explicitly refused the issued key.
	AuthRejected
	// IdentityMismatch: the host key changed between attempts of one session.
	IdentityMismatch
)

func (c Category) String() string {
	switch c {
	case Timeout:
		return "timeout"
	case ConnectionRefused:
		return "connection refused"
	case AuthRejected:
		return "authentication rejected"
	case IdentityMismatch:
		return "host identity mismatch"
	default:
		return "other"
	}
}

// Error is a categorized verification failure.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reachability check failed (%s): %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Advice returns a short hint the wizard shows next to the failure.
func (e *Error) Advice() string {
	switch e.Category {
	case Timeout:
		return i18n.T("reach.advice_timeout")
	case ConnectionRefused:
		return i18n.T("reach.advice_refused")
	case AuthRejected:
		return i18n.T("reach.advice_rejected")
	case IdentityMismatch:
		return i18n.T("reach.advice_mismatch")
	default:
		return i18n.T("reach.advice_other")
	}
}

// Verifier performs the dial-back check for one session. It pins the first
// host key it sees so that later retries within the same session must present
// the same identity.
type Verifier struct {
	// DialTimeout bounds both the TCP connect and the SSH handshake.
	DialTimeout time.Duration

	pinned   ssh.PublicKey
	mismatch bool
}

// New returns a Verifier with the default timeout.
func New() *Verifier {
	return &Verifier{DialTimeout: 10 * time.Second}
}

// Verify opens an outbound SSH connection to 127.0.0.1:port as username,
// offering only the issued key. The connection is closed immediately on
// success; it exists only to prove reachability.
func (v *Verifier) Verify(ctx context.Context, port int, username string, key *sshkey.KeyPair) error {
	signer, err := key.Signer()
	if err != nil {
		return &Error{Category: Other, Err: err}
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	dialer := net.Dialer{Timeout: v.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &Error{Category: classifyDial(err), Err: err}
	}

	// Bound the handshake as well; a stalled tunnel must not hang the session.
	_ = conn.SetDeadline(time.Now().Add(v.DialTimeout))

	v.mismatch = false
	clientConf := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: v.checkHostKey,
		Timeout:         v.DialTimeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConf)
	if err != nil {
		conn.Close()
		return &Error{Category: v.classifyHandshake(err), Err: err}
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	client.Close()
	return nil
}

// checkHostKey pins the first presented host key for the session and rejects
// any later change.
func (v *Verifier) checkHostKey(hostname string, remote net.Addr, key ssh.PublicKey) error {
	presented := string(key.Marshal())
	if v.pinned == nil {
		v.pinned = key
		return nil
	}
	if string(v.pinned.Marshal()) != presented {
		v.mismatch = true
		return fmt.Errorf("host key changed since the first attempt of this session")
	}
	return nil
}

func classifyDial(err error) Category {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return Timeout
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionRefused
	default:
		return Other
	}
}

func (v *Verifier) classifyHandshake(err error) Category {
	if v.mismatch {
		return IdentityMismatch
	}
	if isAuthFailure(err) {
		return AuthRejected
	}
	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Other
}

// isAuthFailure matches the x/crypto/ssh authentication failure. The library
// does not export a sentinel for it, so the error text is the contract.
func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}
