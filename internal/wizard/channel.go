// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

package wizard

import (
	"bufio"
	"io"
	"strings"
)

// Channel is the capability the wizard needs from the inbound connection: a
// line-oriented bidirectional text stream. The process runs as the login
// shell of a secure-shell session, so the real implementation wraps
// stdin/stdout; tests drive the wizard with a scripted channel instead.
type Channel interface {
	// ReadLine blocks until a full line arrives. It returns an error when
	// the client disconnects.
	ReadLine() (string, error)
	// WriteLine sends one line, terminating it for the remote terminal.
	WriteLine(s string) error
	// WriteRaw sends bytes without any added framing, e.g. for prompts that
	// keep the cursor on the same line.
	WriteRaw(b []byte) error
}

type stdioChannel struct {
	in  *bufio.Reader
	out io.Writer
}

// NewStdioChannel wraps a reader/writer pair as a Channel. Trailing carriage
// returns are stripped on input since the remote terminal may send CRLF.
func NewStdioChannel(in io.Reader, out io.Writer) Channel {
	return &stdioChannel{in: bufio.NewReader(in), out: out}
}

func (c *stdioChannel) ReadLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *stdioChannel) WriteLine(s string) error {
	_, err := io.WriteString(c.out, s+"\n")
	return err
}

func (c *stdioChannel) WriteRaw(b []byte) error {
	_, err := c.out.Write(b)
	return err
}
