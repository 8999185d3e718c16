// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

// Package ansible invokes the external playbook runner against the client
// reachable through the reverse tunnel. The session's private key only ever
// touches disk here, as a 0600 temporary file that is removed on every exit
// path, including cancellation.
package ansible

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/setmeup/setmeup/internal/source"
	"github.com/setmeup/setmeup/internal/sshkey"
)

// DefaultRunner is used when a source does not override the runner binary.
const DefaultRunner = "ansible-playbook"

// inventoryHost is the alias under which the client appears in the generated
// inventory and the -l limit.
const inventoryHost = "provisionee"

// Target describes the client behind the reverse tunnel.
type Target struct {
	Port     int
	Username string
}

// Sink receives relayed runner output, one line at a time, in the order the
// two streams produced it.
type Sink func(line string)

// SpawnError reports that the runner process could not be started at all.
// It is distinct from a playbook failure: no output was relayed yet.
type SpawnError struct {
	Runner string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Runner, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// PlaybookError reports a runner that started and exited non-zero.
type PlaybookError struct {
	ExitCode int
}

func (e *PlaybookError) Error() string {
	return fmt.Sprintf("playbook run failed with exit code %d", e.ExitCode)
}

// Run executes the selected playbook against the target. The private key is
// written to a temporary file for the duration of this one invocation; the
// runner's stdout and stderr are relayed line by line to sink as they arrive.
// Cancelling ctx kills the runner's whole process group. A nil return means
// the playbook exited zero.
func Run(ctx context.Context, pb source.Playbook, target Target, key *sshkey.KeyPair, sink Sink) error {
	keyPath, cleanupKey, err := writeKeyFile(key)
	if err != nil {
		return err
	}
	defer cleanupKey()

	invPath, cleanupInv, err := writeInventory(target)
	if err != nil {
		return err
	}
	defer cleanupInv()

	controlDir, err := os.MkdirTemp("", "setmeup-cp-")
	if err != nil {
		return fmt.Errorf("failed to create control path directory: %w", err)
	}
	defer os.RemoveAll(controlDir)

	src := pb.Source
	runner := src.RunnerPath
	if runner == "" {
		runner = DefaultRunner
	}

	args := append([]string{}, src.RunnerArgs...)
	args = append(args,
		"--private-key", keyPath,
		"-i", invPath,
		"-l", inventoryHost,
		pb.Path,
	)

	cmd := exec.CommandContext(ctx, runner, args...)
	cmd.Dir = src.Root
	cmd.Env = buildEnv(src, controlDir)

	// The runner gets its own process group so that cancellation reaps its
	// SSH workers too, not just the top-level process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &SpawnError{Runner: runner, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &SpawnError{Runner: runner, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &SpawnError{Runner: runner, Err: err}
	}

	relay(stdout, stderr, sink)

	err = cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return fmt.Errorf("provisioning cancelled: %w", ctx.Err())
		}
		return &PlaybookError{ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("runner did not exit cleanly: %w", err)
}

// relay fans the two output streams into the sink. One producer goroutine per
// stream sends lines into a shared channel; the channel closes when both
// streams are drained. Per-stream ordering is preserved by construction.
func relay(stdout, stderr io.Reader, sink Sink) {
	lines := make(chan string, 64)

	var wg sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		wg.Add(1)
		go func(r io.Reader) {
			defer wg.Done()
			scanner := bufio.NewScanner(r)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}(r)
	}
	go func() {
		wg.Wait()
		close(lines)
	}()

	for line := range lines {
		sink(line)
	}
}

// writeKeyFile materializes the session key. os.CreateTemp creates the file
// with owner-only permissions; the returned cleanup removes it.
func writeKeyFile(key *sshkey.KeyPair) (string, func(), error) {
	f, err := os.CreateTemp("", "setmeup-key-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to ready the private key file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	writeErr := key.PrivatePEM(func(pem []byte) error {
		_, err := f.Write(pem)
		return err
	})
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write the private key: %w", writeErr)
	}
	return f.Name(), cleanup, nil
}

// writeInventory renders the single-host inventory targeting the loopback end
// of the reverse tunnel.
func writeInventory(target Target) (string, func(), error) {
	f, err := os.CreateTemp("", "setmeup-inventory-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to ready the inventory file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	line := fmt.Sprintf("%s ansible_host=127.0.0.1 ansible_port=%d ansible_user=%s\n",
		inventoryHost, target.Port, target.Username)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write the inventory: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write the inventory: %w", err)
	}
	return f.Name(), cleanup, nil
}

// buildEnv merges the configured env entries over the process environment,
// with the forced Ansible settings applied last.
func buildEnv(src *source.Source, controlDir string) []string {
	env := os.Environ()
	for _, e := range src.RunnerEnv {
		env = append(env, e.Name+"="+e.Value)
	}
	env = append(env,
		"ANSIBLE_HOST_KEY_CHECKING=False",
		"ANSIBLE_SSH_CONTROL_PATH_DIR="+controlDir,
	)
	return env
}
