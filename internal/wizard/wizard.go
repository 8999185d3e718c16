// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

// Package wizard drives the interactive provisioning dialogue with the remote
// client. One wizard run is one session: it prompts for the reverse tunnel
// port and username, issues an ephemeral key, proves reachability through the
// tunnel, lets the client pick a playbook and relays the runner's output.
// Invalid input never advances a state; the client is re-prompted instead.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	clog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/setmeup/setmeup/internal/ansible"
	"github.com/setmeup/setmeup/internal/i18n"
	"github.com/setmeup/setmeup/internal/logging"
	"github.com/setmeup/setmeup/internal/reach"
	"github.com/setmeup/setmeup/internal/source"
	"github.com/setmeup/setmeup/internal/sshkey"
)

// ErrAborted reports that the session ended before provisioning: the client
// disconnected or chose to abort. Nothing was persisted; no further output is
// attempted on the channel.
var ErrAborted = errors.New("session aborted")

// usernameRe accepts a conventional POSIX account name token.
var usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}\$?$`)

// Verifier is the reachability check, injectable for tests.
type Verifier interface {
	Verify(ctx context.Context, port int, username string, key *sshkey.KeyPair) error
}

// Executor runs the selected playbook, injectable for tests.
type Executor func(ctx context.Context, pb source.Playbook, target ansible.Target, key *sshkey.KeyPair, sink ansible.Sink) error

// Wizard holds the per-process collaborators shared by all sessions. The
// registry is immutable; everything else is stateless, so one Wizard value
// serves concurrent sessions.
type Wizard struct {
	Registry *source.Registry

	// NewVerifier builds a per-session verifier (host-key pinning is
	// session-scoped). Defaults to reach.New.
	NewVerifier func() Verifier

	// Execute runs the playbook. Defaults to ansible.Run.
	Execute Executor

	// PortBound probes whether the reverse tunnel actually listens on the
	// loopback port. Defaults to a bind probe.
	PortBound func(port int) bool
}

// New returns a Wizard with the production collaborators wired in.
func New(reg *source.Registry) *Wizard {
	return &Wizard{
		Registry:    reg,
		NewVerifier: func() Verifier { return reach.New() },
		Execute:     ansible.Run,
		PortBound:   portBound,
	}
}

// session is the transient per-connection state, owned by Run for its
// lifetime. The key pair is scrubbed when Run returns, on every path.
type session struct {
	id       string
	port     int
	username string
	key      *sshkey.KeyPair
	log      *clog.Logger
}

// Run executes the full dialogue on the given channel. It returns ErrAborted
// when the client disconnects or aborts, and nil when the session ran to
// completion (including a completed-but-failed playbook, which is reported to
// the client as terminal text).
func (w *Wizard) Run(ctx context.Context, ch Channel) error {
	s := &session{id: uuid.New().String()}
	s.log = logging.ForSession(s.id)
	s.log.Info("session started")
	defer func() {
		if s.key != nil {
			s.key.Destroy()
		}
		s.log.Info("session ended")
	}()

	if err := w.greet(ch); err != nil {
		return ErrAborted
	}
	if err := w.promptPort(ch, s); err != nil {
		return err
	}
	if err := w.promptUsername(ch, s); err != nil {
		return err
	}
	if err := w.issueKey(ch, s); err != nil {
		return err
	}
	if err := w.reachabilityLoop(ctx, ch, s); err != nil {
		return err
	}
	pb, ok, err := w.selectPlaybook(ctx, ch, s)
	if err != nil {
		return err
	}
	if !ok {
		// No playbooks available; reported already, session ends.
		return nil
	}
	return w.execute(ctx, ch, s, pb)
}

const banner = `
  ___      _     __  __       _   _      _
 / __| ___| |_  |  \/  |___  | | | |_ __| |
 \__ \/ -_)  _| | |\/| / -_) | |_| | '_ \_|
 |___/\___|\__| |_|  |_\___|  \___/| .__(_)
                                   |_|
`

// greet emits the banner. Advances unconditionally.
func (w *Wizard) greet(ch Channel) error {
	if err := ch.WriteRaw([]byte(banner)); err != nil {
		return err
	}
	return ch.WriteLine(i18n.T("wizard.welcome"))
}

// prompt writes an inline invitation and reads the answer.
func prompt(ch Channel, invite string) (string, error) {
	if err := ch.WriteRaw([]byte(invite + " ")); err != nil {
		return "", err
	}
	line, err := ch.ReadLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPort reads the reverse forwarding port. Only integers in [1,65535]
// backed by a live local listener are accepted.
func (w *Wizard) promptPort(ch Channel, s *session) error {
	for {
		input, err := prompt(ch, i18n.T("wizard.prompt_port"))
		if err != nil {
			return ErrAborted
		}
		port, convErr := strconv.Atoi(input)
		if convErr != nil || port < 1 || port > 65535 {
			if wErr := ch.WriteLine(i18n.T("wizard.invalid_port", input)); wErr != nil {
				return ErrAborted
			}
			continue
		}
		if !w.PortBound(port) {
			if wErr := ch.WriteLine(i18n.T("wizard.port_not_bound", port)); wErr != nil {
				return ErrAborted
			}
			continue
		}
		s.port = port
		s.log.Debug("port accepted", "port", port)
		return nil
	}
}

// promptUsername reads the account name used to reach the client back.
func (w *Wizard) promptUsername(ch Channel, s *session) error {
	for {
		input, err := prompt(ch, i18n.T("wizard.prompt_username"))
		if err != nil {
			return ErrAborted
		}
		if !usernameRe.MatchString(input) {
			if wErr := ch.WriteLine(i18n.T("wizard.invalid_username", input)); wErr != nil {
				return ErrAborted
			}
			continue
		}
		s.username = input
		return nil
	}
}

// issueKey generates the session key pair and shows the installable line.
func (w *Wizard) issueKey(ch Channel, s *session) error {
	key, err := sshkey.Generate("setmeup-" + s.id[:8])
	if err != nil {
		s.log.Error("key issuance failed", "err", err)
		_ = ch.WriteLine(i18n.T("wizard.keygen_failed"))
		return fmt.Errorf("key issuance: %w", err)
	}
	s.key = key
	s.log.Info("session key issued")

	lines := []string{
		"",
		i18n.T("wizard.key_intro"),
		i18n.T("wizard.key_install", s.username),
		"",
		"    " + key.PublicLine,
		"",
	}
	for _, l := range lines {
		if err := ch.WriteLine(l); err != nil {
			return ErrAborted
		}
	}
	return nil
}

// reachabilityLoop proves the key was installed. The client drives retries;
// the only exits are success, an explicit abort, or disconnection.
func (w *Wizard) reachabilityLoop(ctx context.Context, ch Channel, s *session) error {
	verifier := w.NewVerifier()
	for {
		if _, err := prompt(ch, i18n.T("wizard.prompt_key_ready")); err != nil {
			return ErrAborted
		}

		err := verifier.Verify(ctx, s.port, s.username, s.key)
		if err == nil {
			s.log.Info("reachability verified", "port", s.port, "user", s.username)
			if wErr := ch.WriteLine(i18n.T("wizard.reach_ok")); wErr != nil {
				return ErrAborted
			}
			return nil
		}
		if ctx.Err() != nil {
			return ErrAborted
		}

		var rErr *reach.Error
		if errors.As(err, &rErr) {
			s.log.Warn("reachability check failed", "category", rErr.Category.String())
			if wErr := ch.WriteLine(i18n.T("wizard.reach_failed_categorized", rErr.Category, rErr.Advice())); wErr != nil {
				return ErrAborted
			}
		} else {
			s.log.Warn("reachability check failed", "err", err)
			if wErr := ch.WriteLine(i18n.T("wizard.reach_failed")); wErr != nil {
				return ErrAborted
			}
		}

		again, err := w.retryOrAbort(ch)
		if err != nil {
			return ErrAborted
		}
		if !again {
			_ = ch.WriteLine(i18n.T("wizard.aborted"))
			return ErrAborted
		}
	}
}

func (w *Wizard) retryOrAbort(ch Channel) (retry bool, err error) {
	for {
		answer, err := prompt(ch, i18n.T("wizard.prompt_retry"))
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "r", "retry":
			return true, nil
		case "a", "abort":
			return false, nil
		}
		if wErr := ch.WriteLine(i18n.T("wizard.invalid_retry")); wErr != nil {
			return false, wErr
		}
	}
}

// selectPlaybook enumerates sources and reads a menu selection. The second
// return value is false when nothing is available and the session should end.
func (w *Wizard) selectPlaybook(ctx context.Context, ch Channel, s *session) (source.Playbook, bool, error) {
	playbooks, warnings := w.Registry.Enumerate(ctx)
	for _, warn := range warnings {
		s.log.Warn("source excluded", "source", warn.Source, "err", warn.Err)
		if wErr := ch.WriteLine(i18n.T("wizard.source_skipped", warn.Source, warn.Err)); wErr != nil {
			return source.Playbook{}, false, ErrAborted
		}
	}
	if len(playbooks) == 0 {
		_ = ch.WriteLine(i18n.T("wizard.no_playbooks"))
		return source.Playbook{}, false, nil
	}

	if err := ch.WriteLine(i18n.T("wizard.menu_header")); err != nil {
		return source.Playbook{}, false, ErrAborted
	}
	for i, pb := range playbooks {
		if err := ch.WriteLine(fmt.Sprintf("  [%d] %s", i+1, pb)); err != nil {
			return source.Playbook{}, false, ErrAborted
		}
	}

	for {
		input, err := prompt(ch, i18n.T("wizard.prompt_select", len(playbooks)))
		if err != nil {
			return source.Playbook{}, false, ErrAborted
		}
		idx, convErr := strconv.Atoi(input)
		if convErr != nil || idx < 1 || idx > len(playbooks) {
			if wErr := ch.WriteLine(i18n.T("wizard.invalid_selection", len(playbooks))); wErr != nil {
				return source.Playbook{}, false, ErrAborted
			}
			continue
		}
		pb := playbooks[idx-1]
		s.log.Info("playbook selected", "source", pb.Source.Name, "playbook", pb.Path)
		return pb, true, nil
	}
}

// execute runs the selected playbook and relays its output. A write failure
// during the relay means the client is gone: the run is cancelled, which
// kills the runner's process group.
func (w *Wizard) execute(ctx context.Context, ch Channel, s *session, pb source.Playbook) error {
	if err := ch.WriteLine(i18n.T("wizard.run_header", pb)); err != nil {
		return ErrAborted
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sink := func(line string) {
		if err := ch.WriteLine(line); err != nil {
			cancel()
		}
	}

	target := ansible.Target{Port: s.port, Username: s.username}
	err := w.Execute(execCtx, pb, target, s.key, sink)

	switch {
	case err == nil:
		s.log.Info("provisioning succeeded", "playbook", pb.Path)
		_ = ch.WriteLine(i18n.T("wizard.run_ok"))
		return nil
	case execCtx.Err() != nil:
		s.log.Warn("provisioning cancelled")
		return ErrAborted
	default:
		var pbErr *ansible.PlaybookError
		var spawnErr *ansible.SpawnError
		switch {
		case errors.As(err, &pbErr):
			s.log.Warn("provisioning failed", "exit_code", pbErr.ExitCode)
			_ = ch.WriteLine(i18n.T("wizard.run_failed_exit", pbErr.ExitCode))
		case errors.As(err, &spawnErr):
			s.log.Error("runner could not be started", "err", spawnErr.Err)
			_ = ch.WriteLine(i18n.T("wizard.run_failed_spawn"))
		default:
			s.log.Error("provisioning error", "err", err)
			_ = ch.WriteLine(i18n.T("wizard.run_failed_other"))
		}
		return nil
	}
}

// portBound checks whether something already listens on the loopback port,
// which is what a live ssh -R forwarding looks like from here. Binding
// succeeding means nothing is there.
func portBound(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err == nil {
		ln.Close()
		return false
	}
	return errors.Is(err, syscall.EADDRINUSE)
}
