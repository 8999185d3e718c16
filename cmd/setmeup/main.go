// Copyright (c) 2026 Set Me Up contributors
// Set Me Up - Ansible-based remote provisioning shell
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for setmeup using the Cobra
// library. The root command runs the interactive provisioning wizard on the
// current stdin/stdout, which is what an inbound SSH session sees when
// setmeup is that account's login shell. Subcommands cover config handling
// for the operator.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/setmeup/setmeup/buildvars"
	"github.com/setmeup/setmeup/internal/config"
	"github.com/setmeup/setmeup/internal/i18n"
	"github.com/setmeup/setmeup/internal/logging"
	"github.com/setmeup/setmeup/internal/source"
	"github.com/setmeup/setmeup/internal/wizard"
)

var (
	cfgFile   string
	debugFlag bool
	langFlag  string
)

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, wizard.ErrAborted) {
			// Aborts and disconnects are a normal session outcome.
			os.Exit(0)
		}
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd creates and configures a new root cobra command. Fresh
// instances are also used for isolated command tests.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setmeup",
		Short: "setmeup provisions a remote machine through its reverse SSH tunnel.",
		Long: `Set Me Up is meant to be the login shell of a dedicated account on a
provisioning server. A client that wants provisioning connects with

    ssh -R <port>:localhost:22 setmeup@server

and is walked through a short wizard: it names the forwarded port and a
username, installs a single-use public key, and picks an Ansible playbook.
setmeup then runs the playbook against the client back through the tunnel
and relays the output live.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWizard(cmd.Context())
		},
	}

	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newInitCmd())

	cmd.Version = buildvars.VersionOrDefault("dev")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (overrides the SETMEUP_CONF search order)")
	cmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&langFlag, "lang", "", `dialogue language ("en", "de")`)

	return cmd
}

// runWizard loads the configuration, validates the sources and drives one
// provisioning session on stdin/stdout. SIGHUP covers the SSH client going
// away; both terminate the session and the playbook run with it.
func runWizard(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Println(i18n.T("wizard.misconfigured"))
		return err
	}

	reg, err := source.NewRegistry(cfg.Sources)
	if err != nil {
		fmt.Println(i18n.T("wizard.misconfigured"))
		return err
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		logging.Debugf("stdin is not a terminal; running scripted")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := wizard.New(reg)
	ch := wizard.NewStdioChannel(os.Stdin, os.Stdout)
	return w.Run(ctx, ch)
}

// newValidateCmd resolves the configuration and reports what each source
// currently offers, without opening a session. Useful when editing config.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and list discoverable playbooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.Locate(cfgFile)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := source.NewRegistry(cfg.Sources)
			if err != nil {
				return err
			}

			fmt.Printf("config: %s\n", path)
			playbooks, warnings := reg.Enumerate(cmd.Context())
			for _, warn := range warnings {
				fmt.Printf("source %s: SKIPPED: %v\n", warn.Source, warn.Err)
			}
			counts := make(map[string]int)
			for _, pb := range playbooks {
				counts[pb.Source.Name]++
			}
			for _, src := range reg.Sources() {
				if _, ok := counts[src.Name]; !ok && hasWarning(warnings, src.Name) {
					continue
				}
				fmt.Printf("source %s: %d playbook(s) under %s\n", src.Name, counts[src.Name], src.Root)
			}
			for _, pb := range playbooks {
				fmt.Printf("  %s\n", pb)
			}
			return nil
		},
	}
}

func hasWarning(warnings []source.Warning, name string) bool {
	for _, w := range warnings {
		if w.Source == name {
			return true
		}
	}
	return false
}

// newInitCmd writes a commented sample configuration to make the file
// format discoverable. It refuses to overwrite an existing file.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "setmeup.yml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logging.SetDebug(debugFlag || cfg.Debug)
	lang := cfg.Language
	if langFlag != "" {
		lang = langFlag
	}
	i18n.Init(lang)
	return cfg, nil
}
