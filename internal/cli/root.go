package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"finplan/internal/config"
	"finplan/internal/core"
	"finplan/internal/log"
	"finplan/internal/storage"
)

// Execute runs the finplan command tree and exits non-zero on failure.
func Execute() {
	cmd := newRootCmd(os.Stdout)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	envFile string
	out     io.Writer

	// set by tests
	store storage.Store
	clock core.Clock
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{out: out}
	return newRootCmdWith(opts)
}

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "finplan",
		Short:        "Recurring obligations scheduler for personal finance ledgers",
		SilenceUsage: true,
	}
	cmd.SetOut(opts.out)
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load environment overrides from this file (default .env when present)")

	cmd.AddCommand(
		serveCmd(opts),
		runCmd(opts),
		migrateCmd(opts),
		addObligationCmd(opts),
		requestRunCmd(opts),
	)
	return cmd
}

// bootstrap loads the environment, config and logger shared by every command.
func (o *rootOptions) bootstrap() (*config.Config, *log.Logger, error) {
	if err := LoadEnvFile(o.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, nil, err
	}
	// stdout carries command output
	logger := SetupLogger(cfg, os.Stderr)
	return cfg, logger, nil
}

func (o *rootOptions) openApp(connectAMQP bool) (*App, error) {
	cfg, logger, err := o.bootstrap()
	if err != nil {
		return nil, err
	}
	return NewApp(cfg, logger, appOptions{
		clock:       o.clock,
		connectAMQP: connectAMQP,
		store:       o.store,
	})
}
