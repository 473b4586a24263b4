// Command mplpc evaluates MPLP evidence packs against versioned conformance
// rulesets.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/mplp-conform/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// exitError carries a process exit code through cobra.
//
// Exit codes:
//
//	0 = conformant / success
//	1 = non-conformant verdict or failed integrity check
//	2 = runtime or configuration error
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func failed(format string, args ...any) error {
	return &exitError{code: 1, err: fmt.Errorf(format, args...)}
}

// rootOptions are shared by every subcommand.
type rootOptions struct {
	cfg      *config.Config
	logLevel string
}

// Run is the testable entrypoint. args includes the program name.
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand()
	root.SetOut(stdout)
	root.SetErr(stderr)
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code != 1 {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 2
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{cfg: config.Load()}

	cmd := &cobra.Command{
		Use:           "mplpc",
		Short:         "MPLP conformance evaluator",
		Long:          "Evaluates MPLP evidence packs against a versioned ruleset and issues a sealed L1/L2/L3 verdict.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if opts.logLevel != "" {
				opts.cfg.LogLevel = opts.logLevel
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: opts.cfg.SlogLevel()})
			slog.SetDefault(slog.New(handler))
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR); overrides LOG_LEVEL")

	cmd.AddCommand(newEvaluateCommand(opts))
	cmd.AddCommand(newPackCommand(opts))
	cmd.AddCommand(newRulesetsCommand(opts))
	cmd.AddCommand(newScenariosCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	return cmd
}
