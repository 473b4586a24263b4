package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/mplp-conform/pkg/config"
	"github.com/Mindburn-Labs/mplp-conform/pkg/conform"
	"github.com/Mindburn-Labs/mplp-conform/pkg/observability"
	"github.com/Mindburn-Labs/mplp-conform/pkg/pack"
	"github.com/Mindburn-Labs/mplp-conform/pkg/report"
	"github.com/Mindburn-Labs/mplp-conform/pkg/ruleset"
	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

type evaluateOptions struct {
	ruleset   string
	scenarios []string
	json      bool
	format    string
}

func newEvaluateCommand(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate <pack>",
		Short: "Evaluate an evidence pack",
		Long: `Evaluate an evidence pack and print the verdict.

<pack> is a directory, s3://bucket/prefix or gs://bucket/prefix.
Exits 0 when the pack is conformant, 1 when it is not.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.Context(), root.cfg, opts, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.ruleset, "ruleset", "", "ruleset version, semver constraint or \"latest\" (default $MPLPC_RULESET)")
	cmd.Flags().StringSliceVar(&opts.scenarios, "scenario", nil, "run only these Golden Flow scenarios (repeatable)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the verdict as JSON")
	cmd.Flags().StringVar(&opts.format, "format", "text", "report format when not --json (text|markdown)")
	return cmd
}

func loadCatalog(cfg *config.Config) (*ruleset.Catalog, error) {
	cat, err := ruleset.Builtin()
	if err != nil {
		return nil, err
	}
	if cfg.RulesetDir != "" {
		if err := cat.LoadDir(cfg.RulesetDir); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

func newEngine(ctx context.Context, cfg *config.Config) (*conform.Engine, func(), error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() { _ = obs.Shutdown(context.Background()) }
	return conform.NewEngine(cat, conform.WithObservability(obs)), shutdown, nil
}

func runEvaluate(ctx context.Context, cfg *config.Config, opts *evaluateOptions, location string, stdout io.Writer) error {
	if opts.format != "text" && opts.format != "markdown" {
		return fmt.Errorf("invalid format %q: must be text or markdown", opts.format)
	}
	version := opts.ruleset
	if version == "" {
		version = cfg.Ruleset
	}

	engine, shutdown, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	p, err := pack.Open(ctx, location, pack.OpenOptions{S3Region: cfg.S3Region, S3Endpoint: cfg.S3Endpoint})
	if err != nil {
		return err
	}
	v, err := engine.Evaluate(ctx, p, version, &conform.EvaluateOptions{Scenarios: opts.scenarios})
	if err != nil {
		return err
	}

	if err := writeVerdict(stdout, v, opts); err != nil {
		return err
	}
	if !v.Conformant() {
		return failed("pack %s is not conformant (highest level: %s)", v.PackID, v.HighestLevel())
	}
	return nil
}

func writeVerdict(w io.Writer, v *verdict.Verdict, opts *evaluateOptions) error {
	switch {
	case opts.json:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case opts.format == "markdown":
		report.WriteMarkdown(w, v)
	default:
		report.WriteText(w, v)
	}
	return nil
}
