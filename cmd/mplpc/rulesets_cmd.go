package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRulesetsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rulesets",
		Short: "Inspect registered rulesets",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ruleset versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(root.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, version := range cat.Versions() {
				rs, err := cat.Get(version)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "%-10s %s  %s\n", version, shortDigest(rs.Digest), rs.Description)
			}
			return nil
		},
	})
	return cmd
}

func newScenariosCommand(root *rootOptions) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Inspect Golden Flow scenarios",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the scenarios of a ruleset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(root.cfg)
			if err != nil {
				return err
			}
			if version == "" {
				version = root.cfg.Ruleset
			}
			rs, err := cat.Get(version)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Ruleset %s\n", rs.Version)
			for _, sc := range rs.Scenarios.All() {
				modules := make([]string, len(sc.KeyModules))
				for i, k := range sc.KeyModules {
					modules[i] = string(k)
				}
				_, _ = fmt.Fprintf(out, "  %-8s %s [%s]\n", sc.ID, sc.Title, strings.Join(modules, ", "))
			}
			return nil
		},
	}
	list.Flags().StringVar(&version, "ruleset", "", "ruleset version (default $MPLPC_RULESET)")
	cmd.AddCommand(list)
	return cmd
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
