package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/mplp-conform/pkg/pack"
)

func newPackCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Build and check evidence pack manifests",
	}
	cmd.AddCommand(newPackSealCommand())
	cmd.AddCommand(newPackVerifyCommand(root))
	return cmd
}

func newPackSealCommand() *cobra.Command {
	var (
		packID    string
		scenarios []string
	)
	cmd := &cobra.Command{
		Use:   "seal <dir>",
		Short: "Write manifest.json declaring every document in dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			loaded, err := pack.LoadDir(cmd.Context(), dir)
			if err != nil {
				return err
			}
			delete(loaded.Files, pack.ManifestFile)
			if packID == "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				packID = filepath.Base(abs)
			}
			sealed := pack.Seal(packID, scenarios, loaded.Files)
			if err := pack.WriteManifest(dir, sealed); err != nil {
				return err
			}
			digest, err := sealed.Digest()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Sealed %s: %d document(s)\n", packID, len(sealed.Manifest.Documents))
			_, _ = fmt.Fprintf(out, "Digest: %s\n", digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&packID, "id", "", "pack id (default: directory name)")
	cmd.Flags().StringSliceVar(&scenarios, "scenario", nil, "Golden Flow scenarios the pack targets (repeatable)")
	return cmd
}

func newPackVerifyCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <pack>",
		Short: "Check a pack's documents against its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			p, err := pack.Open(cmd.Context(), args[0], pack.OpenOptions{S3Region: cfg.S3Region, S3Endpoint: cfg.S3Endpoint})
			if err != nil {
				return err
			}
			name := p.ID()
			if name == "" {
				name = args[0]
			}
			out := cmd.OutOrStdout()
			err = p.Verify()
			var ie *pack.IntegrityError
			if errors.As(err, &ie) {
				_, _ = fmt.Fprintf(out, "❌ %s: %d issue(s)\n", name, len(ie.Issues))
				for _, is := range ie.Issues {
					if is.Path != "" {
						_, _ = fmt.Fprintf(out, "  %s %s: %s\n", is.Code, is.Path, is.Detail)
					} else {
						_, _ = fmt.Fprintf(out, "  %s: %s\n", is.Code, is.Detail)
					}
				}
				return failed("pack %s failed integrity check", name)
			}
			if err != nil {
				return err
			}
			digest, err := p.Digest()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "✅ %s: %d document(s) verified\n", p.ID(), len(p.Manifest.Documents))
			_, _ = fmt.Fprintf(out, "Digest: %s\n", digest)
			return nil
		},
	}
}
