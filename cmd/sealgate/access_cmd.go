package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"sealgate/internal/access"
	"sealgate/internal/config"
	"sealgate/internal/errs"
)

func newAccessCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	var blobID string
	var all bool
	var outPath string

	cmd := &cobra.Command{
		Use:   "access <policy-id>",
		Short: "Decrypt content published under a policy",
		Long:  "Decrypt the latest asset of a policy, a specific blob (--blob) or every asset (--all).",
		Args:  requirePolicyID,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all && blobID != "" {
				return errs.New(errs.InvalidInput, "--all and --blob are mutually exclusive")
			}
			viewer, err := opts.actor(cfg)
			if err != nil {
				return err
			}
			return withStack(cfg, func(st *stack) error {
				ctx := cmd.Context()
				eval, err := st.Evaluator(ctx)
				if err != nil {
					return err
				}
				if all {
					results, err := eval.RequestAll(ctx, viewer, args[0])
					if err != nil {
						return err
					}
					return writeFeed(opts, results)
				}

				var plaintext []byte
				if blobID != "" {
					plaintext, err = eval.RequestAsset(ctx, viewer, args[0], blobID)
				} else {
					plaintext, err = eval.RequestAccess(ctx, viewer, args[0])
				}
				if err != nil {
					return err
				}
				if outPath != "" {
					return os.WriteFile(outPath, plaintext, 0o600)
				}
				_, err = os.Stdout.Write(plaintext)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&blobID, "blob", "", "decrypt this blob instead of the latest asset")
	cmd.Flags().BoolVar(&all, "all", false, "decrypt every asset of the policy, oldest first")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write plaintext to a file instead of stdout")
	return cmd
}

func feedEntries(results []access.AssetResult) []feedEntry {
	entries := make([]feedEntry, 0, len(results))
	for _, r := range results {
		entry := feedEntry{URL: r.URL, BlobID: r.BlobID}
		if r.Err != nil {
			entry.Error = errs.Message(errs.KindOf(r.Err), errs.ReasonOf(r.Err))
			entry.Code = string(errs.KindOf(r.Err))
		} else {
			entry.Content = string(r.Plaintext)
		}
		entries = append(entries, entry)
	}
	return entries
}

func writeFeed(opts *globalOptions, results []access.AssetResult) error {
	entries := feedEntries(results)
	if opts.structured() {
		return writeJSON(entries)
	}
	return writeFeedText(os.Stdout, entries)
}

func writeFeedText(w io.Writer, entries []feedEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no assets")
		return err
	}
	for _, e := range entries {
		body := e.Content
		if e.Error != "" {
			body = "(unavailable: " + e.Error + ")"
		}
		if _, err := fmt.Fprintf(w, "== %s\n%s\n", e.BlobID, body); err != nil {
			return err
		}
	}
	return nil
}
