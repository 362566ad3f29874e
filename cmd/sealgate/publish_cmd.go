package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"sealgate/internal/config"
	"sealgate/internal/errs"
	"sealgate/internal/publish"
)

func newPublishCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	var threshold int
	var epochs int
	var retries int

	cmd := &cobra.Command{
		Use:   "publish <policy-id> [file]",
		Short: "Encrypt content under a policy, upload it and record it on the policy",
		Long:  "Encrypt content under a policy, upload it and record it on the policy.\nWith no file, or when file is -, content is read from stdin.",
		Args:  requireArgsBetween(1, 2, "policy id is required; file is optional"),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor(cfg)
			if err != nil {
				return err
			}
			path := "-"
			if len(args) == 2 {
				path = args[1]
			}
			data, err := readPayload(path, cfg.Publish.MaxUploadBytes)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("epochs") {
				cfg.Publish.Epochs = epochs
			}

			return withStack(cfg, func(st *stack) error {
				ctx := cmd.Context()
				orch, err := st.Orchestrator(ctx)
				if err != nil {
					return err
				}
				session, err := orch.OpenSession(ctx, actor, args[0])
				if err != nil {
					return err
				}
				run, err := orch.Publish(ctx, session, data, threshold)
				for attempt := 0; err != nil && attempt < retries && canRetryAssociation(run, err); attempt++ {
					st.logger.Warn("retrying association", "run_id", run.ID, "attempt", attempt+1, "error", err)
					err = orch.Associate(ctx, run)
				}
				if err != nil {
					if f, ok := run.Failure(); ok && f.LastCompleted == publish.PhaseUploaded {
						return fmt.Errorf("blob %s was uploaded but not recorded on the policy: %w", run.Blob.BlobID, err)
					}
					return err
				}
				if opts.structured() {
					return writeJSON(run)
				}
				return writeLines(uploadLines(run))
			})
		},
	}

	cmd.Flags().IntVar(&threshold, "threshold", cfg.Publish.Threshold, "key servers needed to decrypt")
	cmd.Flags().IntVar(&epochs, "epochs", cfg.Publish.Epochs, "storage epochs to retain the blob for")
	cmd.Flags().IntVar(&retries, "retries", 2, "association retries after a transient failure")
	return cmd
}

// canRetryAssociation reports whether only the association step failed, for
// a reason that may clear up.
func canRetryAssociation(run *publish.Run, err error) bool {
	f, ok := run.Failure()
	return ok && f.LastCompleted == publish.PhaseUploaded && errs.Retryable(err)
}

// readPayload reads at most limit+1 bytes and rejects input over limit
// before any server is contacted.
func readPayload(path string, limit int) ([]byte, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	if limit > 0 {
		r = io.LimitReader(r, int64(limit)+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errs.New(errs.InvalidInput, "nothing to publish: input is empty")
	}
	if limit > 0 && len(data) > limit {
		return nil, errs.WithReason(errs.InvalidInput, errs.ReasonPayloadTooLarge,
			fmt.Errorf("input exceeds the %d byte publish limit", limit))
	}
	return data, nil
}
