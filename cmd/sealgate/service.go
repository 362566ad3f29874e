package main

import (
	"time"

	"github.com/spf13/cobra"

	"sealgate/internal/config"
	"sealgate/internal/errs"
	"sealgate/internal/models"
)

func newServiceCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage subscription services",
	}
	cmd.AddCommand(
		newServiceCreateCmd(cfg, opts),
		newPolicyShowCmd(cfg, opts, models.KindSubscription),
		newServiceSubscribeCmd(cfg, opts),
		newWatchCmd(cfg, opts, models.KindSubscription),
	)
	return cmd
}

func newServiceCreateCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	var fee uint64
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a subscription service and its capability",
		Args:  requireExactlyArgs(1, "name is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				return errs.New(errs.InvalidInput, "--ttl must be positive")
			}
			actor, err := opts.actor(cfg)
			if err != nil {
				return err
			}
			return withStack(cfg, func(st *stack) error {
				p, capability, err := st.policies.CreateService(cmd.Context(), actor, args[0], fee, ttl.Milliseconds())
				if err != nil {
					return err
				}
				return writePolicy(opts, policyView{Policy: p, ShareLink: shareLink(cfg.APIURL, p), Capability: &capability})
			})
		},
	}

	cmd.Flags().Uint64Var(&fee, "fee", 0, "price of one subscription")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "how long a subscription stays valid")
	return cmd
}

func newServiceSubscribeCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	var payment uint64

	cmd := &cobra.Command{
		Use:   "subscribe <service-id>",
		Short: "Buy a subscription; the payment defaults to the service fee",
		Args:  requirePolicyID,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor(cfg)
			if err != nil {
				return err
			}
			return withStack(cfg, func(st *stack) error {
				ctx := cmd.Context()
				p, err := st.policies.GetPolicy(ctx, args[0])
				if err != nil {
					return err
				}
				if p.Kind != models.KindSubscription {
					return errs.New(errs.InvalidInput, "policy %s is a %s, not a service", p.ID, p.Kind)
				}
				amount := p.FeeAmount
				if cmd.Flags().Changed("payment") {
					amount = payment
				}
				grant, err := st.policies.Subscribe(ctx, actor, p.ID, amount)
				if err != nil {
					return err
				}
				if opts.structured() {
					return writeJSON(grant)
				}
				return writeLines(grantLines(grant, p.TTLMillis))
			})
		},
	}

	cmd.Flags().Uint64Var(&payment, "payment", 0, "amount to pay (must equal the fee)")
	return cmd
}
