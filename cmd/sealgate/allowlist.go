package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sealgate/internal/config"
	"sealgate/internal/errs"
	"sealgate/internal/models"
	"sealgate/internal/policy"
)

func newAllowlistCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowlist",
		Short: "Manage allowlist policies",
	}
	cmd.AddCommand(
		newAllowlistCreateCmd(cfg, opts),
		newPolicyShowCmd(cfg, opts, models.KindAllowlist),
		newMemberCmd(cfg, opts, "add"),
		newMemberCmd(cfg, opts, "remove"),
		newWatchCmd(cfg, opts, models.KindAllowlist),
	)
	return cmd
}

func newAllowlistCreateCmd(cfg *config.Config, opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an allowlist and its capability",
		Args:  requireExactlyArgs(1, "name is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor(cfg)
			if err != nil {
				return err
			}
			return withStack(cfg, func(st *stack) error {
				p, capability, err := st.policies.CreateAllowlist(cmd.Context(), actor, args[0])
				if err != nil {
					return err
				}
				return writePolicy(opts, policyView{Policy: p, ShareLink: shareLink(cfg.APIURL, p), Capability: &capability})
			})
		},
	}
}

// newPolicyShowCmd shows a policy of kind, with the actor's capability when
// one is configured and held.
func newPolicyShowCmd(cfg *config.Config, opts *globalOptions, kind models.PolicyKind) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Show a %s policy and its share link", kind),
		Args:  requirePolicyID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cfg, func(st *stack) error {
				view, err := loadPolicyView(cmd.Context(), cfg, opts, st, args[0], kind)
				if err != nil {
					return err
				}
				return writePolicy(opts, view)
			})
		},
	}
}

func loadPolicyView(ctx context.Context, cfg *config.Config, opts *globalOptions, st *stack, id string, kind models.PolicyKind) (policyView, error) {
	p, err := st.policies.GetPolicy(ctx, id)
	if err != nil {
		return policyView{}, err
	}
	if p.Kind != kind {
		return policyView{}, errs.New(errs.InvalidInput, "policy %s is a %s, not a %s", p.ID, p.Kind, kind)
	}
	view := policyView{Policy: p, ShareLink: shareLink(cfg.APIURL, p)}
	if actor, err := opts.actor(cfg); err == nil {
		capability, err := st.resolver.ResolveCapability(ctx, actor, p.ID, p.Kind)
		switch {
		case err == nil:
			view.Capability = &capability
		case !errs.Is(err, errs.NotFound):
			return policyView{}, err
		}
	}
	return view, nil
}

func newMemberCmd(cfg *config.Config, opts *globalOptions, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <allowlist-id> <address>",
		Short: fmt.Sprintf("%s an allowlist member", map[string]string{"add": "Add", "remove": "Remove"}[action]),
		Args:  requireExactlyArgs(2, "allowlist id and address are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := opts.actor(cfg)
			if err != nil {
				return err
			}
			member, err := models.ParseAddress(args[1])
			if err != nil {
				return err
			}
			return withStack(cfg, func(st *stack) error {
				ctx := cmd.Context()
				capability, err := st.resolver.ResolveCapability(ctx, actor, args[0], models.KindAllowlist)
				if err != nil {
					return err
				}
				m := policy.AddMember(args[0], capability.ID, member.String())
				if action == "remove" {
					m = policy.RemoveMember(args[0], capability.ID, member.String())
				}
				effects, err := st.policies.SubmitPolicyMutation(ctx, actor, m)
				if err != nil {
					return err
				}
				if opts.structured() {
					return writeJSON(effects)
				}
				return writePlain("%s %s (tx %s)\n", action, member, effects.Digest)
			})
		},
	}
}

func newWatchCmd(cfg *config.Config, opts *globalOptions, kind models.PolicyKind) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: fmt.Sprintf("Follow a %s policy, printing each refresh", kind),
		Args:  requirePolicyID,
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, err := cfg.RefreshInterval()
			if err != nil {
				return err
			}
			owner, _ := opts.actor(cfg)
			return withStack(cfg, func(st *stack) error {
				return watchPolicy(cmd.Context(), cfg, opts, st, policy.WatchConfig{
					PolicyID: args[0],
					Kind:     kind,
					Owner:    owner,
					Interval: interval,
				})
			})
		},
	}
}

func watchPolicy(ctx context.Context, cfg *config.Config, opts *globalOptions, st *stack, wc policy.WatchConfig) error {
	ctx, cancel := signalContext(ctx)
	defer cancel()

	w := policy.NewWatcher(st.policies, st.resolver, wc, st.logger)
	if _, err := w.Refresh(ctx); err != nil {
		return err
	}
	updates := w.Updates()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var lastVersion uint64
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return <-done
			}
			if snap.Policy.Version == lastVersion {
				continue
			}
			lastVersion = snap.Policy.Version
			view := policyView{Policy: snap.Policy, ShareLink: shareLink(cfg.APIURL, snap.Policy), Capability: snap.Capability}
			if !opts.structured() {
				if err := writePlain("--- %s\n", formatTime(snap.FetchedAt)); err != nil {
					return err
				}
			}
			if err := writePolicy(opts, view); err != nil {
				return err
			}
		case err := <-done:
			return err
		}
	}
}

func writePolicy(opts *globalOptions, view policyView) error {
	if opts.structured() {
		return writeJSON(view)
	}
	return writeLines(policyLines(view))
}
