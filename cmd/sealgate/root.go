package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sealgate/internal/config"
	"sealgate/internal/errs"
	"sealgate/internal/format"
	"sealgate/internal/models"
)

type globalOptions struct {
	jsonOutput bool
	output     string
	logLevel   string
	as         string
}

// structured reports whether output goes through the formatter.
func (o *globalOptions) structured() bool {
	return o.jsonOutput || strings.TrimSpace(o.output) != ""
}

// actor is the account commands act as: --as, then the configured address.
func (o *globalOptions) actor(cfg *config.Config) (models.Address, error) {
	raw := strings.TrimSpace(o.as)
	if raw == "" {
		raw = strings.TrimSpace(cfg.Address)
	}
	if raw == "" {
		return "", errs.New(errs.InvalidInput, "no account selected; pass --as or run: sealgate config set address <address>")
	}
	return models.ParseAddress(raw)
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "sealgate",
		Short:         "Sealgate publishes encrypted content gated by on-ledger access policies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(opts.logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return configureOutput(opts)
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&opts.output, "output", "", "structured output format (json, yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.as, "as", "", "account address to act as (overrides the address config key)")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newAllowlistCmd(cfg, opts),
		newServiceCmd(cfg, opts),
		newPublishCmd(cfg, opts),
		newAccessCmd(cfg, opts),
		newConfigCmd(cfg),
		newInfoCmd(cfg, opts),
		newMigrateCmd(cfg, opts),
		newTokenCmd(opts),
	)

	return cmd
}

func configureOutput(opts *globalOptions) error {
	if strings.TrimSpace(opts.output) == "" {
		outputFormatter = format.JSONFormatter{}
		return nil
	}
	f, err := format.Parse(opts.output)
	if err != nil {
		return err
	}
	outputFormatter = f
	return nil
}
