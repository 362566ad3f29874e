package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sealgate/internal/auth"
)

type tokenOutput struct {
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	Hash  string `json:"hash" yaml:"hash"`
}

func newTokenCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create API tokens for srv",
	}
	cmd.AddCommand(newTokenNewCmd(opts), newTokenHashCmd(opts))
	return cmd
}

func newTokenNewCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Generate a random token and its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.NewToken()
			if err != nil {
				return err
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			return writeToken(opts, tokenOutput{Token: token, Hash: hash})
		},
	}
}

func newTokenHashCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash [token]",
		Short: "Hash a token for SEALGATE_API_TOKEN_HASH; reads stdin when no token is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return err
				}
				token = strings.TrimSpace(line)
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			return writeToken(opts, tokenOutput{Hash: hash})
		},
	}
}

func writeToken(opts *globalOptions, out tokenOutput) error {
	if opts.structured() {
		return writeJSON(out)
	}
	lines := []string{}
	if out.Token != "" {
		lines = append(lines, "SEALGATE_API_TOKEN="+out.Token)
	}
	lines = append(lines, "SEALGATE_API_TOKEN_HASH="+out.Hash)
	return writeLines(lines)
}
