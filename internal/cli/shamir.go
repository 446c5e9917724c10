// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shardfs.
//
// go-shardfs is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.


package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-shardfs/pkg/crypto/secretsharing"
)

func newShamirCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shamir",
		Short: "Split and recover secrets with Shamir secret sharing",
		Long: `Split an integer secret into shares over GF(2^61-1) and recover it
from any threshold of them. Shares are printed as x:y.`,
	}
	cmd.AddCommand(newShamirSplitCommand(opts))
	cmd.AddCommand(newShamirRecoverCommand(opts))
	return cmd
}

func newShamirSplitCommand(opts *Options) *cobra.Command {
	var shares, required int
	cmd := &cobra.Command{
		Use:     "split SECRET",
		Short:   "Split a secret into shares",
		Example: "  shardfs shamir split 1234 -s 5 -r 3",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid secret %q: %w", args[0], err)
			}
			if secret >= secretsharing.Prime {
				return fmt.Errorf("secret must be less than %d", secretsharing.Prime)
			}
			out, err := secretsharing.Split(secret, shares, required)
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintShares(out)
		},
	}
	cmd.Flags().IntVarP(&shares, "shares", "s", 3, "number of shares to create")
	cmd.Flags().IntVarP(&required, "required", "r", 2, "shares required to recover")
	return cmd
}

func newShamirRecoverCommand(opts *Options) *cobra.Command {
	var threshold int
	cmd := &cobra.Command{
		Use:     "recover SHARE...",
		Short:   "Recover a secret from x:y shares",
		Example: "  shardfs shamir recover 1:7712 3:2288 5:9081",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares := make([]secretsharing.Share, len(args))
			for i, arg := range args {
				s, err := secretsharing.ParseShare(arg)
				if err != nil {
					return err
				}
				shares[i] = s
			}
			if threshold == 0 {
				threshold = len(shares)
			}
			secret, err := secretsharing.Recover(shares, threshold)
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintSecret(secret)
		},
	}
	cmd.Flags().IntVarP(&threshold, "required", "r", 0, "threshold the shares were split with (0 = number of shares)")
	return cmd
}
