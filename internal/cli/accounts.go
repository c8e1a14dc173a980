package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pendergraft/raffle/internal/validation"
	"github.com/pendergraft/raffle/pkg/client"
)

func createBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance [address]",
		Short: "Show an account balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) == 1 {
				addr = args[0]
			}
			return runBalance(cmd.Context(), cmd.OutOrStdout(), newClient(), getPlayer(addr))
		},
	}
	return cmd
}

func runBalance(ctx context.Context, out io.Writer, c *client.Client, addr string) error {
	if addr == "" {
		return errors.New("address is required (argument or player in raffle.toml)")
	}
	if err := validation.ValidateAddress(addr); err != nil {
		return err
	}

	b, err := c.Balance(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}
	fmt.Fprintf(out, "%s: %s ETH (%s wei)\n", b.Address, b.BalanceEther, b.Balance)
	return nil
}

func createFundCmd() *cobra.Command {
	var amount string

	cmd := &cobra.Command{
		Use:   "fund [address]",
		Short: "Credit an account on a development network",
		Long: `Credit an account from the development faucet.

EXAMPLES:
  raffle fund 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 --amount 1eth
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) == 1 {
				addr = args[0]
			}
			return runFund(cmd.Context(), cmd.OutOrStdout(), newClient(), getPlayer(addr), amount)
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "1eth", "amount to credit")
	return cmd
}

func runFund(ctx context.Context, out io.Writer, c *client.Client, addr, amount string) error {
	if addr == "" {
		return errors.New("address is required (argument or player in raffle.toml)")
	}
	if err := validation.ValidateAddress(addr); err != nil {
		return err
	}
	wei, err := validation.ParseAmount(amount)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	b, err := c.Fund(ctx, addr, wei.String())
	if err != nil {
		return fmt.Errorf("failed to fund account: %w", err)
	}
	fmt.Fprintf(out, "Funded %s with %s ETH, balance %s ETH\n", b.Address, validation.FormatEther(wei), b.BalanceEther)
	return nil
}
