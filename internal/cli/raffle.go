package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/raffle/internal/validation"
	"github.com/pendergraft/raffle/pkg/client"
)

func createStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), newClient(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runStatus(ctx context.Context, out io.Writer, c *client.Client, jsonOutput bool) error {
	s, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if jsonOutput {
		return printJSON(out, s)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Raffle:\t%s\n", s.Address)
	fmt.Fprintf(w, "State:\t%s\n", s.State)
	fmt.Fprintf(w, "Round:\t%d\n", s.Round)
	fmt.Fprintf(w, "Entrance fee:\t%s ETH\n", s.EntranceFeeEther)
	fmt.Fprintf(w, "Interval:\t%ds\n", s.Interval)
	fmt.Fprintf(w, "Players:\t%d\n", s.Players)
	fmt.Fprintf(w, "Pool:\t%s ETH\n", weiToEther(s.Balance))
	if s.RecentWinner != "" {
		fmt.Fprintf(w, "Recent winner:\t%s\n", s.RecentWinner)
	}
	if s.PendingRequestID != nil {
		fmt.Fprintf(w, "Pending request:\t%d\n", *s.PendingRequestID)
	}
	fmt.Fprintf(w, "Subscription:\t%d\n", s.SubscriptionID)
	return w.Flush()
}

func createPlayersCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "players [index]",
		Short: "List players in the current round",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if len(args) == 1 {
				index, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid index %q", args[0])
				}
				player, err := c.Player(cmd.Context(), index)
				if err != nil {
					return fmt.Errorf("failed to get player: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), player)
				return nil
			}
			return runPlayers(cmd.Context(), cmd.OutOrStdout(), c, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runPlayers(ctx context.Context, out io.Writer, c *client.Client, jsonOutput bool) error {
	p, err := c.Players(ctx)
	if err != nil {
		return fmt.Errorf("failed to list players: %w", err)
	}
	if jsonOutput {
		return printJSON(out, p)
	}
	if p.Count == 0 {
		fmt.Fprintln(out, "No players in the current round")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tPLAYER")
	for i, player := range p.Players {
		fmt.Fprintf(w, "%d\t%s\n", i, player)
	}
	return w.Flush()
}

func createEnterCmd() *cobra.Command {
	var player string
	var amount string

	cmd := &cobra.Command{
		Use:   "enter",
		Short: "Enter the current round",
		Long: `Enter the current round by paying at least the entrance fee.

Amounts accept a unit suffix: wei (default), gwei, eth or ether.

EXAMPLES:
  raffle enter --player 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 --amount 0.01eth
  raffle enter --amount 10000000000000000
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnter(cmd.Context(), cmd.OutOrStdout(), newClient(), getPlayer(player), amount)
		},
	}

	cmd.Flags().StringVar(&player, "player", "", "player address (default from config)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to pay (default: the entrance fee)")
	return cmd
}

func runEnter(ctx context.Context, out io.Writer, c *client.Client, player, amount string) error {
	if player == "" {
		return errors.New("player is required (--player or player in raffle.toml)")
	}
	if err := validation.ValidateAddress(player); err != nil {
		return fmt.Errorf("invalid player: %w", err)
	}

	if amount == "" {
		s, err := c.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get entrance fee: %w", err)
		}
		amount = s.EntranceFee
	}
	wei, err := validation.ParseAmount(amount)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	entry, err := c.Enter(ctx, player, wei.String())
	if err != nil {
		switch {
		case client.IsCode(err, "NOT_ENOUGH_ETH_ENTERED"):
			return fmt.Errorf("amount %s ETH is below the entrance fee", validation.FormatEther(wei))
		case client.IsCode(err, "RAFFLE_NOT_OPEN"):
			return errors.New("raffle is calculating a winner, try again shortly")
		}
		return fmt.Errorf("failed to enter: %w", err)
	}

	fmt.Fprintf(out, "Entered round %d as player #%d (%s, %s ETH)\n",
		entry.Round, entry.Index, entry.Player, weiToEther(entry.Amount))
	return nil
}

func createUpkeepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upkeep",
		Short: "Check or perform upkeep",
	}

	var jsonOutput bool
	check := &cobra.Command{
		Use:   "check",
		Short: "Report whether the round can be closed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpkeepCheck(cmd.Context(), cmd.OutOrStdout(), newClient(), jsonOutput)
		},
	}
	check.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	perform := &cobra.Command{
		Use:   "perform",
		Short: "Close the round and request randomness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpkeepPerform(cmd.Context(), cmd.OutOrStdout(), newClient())
		},
	}

	cmd.AddCommand(check, perform)
	return cmd
}

func runUpkeepCheck(ctx context.Context, out io.Writer, c *client.Client, jsonOutput bool) error {
	u, err := c.CheckUpkeep(ctx)
	if err != nil {
		return fmt.Errorf("failed to check upkeep: %w", err)
	}
	if jsonOutput {
		return printJSON(out, u)
	}

	fmt.Fprintf(out, "Upkeep needed: %t\n", u.UpkeepNeeded)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  open\t%s\t(%s)\n", mark(u.IsOpen), u.State)
	fmt.Fprintf(w, "  interval passed\t%s\t(%ds elapsed)\n", mark(u.TimePassed), u.ElapsedSeconds)
	fmt.Fprintf(w, "  has players\t%s\t(%d)\n", mark(u.HasPlayers), u.Players)
	fmt.Fprintf(w, "  has balance\t%s\t(%s ETH)\n", mark(u.HasBalance), weiToEther(u.Balance))
	return w.Flush()
}

func runUpkeepPerform(ctx context.Context, out io.Writer, c *client.Client) error {
	res, err := c.PerformUpkeep(ctx)
	if err != nil {
		if client.IsCode(err, "UPKEEP_NOT_NEEDED") {
			return errors.New("upkeep not needed (run 'raffle upkeep check' for details)")
		}
		return fmt.Errorf("failed to perform upkeep: %w", err)
	}
	fmt.Fprintf(out, "Requested randomness (request %d), raffle is %s\n", res.RequestID, res.State)
	return nil
}

func createWinnersCmd() *cobra.Command {
	var limit int
	var cursor string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "winners",
		Short: "List past winners, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWinners(cmd.Context(), cmd.OutOrStdout(), newClient(),
				client.ListOptions{Limit: limit, Cursor: cursor}, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of rounds to show")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runWinners(ctx context.Context, out io.Writer, c *client.Client, opts client.ListOptions, jsonOutput bool) error {
	resp, err := c.Winners(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list winners: %w", err)
	}
	if jsonOutput {
		return printJSON(out, resp)
	}
	if len(resp.Data) == 0 {
		fmt.Fprintln(out, "No winners yet")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROUND\tWINNER\tPRIZE (ETH)\tPLAYERS\tCLOSED")
	for _, wn := range resp.Data {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			wn.Round, wn.Winner, weiToEther(wn.Prize), wn.Players, wn.ClosedAt.Format("2006-01-02 15:04:05"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if resp.Pagination.HasMore {
		fmt.Fprintf(out, "\nMore available: --cursor %s\n", resp.Pagination.NextCursor)
	}
	return nil
}

func createEventsCmd() *cobra.Command {
	var opts client.ListOptions
	var follow bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List or follow raffle events",
		Long: `List recorded raffle events, or follow them live with --follow.

EXAMPLES:
  raffle events --type WinnerPicked
  raffle events --round 3
  raffle events --follow
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return runFollowEvents(ctx, cmd.OutOrStdout(), newClient(), jsonOutput)
			}
			return runEvents(cmd.Context(), cmd.OutOrStdout(), newClient(), opts, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by event type")
	cmd.Flags().Uint64Var(&opts.Round, "round", 0, "filter by round")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of events to show")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "pagination cursor")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream events as they happen")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runEvents(ctx context.Context, out io.Writer, c *client.Client, opts client.ListOptions, jsonOutput bool) error {
	resp, err := c.Events(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if jsonOutput {
		return printJSON(out, resp)
	}
	if len(resp.Data) == 0 {
		fmt.Fprintln(out, "No events found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tROUND\tTYPE\tDETAIL")
	for _, e := range resp.Data {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.CreatedAt.Format("15:04:05"), e.Round, e.Type, eventDetail(e))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if resp.Pagination.HasMore {
		fmt.Fprintf(out, "\nMore available: --cursor %s\n", resp.Pagination.NextCursor)
	}
	return nil
}

func runFollowEvents(ctx context.Context, out io.Writer, c *client.Client, jsonOutput bool) error {
	enc := json.NewEncoder(out)
	err := c.StreamEvents(ctx, func(e client.Event) error {
		if jsonOutput {
			return enc.Encode(e)
		}
		_, err := fmt.Fprintf(out, "%s  round %d  %-20s %s\n",
			e.CreatedAt.Format("15:04:05"), e.Round, e.Type, eventDetail(e))
		return err
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func eventDetail(e client.Event) string {
	switch e.Type {
	case "RaffleEnter":
		return fmt.Sprintf("%s paid %s ETH", e.Player, weiToEther(e.Amount))
	case "RequestedRaffleWinner", "RandomWordsRequested":
		return fmt.Sprintf("request %d", e.RequestID)
	case "RandomWordsFulfilled":
		return fmt.Sprintf("request %d fulfilled", e.RequestID)
	case "WinnerPicked":
		return fmt.Sprintf("winner %s", e.Winner)
	case "SubscriptionCreated", "SubscriptionFunded":
		return fmt.Sprintf("subscription %d", e.SubscriptionID)
	case "ConsumerAdded":
		return fmt.Sprintf("consumer %s on subscription %d", e.Consumer, e.SubscriptionID)
	}
	return ""
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

// weiToEther renders a decimal wei string as ether, falling back to the input.
func weiToEther(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return wei
	}
	return validation.FormatEther(v)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
