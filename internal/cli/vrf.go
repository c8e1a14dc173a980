package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/raffle/pkg/client"
)

func createRequestsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List pending randomness requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequests(cmd.Context(), cmd.OutOrStdout(), newClient(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runRequests(ctx context.Context, out io.Writer, c *client.Client, jsonOutput bool) error {
	reqs, err := c.PendingRequests(ctx)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	if jsonOutput {
		return printJSON(out, reqs)
	}
	if len(reqs) == 0 {
		fmt.Fprintln(out, "No pending requests")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBSCRIPTION\tCONSUMER\tWORDS\tAGE")
	for _, r := range reqs {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\n",
			r.ID, r.SubscriptionID, r.Consumer, r.NumWords, time.Since(r.RequestedAt).Round(time.Second))
	}
	return w.Flush()
}

func createFulfillCmd() *cobra.Command {
	var words []string

	cmd := &cobra.Command{
		Use:   "fulfill [request-id]",
		Short: "Deliver random words for a pending request",
		Long: `Deliver random words for a pending request on a development network.

Without a request id the oldest pending request is fulfilled. Words are
derived from the request unless --word is given.

EXAMPLES:
  raffle fulfill
  raffle fulfill 3
  raffle fulfill 3 --word 7
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uint64
			if len(args) == 1 {
				parsed, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid request id %q", args[0])
				}
				id = parsed
			}
			return runFulfill(cmd.Context(), cmd.OutOrStdout(), newClient(), id, words)
		},
	}

	cmd.Flags().StringArrayVar(&words, "word", nil, "random word override (decimal, repeatable)")
	return cmd
}

// runFulfill fulfills id, or the oldest pending request when id is zero.
func runFulfill(ctx context.Context, out io.Writer, c *client.Client, id uint64, words []string) error {
	if id == 0 {
		reqs, err := c.PendingRequests(ctx)
		if err != nil {
			return fmt.Errorf("failed to list requests: %w", err)
		}
		if len(reqs) == 0 {
			return errors.New("no pending requests")
		}
		id = reqs[0].ID
		for _, r := range reqs[1:] {
			if r.ID < id {
				id = r.ID
			}
		}
	}

	if err := c.Fulfill(ctx, id, words); err != nil {
		if client.IsCode(err, "NONEXISTENT_REQUEST") {
			return fmt.Errorf("request %d is not pending", id)
		}
		return fmt.Errorf("failed to fulfill request %d: %w", id, err)
	}
	fmt.Fprintf(out, "Fulfilled request %d\n", id)
	return nil
}

func createSubscriptionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "subscription [id]",
		Short: "Show a coordinator subscription",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var id uint64
			if len(args) == 1 {
				parsed, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid subscription id %q", args[0])
				}
				id = parsed
			} else {
				s, err := c.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to get status: %w", err)
				}
				id = s.SubscriptionID
			}
			return runSubscription(cmd.Context(), cmd.OutOrStdout(), c, id, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runSubscription(ctx context.Context, out io.Writer, c *client.Client, id uint64, jsonOutput bool) error {
	sub, err := c.Subscription(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}
	if jsonOutput {
		return printJSON(out, sub)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Subscription:\t%d\n", sub.ID)
	fmt.Fprintf(w, "Owner:\t%s\n", sub.Owner)
	fmt.Fprintf(w, "Balance:\t%s LINK\n", weiToEther(sub.Balance))
	fmt.Fprintf(w, "Requests:\t%d\n", sub.Requests)
	for i, consumer := range sub.Consumers {
		label := ""
		if i == 0 {
			label = "Consumers:"
		}
		fmt.Fprintf(w, "%s\t%s\n", label, consumer)
	}
	return w.Flush()
}
