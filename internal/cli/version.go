package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pendergraft/raffle/internal/validation"
	"github.com/pendergraft/raffle/pkg/client"
)

func createVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.Context(), cmd.OutOrStdout(), newClient(), cliVersion)
		},
	}
}

func runVersion(ctx context.Context, out io.Writer, c *client.Client, local string) error {
	fmt.Fprintf(out, "Client: %s\n", local)

	v, err := c.Version(ctx)
	if err != nil {
		fmt.Fprintf(out, "Server: unreachable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Server: %s (network %s, chain %d)\n", v.Version, v.Network, v.ChainID)

	if !validation.CompatibleVersions(local, v.Version) {
		fmt.Fprintf(out, "Warning: client %s and server %s differ in major version\n", local, v.Version)
	} else if validation.ValidateVersion(local) == nil && validation.CompareVersions(local, v.Version) < 0 {
		fmt.Fprintln(out, "A newer client is available")
	}
	return nil
}
