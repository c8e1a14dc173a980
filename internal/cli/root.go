package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/raffle/pkg/client"
)

var (
	cfgFile string
	server  string
	apiKey  string
)

// cliVersion is the version reported by the root command.
var cliVersion = "dev"

// Execute runs the CLI
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	cliVersion = version

	rootCmd := &cobra.Command{
		Use:   "raffle",
		Short: "Provably fair raffle CLI",
		Long: `raffle talks to a raffle server: enter rounds, drive upkeep, fulfill
randomness requests on development networks and inspect round history.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: raffle.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")

	rootCmd.AddCommand(createStatusCmd())
	rootCmd.AddCommand(createPlayersCmd())
	rootCmd.AddCommand(createEnterCmd())
	rootCmd.AddCommand(createUpkeepCmd())
	rootCmd.AddCommand(createWinnersCmd())
	rootCmd.AddCommand(createEventsCmd())
	rootCmd.AddCommand(createRequestsCmd())
	rootCmd.AddCommand(createFulfillCmd())
	rootCmd.AddCommand(createSubscriptionCmd())
	rootCmd.AddCommand(createBalanceCmd())
	rootCmd.AddCommand(createFundCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())
	rootCmd.AddCommand(createVersionCmd())

	return rootCmd
}

// getServer returns the server URL from flag, env, config file, or the default
func getServer() string {
	if server != "" {
		return server
	}

	if env := os.Getenv("RAFFLE_SERVER"); env != "" {
		return env
	}

	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	return "http://localhost:8080"
}

// getAPIKey returns the API key from flag, env, or credentials file
func getAPIKey() string {
	if apiKey != "" {
		return apiKey
	}

	if env := os.Getenv("RAFFLE_API_KEY"); env != "" {
		return env
	}

	// Credentials are keyed by server URL
	if cred := getCredential(getServer()); cred != "" {
		return cred
	}

	return ""
}

// getPlayer returns the explicit player or the one from project config.
func getPlayer(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if config := loadProjectConfigSilent(); config != nil {
		return config.Player
	}
	return ""
}

func newClient() *client.Client {
	return client.New(getServer(), getAPIKey())
}
