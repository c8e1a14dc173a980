package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/pendergraft/raffle/internal/validation"
)

// projectConfigFile is the default project config file
const projectConfigFile = "raffle.toml"

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server string `toml:"server"`
	// Player is the default address for enter, balance and fund.
	Player string `toml:"player,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var player string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a raffle.toml configuration file in the current directory.

EXAMPLES:
  raffle config init
  raffle config init --server http://raffle.internal:8080 --player 0xf39f...
  raffle config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), projectConfigFile, serverURL, player, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")
	cmd.Flags().StringVar(&player, "player", "", "default player address")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

func runConfigInit(out io.Writer, path, serverURL, player string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	if player != "" {
		if err := validation.ValidateAddress(player); err != nil {
			return fmt.Errorf("invalid player: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# raffle CLI configuration")
	fmt.Fprintln(f)
	if err := toml.NewEncoder(f).Encode(ProjectConfig{Server: serverURL, Player: player}); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n", path)
	fmt.Fprintf(out, "  Server: %s\n", serverURL)
	if player != "" {
		fmt.Fprintf(out, "  Player: %s\n", player)
	}
	return nil
}

func runConfigShow(out io.Writer) error {
	fmt.Fprintln(out, "Configuration sources (in order of precedence):")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "1. Command line flags")
	fmt.Fprintln(out, "   --server, --api-key, --config")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "2. Environment variables")
	if v := os.Getenv("RAFFLE_SERVER"); v != "" {
		fmt.Fprintf(out, "   RAFFLE_SERVER=%s\n", v)
	} else {
		fmt.Fprintln(out, "   RAFFLE_SERVER=(not set)")
	}
	if v := os.Getenv("RAFFLE_API_KEY"); v != "" {
		fmt.Fprintf(out, "   RAFFLE_API_KEY=%s\n", maskAPIKey(v))
	} else {
		fmt.Fprintln(out, "   RAFFLE_API_KEY=(not set)")
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "3. Project config (%s)\n", projectConfigFile)
	config, path, err := loadProjectConfig()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(out, "   (not found)")
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	default:
		fmt.Fprintf(out, "   Loaded from: %s\n", path)
		if config.Server != "" {
			fmt.Fprintf(out, "   server: %s\n", config.Server)
		}
		if config.Player != "" {
			fmt.Fprintf(out, "   player: %s\n", config.Player)
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "4. Credentials (%s)\n", credentialsFilePath())
	creds, err := loadCredentials()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(out, "   (not found)")
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	case len(creds.Servers) == 0:
		fmt.Fprintln(out, "   (no credentials stored)")
	default:
		for srv, cred := range creds.Servers {
			fmt.Fprintf(out, "   %s: %s\n", srv, maskAPIKey(cred.APIKey))
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Effective configuration:")
	fmt.Fprintf(out, "   Server:  %s\n", getServer())
	if key := getAPIKey(); key != "" {
		fmt.Fprintf(out, "   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Fprintln(out, "   API Key: (not set)")
	}
	if p := getPlayer(""); p != "" {
		fmt.Fprintf(out, "   Player:  %s\n", p)
	}

	return nil
}

// loadProjectConfig loads the --config file, or raffle.toml from the working directory.
func loadProjectConfig() (*ProjectConfig, string, error) {
	path := projectConfigFile
	if cfgFile != "" {
		path = cfgFile
	}

	var config ProjectConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		if os.IsNotExist(err) {
			return nil, path, err
		}
		return nil, path, fmt.Errorf("parsing TOML: %w", err)
	}
	return &config, path, nil
}

// loadProjectConfigSilent returns nil for a missing file and warns on parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		}
		return nil
	}
	return config
}
