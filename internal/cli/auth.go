package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/raffle/internal/auth"
	"github.com/pendergraft/raffle/pkg/client"
)

// Credentials stores API keys per server
type Credentials struct {
	Servers map[string]ServerCredential `yaml:"servers"`
}

// ServerCredential stores credentials for a single server
type ServerCredential struct {
	APIKey string `yaml:"api_key"`
	Name   string `yaml:"name,omitempty"`
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var serverFlag string
	var apiKeyFlag string
	var name string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an API key for a server",
		Long: `Save API key credentials for a raffle server.

The key is stored in ~/.raffle/credentials with owner-only permissions.

EXAMPLES:
  # Interactive login (prompts for API key)
  raffle auth login

  # Non-interactive login (for CI)
  raffle auth login --api-key $RAFFLE_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL := serverFlag
			if serverURL == "" {
				serverURL = getServer()
			}
			key := apiKeyFlag
			if key == "" {
				var err error
				if key, err = promptAPIKey(cmd.OutOrStdout(), serverURL); err != nil {
					return err
				}
			}
			return runAuthLogin(cmd.Context(), cmd.OutOrStdout(), serverURL, key, name)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key (prompts if not provided)")
	cmd.Flags().StringVar(&name, "name", "", "label for this credential")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var serverFlag string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL := serverFlag
			if serverURL == "" && !allFlag {
				serverURL = getServer()
			}
			return runAuthLogout(cmd.OutOrStdout(), serverURL, allFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd.OutOrStdout())
		},
	}
}

func promptAPIKey(out io.Writer, serverURL string) (string, error) {
	fmt.Fprintf(out, "Enter API key for %s: ", serverURL)

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		b, err := term.ReadPassword(stdinFd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runAuthLogin(ctx context.Context, out io.Writer, serverURL, key, name string) error {
	if key == "" {
		return errors.New("API key cannot be empty")
	}
	if !auth.WellFormed(key) {
		return fmt.Errorf("malformed API key: expected %s followed by %d hex characters", auth.KeyPrefix, auth.KeyLength)
	}

	// Keys are checked by the server on writes only, so login just confirms
	// the server answers.
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := client.New(serverURL, key).Version(ctx); err != nil {
		return fmt.Errorf("failed to reach %s: %w", serverURL, err)
	}

	if err := saveCredential(serverURL, ServerCredential{APIKey: key, Name: name}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(out, "Saved credentials for %s (key: %s)\n", serverURL, maskAPIKey(key))
	fmt.Fprintf(out, "   Credentials file: %s\n", credentialsFilePath())
	return nil
}

func runAuthLogout(out io.Writer, serverURL string, all bool) error {
	if all {
		if err := os.Remove(credentialsFilePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Fprintln(out, "All credentials cleared")
		return nil
	}

	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(out, "No credentials found for %s\n", serverURL)
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, ok := creds.Servers[serverURL]; !ok {
		fmt.Fprintf(out, "No credentials found for %s\n", serverURL)
		return nil
	}
	delete(creds.Servers, serverURL)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(out, "Logged out from %s\n", serverURL)
	return nil
}

func runAuthStatus(out io.Writer) error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil || len(creds.Servers) == 0 {
		fmt.Fprintln(out, "Not authenticated to any servers")
		fmt.Fprintln(out, "\nRun 'raffle auth login' to authenticate")
		return nil
	}

	servers := make([]string, 0, len(creds.Servers))
	for s := range creds.Servers {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	fmt.Fprintln(out, "Authenticated servers:")
	for _, s := range servers {
		cred := creds.Servers[s]
		if cred.Name != "" {
			fmt.Fprintf(out, "  %s (%s, key: %s)\n", s, cred.Name, maskAPIKey(cred.APIKey))
		} else {
			fmt.Fprintf(out, "  %s (key: %s)\n", s, maskAPIKey(cred.APIKey))
		}
	}
	return nil
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".raffle"
	}
	return filepath.Join(home, ".raffle")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	if creds.Servers == nil {
		creds.Servers = make(map[string]ServerCredential)
	}
	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	if err := os.MkdirAll(credentialsDir(), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}
	return os.WriteFile(credentialsFilePath(), data, 0600)
}

func saveCredential(serverURL string, cred ServerCredential) error {
	creds, err := loadCredentials()
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		creds = &Credentials{Servers: make(map[string]ServerCredential)}
	}

	creds.Servers[serverURL] = cred
	return writeCredentials(creds)
}

func getCredential(serverURL string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	return creds.Servers[serverURL].APIKey
}

func maskAPIKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:12] + "..." + key[len(key)-4:]
}
