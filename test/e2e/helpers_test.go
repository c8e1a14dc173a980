//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/raffle/internal/config"
	"github.com/pendergraft/raffle/internal/server"
	"github.com/pendergraft/raffle/internal/storage"
	"github.com/pendergraft/raffle/pkg/client"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Server            *server.Server
	Store             storage.Store
}

// setupPostgres starts a Postgres container and returns the connection string
func setupPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("raffle"),
		postgres.WithUsername("raffle"),
		postgres.WithPassword("raffle"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}
	return container, connString, nil
}

// startServer runs the raffle server in-process against Postgres with the
// keeper and the randomness responder driving rounds.
func startServer(ctx context.Context, connString string) (*httptest.Server, *server.Server, storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.Storage = config.StorageConfig{Type: "postgres", Postgres: config.PostgresConfig{URL: connString}}
	cfg.Auth.Type = "api-key"
	cfg.RateLimit.Enabled = false
	cfg.Logging = config.LoggingConfig{Level: "debug", Format: "text"}
	cfg.Raffle.IntervalSeconds = 1
	cfg.Keeper = config.KeeperConfig{Enabled: true, PollSeconds: 1}
	cfg.VRF.FulfillDelaySeconds = 1
	cfg.Version = "1.0.0"

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	srv, err := server.New(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("failed to create server: %w", err)
	}
	srv.Start(ctx)

	return httptest.NewServer(srv.Handler()), srv, store, nil
}

// newClient creates a new API client for the test server
func newClient(apiKey string) *client.Client {
	return client.New(testCtx.TestServer.URL, apiKey)
}

// createTestAPIKey creates a test API key using the store directly
func createTestAPIKey(t *testing.T, name string) string {
	key, err := testCtx.Store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err, "Failed to create API key")
	return key
}

// newPlayer returns a fresh funded address.
func newPlayer(t *testing.T, c *client.Client, amount string) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	_, err = c.Fund(context.Background(), addr, amount)
	require.NoError(t, err)
	return addr
}

func balanceOf(t *testing.T, c *client.Client, addr string) *big.Int {
	t.Helper()
	b, err := c.Balance(context.Background(), addr)
	require.NoError(t, err)
	v, ok := new(big.Int).SetString(b.Balance, 10)
	require.True(t, ok, b.Balance)
	return v
}

func sameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
