package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, int64(31337), cfg.Chain.ChainID)
	assert.Equal(t, "0.25", cfg.VRF.BaseFee)
	assert.Equal(t, int64(1000000000), cfg.VRF.GasPriceLink)
	assert.Equal(t, "30", cfg.VRF.SubscriptionFund)
	assert.True(t, cfg.Keeper.Enabled)
	assert.Empty(t, cfg.Raffle.EntranceFee)
	assert.Equal(t, 60, cfg.RateLimit.WriteRequestsPerMin)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_ID", "11155111")
	t.Setenv("RAFFLE_ENTRANCE_FEE", "0.05")
	t.Setenv("RAFFLE_INTERVAL", "60")
	t.Setenv("KEEPER_ENABLED", "false")
	t.Setenv("TRUSTED_PROXIES", "10.1.0.0/16, ,127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(11155111), cfg.Chain.ChainID)
	assert.Equal(t, "0.05", cfg.Raffle.EntranceFee)
	assert.Equal(t, 60, cfg.Raffle.IntervalSeconds)
	assert.False(t, cfg.Keeper.Enabled)
	assert.Equal(t, []string{"10.1.0.0/16", "127.0.0.1"}, cfg.Proxy.TrustedProxies)
}

func TestLoad_DatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://raffle@localhost/raffle")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Type)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
