package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
	Proxy     ProxyConfig
	Metrics   MetricsConfig
	Chain     ChainConfig
	Raffle    RaffleConfig
	VRF       VRFConfig
	Keeper    KeeperConfig

	// Version is the build version, set by the binary rather than the environment.
	Version string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled             bool
	RequestsPerMin      int
	WriteRequestsPerMin int // stricter budget for POST routes
	BurstSize           int
	CleanupMinutes      int
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool
	MaxBodySizeKB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
}

// ChainConfig selects the network the raffle runs against
type ChainConfig struct {
	ChainID      int64
	Deployer     string // hex address that "deploys" the coordinator and raffle
	NetworksFile string // optional TOML file overriding the built-in network table
}

// RaffleConfig overrides network defaults for the raffle constructor.
// Empty / zero values fall back to the network table.
type RaffleConfig struct {
	EntranceFee     string // ether, e.g. "0.01"
	IntervalSeconds int
}

// VRFConfig configures the mock randomness coordinator
type VRFConfig struct {
	BaseFee             string // LINK, e.g. "0.25"
	GasPriceLink        int64  // juels per gas
	SubscriptionFund    string // LINK funded into the bootstrap subscription
	FulfillDelaySeconds int    // 0 disables automatic fulfillment
}

// KeeperConfig configures the upkeep loop
type KeeperConfig struct {
	Enabled     bool
	PollSeconds int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("PORT", 8080),
			Host:         getEnv("HOST", "0.0.0.0"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 120),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/raffle.db"),
			},
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "none"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:             getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin:      getEnvInt("RATE_LIMIT_RPM", 300),
			WriteRequestsPerMin: getEnvInt("RATE_LIMIT_WRITE_RPM", 60),
			BurstSize:           getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes:      getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeKB: getEnvInt("SECURITY_MAX_BODY_SIZE_KB", 64),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		Chain: ChainConfig{
			ChainID:      int64(getEnvInt("CHAIN_ID", 31337)),
			Deployer:     getEnv("DEPLOYER_ADDRESS", "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
			NetworksFile: getEnv("NETWORKS_FILE", ""),
		},
		Raffle: RaffleConfig{
			EntranceFee:     getEnv("RAFFLE_ENTRANCE_FEE", ""),
			IntervalSeconds: getEnvInt("RAFFLE_INTERVAL", 0),
		},
		VRF: VRFConfig{
			BaseFee:             getEnv("VRF_BASE_FEE", "0.25"),
			GasPriceLink:        int64(getEnvInt("VRF_GAS_PRICE_LINK", 1000000000)),
			SubscriptionFund:    getEnv("VRF_SUB_FUND", "30"),
			FulfillDelaySeconds: getEnvInt("VRF_FULFILL_DELAY_SECONDS", 0),
		},
		Keeper: KeeperConfig{
			Enabled:     getEnvBool("KEEPER_ENABLED", true),
			PollSeconds: getEnvInt("KEEPER_POLL_SECONDS", 5),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
