// Package config provides configuration management for the phunks mini
// backend. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	KV        KVConfig
	Chain     ChainConfig
	Metadata  MetadataConfig
	Auth      AuthConfig
	Farcaster FarcasterConfig
	Raffle    RaffleConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// KVConfig selects and configures the key-value backend.
// Backend is "rest" (Upstash-style command-over-HTTP) or "redis".
type KVConfig struct {
	Backend string
	REST    RESTKVConfig
	Redis   RedisConfig
}

// RESTKVConfig holds the command-over-HTTP backend configuration
type RESTKVConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// RedisConfig holds direct Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds contract and RPC configuration
type ChainConfig struct {
	RPCEndpoints    []string
	ContractAddress string
	USDCAddress     string
	RequestTimeout  time.Duration
	StatsCacheTTL   time.Duration
}

// MetadataConfig holds the token metadata resolution configuration
type MetadataConfig struct {
	LocalDir        string
	Gateways        []string
	CollectionAPI   string
	PlaceholderBase string
	GatewayTimeout  time.Duration
	GatewayBackoff  time.Duration
	BatchSize       int
}

// AuthConfig holds Quick Auth token verification configuration
type AuthConfig struct {
	JWKSURL string
	Domain  string
}

// FarcasterConfig holds Neynar API configuration
type FarcasterConfig struct {
	NeynarAPIURL string
	NeynarAPIKey string
}

// RaffleConfig holds Megapot API configuration
type RaffleConfig struct {
	APIURL          string
	APIKey          string
	ChainID         int
	ReferralAddress string
	ContractAddress string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Defaults mirroring the production deployment.
const (
	defaultContract    = "0xB7116Be05Bf2662a0F60A160F29b9cb69Ade67Be"
	defaultUSDC        = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	defaultMegapotAPI  = "https://api.megapot.io/api/v1"
	defaultNeynarAPI   = "https://api.neynar.com/v2"
	defaultJWKSURL     = "https://auth.farcaster.xyz/.well-known/jwks.json"
	defaultCollAPI     = "https://api.bastardganpunks.club"
	defaultPlaceholder = "https://fcphunksmini.vercel.app/token"
)

var defaultRPCEndpoints = []string{
	"https://mainnet.base.org",
	"https://base.gateway.tenderly.co",
	"https://base.blockpi.network/v1/rpc/public",
	"https://rpc.ankr.com/base",
	"https://base.publicnode.com",
	"https://base-mainnet.public.blastapi.io",
}

var defaultGateways = []string{
	"https://ipfs.io/ipfs/bafybeibu47rax5yr4bdkl7gxqttyumkf54pl3jvwxdnxqbfqfytd6qfcvi",
	"https://dweb.link/ipfs/bafybeibu47rax5yr4bdkl7gxqttyumkf54pl3jvwxdnxqbfqfytd6qfcvi",
	"https://gateway.pinata.cloud/ipfs/bafybeibu47rax5yr4bdkl7gxqttyumkf54pl3jvwxdnxqbfqfytd6qfcvi",
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		KV: KVConfig{
			Backend: getEnv("KV_BACKEND", "rest"),
			REST: RESTKVConfig{
				URL:     getEnv("KV_REST_API_URL", ""),
				Token:   getEnv("KV_REST_API_TOKEN", ""),
				Timeout: getEnvAsDuration("KV_REST_TIMEOUT", 5*time.Second),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Chain: ChainConfig{
			RPCEndpoints:    getEnvAsList("CHAIN_RPC_ENDPOINTS", defaultRPCEndpoints),
			ContractAddress: getEnv("CONTRACT_ADDRESS", defaultContract),
			USDCAddress:     getEnv("USDC_ADDRESS", defaultUSDC),
			RequestTimeout:  getEnvAsDuration("CHAIN_REQUEST_TIMEOUT", 10*time.Second),
			StatsCacheTTL:   getEnvAsDuration("CHAIN_STATS_CACHE_TTL", 60*time.Second),
		},
		Metadata: MetadataConfig{
			LocalDir:        getEnv("METADATA_LOCAL_DIR", "metadata"),
			Gateways:        getEnvAsList("METADATA_GATEWAYS", defaultGateways),
			CollectionAPI:   getEnv("METADATA_COLLECTION_API", defaultCollAPI),
			PlaceholderBase: getEnv("METADATA_PLACEHOLDER_BASE", defaultPlaceholder),
			GatewayTimeout:  getEnvAsDuration("METADATA_GATEWAY_TIMEOUT", 8*time.Second),
			GatewayBackoff:  getEnvAsDuration("METADATA_GATEWAY_BACKOFF", 2*time.Second),
			BatchSize:       getEnvAsInt("METADATA_BATCH_SIZE", 5),
		},
		Auth: AuthConfig{
			JWKSURL: getEnv("AUTH_JWKS_URL", defaultJWKSURL),
			Domain:  getEnv("AUTH_DOMAIN", "fcphunksmini.vercel.app"),
		},
		Farcaster: FarcasterConfig{
			NeynarAPIURL: getEnv("NEYNAR_API_URL", defaultNeynarAPI),
			NeynarAPIKey: getEnv("NEYNAR_API_KEY", ""),
		},
		Raffle: RaffleConfig{
			APIURL:          getEnv("MEGAPOT_API_URL", defaultMegapotAPI),
			APIKey:          getEnv("MEGAPOT_API_KEY", ""),
			ChainID:         getEnvAsInt("MEGAPOT_CHAIN_ID", 8453),
			ReferralAddress: getEnv("MEGAPOT_REFERRAL_ADDRESS", ""),
			ContractAddress: getEnv("MEGAPOT_CONTRACT_ADDRESS", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma-separated environment variable as a string slice
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			values = append(values, p)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
