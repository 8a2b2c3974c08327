/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the oracle service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	APIKey               string `mapstructure:"API_KEY"`

	SolanaRPCURL         string `mapstructure:"SOLANA_RPC_URL"`
	SolanaWSURL          string `mapstructure:"SOLANA_WS_URL"`
	TokenMint            string `mapstructure:"TOKEN_MINT"`
	ReceiverTokenAccount string `mapstructure:"RECEIVER_TOKEN_ACCOUNT"`
	MinConfirmations     uint64 `mapstructure:"MIN_CONFIRMATIONS"`

	SubstrateEndpoints string `mapstructure:"SUBSTRATE_ENDPOINTS"`
	SubstrateSeed      string `mapstructure:"SUBSTRATE_SEED"`
	ContractAddress    string `mapstructure:"CONTRACT_ADDRESS"`
	GasRefTime         uint64 `mapstructure:"GAS_REF_TIME"`
	GasProofSize       uint64 `mapstructure:"GAS_PROOF_SIZE"`

	// ink! message selectors of the oracle contract, hex-encoded.
	SelectorIsProcessed    string `mapstructure:"SELECTOR_IS_PROCESSED"`
	SelectorConfirmPayment string `mapstructure:"SELECTOR_CONFIRM_PAYMENT"`
	SelectorCreditUnits    string `mapstructure:"SELECTOR_CREDIT_UNITS"`

	PaymentTTLMinutes      int `mapstructure:"PAYMENT_TTL_MINUTES"`
	RateLimitPerWindow     int `mapstructure:"RATE_LIMIT_PER_WINDOW"`
	RateLimitWindowSeconds int `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`
	WatcherFetchAttempts   int `mapstructure:"WATCHER_FETCH_ATTEMPTS"`
	WatcherFetchDelaySec   int `mapstructure:"WATCHER_FETCH_DELAY_SECONDS"`
	ConnTimeoutSeconds     int `mapstructure:"CONN_TIMEOUT_SECONDS"`
	ConnCooldownSeconds    int `mapstructure:"CONN_COOLDOWN_SECONDS"`
	SweepIntervalSeconds   int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
}

// SubstrateEndpointList splits the comma-separated endpoint value.
func (c Config) SubstrateEndpointList() []string {
	parts := strings.Split(c.SubstrateEndpoints, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c Config) PaymentTTL() time.Duration { return time.Duration(c.PaymentTTLMinutes) * time.Minute }
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
func (c Config) WatcherFetchDelay() time.Duration {
	return time.Duration(c.WatcherFetchDelaySec) * time.Second
}
func (c Config) ConnTimeout() time.Duration {
	return time.Duration(c.ConnTimeoutSeconds) * time.Second
}
func (c Config) ConnCooldown() time.Duration {
	return time.Duration(c.ConnCooldownSeconds) * time.Second
}
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Validate checks the settings the service cannot run without.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.DatabaseURL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "API_KEY")
	}
	if strings.TrimSpace(c.SolanaRPCURL) == "" {
		missing = append(missing, "SOLANA_RPC_URL")
	}
	if strings.TrimSpace(c.TokenMint) == "" {
		missing = append(missing, "TOKEN_MINT")
	}
	if strings.TrimSpace(c.ReceiverTokenAccount) == "" {
		missing = append(missing, "RECEIVER_TOKEN_ACCOUNT")
	}
	if len(c.SubstrateEndpointList()) == 0 {
		missing = append(missing, "SUBSTRATE_ENDPOINTS")
	}
	if strings.TrimSpace(c.SubstrateSeed) == "" {
		missing = append(missing, "SUBSTRATE_SEED")
	}
	if strings.TrimSpace(c.ContractAddress) == "" {
		missing = append(missing, "CONTRACT_ADDRESS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "oracle:rate_limit")
	viper.SetDefault("MIN_CONFIRMATIONS", 1)
	viper.SetDefault("GAS_REF_TIME", 10_000_000_000)
	viper.SetDefault("GAS_PROOF_SIZE", 1_000_000)
	viper.SetDefault("SELECTOR_IS_PROCESSED", "0x5d8dd267")
	viper.SetDefault("SELECTOR_CONFIRM_PAYMENT", "0x6d3eb1f7")
	viper.SetDefault("SELECTOR_CREDIT_UNITS", "0xd1f1c2b9")
	viper.SetDefault("PAYMENT_TTL_MINUTES", 30)
	viper.SetDefault("RATE_LIMIT_PER_WINDOW", 20)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	viper.SetDefault("WATCHER_FETCH_ATTEMPTS", 5)
	viper.SetDefault("WATCHER_FETCH_DELAY_SECONDS", 3)
	viper.SetDefault("CONN_TIMEOUT_SECONDS", 5)
	viper.SetDefault("CONN_COOLDOWN_SECONDS", 30)
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("API_KEY")
	_ = viper.BindEnv("SOLANA_RPC_URL")
	_ = viper.BindEnv("SOLANA_WS_URL")
	_ = viper.BindEnv("TOKEN_MINT")
	_ = viper.BindEnv("RECEIVER_TOKEN_ACCOUNT")
	_ = viper.BindEnv("MIN_CONFIRMATIONS")
	_ = viper.BindEnv("SUBSTRATE_ENDPOINTS")
	_ = viper.BindEnv("SUBSTRATE_SEED")
	_ = viper.BindEnv("CONTRACT_ADDRESS")
	_ = viper.BindEnv("GAS_REF_TIME")
	_ = viper.BindEnv("GAS_PROOF_SIZE")
	_ = viper.BindEnv("SELECTOR_IS_PROCESSED")
	_ = viper.BindEnv("SELECTOR_CONFIRM_PAYMENT")
	_ = viper.BindEnv("SELECTOR_CREDIT_UNITS")
	_ = viper.BindEnv("PAYMENT_TTL_MINUTES")
	_ = viper.BindEnv("RATE_LIMIT_PER_WINDOW")
	_ = viper.BindEnv("RATE_LIMIT_WINDOW_SECONDS")
	_ = viper.BindEnv("WATCHER_FETCH_ATTEMPTS")
	_ = viper.BindEnv("WATCHER_FETCH_DELAY_SECONDS")
	_ = viper.BindEnv("CONN_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CONN_COOLDOWN_SECONDS")
	_ = viper.BindEnv("SWEEP_INTERVAL_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "oracle:rate_limit"
	}

	// The WS endpoint can usually be derived from the RPC endpoint.
	if strings.TrimSpace(config.SolanaWSURL) == "" && config.SolanaRPCURL != "" {
		ws := strings.Replace(config.SolanaRPCURL, "https://", "wss://", 1)
		ws = strings.Replace(ws, "http://", "ws://", 1)
		config.SolanaWSURL = ws
	}

	if config.PaymentTTLMinutes <= 0 {
		config.PaymentTTLMinutes = 30
	}
	if config.RateLimitPerWindow <= 0 {
		config.RateLimitPerWindow = 20
	}
	if config.RateLimitWindowSeconds <= 0 {
		config.RateLimitWindowSeconds = 60
	}
	if config.WatcherFetchAttempts <= 0 {
		config.WatcherFetchAttempts = 5
	}
	if config.WatcherFetchDelaySec <= 0 {
		config.WatcherFetchDelaySec = 3
	}
	if config.ConnTimeoutSeconds <= 0 {
		config.ConnTimeoutSeconds = 5
	}
	if config.ConnCooldownSeconds <= 0 {
		config.ConnCooldownSeconds = 30
	}
	if config.SweepIntervalSeconds <= 0 {
		config.SweepIntervalSeconds = 60
	}

	return
}
