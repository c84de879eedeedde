package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/mintscan/service/solana"
)

// DefaultTransferMint is the token mint reported when TRANSFER_MINT is unset.
const DefaultTransferMint = "H24RXEMJ6TK61NrbMZoNxMj2u3yaxJcVMSM65AqfUj9o"

// Config holds all application configuration loaded from environment variables.
// All fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel string

	// Solana configuration
	SolanaNetwork         string
	SolanaRPCURLs         []string
	Commitment            rpc.CommitmentType
	MaxSupportedTxVersion uint64
	RPCTimeout            time.Duration

	// Transfer filter
	TransferMint string
	TransferType string

	// NATS configuration
	NATSURL string

	// Metrics configuration; push is disabled when empty
	PushgatewayURL string
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error if any configuration is invalid.
func Load() (*Config, error) {
	cfg, errs := fromEnv()
	errs = append(errs, cfg.validate()...)

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	return cfg, nil
}

// FromEnv reads configuration from environment variables without validating
// it. Only values that cannot be parsed are reported, so callers can apply
// overrides before calling Validate.
func FromEnv() (*Config, error) {
	cfg, errs := fromEnv()
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration parsing failed: %v", errs)
	}
	return cfg, nil
}

func fromEnv() (*Config, []error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana configuration
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "mainnet-beta")
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	cfg.Commitment = rpc.CommitmentType(getEnvOrDefault("SOLANA_COMMITMENT", string(rpc.CommitmentConfirmed)))

	maxVersion, err := parseInt("MAX_SUPPORTED_TX_VERSION", 0)
	if err != nil {
		errs = append(errs, err)
	} else if maxVersion < 0 {
		errs = append(errs, fmt.Errorf("MAX_SUPPORTED_TX_VERSION must not be negative, got %d", maxVersion))
	} else {
		cfg.MaxSupportedTxVersion = uint64(maxVersion)
	}

	timeout, err := parseDuration("RPC_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCTimeout = timeout
	}

	// Transfer filter
	cfg.TransferMint = getEnvOrDefault("TRANSFER_MINT", DefaultTransferMint)
	cfg.TransferType = getEnvOrDefault("TRANSFER_TYPE", solana.TransferCheckedType)

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")
	cfg.PushgatewayURL = os.Getenv("PUSHGATEWAY_URL")

	return cfg, errs
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful after CLI flags have overridden values loaded from env.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

func (c *Config) validate() []error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LogLevel must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	if len(c.SolanaRPCURLs) == 0 {
		if _, err := solana.ResolveEndpoint(c.SolanaNetwork); err != nil {
			errs = append(errs, fmt.Errorf("SolanaNetwork: %w", err))
		}
	}

	switch c.Commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("Commitment must be processed, confirmed or finalized, got %q", c.Commitment))
	}

	if c.TransferMint == "" {
		errs = append(errs, fmt.Errorf("TransferMint is required"))
	} else if _, err := solanago.PublicKeyFromBase58(c.TransferMint); err != nil {
		errs = append(errs, fmt.Errorf("TransferMint %q is not a valid public key: %w", c.TransferMint, err))
	}

	if c.TransferType == "" {
		errs = append(errs, fmt.Errorf("TransferType is required"))
	}

	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RPCTimeout must be positive"))
	}

	return errs
}

// RPCEndpoint returns the URL to talk to: a random entry of SolanaRPCURLs
// when any are configured, otherwise the public endpoint of SolanaNetwork.
func (c *Config) RPCEndpoint() (string, error) {
	if len(c.SolanaRPCURLs) > 0 {
		return solana.SelectRandomEndpoint(c.SolanaRPCURLs)
	}
	return solana.ResolveEndpoint(c.SolanaNetwork)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
