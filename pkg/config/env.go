package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/otcdesk/rfq-settler/pkg/logger"
)

const (
	// DefaultChainID defines the default chain the settler operates on
	DefaultChainID = 1

	// DefaultRPCURL defines the default RPC endpoint
	DefaultRPCURL = "https://eth.llamarpc.com"

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultWatchInterval defines the default sleep between watch-loop polls in seconds
	DefaultWatchInterval = 15

	// DefaultHeartbeatInterval defines the minimum spacing between readiness heartbeats in seconds
	DefaultHeartbeatInterval = 30

	// DefaultExpiryGrace defines how long past order expiry the watch loop keeps polling
	DefaultExpiryGrace = 2 * time.Minute

	// DefaultFinalityBlocks defines the number of blocks on top of a receipt before it is final
	DefaultFinalityBlocks = 3

	// DefaultMinQuoteExpiryBuffer defines the minimum remaining quote lifetime in seconds
	DefaultMinQuoteExpiryBuffer = 30

	// DefaultQuoteTimeout defines the per-maker price request timeout in seconds
	DefaultQuoteTimeout = 2

	// DefaultSignTimeout defines the per-maker sign request timeout in seconds
	DefaultSignTimeout = 5

	// DefaultSignRetryDelay defines the initial delay before retrying a sign request in seconds
	DefaultSignRetryDelay = 1

	// DefaultInitialPriorityFee defines the starting priority fee cap in wei
	DefaultInitialPriorityFee = "2000000000" // 2 gwei

	// DefaultPriorityFeeCeiling defines the hard priority-fee cap in wei above which escalation stops
	DefaultPriorityFeeCeiling = "100000000000" // 100 gwei

	// DefaultGasMultiplier defines the buffer applied to the node's gas price estimate
	DefaultGasMultiplier = 1.1

	// DefaultFallbackGasEstimate defines the gas units assumed when estimation fails during repair
	DefaultFallbackGasEstimate = 500000

	// DefaultCircuitBreakerEnabled defines whether the per-maker circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 60 * time.Second

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 120 * time.Second
)

// GetEnvChainID returns the chain id from environment variables
func GetEnvChainID() (int64, error) {
	chainID := os.Getenv("CHAIN_ID")
	if chainID == "" {
		return DefaultChainID, nil
	}

	id, err := strconv.ParseInt(chainID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid CHAIN_ID value: %s, must be an integer", chainID)
	}
	if id <= 0 {
		return 0, fmt.Errorf("CHAIN_ID must be greater than 0")
	}
	return id, nil
}

// GetEnvRPCURL returns the RPC endpoint from environment variables
func GetEnvRPCURL() (string, error) {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		return DefaultRPCURL, nil
	}

	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return "", fmt.Errorf("invalid RPC_URL value: %s, must be a valid URL", rpcURL)
	}
	return rpcURL, nil
}

// GetEnvSenderAddress returns the settlement sender address from environment variables
func GetEnvSenderAddress() (string, error) {
	sender := os.Getenv("SENDER_ADDRESS")
	if sender == "" {
		return "", fmt.Errorf("SENDER_ADDRESS environment variable is required")
	}

	if !common.IsHexAddress(sender) {
		return "", fmt.Errorf("invalid SENDER_ADDRESS value: %s, must be a valid Ethereum address", sender)
	}
	return sender, nil
}

// GetEnvSettlementAddress returns the settlement contract address from environment variables
func GetEnvSettlementAddress() (string, error) {
	addr := os.Getenv("SETTLEMENT_ADDRESS")
	if addr == "" {
		return "", fmt.Errorf("SETTLEMENT_ADDRESS environment variable is required")
	}

	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("invalid SETTLEMENT_ADDRESS value: %s, must be a valid Ethereum address", addr)
	}
	return addr, nil
}

// GetEnvDatabaseURL returns the Postgres DSN from environment variables
func GetEnvDatabaseURL() (string, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return dsn, nil
}

// GetEnvAMQPURL returns the queue broker URL from environment variables
func GetEnvAMQPURL() (string, error) {
	amqpURL := os.Getenv("AMQP_URL")
	if amqpURL == "" {
		return "", fmt.Errorf("AMQP_URL environment variable is required")
	}
	return amqpURL, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvWatchInterval returns the watch-loop poll interval from environment variables
func GetEnvWatchInterval() (time.Duration, error) {
	return getEnvSeconds("WATCH_INTERVAL", DefaultWatchInterval)
}

// GetEnvHeartbeatInterval returns the heartbeat spacing from environment variables
func GetEnvHeartbeatInterval() (time.Duration, error) {
	return getEnvSeconds("HEARTBEAT_INTERVAL", DefaultHeartbeatInterval)
}

// GetEnvMinQuoteExpiryBuffer returns the minimum remaining quote lifetime from environment variables
func GetEnvMinQuoteExpiryBuffer() (time.Duration, error) {
	return getEnvSeconds("MIN_QUOTE_EXPIRY_BUFFER", DefaultMinQuoteExpiryBuffer)
}

// GetEnvQuoteTimeout returns the per-maker price request timeout from environment variables
func GetEnvQuoteTimeout() (time.Duration, error) {
	return getEnvSeconds("QUOTE_TIMEOUT", DefaultQuoteTimeout)
}

// GetEnvSignTimeout returns the per-maker sign request timeout from environment variables
func GetEnvSignTimeout() (time.Duration, error) {
	return getEnvSeconds("SIGN_TIMEOUT", DefaultSignTimeout)
}

// GetEnvSignRetryDelay returns the initial sign retry delay from environment variables
func GetEnvSignRetryDelay() (time.Duration, error) {
	return getEnvSeconds("SIGN_RETRY_DELAY", DefaultSignRetryDelay)
}

func getEnvSeconds(key string, def int) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return time.Duration(def) * time.Second, nil
	}

	seconds, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, val)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

// GetEnvFinalityBlocks returns the finality threshold from environment variables
func GetEnvFinalityBlocks() (uint64, error) {
	val := os.Getenv("FINALITY_BLOCKS")
	if val == "" {
		return DefaultFinalityBlocks, nil
	}

	blocks, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid FINALITY_BLOCKS value: %s, must be an integer", val)
	}
	return blocks, nil
}

// GetEnvInitialPriorityFee returns the starting priority-fee cap in wei from environment variables
func GetEnvInitialPriorityFee() (*big.Int, error) {
	return getEnvWei("INITIAL_PRIORITY_FEE", DefaultInitialPriorityFee)
}

// GetEnvPriorityFeeCeiling returns the hard priority-fee cap in wei from environment variables
func GetEnvPriorityFeeCeiling() (*big.Int, error) {
	return getEnvWei("PRIORITY_FEE_CEILING", DefaultPriorityFeeCeiling)
}

func getEnvWei(key string, def string) (*big.Int, error) {
	val := os.Getenv(key)
	if val == "" {
		val = def
	}

	wei := new(big.Int)
	if _, ok := wei.SetString(val, 10); !ok {
		return nil, fmt.Errorf("invalid %s value: %s, must be a valid integer string", key, val)
	}
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be greater than 0", key)
	}
	return wei, nil
}

// GetEnvGasMultiplier returns the gas estimate buffer from environment variables
func GetEnvGasMultiplier() (float64, error) {
	val := os.Getenv("GAS_MULTIPLIER")
	if val == "" {
		return DefaultGasMultiplier, nil
	}

	multiplier, err := strconv.ParseFloat(val, 64)
	if err != nil || multiplier <= 0 {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a positive number", val)
	}
	return multiplier, nil
}

// GetEnvFallbackGasEstimate returns the repair-path gas estimate from environment variables
func GetEnvFallbackGasEstimate() (uint64, error) {
	val := os.Getenv("FALLBACK_GAS_ESTIMATE")
	if val == "" {
		return DefaultFallbackGasEstimate, nil
	}

	estimate, err := strconv.ParseUint(val, 10, 64)
	if err != nil || estimate == 0 {
		return 0, fmt.Errorf("invalid FALLBACK_GAS_ESTIMATE value: %s, must be a positive integer", val)
	}
	return estimate, nil
}

// GetEnvMakerURIs parses the maker endpoint registry from environment variables.
// Format: "WETH-USDC=https://a|https://b;WBTC-USDC=https://c"
func GetEnvMakerURIs() (map[string][]string, error) {
	raw := os.Getenv("MAKER_URIS")
	if raw == "" {
		return nil, fmt.Errorf("MAKER_URIS environment variable is required")
	}

	registry := make(map[string][]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid MAKER_URIS entry: %s", entry)
		}
		pair := strings.ToUpper(strings.TrimSpace(parts[0]))
		for _, uri := range strings.Split(parts[1], "|") {
			uri = strings.TrimSpace(uri)
			if uri == "" {
				continue
			}
			if _, err := url.ParseRequestURI(uri); err != nil {
				return nil, fmt.Errorf("invalid maker URI for pair %s: %s", pair, uri)
			}
			registry[pair] = append(registry[pair], uri)
		}
	}
	if len(registry) == 0 {
		return nil, fmt.Errorf("MAKER_URIS contains no endpoints")
	}
	return registry, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" || coloring == "false" {
		return false, nil
	}
	if coloring == "true" {
		return true, nil
	}
	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}
