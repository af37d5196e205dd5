package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/otcdesk/rfq-settler/pkg/logger"
)

// Config holds the configuration for the settlement service
type Config struct {
	ChainID           int64
	RPCURL            string
	PrivateKey        string
	SenderAddress     string
	SettlementAddress string
	DatabaseURL       string
	AMQPURL           string
	MakerURIs         map[string][]string

	WatchInterval        time.Duration
	HeartbeatInterval    time.Duration
	ExpiryGrace          time.Duration
	FinalityBlocks       uint64
	MinQuoteExpiryBuffer time.Duration
	QuoteTimeout         time.Duration
	SignTimeout          time.Duration
	SignRetryDelay       time.Duration

	InitialPriorityFee  *big.Int
	PriorityFeeCeiling  *big.Int
	GasMultiplier       float64
	FallbackGasEstimate uint64

	MetricsPort    string
	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	chainID, err := GetEnvChainID()
	if err != nil {
		return nil, err
	}

	rpcURL, err := GetEnvRPCURL()
	if err != nil {
		return nil, err
	}

	senderAddress, err := GetEnvSenderAddress()
	if err != nil {
		return nil, err
	}

	settlementAddress, err := GetEnvSettlementAddress()
	if err != nil {
		return nil, err
	}

	databaseURL, err := GetEnvDatabaseURL()
	if err != nil {
		return nil, err
	}

	amqpURL, err := GetEnvAMQPURL()
	if err != nil {
		return nil, err
	}

	makerURIs, err := GetEnvMakerURIs()
	if err != nil {
		return nil, err
	}

	watchInterval, err := GetEnvWatchInterval()
	if err != nil {
		return nil, err
	}

	heartbeatInterval, err := GetEnvHeartbeatInterval()
	if err != nil {
		return nil, err
	}

	finalityBlocks, err := GetEnvFinalityBlocks()
	if err != nil {
		return nil, err
	}

	minExpiryBuffer, err := GetEnvMinQuoteExpiryBuffer()
	if err != nil {
		return nil, err
	}

	quoteTimeout, err := GetEnvQuoteTimeout()
	if err != nil {
		return nil, err
	}

	signTimeout, err := GetEnvSignTimeout()
	if err != nil {
		return nil, err
	}

	signRetryDelay, err := GetEnvSignRetryDelay()
	if err != nil {
		return nil, err
	}

	initialPriorityFee, err := GetEnvInitialPriorityFee()
	if err != nil {
		return nil, err
	}

	priorityFeeCeiling, err := GetEnvPriorityFeeCeiling()
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	fallbackGasEstimate, err := GetEnvFallbackGasEstimate()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ChainID:           chainID,
		RPCURL:            rpcURL,
		PrivateKey:        os.Getenv("PRIVATE_KEY"),
		SenderAddress:     senderAddress,
		SettlementAddress: settlementAddress,
		DatabaseURL:       databaseURL,
		AMQPURL:           amqpURL,
		MakerURIs:         makerURIs,

		WatchInterval:        watchInterval,
		HeartbeatInterval:    heartbeatInterval,
		ExpiryGrace:          DefaultExpiryGrace,
		FinalityBlocks:       finalityBlocks,
		MinQuoteExpiryBuffer: minExpiryBuffer,
		QuoteTimeout:         quoteTimeout,
		SignTimeout:          signTimeout,
		SignRetryDelay:       signRetryDelay,

		InitialPriorityFee:  initialPriorityFee,
		PriorityFeeCeiling:  priorityFeeCeiling,
		GasMultiplier:       gasMultiplier,
		FallbackGasEstimate: fallbackGasEstimate,

		MetricsPort: metricsPort,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if cfg.PriorityFeeCeiling.Cmp(cfg.InitialPriorityFee) < 0 {
		return fmt.Errorf("PRIORITY_FEE_CEILING must not be below INITIAL_PRIORITY_FEE")
	}
	return nil
}
