package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/otcdesk/rfq-settler/pkg/cache"
	"github.com/otcdesk/rfq-settler/pkg/chainclient"
	"github.com/otcdesk/rfq-settler/pkg/circuitbreaker"
	"github.com/otcdesk/rfq-settler/pkg/config"
	"github.com/otcdesk/rfq-settler/pkg/health"
	"github.com/otcdesk/rfq-settler/pkg/logger"
	"github.com/otcdesk/rfq-settler/pkg/makerclient"
	"github.com/otcdesk/rfq-settler/pkg/metrics"
	"github.com/otcdesk/rfq-settler/pkg/queue"
	"github.com/otcdesk/rfq-settler/pkg/quoter"
	"github.com/otcdesk/rfq-settler/pkg/settler"
	"github.com/otcdesk/rfq-settler/pkg/store"
)

const decimalsCacheTTL = 1 * time.Hour

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)
	sink := metrics.NewProm()

	chain, err := chainclient.New(ctx, cfg.ChainID, cfg.RPCURL, cfg.SettlementAddress, cfg.PrivateKey, cfg.GasMultiplier, stdLogger)
	if err != nil {
		log.Fatalf("Failed to create chain client: %v", err)
	}

	st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to job store: %v", err)
	}
	defer st.Close()

	q, err := queue.NewRabbitQueue(cfg.AMQPURL, stdLogger)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	makers := makerclient.New(cfg.ChainID, chain.Sender().Hex(), cfg.QuoteTimeout, stdLogger)
	breakers := circuitbreaker.NewRegistry(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		stdLogger,
	)
	decimals := cache.NewDecimalsCache(decimalsCacheTTL, 1024)
	quotes := quoter.New(
		strconv.FormatInt(cfg.ChainID, 10),
		makers,
		breakers,
		cfg.MakerURIs,
		cfg.QuoteTimeout,
		cfg.MinQuoteExpiryBuffer,
		stdLogger,
		sink,
	)

	// Worker identity sticks to the sender address so a restarted process
	// reclaims its predecessor's unresolved jobs
	workerID := chain.Sender().Hex()

	svc := settler.New(cfg, st, chain, makers, quotes, breakers, decimals, stdLogger, sink, workerID)
	worker := settler.NewWorker(svc, q)

	healthServer := health.NewServer(cfg.MetricsPort, chain, worker, stdLogger)
	go healthServer.Start(ctx)

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		stdLogger.Info("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	stdLogger.Info("Starting the settlement worker...")
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("Worker exited with error: %v", err)
	}
}
