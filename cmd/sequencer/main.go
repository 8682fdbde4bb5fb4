package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/strataline/strata-sequencer/internal/bundlepool"
	"github.com/strataline/strata-sequencer/internal/config"
	"github.com/strataline/strata-sequencer/internal/forwarder"
	"github.com/strataline/strata-sequencer/internal/mempool"
	"github.com/strataline/strata-sequencer/internal/metrics"
	"github.com/strataline/strata-sequencer/internal/producer"
	"github.com/strataline/strata-sequencer/internal/rpc"
	"github.com/strataline/strata-sequencer/internal/selector"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup structured logging
	handler := log.NewTerminalHandler(os.Stdout, true)
	log.SetDefault(log.NewLogger(handler))

	logger := log.New("module", "main")
	logger.Info("Strata Sequencer starting", "version", version)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	// Bundle pool
	pool := bundlepool.New(bundlepool.Config{
		MaxPoolSizeBytes:     cfg.Bundles.MaxPoolSizeBytes,
		MaxMinTimestampAhead: cfg.Bundles.MaxMinTimestampAhead,
		EventBuffer:          cfg.Bundles.EventBuffer,
	})
	logger.Info("Bundle pool initialized",
		"maxPoolSizeBytes", cfg.Bundles.MaxPoolSizeBytes,
		"eventBuffer", cfg.Bundles.EventBuffer,
	)

	// Plain-transaction pool for the post-bundle phase
	txPool := mempool.New(cfg.Sequencer.MempoolSize)

	// Selection coordinator over a simulated engine (devnet); production
	// deployments inject the real execution engine here.
	engine := producer.NewDevEngine(cfg.Sequencer.MaxBlockGas)
	coordinator := selector.New(pool)
	blockProducer := producer.New(&cfg.Sequencer, engine, coordinator, pool, txPool)

	// Forwarding scheduler
	var senders []forwarder.BundleSender
	for _, endpoint := range cfg.Bundles.ForwardRecipients {
		senders = append(senders, forwarder.NewClient(endpoint))
	}
	scheduler := forwarder.New(
		forwarder.Config{MaxRetries: cfg.Bundles.ForwardMaxRetries},
		senders,
		pool.SubscribeBundleAdded(cfg.Bundles.EventBuffer),
	)

	// RPC handler & server
	rpcHandler := rpc.NewHandler(pool, txPool, cfg.Sequencer.ChainID)
	wsManager := rpc.NewWSSubscriptionManager(rpcHandler)
	rpcServer := rpc.NewServer(&cfg.Sequencer, rpcHandler, wsManager)

	// Start all services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rpcServer.Start(ctx); err != nil {
		logger.Error("Failed to start RPC server", "err", err)
		os.Exit(1)
	}
	logger.Info("RPC server started",
		"http", cfg.Sequencer.ListenAddr,
		"ws", cfg.Sequencer.WSAddr,
	)

	go wsManager.Run(ctx, pool.SubscribeBundleAdded(cfg.Bundles.EventBuffer))
	go blockProducer.Start(ctx)
	logger.Info("Block producer started", "blockTime", cfg.Sequencer.BlockTime)

	scheduler.Start(ctx)

	// Prometheus metrics endpoint
	met := metrics.New()
	if cfg.Metrics.Enabled {
		metricsAddr := cfg.Metrics.Addr
		if metricsAddr == "" {
			metricsAddr = "0.0.0.0:6060"
		}
		met.Serve(metricsAddr)
		logger.Info("Metrics server started", "addr", metricsAddr)
	}

	// Wire metrics into components
	pool.SetMetrics(met)
	coordinator.SetMetrics(met)
	scheduler.SetMetrics(met)
	rpcHandler.SetMetrics(met)

	fmt.Println()
	logger.Info("═══════════════════════════════════════════════")
	logger.Info("  Strata Sequencer is running")
	logger.Info("  JSON-RPC: " + cfg.Sequencer.ListenAddr)
	logger.Info("  WebSocket: " + cfg.Sequencer.WSAddr)
	logger.Info("  Chain ID: " + fmt.Sprintf("%d", cfg.Sequencer.ChainID))
	logger.Info("═══════════════════════════════════════════════")
	fmt.Println()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", "signal", sig)

	// Graceful shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	blockProducer.Stop()
	scheduler.Stop()
	if err := rpcServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", "err", err)
	}

	logger.Info("Strata Sequencer stopped gracefully")
}
