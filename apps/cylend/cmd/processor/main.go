package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cylend/apps/cylend/internal/chain"
	"cylend/apps/cylend/internal/config"
	"cylend/apps/cylend/internal/logging"
	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/query"
	"cylend/apps/cylend/internal/repository"
	"cylend/apps/cylend/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.LoadProcessor()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ethclient.DialContext(ctx, cfg.ComputeRpcURL)
	if err != nil {
		logger.Fatal("Failed to connect to compute chain", zap.Error(err))
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		logger.Fatal("Failed to read compute chain id", zap.Error(err))
	}
	if chainID.Uint64() != config.DefaultComputeChainID {
		logger.Warn("Compute chain id differs from the default network",
			zap.Uint64("chain_id", chainID.Uint64()),
			zap.Uint64("expected", config.DefaultComputeChainID))
	}

	contracts, err := chain.ParseContracts()
	if err != nil {
		logger.Fatal("Failed to parse contract ABIs", zap.Error(err))
	}
	writer, err := chain.NewEVMWriter(client, common.HexToAddress(cfg.CoreAddress), contracts, cfg.OwnerPrivateKey, cfg.ReceiptTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create completion writer", zap.Error(err))
	}

	logger.Info("Starting settlement processor with configuration",
		zap.String("compute_rpc_url", cfg.ComputeRpcURL),
		zap.String("core_address", cfg.CoreAddress),
		zap.String("owner", writer.From().Hex()),
		zap.String("query_api_url", cfg.QueryAPIURL),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("retry_delay", cfg.RetryDelay),
		zap.Int("concurrency", cfg.Concurrency),
	)

	var source settlement.ActionSource
	if cfg.DbURL != "" {
		db, err := sql.Open("postgres", cfg.DbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("Failed to reach database", zap.Error(err))
		}
		logger.Info("Reading pending actions from database")
		source = query.NewStoreSource(repository.NewStore(db, logger))
	} else {
		source = query.NewClient(cfg.QueryAPIURL, cfg.QueryTimeout, logger)
	}

	var lease settlement.Lease = settlement.LocalLease{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     cfg.Concurrency + 2,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		logger.Info("Using Redis settlement lease", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.LeaseTTL))
		lease = settlement.NewRedisLease(rdb, cfg.LeaseTTL, logger)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	submitter := settlement.NewSubmitter(writer, cfg.MaxRetries, cfg.RetryDelay, logger, m)
	processor := settlement.NewProcessor(source, submitter, lease, settlement.Options{
		PollInterval:      cfg.PollInterval,
		CompletedTTL:      cfg.CompletedTTL,
		CompletedCapacity: cfg.CompletedCapacity,
		Concurrency:       cfg.Concurrency,
		ParkAfterFailures: cfg.ParkAfterFailures,
		ParkDuration:      cfg.ParkDuration,
	}, logger, m)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting metrics server", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Metrics server failed", zap.Error(err))
		}
	}()

	processor.Run(ctx)
	logger.Info("Received shutdown signal, starting graceful shutdown...")
	processor.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down metrics server", zap.Error(err))
	}

	logger.Info("Processor shutdown complete")
}
