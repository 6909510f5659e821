package main

import (
	"context"
	"database/sql"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cylend/apps/cylend/internal/api"
	"cylend/apps/cylend/internal/chain"
	"cylend/apps/cylend/internal/config"
	"cylend/apps/cylend/internal/crawler"
	"cylend/apps/cylend/internal/event_publisher"
	"cylend/apps/cylend/internal/ingestion"
	"cylend/apps/cylend/internal/logging"
	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/repository"
	"cylend/apps/cylend/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// outbox is satisfied by repository.CrawlerRepository and store.MemoryOutbox
type outbox interface {
	crawler.Cursor
	event_publisher.Outbox
}

func main() {
	logger, err := logging.New()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.LoadIndexer()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting indexer with configuration",
		zap.String("custody_rpc_url", cfg.CustodyRpcURL),
		zap.String("compute_rpc_url", cfg.ComputeRpcURL),
		zap.String("ingress_address", cfg.IngressAddress),
		zap.String("core_address", cfg.CoreAddress),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.Uint64("chunk_size", cfg.ChunkSize),
		zap.Int("api_port", cfg.APIPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	var (
		entities store.Store
		queue    outbox
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory store; indexed state is lost on restart")
		entities = store.NewMemory()
		queue = store.NewMemoryOutbox()
	default:
		db, err := sql.Open("postgres", cfg.DbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := repository.InitMigration(db); err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		entities = repository.NewStore(db, logger)
		queue = repository.NewCrawlerRepository(db, logger)
	}

	custodyClient, err := ethclient.DialContext(ctx, cfg.CustodyRpcURL)
	if err != nil {
		logger.Fatal("Failed to connect to custody chain", zap.Error(err))
	}
	defer custodyClient.Close()

	computeClient, err := ethclient.DialContext(ctx, cfg.ComputeRpcURL)
	if err != nil {
		logger.Fatal("Failed to connect to compute chain", zap.Error(err))
	}
	defer computeClient.Close()

	checkChainID(ctx, logger, "custody", custodyClient, config.DefaultCustodyChainID)
	checkChainID(ctx, logger, "compute", computeClient, config.DefaultComputeChainID)

	contracts, err := chain.ParseContracts()
	if err != nil {
		logger.Fatal("Failed to parse contract ABIs", zap.Error(err))
	}
	ingress := common.HexToAddress(cfg.IngressAddress)
	core := common.HexToAddress(cfg.CoreAddress)
	reader := chain.NewEVMReader(custodyClient, computeClient, ingress, core, contracts)

	crawlers := []*crawler.Crawler{
		crawler.NewCrawler(custodyClient, chain.NewIngressDecoder(contracts), ingress, queue, crawler.Options{
			StartBlock:     cfg.CustodyStartBlock,
			ChunkSize:      cfg.ChunkSize,
			FinalityOffset: cfg.CustodyFinalityOffset,
			Interval:       cfg.CrawlInterval,
		}, logger, m),
		crawler.NewCrawler(computeClient, chain.NewCoreDecoder(contracts), core, queue, crawler.Options{
			StartBlock:     cfg.ComputeStartBlock,
			ChunkSize:      cfg.ChunkSize,
			FinalityOffset: cfg.ComputeFinalityOffset,
			Interval:       cfg.CrawlInterval,
		}, logger, m),
	}

	eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, queue, m)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer eventPublisher.Close()

	engine := ingestion.NewEngine(entities, reader, logger, m)
	consumer, err := ingestion.NewConsumer(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID, engine, logger)
	if err != nil {
		logger.Fatal("Failed to create ingestion consumer", zap.Error(err))
	}
	defer consumer.Close()

	apiServer := api.NewServer(cfg.APIPort, entities, prometheus.DefaultGatherer, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for _, c := range crawlers {
		wg.Add(1)
		go func(c *crawler.Crawler) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				logger.Fatal("Crawler failed", zap.Error(err))
			}
		}(c)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		eventPublisher.StartPublishing(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx); err != nil {
			logger.Fatal("Ingestion consumer failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for background workers")
	}

	logger.Info("Indexer shutdown complete")
}

// checkChainID warns when an RPC endpoint serves a network other than the default one
func checkChainID(ctx context.Context, logger *zap.Logger, name string, client *ethclient.Client, expected uint64) {
	id, err := client.ChainID(ctx)
	if err != nil {
		logger.Warn("Could not read chain id", zap.String("chain", name), zap.Error(err))
		return
	}
	if id.Uint64() != expected {
		logger.Warn("Chain id differs from the default network",
			zap.String("chain", name),
			zap.Uint64("chain_id", id.Uint64()),
			zap.Uint64("expected", expected))
	}
}
