package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const (
	DefaultCustodyChainID = 5003  // Mantle Sepolia
	DefaultComputeChainID = 23295 // Sapphire testnet
)

// IndexerConfig drives cmd/indexer: crawlers, outbox publisher, ingestion consumer and query API
type IndexerConfig struct {
	CustodyRpcURL         string
	ComputeRpcURL         string
	IngressAddress        string
	CoreAddress           string
	CustodyStartBlock     uint64
	ComputeStartBlock     uint64
	ChunkSize             uint64
	CustodyFinalityOffset uint64
	ComputeFinalityOffset uint64
	CrawlInterval         time.Duration
	DbURL                 string
	StoreDriver           string
	KafkaBroker           string
	KafkaTopic            string
	KafkaGroupID          string
	APIPort               int
}

// ProcessorConfig drives cmd/processor
type ProcessorConfig struct {
	ComputeRpcURL   string
	CoreAddress     string
	OwnerPrivateKey string
	QueryAPIURL     string
	QueryTimeout    time.Duration

	// DbURL, when set, makes the processor read actions from Postgres instead of
	// the query API
	DbURL             string
	PollInterval      time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	ReceiptTimeout    time.Duration
	CompletedTTL      time.Duration
	CompletedCapacity int
	Concurrency       int
	ParkAfterFailures int
	ParkDuration      time.Duration
	RedisAddr         string
	RedisPassword     string
	LeaseTTL          time.Duration
	MetricsPort       int
}

// loadDotEnv loads .env when present; a missing file is not an error
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not load .env file: %w", err)
	}
	return nil
}

// LoadIndexer reads the indexer configuration from the environment
func LoadIndexer() (*IndexerConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	e := &env{}
	cfg := &IndexerConfig{
		CustodyRpcURL:         e.required("CUSTODY_RPC_URL"),
		ComputeRpcURL:         e.required("COMPUTE_RPC_URL"),
		IngressAddress:        e.address("INGRESS_ADDRESS", true),
		CoreAddress:           e.address("CORE_ADDRESS", true),
		CustodyStartBlock:     e.getUint64("CUSTODY_START_BLOCK", 0),
		ComputeStartBlock:     e.getUint64("COMPUTE_START_BLOCK", 0),
		ChunkSize:             e.getUint64("CHUNK_SIZE", 100),
		CustodyFinalityOffset: e.getUint64("CUSTODY_FINALITY_OFFSET", 0),
		ComputeFinalityOffset: e.getUint64("COMPUTE_FINALITY_OFFSET", 0),
		CrawlInterval:         e.getDuration("CRAWL_INTERVAL", 5*time.Second),
		DbURL:                 getEnvOrDefault("DB_URL", ""),
		StoreDriver:           getEnvOrDefault("STORE_DRIVER", "postgres"),
		KafkaBroker:           e.required("KAFKA_BROKER"),
		KafkaTopic:            getEnvOrDefault("KAFKA_TOPIC", "cylend.chain-events"),
		KafkaGroupID:          getEnvOrDefault("KAFKA_GROUP_ID", "cylend-ingestion"),
		APIPort:               e.getInt("API_PORT", 8080),
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DbURL == "" {
			e.fail("DB_URL is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		e.fail(fmt.Sprintf("STORE_DRIVER must be postgres or memory, got %q", cfg.StoreDriver))
	}
	if cfg.ChunkSize == 0 {
		e.fail("CHUNK_SIZE must be positive")
	}

	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProcessor reads the settlement processor configuration. Missing signing key
// or core contract address is fatal.
func LoadProcessor() (*ProcessorConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	e := &env{}
	cfg := &ProcessorConfig{
		ComputeRpcURL:     getEnvOrDefault("COMPUTE_RPC_URL", "https://testnet.sapphire.oasis.io"),
		CoreAddress:       e.address("CORE_ADDRESS", true),
		OwnerPrivateKey:   e.required("OWNER_PRIVATE_KEY"),
		QueryAPIURL:       strings.TrimRight(getEnvOrDefault("QUERY_API_URL", "http://localhost:8080"), "/"),
		QueryTimeout:      e.getDuration("QUERY_TIMEOUT", 10*time.Second),
		DbURL:             getEnvOrDefault("DB_URL", ""),
		PollInterval:      e.getDuration("POLL_INTERVAL", 10*time.Second),
		MaxRetries:        e.getInt("MAX_RETRIES", 3),
		RetryDelay:        e.getDuration("RETRY_DELAY", 5*time.Second),
		ReceiptTimeout:    e.getDuration("RECEIPT_TIMEOUT", 2*time.Minute),
		CompletedTTL:      e.getDuration("COMPLETED_TTL", 5*time.Minute),
		CompletedCapacity: e.getInt("COMPLETED_CAPACITY", 10000),
		Concurrency:       e.getInt("PROCESSOR_CONCURRENCY", 1),
		ParkAfterFailures: e.getInt("PARK_AFTER_FAILURES", 0),
		ParkDuration:      e.getDuration("PARK_DURATION", 30*time.Minute),
		RedisAddr:         getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword:     getEnvOrDefault("REDIS_PASSWORD", ""),
		LeaseTTL:          e.getDuration("LEASE_TTL", 2*time.Minute),
		MetricsPort:       e.getInt("METRICS_PORT", 9102),
	}

	if cfg.MaxRetries < 1 {
		e.fail("MAX_RETRIES must be at least 1")
	}
	if cfg.Concurrency < 1 {
		e.fail("PROCESSOR_CONCURRENCY must be at least 1")
	}
	if cfg.PollInterval <= 0 {
		e.fail("POLL_INTERVAL must be positive")
	}

	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// env collects every configuration problem so startup reports them together
type env struct {
	problems []string
}

func (e *env) fail(msg string) {
	e.problems = append(e.problems, msg)
}

func (e *env) err() error {
	if len(e.problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(e.problems, "; "))
}

func (e *env) required(key string) string {
	value := getEnvOrDefault(key, "")
	if value == "" {
		e.fail(fmt.Sprintf("environment variable %s not set", key))
	}
	return value
}

func (e *env) address(key string, required bool) string {
	value := getEnvOrDefault(key, "")
	if value == "" {
		if required {
			e.fail(fmt.Sprintf("environment variable %s not set", key))
		}
		return ""
	}
	if !common.IsHexAddress(value) {
		e.fail(fmt.Sprintf("%s is not a hex address: %q", key, value))
	}
	return value
}

func (e *env) getUint64(key string, defaultValue uint64) uint64 {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		e.fail(fmt.Sprintf("%s must be an unsigned integer: %q", key, value))
		return defaultValue
	}
	return parsed
}

func (e *env) getInt(key string, defaultValue int) int {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(fmt.Sprintf("%s must be an integer: %q", key, value))
		return defaultValue
	}
	return parsed
}

// getDuration accepts Go duration strings ("10s") or bare milliseconds ("10000")
func (e *env) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.fail(fmt.Sprintf("%s must be a duration: %q", key, value))
		return defaultValue
	}
	return parsed
}
