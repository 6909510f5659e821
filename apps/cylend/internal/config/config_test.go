package config

import (
	"go/format"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestLoadProcessorDefaults(t *testing.T) {
	t.Setenv("CORE_ADDRESS", testAddress)
	t.Setenv("OWNER_PRIVATE_KEY", "0xabc")

	cfg, err := LoadProcessor()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.CompletedTTL)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 0, cfg.ParkAfterFailures)
	assert.Equal(t, "http://localhost:8080", cfg.QueryAPIURL)
}

func TestLoadProcessorRequiresKeyAndAddress(t *testing.T) {
	t.Setenv("CORE_ADDRESS", "")
	t.Setenv("OWNER_PRIVATE_KEY", "")

	_, err := LoadProcessor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORE_ADDRESS")
	assert.Contains(t, err.Error(), "OWNER_PRIVATE_KEY")
}

func TestDurationsAcceptMilliseconds(t *testing.T) {
	t.Setenv("CORE_ADDRESS", testAddress)
	t.Setenv("OWNER_PRIVATE_KEY", "0xabc")
	t.Setenv("POLL_INTERVAL", "2500")
	t.Setenv("RETRY_DELAY", "1m")

	cfg, err := LoadProcessor()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.RetryDelay)
}

func TestLoadProcessorRejectsBadValues(t *testing.T) {
	t.Setenv("CORE_ADDRESS", "not-an-address")
	t.Setenv("OWNER_PRIVATE_KEY", "0xabc")
	t.Setenv("MAX_RETRIES", "zero")

	_, err := LoadProcessor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORE_ADDRESS is not a hex address")
	assert.Contains(t, err.Error(), "MAX_RETRIES must be an integer")
}

func TestLoadIndexerMemoryDriver(t *testing.T) {
	t.Setenv("CUSTODY_RPC_URL", "http://custody")
	t.Setenv("COMPUTE_RPC_URL", "http://compute")
	t.Setenv("INGRESS_ADDRESS", testAddress)
	t.Setenv("CORE_ADDRESS", testAddress)
	t.Setenv("KAFKA_BROKER", "localhost:9092")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DB_URL", "")
	t.Setenv("CUSTODY_START_BLOCK", "14902992")

	cfg, err := LoadIndexer()
	require.NoError(t, err)
	assert.Equal(t, uint64(14902992), cfg.CustodyStartBlock)
	assert.Equal(t, uint64(100), cfg.ChunkSize)
	assert.Equal(t, "cylend.chain-events", cfg.KafkaTopic)
}

func TestLoadIndexerPostgresNeedsURL(t *testing.T) {
	t.Setenv("CUSTODY_RPC_URL", "http://custody")
	t.Setenv("COMPUTE_RPC_URL", "http://compute")
	t.Setenv("INGRESS_ADDRESS", testAddress)
	t.Setenv("CORE_ADDRESS", testAddress)
	t.Setenv("KAFKA_BROKER", "localhost:9092")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_URL", "")

	_, err := LoadIndexer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_URL")
}

func TestLoadProcessorDatabaseSource(t *testing.T) {
	t.Setenv("CORE_ADDRESS", testAddress)
	t.Setenv("OWNER_PRIVATE_KEY", "0xabc")
	t.Setenv("DB_URL", "postgres://cylend@localhost/cylend")
	t.Setenv("QUERY_TIMEOUT", "3s")

	cfg, err := LoadProcessor()
	require.NoError(t, err)
	assert.Equal(t, "postgres://cylend@localhost/cylend", cfg.DbURL)
	assert.Equal(t, 3*time.Second, cfg.QueryTimeout)
}

func TestConfigSourceIsFormatted(t *testing.T) {
	src, err := os.ReadFile("config.go")
	require.NoError(t, err)

	formatted, err := format.Source(src)
	require.NoError(t, err)
	assert.Equal(t, string(formatted), string(src))
}
