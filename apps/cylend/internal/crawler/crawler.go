package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cylend/apps/cylend/internal/chain"
	"cylend/apps/cylend/internal/events"
	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ChainClient is the subset of *ethclient.Client a crawler needs
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
}

// Cursor persists scan progress and the outbox. Implemented by
// repository.CrawlerRepository and store.MemoryOutbox.
type Cursor interface {
	InitCursor(ctx context.Context, chain string, startBlock uint64) error
	GetLastProcessedBlock(ctx context.Context, chain string) (uint64, error)
	UpdateLastProcessedBlock(ctx context.Context, chain string, block uint64) error
	StoreOutboxEvent(ctx context.Context, event model.OutboxEvent) error
}

type Options struct {
	StartBlock     uint64
	ChunkSize      uint64
	FinalityOffset uint64
	Interval       time.Duration
}

// Crawler scans one contract on one chain and writes every decoded log to the outbox
type Crawler struct {
	client   ChainClient
	decoder  *chain.Decoder
	contract common.Address
	cursor   Cursor
	opts     Options
	pause    time.Duration // between chunks, keeps public RPCs happy
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewCrawler(client ChainClient, decoder *chain.Decoder, contract common.Address, cursor Cursor, opts Options, logger *zap.Logger, m *metrics.Metrics) *Crawler {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	return &Crawler{
		client:   client,
		decoder:  decoder,
		contract: contract,
		cursor:   cursor,
		opts:     opts,
		pause:    100 * time.Millisecond,
		logger:   logger.With(zap.String("chain", string(decoder.Chain()))),
		metrics:  m,
	}
}

func (c *Crawler) name() string {
	return string(c.decoder.Chain())
}

// Start crawls until ctx is cancelled
func (c *Crawler) Start(ctx context.Context) error {
	if err := c.cursor.InitCursor(ctx, c.name(), c.opts.StartBlock); err != nil {
		return err
	}
	c.logger.Info("Starting crawler",
		zap.String("contract", c.contract.Hex()),
		zap.Uint64("start_block", c.opts.StartBlock),
		zap.Uint64("finality_offset", c.opts.FinalityOffset))

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		if err := c.CrawlOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("Crawl failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CrawlOnce scans from the stored cursor up to the latest block past the finality offset
func (c *Crawler) CrawlOnce(ctx context.Context) error {
	last, err := c.cursor.GetLastProcessedBlock(ctx, c.name())
	if err != nil {
		return fmt.Errorf("failed to get last processed block: %w", err)
	}

	latest, err := c.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}
	if latest < c.opts.FinalityOffset {
		return nil
	}
	safe := latest - c.opts.FinalityOffset
	if safe <= last {
		return nil
	}

	return c.processBlockRange(ctx, last+1, safe)
}

func (c *Crawler) processBlockRange(ctx context.Context, fromBlock, toBlock uint64) error {
	for start := fromBlock; start <= toBlock; start += c.opts.ChunkSize {
		end := start + c.opts.ChunkSize - 1
		if end > toBlock {
			end = toBlock
		}

		c.logger.Debug("Scanning block range", zap.Uint64("start", start), zap.Uint64("end", end))

		stored, err := c.processChunk(ctx, start, end)
		if err != nil {
			return fmt.Errorf("failed to process chunk %d-%d: %w", start, end, err)
		}
		if err := c.cursor.UpdateLastProcessedBlock(ctx, c.name(), end); err != nil {
			return fmt.Errorf("failed to update last processed block to %d: %w", end, err)
		}
		if c.metrics != nil {
			c.metrics.CrawlerLastBlock.WithLabelValues(c.name()).Set(float64(end))
		}
		if stored > 0 {
			c.logger.Info("Stored chain events", zap.Uint64("start", start), zap.Uint64("end", end), zap.Int("count", stored))
		}

		if end < toBlock {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.pause):
			}
		}
	}
	return nil
}

func (c *Crawler) processChunk(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{c.decoder.Topics()},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to filter logs: %w", err)
	}

	blockTimes := make(map[uint64]time.Time)
	stored := 0
	for _, eventLog := range logs {
		if eventLog.Removed {
			continue
		}

		kind, payload, ok, err := c.decoder.Decode(eventLog)
		if !ok {
			continue
		}
		if err != nil {
			// a malformed log will not decode on retry either
			c.logger.Error("Skipping undecodable log",
				zap.String("tx_hash", eventLog.TxHash.Hex()),
				zap.Uint("log_index", eventLog.Index),
				zap.Error(err))
			continue
		}

		blockTime, err := c.blockTime(ctx, eventLog.BlockNumber, blockTimes)
		if err != nil {
			return stored, err
		}

		ev, err := events.NewChainEvent(c.decoder.Chain(), kind, eventLog.TxHash, eventLog.BlockNumber, eventLog.Index, blockTime, payload)
		if err != nil {
			return stored, err
		}
		if kind == events.KindEncryptedActionReceived {
			ev.TxFrom = c.sender(ctx, eventLog)
		}

		blob, err := json.Marshal(ev)
		if err != nil {
			return stored, fmt.Errorf("failed to marshal event: %w", err)
		}

		if err := c.cursor.StoreOutboxEvent(ctx, model.OutboxEvent{
			Chain:       c.name(),
			Kind:        string(kind),
			TxHash:      eventLog.TxHash.Hex(),
			LogIndex:    eventLog.Index,
			BlockNumber: eventLog.BlockNumber,
			Status:      model.OutboxUnsent,
			EventBlob:   blob,
		}); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func (c *Crawler) blockTime(ctx context.Context, number uint64, cache map[uint64]time.Time) (time.Time, error) {
	if t, ok := cache[number]; ok {
		return t, nil
	}
	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get header %d: %w", number, err)
	}
	t := time.Unix(int64(header.Time), 0).UTC()
	cache[number] = t
	return t, nil
}

// sender resolves the transaction sender; nil when the node cannot tell us
func (c *Crawler) sender(ctx context.Context, eventLog types.Log) *common.Address {
	tx, _, err := c.client.TransactionByHash(ctx, eventLog.TxHash)
	if err == nil {
		var from common.Address
		from, err = c.client.TransactionSender(ctx, tx, eventLog.BlockHash, eventLog.TxIndex)
		if err == nil {
			return &from
		}
	}
	c.logger.Warn("Could not resolve transaction sender", zap.String("tx_hash", eventLog.TxHash.Hex()), zap.Error(err))
	return nil
}
