package repository

import (
	"context"
	"database/sql"
	"fmt"

	"cylend/apps/cylend/internal/model"

	"go.uber.org/zap"
)

type CrawlerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewCrawlerRepository(db *sql.DB, logger *zap.Logger) *CrawlerRepository {
	return &CrawlerRepository{db: db, logger: logger}
}

// InitCursor creates the cursor row for chain unless it already exists.
// startBlock is the first block to scan, so the stored cursor is startBlock-1.
func (c *CrawlerRepository) InitCursor(ctx context.Context, chain string, startBlock uint64) error {
	var last uint64
	if startBlock > 0 {
		last = startBlock - 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO crawler_state (chain, last_processed_block)
		VALUES ($1, $2)
		ON CONFLICT (chain) DO NOTHING
	`, chain, last)
	if err != nil {
		return fmt.Errorf("failed to init crawler cursor for %s: %w", chain, err)
	}
	return nil
}

func (c *CrawlerRepository) GetLastProcessedBlock(ctx context.Context, chain string) (uint64, error) {
	var block uint64
	err := c.db.QueryRowContext(ctx, `
		SELECT last_processed_block FROM crawler_state WHERE chain = $1
	`, chain).Scan(&block)
	return block, err
}

func (c *CrawlerRepository) UpdateLastProcessedBlock(ctx context.Context, chain string, block uint64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE crawler_state
		SET last_processed_block = $2, updated_at = NOW()
		WHERE chain = $1
	`, chain, block)
	return err
}

// StoreOutboxEvent is idempotent on (chain, tx_hash, log_index) so a re-scanned range
// does not enqueue the same log twice.
func (c *CrawlerRepository) StoreOutboxEvent(ctx context.Context, event model.OutboxEvent) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO event_outbox (chain, kind, tx_hash, log_index, block_number, status, event_blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain, tx_hash, log_index) DO NOTHING
	`, event.Chain, event.Kind, event.TxHash, event.LogIndex, event.BlockNumber, model.OutboxUnsent, []byte(event.EventBlob))

	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}

	c.logger.Debug("Stored event", zap.String("chain", event.Chain), zap.String("kind", event.Kind), zap.String("tx_hash", event.TxHash), zap.Uint("log_index", event.LogIndex))
	return nil
}

func (c *CrawlerRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	// Use a transaction to ensure atomicity
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	// Select and lock unsent events for processing
	rows, err := tx.QueryContext(ctx, `
		SELECT id, chain, kind, tx_hash, log_index, block_number, status, event_blob, created_at
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var blob []byte
		if err := rows.Scan(&event.ID, &event.Chain, &event.Kind, &event.TxHash, &event.LogIndex,
			&event.BlockNumber, &event.Status, &blob, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.EventBlob = blob
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Mark selected events as 'processing' to prevent other threads from picking them up
	for _, event := range events {
		_, err = tx.ExecContext(ctx, `
			UPDATE event_outbox
			SET status = 'processing'
			WHERE id = $1 AND status = 'unsent'
		`, event.ID)
		if err != nil {
			return nil, err
		}
	}

	// Commit the transaction
	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (c *CrawlerRepository) MarkEventAsSent(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'sent'
		WHERE id = $1
	`, id)
	return err
}

func (c *CrawlerRepository) MarkEventAsFailed(ctx context.Context, id int64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent'
		WHERE id = $1 AND status = 'processing'
	`, id)
	return err
}
