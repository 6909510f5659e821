package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration initializes the database. In production, this would use a proper migration
// library like go-migrate
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS deposits (
			deposit_id VARCHAR(66) PRIMARY KEY,
			depositor VARCHAR(42) NOT NULL,
			token VARCHAR(42) NOT NULL,
			initial_amount NUMERIC(78,0) NOT NULL,
			remaining_amount NUMERIC(78,0) NOT NULL,
			is_native BOOLEAN NOT NULL,
			released BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ,
			CONSTRAINT remaining_within_initial CHECK (remaining_amount >= 0 AND remaining_amount <= initial_amount)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_depositor ON deposits (depositor, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS actions (
			action_id VARCHAR(66) PRIMARY KEY,
			deposit_id VARCHAR(66) NOT NULL,
			user_address VARCHAR(42) NOT NULL,
			action_type SMALLINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			encrypted_data_hash VARCHAR(66),
			created_at TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ,
			origin_domain BIGINT,
			origin_router VARCHAR(66),
			deposit_consumed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_encrypted_data_hash ON actions (encrypted_data_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_status_created ON actions (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS positions (
			user_address VARCHAR(42) NOT NULL,
			token VARCHAR(42) NOT NULL,
			position_hash VARCHAR(66) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_address, token)
		)`,
		`CREATE TABLE IF NOT EXISTS liquidity (
			token VARCHAR(42) PRIMARY KEY,
			total_deposited NUMERIC(78,0) NOT NULL,
			total_reserved NUMERIC(78,0) NOT NULL,
			total_borrowed NUMERIC(78,0) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prices (
			token VARCHAR(42) PRIMARY KEY,
			price NUMERIC(78,0) NOT NULL,
			price_timestamp TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			id BIGSERIAL PRIMARY KEY,
			chain VARCHAR(20) NOT NULL,
			kind VARCHAR(40) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			log_index INTEGER NOT NULL,
			block_number BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			event_blob JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chain, tx_hash, log_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status ON event_outbox (status, id)`,
		`CREATE TABLE IF NOT EXISTS crawler_state (
			chain VARCHAR(20) PRIMARY KEY,
			last_processed_block BIGINT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
