package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const actionColumns = `action_id, deposit_id, user_address, action_type, status, encrypted_data_hash, created_at, processed_at, origin_domain, origin_router, deposit_consumed`

type ActionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewActionRepository(db *sql.DB, logger *zap.Logger) *ActionRepository {
	return &ActionRepository{db: db, logger: logger}
}

func (r *ActionRepository) InsertAction(ctx context.Context, a model.Action) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO actions (`+actionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (action_id) DO NOTHING
	`, a.ActionID.Hex(), a.DepositID.Hex(), a.User.Hex(), int16(a.ActionType), string(a.Status),
		nullHash(a.EncryptedDataHash), a.CreatedAt, a.ProcessedAt, nullUint32(a.OriginDomain), nullHash(a.OriginRouter), a.DepositConsumed)
	if err != nil {
		return false, fmt.Errorf("failed to insert action: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert action: %w", err)
	}

	if n > 0 {
		r.logger.Info("Inserted action",
			zap.String("action_id", a.ActionID.Hex()),
			zap.String("deposit_id", a.DepositID.Hex()),
			zap.String("status", string(a.Status)))
	}
	return n > 0, nil
}

func (r *ActionRepository) GetAction(ctx context.Context, id common.Hash) (*model.Action, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE action_id = $1
	`, id.Hex())

	a, err := scanAction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return a, nil
}

func (r *ActionRepository) FindActionByEncryptedDataHash(ctx context.Context, hash common.Hash) (*model.Action, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE encrypted_data_hash = $1
		ORDER BY created_at
		LIMIT 1
	`, hash.Hex())

	a, err := scanAction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find action by encrypted data hash: %w", err)
	}
	return a, nil
}

// UpdateAction locks the row, merges the update with model.Action.Apply and writes it
// back, so the status guard lives in one place for every store.
func (r *ActionRepository) UpdateAction(ctx context.Context, id common.Hash, u model.ActionUpdate) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin action update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE action_id = $1
		FOR UPDATE
	`, id.Hex())

	current, err := scanAction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to load action for update: %w", err)
	}

	next := current.Apply(u)
	_, err = tx.ExecContext(ctx, `
		UPDATE actions
		SET deposit_id = $2, user_address = $3, action_type = $4, status = $5,
			processed_at = $6, origin_domain = $7, origin_router = $8, encrypted_data_hash = $9, deposit_consumed = $10
		WHERE action_id = $1
	`, id.Hex(), next.DepositID.Hex(), next.User.Hex(), int16(next.ActionType), string(next.Status),
		next.ProcessedAt, nullUint32(next.OriginDomain), nullHash(next.OriginRouter), nullHash(next.EncryptedDataHash), next.DepositConsumed)
	if err != nil {
		return false, fmt.Errorf("failed to update action: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit action update: %w", err)
	}

	r.logger.Info("Updated action",
		zap.String("action_id", id.Hex()),
		zap.String("status", string(next.Status)))
	return true, nil
}

// ConsumeDepositForAction locks the action and then its deposit, and writes the new
// balance together with the action's deposit_consumed marker.
func (r *ActionRepository) ConsumeDepositForAction(ctx context.Context, actionID, depositID common.Hash, amount *big.Int, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin deposit consumption: %w", err)
	}
	defer tx.Rollback()

	var consumed bool
	err = tx.QueryRowContext(ctx, `
		SELECT deposit_consumed
		FROM actions
		WHERE action_id = $1
		FOR UPDATE
	`, actionID.Hex()).Scan(&consumed)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock action for consumption: %w", err)
	}
	if consumed {
		return false, nil
	}

	d, err := scanDeposit(tx.QueryRowContext(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE deposit_id = $1
		FOR UPDATE
	`, depositID.Hex()))
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock deposit for consumption: %w", err)
	}

	remaining, released := d.Consume(amount)
	if _, err := tx.ExecContext(ctx, `
		UPDATE deposits
		SET remaining_amount = $2, released = $3, last_used_at = $4
		WHERE deposit_id = $1
	`, depositID.Hex(), numeric(remaining), released, at); err != nil {
		return false, fmt.Errorf("failed to update deposit balance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE actions
		SET deposit_consumed = TRUE
		WHERE action_id = $1
	`, actionID.Hex()); err != nil {
		return false, fmt.Errorf("failed to mark deposit consumed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit deposit consumption: %w", err)
	}

	r.logger.Info("Consumed deposit for action",
		zap.String("action_id", actionID.Hex()),
		zap.String("deposit_id", depositID.Hex()),
		zap.String("remaining_amount", numeric(remaining)),
		zap.Bool("released", released))
	return true, nil
}

func (r *ActionRepository) ListActionsByStatus(ctx context.Context, status model.ActionStatus, limit int) ([]model.Action, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE status = $1
		ORDER BY created_at, action_id
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []model.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}
	return actions, nil
}

func scanAction(row rowScanner) (*model.Action, error) {
	var (
		id, depositID, user, status string
		actionType                  int16
		encrypted, router           sql.NullString
		processedAt                 sql.NullTime
		domain                      sql.NullInt64
		a                           model.Action
	)
	if err := row.Scan(&id, &depositID, &user, &actionType, &status, &encrypted, &a.CreatedAt, &processedAt, &domain, &router, &a.DepositConsumed); err != nil {
		return nil, err
	}

	a.ActionID = common.HexToHash(id)
	a.DepositID = common.HexToHash(depositID)
	a.User = common.HexToAddress(user)
	a.ActionType = model.ActionType(actionType)
	a.Status = model.ActionStatus(status)
	a.EncryptedDataHash = hashFromNull(encrypted)
	a.OriginDomain = uint32FromNull(domain)
	a.OriginRouter = hashFromNull(router)
	if processedAt.Valid {
		a.ProcessedAt = &processedAt.Time
	}
	return &a, nil
}
