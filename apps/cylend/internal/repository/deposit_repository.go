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

const depositColumns = `deposit_id, depositor, token, initial_amount, remaining_amount, is_native, released, created_at, last_used_at`

type DepositRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewDepositRepository(db *sql.DB, logger *zap.Logger) *DepositRepository {
	return &DepositRepository{db: db, logger: logger}
}

func (r *DepositRepository) InsertDeposit(ctx context.Context, d model.Deposit) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO deposits (`+depositColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (deposit_id) DO NOTHING
	`, d.DepositID.Hex(), d.Depositor.Hex(), d.Token.Hex(), numeric(d.InitialAmount), numeric(d.RemainingAmount),
		d.IsNative, d.Released, d.CreatedAt, d.LastUsedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert deposit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert deposit: %w", err)
	}

	if n > 0 {
		r.logger.Info("Inserted deposit",
			zap.String("deposit_id", d.DepositID.Hex()),
			zap.String("depositor", d.Depositor.Hex()),
			zap.String("amount", numeric(d.InitialAmount)))
	}
	return n > 0, nil
}

func (r *DepositRepository) GetDeposit(ctx context.Context, id common.Hash) (*model.Deposit, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE deposit_id = $1
	`, id.Hex())

	d, err := scanDeposit(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return d, nil
}

func (r *DepositRepository) ListDepositsByDepositor(ctx context.Context, depositor common.Address, limit int) ([]model.Deposit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE depositor = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, depositor.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer rows.Close()

	var deposits []model.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposits: %w", err)
	}
	return deposits, nil
}

func (r *DepositRepository) UpdateDepositBalance(ctx context.Context, id common.Hash, remaining *big.Int, released bool, lastUsedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deposits
		SET remaining_amount = $2, released = $3, last_used_at = $4
		WHERE deposit_id = $1
	`, id.Hex(), numeric(remaining), released, lastUsedAt)
	if err != nil {
		return fmt.Errorf("failed to update deposit balance: %w", err)
	}

	r.logger.Info("Updated deposit balance",
		zap.String("deposit_id", id.Hex()),
		zap.String("remaining_amount", numeric(remaining)),
		zap.Bool("released", released))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (*model.Deposit, error) {
	var (
		id, depositor, token string
		initial, remaining   string
		lastUsed             sql.NullTime
		d                    model.Deposit
	)
	if err := row.Scan(&id, &depositor, &token, &initial, &remaining, &d.IsNative, &d.Released, &d.CreatedAt, &lastUsed); err != nil {
		return nil, err
	}

	var err error
	if d.InitialAmount, err = parseNumeric(initial); err != nil {
		return nil, err
	}
	if d.RemainingAmount, err = parseNumeric(remaining); err != nil {
		return nil, err
	}
	d.DepositID = common.HexToHash(id)
	d.Depositor = common.HexToAddress(depositor)
	d.Token = common.HexToAddress(token)
	if lastUsed.Valid {
		d.LastUsedAt = &lastUsed.Time
	}
	return &d, nil
}
