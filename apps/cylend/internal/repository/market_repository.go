package repository

import (
	"context"
	"database/sql"
	"fmt"

	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// MarketRepository stores the compute-chain snapshots: positions, liquidity and prices.
// All three are always overwritten with the latest authoritative values.
type MarketRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewMarketRepository(db *sql.DB, logger *zap.Logger) *MarketRepository {
	return &MarketRepository{db: db, logger: logger}
}

func (r *MarketRepository) UpsertPosition(ctx context.Context, p model.Position) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO positions (user_address, token, position_hash, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_address, token) DO UPDATE SET
			position_hash = EXCLUDED.position_hash,
			updated_at = EXCLUDED.updated_at
	`, p.User.Hex(), p.Token.Hex(), p.PositionHash.Hex(), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	r.logger.Info("Upserted position",
		zap.String("user", p.User.Hex()),
		zap.String("token", p.Token.Hex()))
	return nil
}

func (r *MarketRepository) GetPosition(ctx context.Context, user, token common.Address) (*model.Position, error) {
	var hash string
	p := model.Position{User: user, Token: token}
	err := r.db.QueryRowContext(ctx, `
		SELECT position_hash, updated_at
		FROM positions
		WHERE user_address = $1 AND token = $2
	`, user.Hex(), token.Hex()).Scan(&hash, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	p.PositionHash = common.HexToHash(hash)
	return &p, nil
}

func (r *MarketRepository) UpsertLiquidity(ctx context.Context, l model.Liquidity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO liquidity (token, total_deposited, total_reserved, total_borrowed, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET
			total_deposited = EXCLUDED.total_deposited,
			total_reserved = EXCLUDED.total_reserved,
			total_borrowed = EXCLUDED.total_borrowed,
			updated_at = EXCLUDED.updated_at
	`, l.Token.Hex(), numeric(l.TotalDeposited), numeric(l.TotalReserved), numeric(l.TotalBorrowed), l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert liquidity: %w", err)
	}

	r.logger.Info("Upserted liquidity",
		zap.String("token", l.Token.Hex()),
		zap.String("total_deposited", numeric(l.TotalDeposited)),
		zap.String("total_borrowed", numeric(l.TotalBorrowed)))
	return nil
}

func (r *MarketRepository) GetLiquidity(ctx context.Context, token common.Address) (*model.Liquidity, error) {
	var deposited, reserved, borrowed string
	l := model.Liquidity{Token: token}
	err := r.db.QueryRowContext(ctx, `
		SELECT total_deposited, total_reserved, total_borrowed, updated_at
		FROM liquidity
		WHERE token = $1
	`, token.Hex()).Scan(&deposited, &reserved, &borrowed, &l.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get liquidity: %w", err)
	}

	if l.TotalDeposited, err = parseNumeric(deposited); err != nil {
		return nil, err
	}
	if l.TotalReserved, err = parseNumeric(reserved); err != nil {
		return nil, err
	}
	if l.TotalBorrowed, err = parseNumeric(borrowed); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *MarketRepository) UpsertPrice(ctx context.Context, p model.Price) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prices (token, price, price_timestamp, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET
			price = EXCLUDED.price,
			price_timestamp = EXCLUDED.price_timestamp,
			updated_at = EXCLUDED.updated_at
	`, p.Token.Hex(), numeric(p.Price), p.Timestamp, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}

	r.logger.Info("Upserted price",
		zap.String("token", p.Token.Hex()),
		zap.String("price", numeric(p.Price)))
	return nil
}

func (r *MarketRepository) GetPrice(ctx context.Context, token common.Address) (*model.Price, error) {
	var price string
	p := model.Price{Token: token}
	err := r.db.QueryRowContext(ctx, `
		SELECT price, price_timestamp, updated_at
		FROM prices
		WHERE token = $1
	`, token.Hex()).Scan(&price, &p.Timestamp, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get price: %w", err)
	}

	if p.Price, err = parseNumeric(price); err != nil {
		return nil, err
	}
	return &p, nil
}
