// Package store defines the entity store the ingestion engine writes to and the
// query layer reads from.
//
// Getters return (nil, nil) when the entity does not exist. Every single-entity write
// is atomic; nothing spans entities.
package store

import (
	"context"
	"math/big"
	"time"

	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

type Store interface {
	// InsertDeposit inserts d unless a deposit with the same id exists.
	// It reports whether the row was inserted.
	InsertDeposit(ctx context.Context, d model.Deposit) (bool, error)
	GetDeposit(ctx context.Context, id common.Hash) (*model.Deposit, error)
	ListDepositsByDepositor(ctx context.Context, depositor common.Address, limit int) ([]model.Deposit, error)
	UpdateDepositBalance(ctx context.Context, id common.Hash, remaining *big.Int, released bool, lastUsedAt time.Time) error

	// InsertAction is first-writer-wins: an existing row is left untouched.
	InsertAction(ctx context.Context, a model.Action) (bool, error)
	GetAction(ctx context.Context, id common.Hash) (*model.Action, error)
	FindActionByEncryptedDataHash(ctx context.Context, hash common.Hash) (*model.Action, error)
	// UpdateAction merges u into the stored action. Returns false if the action is unknown.
	UpdateAction(ctx context.Context, id common.Hash, u model.ActionUpdate) (bool, error)
	ListActionsByStatus(ctx context.Context, status model.ActionStatus, limit int) ([]model.Action, error)

	// ConsumeDepositForAction takes amount off the deposit and raises the action's
	// DepositConsumed marker as one atomic step. It reports false, changing nothing,
	// when the marker is already set or either row is missing.
	ConsumeDepositForAction(ctx context.Context, actionID, depositID common.Hash, amount *big.Int, at time.Time) (bool, error)

	UpsertPosition(ctx context.Context, p model.Position) error
	GetPosition(ctx context.Context, user, token common.Address) (*model.Position, error)

	UpsertLiquidity(ctx context.Context, l model.Liquidity) error
	GetLiquidity(ctx context.Context, token common.Address) (*model.Liquidity, error)

	UpsertPrice(ctx context.Context, p model.Price) error
	GetPrice(ctx context.Context, token common.Address) (*model.Price, error)
}
