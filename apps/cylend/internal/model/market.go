package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position only keeps the on-chain commitment, never balances
type Position struct {
	User         common.Address `db:"user_address"`
	Token        common.Address `db:"token"`
	PositionHash common.Hash    `db:"position_hash"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

type Liquidity struct {
	Token          common.Address `db:"token"`
	TotalDeposited *big.Int       `db:"total_deposited"`
	TotalReserved  *big.Int       `db:"total_reserved"`
	TotalBorrowed  *big.Int       `db:"total_borrowed"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

type Price struct {
	Token     common.Address `db:"token"`
	Price     *big.Int       `db:"price"`
	Timestamp time.Time      `db:"price_timestamp"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Acceptable reports whether the price may overwrite the stored one
func (p Price) Acceptable() bool {
	return p.Price != nil && p.Price.Sign() > 0
}
