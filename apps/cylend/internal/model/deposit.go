package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ZeroHash marks an id that could not be resolved yet
	ZeroHash = common.Hash{}

	// NativeToken is the token address used for the chain's native asset
	NativeToken = common.Address{}
)

// Deposit is a bucket of custody funds referenced by actions
type Deposit struct {
	DepositID       common.Hash    `db:"deposit_id"`
	Depositor       common.Address `db:"depositor"`
	Token           common.Address `db:"token"`
	InitialAmount   *big.Int       `db:"initial_amount"`
	RemainingAmount *big.Int       `db:"remaining_amount"`
	IsNative        bool           `db:"is_native"`
	Released        bool           `db:"released"`
	CreatedAt       time.Time      `db:"created_at"`
	LastUsedAt      *time.Time     `db:"last_used_at"` // nullable field
}

// NewDeposit builds a fresh deposit whose remaining amount equals the initial amount
func NewDeposit(id common.Hash, depositor, token common.Address, amount *big.Int, isNative bool, createdAt time.Time) Deposit {
	initial := clampNonNegative(amount)
	return Deposit{
		DepositID:       id,
		Depositor:       depositor,
		Token:           token,
		InitialAmount:   initial,
		RemainingAmount: new(big.Int).Set(initial),
		IsNative:        isNative,
		Released:        initial.Sign() == 0,
		CreatedAt:       createdAt,
	}
}

// Consume subtracts amount from the remaining balance, clamped at zero.
// It returns the new remaining amount and released flag without mutating d.
func (d Deposit) Consume(amount *big.Int) (*big.Int, bool) {
	remaining := new(big.Int)
	if d.RemainingAmount != nil {
		remaining.Set(d.RemainingAmount)
	}
	if amount != nil && amount.Sign() > 0 {
		remaining.Sub(remaining, amount)
	}
	return d.normalize(remaining, false)
}

// ApplyAuthoritative reconciles an on-chain (remaining, released) pair with the stored row.
// A released deposit always has nothing remaining.
func (d Deposit) ApplyAuthoritative(remaining *big.Int, released bool) (*big.Int, bool) {
	r := new(big.Int)
	if remaining != nil {
		r.Set(remaining)
	}
	return d.normalize(r, released)
}

func (d Deposit) normalize(remaining *big.Int, forceReleased bool) (*big.Int, bool) {
	if remaining.Sign() < 0 || forceReleased {
		remaining.SetInt64(0)
	}
	if d.InitialAmount != nil && remaining.Cmp(d.InitialAmount) > 0 {
		remaining.Set(d.InitialAmount)
	}
	return remaining, remaining.Sign() == 0
}

func clampNonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
