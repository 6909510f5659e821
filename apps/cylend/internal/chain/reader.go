// Package chain is the narrow boundary to the two blockchains: authoritative reads
// used by ingestion to fill gaps, and the completion write used by settlement.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

// ReadError is returned by every Reader method. Callers branch on it to pick their
// documented fallback instead of aborting.
type ReadError struct {
	Op  string
	Key string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chain read %s(%s): %v", e.Op, e.Key, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func readErr(op, key string, err error) *ReadError {
	return &ReadError{Op: op, Key: key, Err: err}
}

// DepositRecord mirrors the ingress contract's deposits(id) getter. Amount is what is
// left in the deposit.
type DepositRecord struct {
	Depositor common.Address
	Token     common.Address
	Amount    *big.Int
	IsNative  bool
	Released  bool
}

// ProcessedPayload is the decoded instruction the core contract kept for an action
type ProcessedPayload struct {
	ActionType model.ActionType
	Token      common.Address
	Amount     *big.Int
	OnBehalf   common.Address
	DepositID  common.Hash
	IsNative   bool
	Memo       string
}

type PriceTuple struct {
	Price     *big.Int
	Timestamp *big.Int
	Valid     bool
}

type LiquidityTuple struct {
	TotalDeposited *big.Int
	TotalReserved  *big.Int
	TotalBorrowed  *big.Int
}

// Reader performs side-effect free reads of on-chain state. All errors are *ReadError.
type Reader interface {
	ReadLiquidity(ctx context.Context, token common.Address) (LiquidityTuple, error)
	ReadActionIDByCiphertextHash(ctx context.Context, hash common.Hash) (common.Hash, error)
	ReadDepositIDForAction(ctx context.Context, actionID common.Hash) (common.Hash, error)
	ReadDeposit(ctx context.Context, depositID common.Hash) (DepositRecord, error)
	ReadProcessedPayload(ctx context.Context, actionID common.Hash) (ProcessedPayload, error)
	ReadPrice(ctx context.Context, token common.Address) (PriceTuple, error)
	ReadActionProcessed(ctx context.Context, actionID common.Hash) (bool, error)
}

type InclusionStatus string

const (
	InclusionSuccess  InclusionStatus = "success"
	InclusionReverted InclusionStatus = "reverted"
)

type Inclusion struct {
	Status      InclusionStatus
	Reason      string
	BlockNumber uint64
}

// Writer submits completion transactions to the compute chain
type Writer interface {
	ReadActionProcessed(ctx context.Context, actionID common.Hash) (bool, error)
	SubmitCompletion(ctx context.Context, actionID common.Hash) (common.Hash, error)
	AwaitInclusion(ctx context.Context, txHash common.Hash) (Inclusion, error)
}
