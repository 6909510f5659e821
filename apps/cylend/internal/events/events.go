package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Chain string

const (
	ChainCustody Chain = "custody"
	ChainCompute Chain = "compute"
)

type Kind string

const (
	KindDepositCreated           Kind = "DepositCreated"
	KindEncryptedActionReceived  Kind = "EncryptedActionReceived"
	KindEncryptedActionProcessed Kind = "EncryptedActionProcessed"
	KindLiquidityUpdated         Kind = "LiquidityUpdated"
	KindWithdrawUnused           Kind = "WithdrawUnused"
	KindEncryptedActionStored    Kind = "EncryptedActionStored"
	KindActionProcessed          Kind = "ActionProcessed"
	KindPositionUpdated          Kind = "PositionUpdated"
	KindPriceUpdated             Kind = "PriceUpdated"
)

// ChainEvent is the envelope published on Kafka for every decoded contract log
type ChainEvent struct {
	Chain       Chain           `json:"chain"`
	Kind        Kind            `json:"kind"`
	TxHash      common.Hash     `json:"tx_hash"`
	TxFrom      *common.Address `json:"tx_from,omitempty"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint            `json:"log_index"`
	BlockTime   time.Time       `json:"block_time"`
	Data        json.RawMessage `json:"data"`
}

// NewChainEvent wraps a typed payload into an envelope
func NewChainEvent(chain Chain, kind Kind, txHash common.Hash, blockNumber uint64, logIndex uint, blockTime time.Time, payload any) (ChainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ChainEvent{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return ChainEvent{
		Chain:       chain,
		Kind:        kind,
		TxHash:      txHash,
		BlockNumber: blockNumber,
		LogIndex:    logIndex,
		BlockTime:   blockTime,
		Data:        data,
	}, nil
}

// ErrMalformed marks an event that can never be handled, however often it is replayed
var ErrMalformed = errors.New("malformed chain event")

// Decode unmarshals the payload into out
func (e ChainEvent) Decode(out any) error {
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%w: failed to decode %s/%s payload: %w", ErrMalformed, e.Chain, e.Kind, err)
	}
	return nil
}

// Custody chain payloads

type DepositCreated struct {
	DepositID common.Hash    `json:"deposit_id"`
	Depositor common.Address `json:"depositor"`
	Token     common.Address `json:"token"`
	Amount    *big.Int       `json:"amount"`
	IsNative  bool           `json:"is_native"`
}

type EncryptedActionReceived struct {
	EncryptedDataHash common.Hash `json:"encrypted_data_hash"`
}

type EncryptedActionProcessed struct {
	EncryptedDataHash common.Hash `json:"encrypted_data_hash"`
}

type LiquidityUpdated struct {
	Token          common.Address `json:"token"`
	TotalDeposited *big.Int       `json:"total_deposited"`
	TotalReserved  *big.Int       `json:"total_reserved"`
	TotalBorrowed  *big.Int       `json:"total_borrowed"`
}

type WithdrawUnused struct {
	DepositID common.Hash    `json:"deposit_id"`
	Depositor common.Address `json:"depositor"`
	Token     common.Address `json:"token"`
	Amount    *big.Int       `json:"amount"`
}

// Compute chain payloads

type EncryptedActionStored struct {
	ActionID     common.Hash `json:"action_id"`
	OriginDomain uint32      `json:"origin_domain"`
	OriginRouter common.Hash `json:"origin_router"`
}

type ActionProcessed struct {
	ActionID   common.Hash `json:"action_id"`
	ActionType uint8       `json:"action_type"`
}

type PositionUpdated struct {
	User         common.Address `json:"user"`
	Token        common.Address `json:"token"`
	PositionHash common.Hash    `json:"position_hash"`
}

type PriceUpdated struct {
	Token     common.Address `json:"token"`
	Price     *big.Int       `json:"price"`
	Timestamp *big.Int       `json:"timestamp"`
}
