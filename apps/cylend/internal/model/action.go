package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type ActionType uint8

const (
	ActionSupply ActionType = iota
	ActionBorrow
	ActionRepay
	ActionWithdraw
	ActionLiquidate
)

func (t ActionType) String() string {
	switch t {
	case ActionSupply:
		return "SUPPLY"
	case ActionBorrow:
		return "BORROW"
	case ActionRepay:
		return "REPAY"
	case ActionWithdraw:
		return "WITHDRAW"
	case ActionLiquidate:
		return "LIQUIDATE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// ParseActionType accepts either the enum name or its numeric value
func ParseActionType(s string) (ActionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUPPLY", "0":
		return ActionSupply, nil
	case "BORROW", "1":
		return ActionBorrow, nil
	case "REPAY", "2":
		return ActionRepay, nil
	case "WITHDRAW", "3":
		return ActionWithdraw, nil
	case "LIQUIDATE", "4":
		return ActionLiquidate, nil
	}
	return 0, fmt.Errorf("unknown action type %q", s)
}

type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusProcessed ActionStatus = "processed"
	StatusFailed    ActionStatus = "failed"
)

// CanTransition reports whether a status change is allowed. Status only moves forward
// out of pending; terminal states stay put.
func (s ActionStatus) CanTransition(to ActionStatus) bool {
	if s == to {
		return true
	}
	return s == StatusPending && (to == StatusProcessed || to == StatusFailed)
}

// Action is the lifecycle record of one encrypted instruction
type Action struct {
	ActionID          common.Hash    `db:"action_id"`
	DepositID         common.Hash    `db:"deposit_id"` // ZeroHash until resolved
	User              common.Address `db:"user_address"`
	ActionType        ActionType     `db:"action_type"`
	Status            ActionStatus   `db:"status"`
	EncryptedDataHash *common.Hash   `db:"encrypted_data_hash"`
	CreatedAt         time.Time      `db:"created_at"`
	ProcessedAt       *time.Time     `db:"processed_at"`
	OriginDomain      *uint32        `db:"origin_domain"`
	OriginRouter      *common.Hash   `db:"origin_router"`

	// DepositConsumed is set once the processed amount was taken off the deposit
	DepositConsumed bool `db:"deposit_consumed"`
}

// ActionUpdate carries the fields an event wants to enrich. Nil fields are left alone.
type ActionUpdate struct {
	ActionType   *ActionType
	Status       *ActionStatus
	ProcessedAt  *time.Time
	DepositID    *common.Hash
	User         *common.Address
	OriginDomain *uint32
	OriginRouter *common.Hash

	// EncryptedDataHash is only taken when none is stored yet
	EncryptedDataHash *common.Hash

	// FillDepositID and FillUser only resolve a stored zero sentinel; they never
	// replace a value another event already set
	FillDepositID *common.Hash
	FillUser      *common.Address

	// DepositConsumed can only be raised
	DepositConsumed bool
}

// Apply merges u into a copy of a. Status changes that would move backward are dropped,
// and zero sentinels never replace a resolved deposit id or user.
func (a Action) Apply(u ActionUpdate) Action {
	if u.ActionType != nil {
		a.ActionType = *u.ActionType
	}
	if u.Status != nil && a.Status.CanTransition(*u.Status) {
		// a repeated terminal status keeps its first timestamp
		if u.ProcessedAt != nil && (a.Status != *u.Status || a.ProcessedAt == nil) {
			a.ProcessedAt = u.ProcessedAt
		}
		a.Status = *u.Status
	}
	if u.DepositID != nil && *u.DepositID != ZeroHash {
		a.DepositID = *u.DepositID
	}
	if u.User != nil && *u.User != (common.Address{}) {
		a.User = *u.User
	}
	if u.FillDepositID != nil && a.DepositID == ZeroHash {
		a.DepositID = *u.FillDepositID
	}
	if u.FillUser != nil && a.User == (common.Address{}) {
		a.User = *u.FillUser
	}
	if u.OriginDomain != nil {
		a.OriginDomain = u.OriginDomain
	}
	if u.OriginRouter != nil {
		a.OriginRouter = u.OriginRouter
	}
	if u.DepositConsumed {
		a.DepositConsumed = true
	}
	if u.EncryptedDataHash != nil && a.EncryptedDataHash == nil {
		a.EncryptedDataHash = u.EncryptedDataHash
	}
	return a
}
