package api

import (
	"math/big"
	"time"

	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

// ActionResponse is the action record served to the settlement processor and other readers
type ActionResponse struct {
	ActionID          string     `json:"actionId"`
	DepositID         string     `json:"depositId"`
	User              string     `json:"user"`
	ActionType        string     `json:"actionType"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	ProcessedAt       *time.Time `json:"processedAt"`
	EncryptedDataHash *string    `json:"encryptedDataHash,omitempty"`
	OriginDomain      *uint32    `json:"originDomain,omitempty"`
	OriginRouter      *string    `json:"originRouter,omitempty"`
}

type ActionListResponse struct {
	Actions []ActionResponse `json:"actions"`
}

type DepositResponse struct {
	DepositID       string     `json:"depositId"`
	Depositor       string     `json:"depositor"`
	Token           string     `json:"token"`
	InitialAmount   string     `json:"initialAmount"`
	RemainingAmount string     `json:"remainingAmount"`
	IsNative        bool       `json:"isNative"`
	Released        bool       `json:"released"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastUsedAt      *time.Time `json:"lastUsedAt"`
}

type DepositListResponse struct {
	Deposits []DepositResponse `json:"deposits"`
}

type PositionResponse struct {
	User         string    `json:"user"`
	Token        string    `json:"token"`
	PositionHash string    `json:"positionHash"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type LiquidityResponse struct {
	Token          string    `json:"token"`
	TotalDeposited string    `json:"totalDeposited"`
	TotalReserved  string    `json:"totalReserved"`
	TotalBorrowed  string    `json:"totalBorrowed"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type PriceResponse struct {
	Token     string    `json:"token"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newActionResponse(a model.Action) ActionResponse {
	return ActionResponse{
		ActionID:          a.ActionID.Hex(),
		DepositID:         a.DepositID.Hex(),
		User:              a.User.Hex(),
		ActionType:        a.ActionType.String(),
		Status:            string(a.Status),
		CreatedAt:         a.CreatedAt,
		ProcessedAt:       a.ProcessedAt,
		EncryptedDataHash: hexOrNil(a.EncryptedDataHash),
		OriginDomain:      a.OriginDomain,
		OriginRouter:      hexOrNil(a.OriginRouter),
	}
}

func newDepositResponse(d model.Deposit) DepositResponse {
	return DepositResponse{
		DepositID:       d.DepositID.Hex(),
		Depositor:       d.Depositor.Hex(),
		Token:           d.Token.Hex(),
		InitialAmount:   decimal(d.InitialAmount),
		RemainingAmount: decimal(d.RemainingAmount),
		IsNative:        d.IsNative,
		Released:        d.Released,
		CreatedAt:       d.CreatedAt,
		LastUsedAt:      d.LastUsedAt,
	}
}

func hexOrNil(h *common.Hash) *string {
	if h == nil {
		return nil
	}
	s := h.Hex()
	return &s
}

// amounts are served as base-10 strings so no precision is lost in JSON
func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
