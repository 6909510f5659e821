// Package test holds end-to-end checks against a running indexer. They are skipped
// unless CYLEND_API_URL points at one.
package test

import (
	"os"
	"strings"
	"testing"
	"time"
)

const (
	// Zero ids never belong to a real deposit or action
	UnknownID = "0x0000000000000000000000000000000000000000000000000000000000000000"

	// Native-asset sentinel used for price and liquidity lookups
	NativeToken = "0x0000000000000000000000000000000000000000"
)

// BaseURL returns the indexer API under test or skips the test
func BaseURL(t *testing.T) string {
	t.Helper()
	url := strings.TrimRight(os.Getenv("CYLEND_API_URL"), "/")
	if url == "" {
		t.Skip("CYLEND_API_URL not set")
	}
	return url
}

// ActionResponse mirrors the action record served by /api/actions
type ActionResponse struct {
	ActionID    string     `json:"actionId"`
	DepositID   string     `json:"depositId"`
	User        string     `json:"user"`
	ActionType  string     `json:"actionType"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt"`
}

type ActionListResponse struct {
	Actions []ActionResponse `json:"actions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
