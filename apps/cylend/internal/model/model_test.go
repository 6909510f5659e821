package model

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositConsume(t *testing.T) {
	d := NewDeposit(common.HexToHash("0x01"), common.HexToAddress("0xaa"), NativeToken, big.NewInt(1000), true, time.Unix(100, 0))

	remaining, released := d.Consume(big.NewInt(400))
	assert.Equal(t, "600", remaining.String())
	assert.False(t, released)
	assert.Equal(t, "1000", d.RemainingAmount.String(), "consume must not mutate the receiver")

	d.RemainingAmount = remaining
	remaining, released = d.Consume(big.NewInt(600))
	assert.Equal(t, "0", remaining.String())
	assert.True(t, released)

	remaining, released = d.Consume(big.NewInt(5000))
	assert.Equal(t, "0", remaining.String())
	assert.True(t, released)
}

func TestDepositApplyAuthoritative(t *testing.T) {
	d := NewDeposit(common.HexToHash("0x01"), common.HexToAddress("0xaa"), common.HexToAddress("0xbb"), big.NewInt(1000), false, time.Unix(100, 0))

	tests := []struct {
		name         string
		remaining    *big.Int
		released     bool
		wantAmount   string
		wantReleased bool
	}{
		{"partial", big.NewInt(250), false, "250", false},
		{"released flag wins", big.NewInt(250), true, "0", true},
		{"above initial is clamped", big.NewInt(5000), false, "1000", false},
		{"negative is clamped", big.NewInt(-1), false, "0", true},
		{"nil", nil, false, "0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, released := d.ApplyAuthoritative(tt.remaining, tt.released)
			assert.Equal(t, tt.wantAmount, amount.String())
			assert.Equal(t, tt.wantReleased, released)
		})
	}
}

func TestActionStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusProcessed))
	assert.True(t, StatusPending.CanTransition(StatusFailed))
	assert.True(t, StatusProcessed.CanTransition(StatusProcessed))
	assert.False(t, StatusProcessed.CanTransition(StatusPending))
	assert.False(t, StatusFailed.CanTransition(StatusPending))
	assert.False(t, StatusFailed.CanTransition(StatusProcessed))
}

func TestActionApply(t *testing.T) {
	deposit := common.HexToHash("0xd1")
	user := common.HexToAddress("0x0a")
	processedAt := time.Unix(200, 0)
	a := Action{ActionID: common.HexToHash("0x1"), DepositID: deposit, User: user, Status: StatusProcessed, ProcessedAt: &processedAt}

	pending := StatusPending
	zero := ZeroHash
	noUser := common.Address{}
	later := time.Unix(300, 0)
	got := a.Apply(ActionUpdate{Status: &pending, ProcessedAt: &later, DepositID: &zero, User: &noUser})

	assert.Equal(t, StatusProcessed, got.Status)
	assert.Equal(t, processedAt, *got.ProcessedAt)
	assert.Equal(t, deposit, got.DepositID)
	assert.Equal(t, user, got.User)
}

func TestActionApplyFillsOnlyUnresolvedFields(t *testing.T) {
	deposit := common.HexToHash("0xd1")
	onBehalf := common.HexToAddress("0x0a")
	sender := common.HexToAddress("0x0b")
	other := common.HexToHash("0xd2")

	resolved := Action{ActionID: common.HexToHash("0x1"), DepositID: deposit, User: onBehalf}
	got := resolved.Apply(ActionUpdate{FillDepositID: &other, FillUser: &sender})
	assert.Equal(t, deposit, got.DepositID)
	assert.Equal(t, onBehalf, got.User)

	stub := Action{ActionID: common.HexToHash("0x2"), DepositID: ZeroHash}
	got = stub.Apply(ActionUpdate{FillDepositID: &other, FillUser: &sender})
	assert.Equal(t, other, got.DepositID)
	assert.Equal(t, sender, got.User)
}

func TestActionApplyKeepsFirstProcessedAt(t *testing.T) {
	first := time.Unix(200, 0)
	later := time.Unix(300, 0)
	processed := StatusProcessed

	a := Action{ActionID: common.HexToHash("0x1"), Status: StatusPending}
	a = a.Apply(ActionUpdate{Status: &processed, ProcessedAt: &first})
	require.NotNil(t, a.ProcessedAt)
	assert.Equal(t, first, *a.ProcessedAt)

	a = a.Apply(ActionUpdate{Status: &processed, ProcessedAt: &later})
	assert.Equal(t, StatusProcessed, a.Status)
	assert.Equal(t, first, *a.ProcessedAt)

	// a processed record without a timestamp still takes one
	bare := Action{ActionID: common.HexToHash("0x2"), Status: StatusProcessed}
	bare = bare.Apply(ActionUpdate{Status: &processed, ProcessedAt: &later})
	require.NotNil(t, bare.ProcessedAt)
	assert.Equal(t, later, *bare.ProcessedAt)
}

func TestParseActionType(t *testing.T) {
	typ, err := ParseActionType("borrow")
	assert.NoError(t, err)
	assert.Equal(t, ActionBorrow, typ)

	typ, err = ParseActionType("4")
	assert.NoError(t, err)
	assert.Equal(t, ActionLiquidate, typ)

	_, err = ParseActionType("stake")
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN(9)", ActionType(9).String())
}
