package ingestion

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"cylend/apps/cylend/internal/chain"
	"cylend/apps/cylend/internal/events"
	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/model"
	"cylend/apps/cylend/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errRPC = errors.New("rpc unavailable")

// fakeReader answers from maps; a missing key is a failed read
type fakeReader struct {
	liquidity map[common.Address]chain.LiquidityTuple
	actionIDs map[common.Hash]common.Hash
	depositOf map[common.Hash]common.Hash
	deposits  map[common.Hash]chain.DepositRecord
	payloads  map[common.Hash]chain.ProcessedPayload
	prices    map[common.Address]chain.PriceTuple
	processed map[common.Hash]bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		liquidity: map[common.Address]chain.LiquidityTuple{},
		actionIDs: map[common.Hash]common.Hash{},
		depositOf: map[common.Hash]common.Hash{},
		deposits:  map[common.Hash]chain.DepositRecord{},
		payloads:  map[common.Hash]chain.ProcessedPayload{},
		prices:    map[common.Address]chain.PriceTuple{},
		processed: map[common.Hash]bool{},
	}
}

func miss(op string, key string) error {
	return &chain.ReadError{Op: op, Key: key, Err: errRPC}
}

func (f *fakeReader) ReadLiquidity(_ context.Context, token common.Address) (chain.LiquidityTuple, error) {
	if v, ok := f.liquidity[token]; ok {
		return v, nil
	}
	return chain.LiquidityTuple{}, miss("getLiquidityInfo", token.Hex())
}

func (f *fakeReader) ReadActionIDByCiphertextHash(_ context.Context, hash common.Hash) (common.Hash, error) {
	if v, ok := f.actionIDs[hash]; ok {
		return v, nil
	}
	return common.Hash{}, miss("getActionIdByCiphertextHash", hash.Hex())
}

func (f *fakeReader) ReadDepositIDForAction(_ context.Context, id common.Hash) (common.Hash, error) {
	if v, ok := f.depositOf[id]; ok {
		return v, nil
	}
	return common.Hash{}, miss("actionToDepositId", id.Hex())
}

func (f *fakeReader) ReadDeposit(_ context.Context, id common.Hash) (chain.DepositRecord, error) {
	if v, ok := f.deposits[id]; ok {
		return v, nil
	}
	return chain.DepositRecord{}, miss("deposits", id.Hex())
}

func (f *fakeReader) ReadProcessedPayload(_ context.Context, id common.Hash) (chain.ProcessedPayload, error) {
	if v, ok := f.payloads[id]; ok {
		return v, nil
	}
	return chain.ProcessedPayload{}, miss("processedPayloads", id.Hex())
}

func (f *fakeReader) ReadPrice(_ context.Context, token common.Address) (chain.PriceTuple, error) {
	if v, ok := f.prices[token]; ok {
		return v, nil
	}
	return chain.PriceTuple{}, miss("prices", token.Hex())
}

func (f *fakeReader) ReadActionProcessed(_ context.Context, id common.Hash) (bool, error) {
	return f.processed[id], nil
}

type harness struct {
	t       *testing.T
	store   *store.Memory
	reader  *fakeReader
	metrics *metrics.Metrics
	engine  *Engine
	block   uint64
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, store: store.NewMemory(), reader: newFakeReader(), metrics: metrics.NewNop()}
	h.engine = NewEngine(h.store, h.reader, zap.NewNop(), h.metrics)
	return h
}

func (h *harness) emit(c events.Chain, kind events.Kind, txHash common.Hash, payload any) {
	h.t.Helper()
	h.block++
	ev, err := events.NewChainEvent(c, kind, txHash, h.block, 0, time.Unix(int64(1700000000+h.block), 0).UTC(), payload)
	require.NoError(h.t, err)
	require.NoError(h.t, h.engine.Handle(context.Background(), ev))
}

func (h *harness) deposit(id common.Hash) *model.Deposit {
	h.t.Helper()
	d, err := h.store.GetDeposit(context.Background(), id)
	require.NoError(h.t, err)
	return d
}

func (h *harness) action(id common.Hash) *model.Action {
	h.t.Helper()
	a, err := h.store.GetAction(context.Background(), id)
	require.NoError(h.t, err)
	return a
}

var (
	depositID = common.HexToHash("0xd1")
	actionID  = common.HexToHash("0xa1")
	depositor = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token     = common.HexToAddress("0x00000000000000000000000000000000000000e7")
)

func (h *harness) createDeposit(amount int64) {
	h.emit(events.ChainCustody, events.KindDepositCreated, common.HexToHash("0xf1"), events.DepositCreated{
		DepositID: depositID,
		Depositor: depositor,
		Token:     token,
		Amount:    big.NewInt(amount),
	})
}

func (h *harness) processAction(id common.Hash, txHash common.Hash, amount int64) {
	h.reader.payloads[id] = chain.ProcessedPayload{
		ActionType: model.ActionBorrow,
		Token:      token,
		Amount:     big.NewInt(amount),
		OnBehalf:   depositor,
		DepositID:  depositID,
	}
	h.emit(events.ChainCompute, events.KindActionProcessed, txHash, events.ActionProcessed{
		ActionID:   id,
		ActionType: uint8(model.ActionBorrow),
	})
}

func TestDepositCreatedThenConsumed(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)

	d := h.deposit(depositID)
	require.NotNil(t, d)
	assert.Equal(t, "1000", d.InitialAmount.String())
	assert.Equal(t, "1000", d.RemainingAmount.String())
	assert.False(t, d.Released)

	h.processAction(actionID, common.HexToHash("0xf2"), 400)

	d = h.deposit(depositID)
	assert.Equal(t, "600", d.RemainingAmount.String())
	assert.False(t, d.Released)
	require.NotNil(t, d.LastUsedAt)

	a := h.action(actionID)
	require.NotNil(t, a)
	assert.Equal(t, model.StatusProcessed, a.Status)
	assert.Equal(t, depositID, a.DepositID)
	assert.Equal(t, depositor, a.User)
	assert.Equal(t, model.ActionBorrow, a.ActionType)
	assert.True(t, a.DepositConsumed)
}

func TestConsumingRemainderReleasesDeposit(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)
	h.processAction(common.HexToHash("0xa0"), common.HexToHash("0xf2"), 400)

	h.processAction(actionID, common.HexToHash("0xf3"), 600)

	d := h.deposit(depositID)
	assert.Equal(t, "0", d.RemainingAmount.String())
	assert.True(t, d.Released)
}

func TestOverConsumeClampsAtZero(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(100)
	h.processAction(actionID, common.HexToHash("0xf2"), 250)

	d := h.deposit(depositID)
	assert.Equal(t, "0", d.RemainingAmount.String())
	assert.True(t, d.Released)
}

func TestReplayedEventsAreIdempotent(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)
	h.createDeposit(1000)

	h.processAction(actionID, common.HexToHash("0xf2"), 400)
	h.processAction(actionID, common.HexToHash("0xf2"), 400)

	d := h.deposit(depositID)
	assert.Equal(t, "1000", d.InitialAmount.String())
	assert.Equal(t, "600", d.RemainingAmount.String())
}

func TestActionReceivedWithFailedLookupUsesTxHash(t *testing.T) {
	h := newHarness(t)
	txHash := common.HexToHash("0xbeef")
	sender := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	h.block++
	ev, err := events.NewChainEvent(events.ChainCustody, events.KindEncryptedActionReceived, txHash, h.block, 1, time.Unix(1700000000, 0), events.EncryptedActionReceived{
		EncryptedDataHash: common.HexToHash("0xc1"),
	})
	require.NoError(t, err)
	ev.TxFrom = &sender
	require.NoError(t, h.engine.Handle(context.Background(), ev))

	a := h.action(txHash)
	require.NotNil(t, a)
	assert.Equal(t, model.StatusPending, a.Status)
	assert.Equal(t, model.ZeroHash, a.DepositID)
	assert.Equal(t, sender, a.User)
	require.NotNil(t, a.EncryptedDataHash)
	assert.Equal(t, common.HexToHash("0xc1"), *a.EncryptedDataHash)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ReadFallbacks.WithLabelValues("getActionIdByCiphertextHash")))
}

func TestActionReceivedResolvesIDs(t *testing.T) {
	h := newHarness(t)
	hash := common.HexToHash("0xc1")
	h.reader.actionIDs[hash] = actionID
	h.reader.depositOf[actionID] = depositID

	h.emit(events.ChainCustody, events.KindEncryptedActionReceived, common.HexToHash("0xf9"), events.EncryptedActionReceived{EncryptedDataHash: hash})

	a := h.action(actionID)
	require.NotNil(t, a)
	assert.Equal(t, depositID, a.DepositID)
	assert.Nil(t, h.action(common.HexToHash("0xf9")))
}

func TestComputeChainFirstThenCustody(t *testing.T) {
	h := newHarness(t)
	hash := common.HexToHash("0xc1")
	router := common.HexToHash("0x77")

	h.emit(events.ChainCompute, events.KindEncryptedActionStored, common.HexToHash("0xe1"), events.EncryptedActionStored{
		ActionID:     actionID,
		OriginDomain: 5003,
		OriginRouter: router,
	})

	a := h.action(actionID)
	require.NotNil(t, a)
	assert.Equal(t, model.StatusPending, a.Status)
	assert.Equal(t, model.ZeroHash, a.DepositID)
	require.NotNil(t, a.OriginDomain)
	assert.Equal(t, uint32(5003), *a.OriginDomain)

	h.reader.actionIDs[hash] = actionID
	h.reader.depositOf[actionID] = depositID
	h.emit(events.ChainCustody, events.KindEncryptedActionReceived, common.HexToHash("0xe2"), events.EncryptedActionReceived{EncryptedDataHash: hash})

	a = h.action(actionID)
	assert.Equal(t, depositID, a.DepositID)
	require.NotNil(t, a.EncryptedDataHash)
	assert.Equal(t, hash, *a.EncryptedDataHash)
	assert.Equal(t, router, *a.OriginRouter)

	h.emit(events.ChainCustody, events.KindEncryptedActionProcessed, common.HexToHash("0xe3"), events.EncryptedActionProcessed{EncryptedDataHash: hash})
	a = h.action(actionID)
	assert.Equal(t, model.StatusProcessed, a.Status)
	assert.NotNil(t, a.ProcessedAt)
}

func TestStatusNeverMovesBackward(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)
	h.processAction(actionID, common.HexToHash("0xf2"), 100)

	h.emit(events.ChainCompute, events.KindEncryptedActionStored, common.HexToHash("0xf3"), events.EncryptedActionStored{
		ActionID:     actionID,
		OriginDomain: 5003,
	})

	a := h.action(actionID)
	assert.Equal(t, model.StatusProcessed, a.Status)
	require.NotNil(t, a.OriginDomain)
}

func TestProcessedAckForUnknownHashIsNoop(t *testing.T) {
	h := newHarness(t)
	h.emit(events.ChainCustody, events.KindEncryptedActionProcessed, common.HexToHash("0xf2"), events.EncryptedActionProcessed{
		EncryptedDataHash: common.HexToHash("0xdead"),
	})

	pending, err := h.store.ListActionsByStatus(context.Background(), model.StatusPending, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestActionProcessedWithoutPayloadKeepsDeposit(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)

	h.emit(events.ChainCompute, events.KindActionProcessed, common.HexToHash("0xf2"), events.ActionProcessed{
		ActionID:   actionID,
		ActionType: uint8(model.ActionRepay),
	})

	a := h.action(actionID)
	require.NotNil(t, a)
	assert.Equal(t, model.StatusProcessed, a.Status)
	assert.Equal(t, model.ActionRepay, a.ActionType)
	assert.False(t, a.DepositConsumed)
	assert.Equal(t, "1000", h.deposit(depositID).RemainingAmount.String())
}

func TestWithdrawUnusedPrefersChainState(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)
	h.reader.deposits[depositID] = chain.DepositRecord{Depositor: depositor, Token: token, Amount: big.NewInt(0), Released: true}

	h.emit(events.ChainCustody, events.KindWithdrawUnused, common.HexToHash("0xf2"), events.WithdrawUnused{
		DepositID: depositID,
		Depositor: depositor,
		Token:     token,
		Amount:    big.NewInt(300),
	})

	d := h.deposit(depositID)
	assert.Equal(t, "0", d.RemainingAmount.String())
	assert.True(t, d.Released)
}

func TestWithdrawUnusedFallsBackToSubtraction(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)

	h.emit(events.ChainCustody, events.KindWithdrawUnused, common.HexToHash("0xf2"), events.WithdrawUnused{
		DepositID: depositID,
		Amount:    big.NewInt(300),
	})

	d := h.deposit(depositID)
	assert.Equal(t, "700", d.RemainingAmount.String())
	assert.False(t, d.Released)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ReadFallbacks.WithLabelValues("deposits")))
}

func TestWithdrawUnusedForUnknownDepositSkips(t *testing.T) {
	h := newHarness(t)
	h.emit(events.ChainCustody, events.KindWithdrawUnused, common.HexToHash("0xf2"), events.WithdrawUnused{
		DepositID: depositID,
		Amount:    big.NewInt(300),
	})
	assert.Nil(t, h.deposit(depositID))
}

func TestDepositCreatedRefreshesLiquidity(t *testing.T) {
	h := newHarness(t)
	h.reader.liquidity[token] = chain.LiquidityTuple{
		TotalDeposited: big.NewInt(5000),
		TotalReserved:  big.NewInt(100),
		TotalBorrowed:  big.NewInt(900),
	}
	h.createDeposit(1000)

	l, err := h.store.GetLiquidity(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "5000", l.TotalDeposited.String())
	assert.Equal(t, "900", l.TotalBorrowed.String())
}

func TestLiquidityReadFailureDoesNotBlockDeposit(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)

	assert.NotNil(t, h.deposit(depositID))
	l, err := h.store.GetLiquidity(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestLiquidityUpdatedOverwrites(t *testing.T) {
	h := newHarness(t)
	for _, total := range []int64{100, 40} {
		h.emit(events.ChainCustody, events.KindLiquidityUpdated, common.HexToHash("0xf2"), events.LiquidityUpdated{
			Token:          token,
			TotalDeposited: big.NewInt(total),
			TotalReserved:  big.NewInt(0),
			TotalBorrowed:  big.NewInt(1),
		})
	}

	l, err := h.store.GetLiquidity(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "40", l.TotalDeposited.String())
}

func TestPriceRefreshRequiresValidPositive(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)

	h.reader.prices[token] = chain.PriceTuple{Price: big.NewInt(0), Timestamp: big.NewInt(1), Valid: true}
	h.processAction(common.HexToHash("0xa0"), common.HexToHash("0xf2"), 1)
	p, err := h.store.GetPrice(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, p)

	h.reader.prices[token] = chain.PriceTuple{Price: big.NewInt(2000), Timestamp: big.NewInt(1700000000), Valid: false}
	h.processAction(common.HexToHash("0xa1"), common.HexToHash("0xf3"), 1)
	p, err = h.store.GetPrice(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, p)

	h.reader.prices[token] = chain.PriceTuple{Price: big.NewInt(2000), Timestamp: big.NewInt(1700000000), Valid: true}
	h.processAction(common.HexToHash("0xa2"), common.HexToHash("0xf4"), 1)
	p, err = h.store.GetPrice(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "2000", p.Price.String())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.Timestamp)
}

func TestPositionAndPriceEvents(t *testing.T) {
	h := newHarness(t)
	user := common.HexToAddress("0x0b")

	h.emit(events.ChainCompute, events.KindPositionUpdated, common.HexToHash("0xf2"), events.PositionUpdated{User: user, Token: token, PositionHash: common.HexToHash("0x01")})
	h.emit(events.ChainCompute, events.KindPositionUpdated, common.HexToHash("0xf3"), events.PositionUpdated{User: user, Token: token, PositionHash: common.HexToHash("0x02")})

	pos, err := h.store.GetPosition(context.Background(), user, token)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, common.HexToHash("0x02"), pos.PositionHash)

	h.emit(events.ChainCompute, events.KindPriceUpdated, common.HexToHash("0xf4"), events.PriceUpdated{Token: token, Price: big.NewInt(5), Timestamp: big.NewInt(10)})
	h.emit(events.ChainCompute, events.KindPriceUpdated, common.HexToHash("0xf5"), events.PriceUpdated{Token: token, Price: big.NewInt(0), Timestamp: big.NewInt(11)})

	p, err := h.store.GetPrice(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "5", p.Price.String())
}

func TestUnknownEventIsSkipped(t *testing.T) {
	h := newHarness(t)
	ev, err := events.NewChainEvent(events.ChainCompute, events.KindDepositCreated, common.HexToHash("0x01"), 1, 0, time.Now(), struct{}{})
	require.NoError(t, err)

	require.NoError(t, h.engine.Handle(context.Background(), ev))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestedEvents.WithLabelValues("compute", "DepositCreated", "unhandled")))
}

func TestLateCustodyEventKeepsComputeChainUser(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)
	h.processAction(actionID, common.HexToHash("0xf2"), 400)

	hash := common.HexToHash("0xc1")
	relayer := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	h.reader.actionIDs[hash] = actionID
	h.reader.depositOf[actionID] = common.HexToHash("0xd9")

	ev, err := events.NewChainEvent(events.ChainCustody, events.KindEncryptedActionReceived, common.HexToHash("0xf3"), 50, 0,
		time.Unix(1700000050, 0).UTC(), events.EncryptedActionReceived{EncryptedDataHash: hash})
	require.NoError(t, err)
	ev.TxFrom = &relayer
	require.NoError(t, h.engine.Handle(context.Background(), ev))

	a := h.action(actionID)
	assert.Equal(t, depositor, a.User)
	assert.Equal(t, depositID, a.DepositID)
	require.NotNil(t, a.EncryptedDataHash)
	assert.Equal(t, hash, *a.EncryptedDataHash)
}

func TestLateAckKeepsProcessedAt(t *testing.T) {
	h := newHarness(t)
	hash := common.HexToHash("0xc1")
	h.reader.actionIDs[hash] = actionID
	h.emit(events.ChainCustody, events.KindEncryptedActionReceived, common.HexToHash("0xf1"), events.EncryptedActionReceived{EncryptedDataHash: hash})

	h.processAction(actionID, common.HexToHash("0xf2"), 1)
	first := h.action(actionID).ProcessedAt
	require.NotNil(t, first)

	h.emit(events.ChainCustody, events.KindEncryptedActionProcessed, common.HexToHash("0xf3"), events.EncryptedActionProcessed{EncryptedDataHash: hash})

	a := h.action(actionID)
	assert.Equal(t, model.StatusProcessed, a.Status)
	assert.True(t, first.Equal(*a.ProcessedAt))
}

// flakyStore fails the next `failures` action updates
type flakyStore struct {
	*store.Memory
	failures int
}

func (s *flakyStore) UpdateAction(ctx context.Context, id common.Hash, u model.ActionUpdate) (bool, error) {
	if s.failures > 0 {
		s.failures--
		return false, errors.New("connection reset")
	}
	return s.Memory.UpdateAction(ctx, id, u)
}

func TestRetriedActionProcessedConsumesOnce(t *testing.T) {
	h := newHarness(t)
	h.createDeposit(1000)
	flaky := &flakyStore{Memory: h.store, failures: 1}
	h.engine = NewEngine(flaky, h.reader, zap.NewNop(), h.metrics)

	h.reader.payloads[actionID] = chain.ProcessedPayload{
		ActionType: model.ActionBorrow,
		Token:      token,
		Amount:     big.NewInt(400),
		OnBehalf:   depositor,
		DepositID:  depositID,
	}
	ev, err := events.NewChainEvent(events.ChainCompute, events.KindActionProcessed, common.HexToHash("0xf2"), 10, 0,
		time.Unix(1700000010, 0).UTC(), events.ActionProcessed{ActionID: actionID, ActionType: uint8(model.ActionBorrow)})
	require.NoError(t, err)

	assert.Error(t, h.engine.Handle(context.Background(), ev))
	require.NoError(t, h.engine.Handle(context.Background(), ev))

	assert.Equal(t, "600", h.deposit(depositID).RemainingAmount.String())
	a := h.action(actionID)
	assert.Equal(t, model.StatusProcessed, a.Status)
	assert.True(t, a.DepositConsumed)
}
