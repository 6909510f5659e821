package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/model"
	"cylend/apps/cylend/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	actionID  = common.HexToHash("0xa1")
	depositID = common.HexToHash("0xd1")
	depositor = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token     = common.HexToAddress("0x00000000000000000000000000000000000000e7")
)

func newTestServer(t *testing.T) (http.Handler, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := s.InsertDeposit(ctx, model.NewDeposit(depositID, depositor, token, big.NewInt(1000), false, created))
	require.NoError(t, err)
	_, err = s.InsertAction(ctx, model.Action{
		ActionID:   actionID,
		DepositID:  depositID,
		User:       depositor,
		ActionType: model.ActionBorrow,
		Status:     model.StatusPending,
		CreatedAt:  created,
	})
	require.NoError(t, err)
	_, err = s.InsertAction(ctx, model.Action{
		ActionID:  common.HexToHash("0xa2"),
		Status:    model.StatusProcessed,
		CreatedAt: created,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics.New(reg).InFlight.Set(2)
	return NewServer(0, s, reg, zap.NewNop()).Handler(), s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestListPendingActions(t *testing.T) {
	h, _ := newTestServer(t)

	rec := get(t, h, "/api/actions?status=pending")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body ActionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Actions, 1)
	a := body.Actions[0]
	assert.Equal(t, actionID.Hex(), a.ActionID)
	assert.Equal(t, depositID.Hex(), a.DepositID)
	assert.Equal(t, "BORROW", a.ActionType)
	assert.Equal(t, "pending", a.Status)
	assert.Nil(t, a.ProcessedAt)
}

func TestListActionsRejectsBadParams(t *testing.T) {
	h, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/actions?status=done").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/actions?limit=-1").Code)
}

func TestGetAction(t *testing.T) {
	h, _ := newTestServer(t)

	rec := get(t, h, "/api/actions/"+actionID.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var a ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "pending", a.Status)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/actions/"+common.HexToHash("0xff").Hex()).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/actions/0x1234").Code)
}

func TestDepositEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	rec := get(t, h, "/api/deposits/"+depositID.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var d DepositResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "1000", d.RemainingAmount)
	assert.False(t, d.Released)

	rec = get(t, h, "/api/deposits?depositor="+depositor.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var list DepositListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Deposits, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/deposits?depositor=nope").Code)
}

func TestMarketEndpoints(t *testing.T) {
	h, s := newTestServer(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/prices/"+token.Hex()).Code)

	require.NoError(t, s.UpsertPrice(ctx, model.Price{Token: token, Price: big.NewInt(2000), Timestamp: at, UpdatedAt: at}))
	require.NoError(t, s.UpsertLiquidity(ctx, model.Liquidity{Token: token, TotalDeposited: big.NewInt(5), TotalReserved: big.NewInt(0), TotalBorrowed: big.NewInt(1), UpdatedAt: at}))
	require.NoError(t, s.UpsertPosition(ctx, model.Position{User: depositor, Token: token, PositionHash: common.HexToHash("0x01"), UpdatedAt: at}))

	rec := get(t, h, "/api/prices/"+token.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var p PriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "2000", p.Price)

	rec = get(t, h, "/api/liquidity/"+token.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
	var l LiquidityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &l))
	assert.Equal(t, "5", l.TotalDeposited)

	rec = get(t, h, "/api/positions/"+depositor.Hex()+"/"+token.Hex())
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(t, h, "/api/health").Code)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cylend_settlement_in_flight 2")
}
