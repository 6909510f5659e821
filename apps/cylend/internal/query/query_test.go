package query

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cylend/apps/cylend/internal/api"
	"cylend/apps/cylend/internal/model"
	"cylend/apps/cylend/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	pendingID   = common.HexToHash("0xa1")
	processedID = common.HexToHash("0xa2")
	depositID   = common.HexToHash("0xd1")
	user        = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	createdAt   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	ctx := context.Background()
	_, err := s.InsertDeposit(ctx, model.NewDeposit(depositID, user, common.Address{}, big.NewInt(10), true, createdAt))
	require.NoError(t, err)
	_, err = s.InsertAction(ctx, model.Action{
		ActionID:   pendingID,
		DepositID:  depositID,
		User:       user,
		ActionType: model.ActionSupply,
		Status:     model.StatusPending,
		CreatedAt:  createdAt,
	})
	require.NoError(t, err)
	_, err = s.InsertAction(ctx, model.Action{ActionID: processedID, Status: model.StatusProcessed, CreatedAt: createdAt})
	require.NoError(t, err)
	return s
}

func newTestClient(t *testing.T, s store.Store) *Client {
	t.Helper()
	srv := httptest.NewServer(api.NewServer(0, s, prometheus.NewRegistry(), zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zap.NewNop())
}

func TestClientListPendingActions(t *testing.T) {
	c := newTestClient(t, seedStore(t))

	actions, err := c.ListPendingActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)

	a := actions[0]
	assert.Equal(t, pendingID, a.ActionID)
	assert.Equal(t, depositID, a.DepositID)
	assert.Equal(t, user, a.User)
	assert.Equal(t, model.ActionSupply, a.ActionType)
	assert.Equal(t, model.StatusPending, a.Status)
	assert.True(t, createdAt.Equal(a.CreatedAt))
	assert.Nil(t, a.ProcessedAt)
}

func TestClientGetActionStatus(t *testing.T) {
	c := newTestClient(t, seedStore(t))
	ctx := context.Background()

	status, err := c.GetActionStatus(ctx, pendingID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, status)

	status, err = c.GetActionStatus(ctx, processedID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, status)

	status, err = c.GetActionStatus(ctx, common.HexToHash("0xffff"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionStatus(""), status)
}

func TestClientReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second, zap.NewNop())

	_, err := c.ListPendingActions(context.Background())
	assert.ErrorContains(t, err, "unexpected status 500")

	_, err = c.GetActionStatus(context.Background(), pendingID)
	assert.ErrorContains(t, err, "unexpected status 500")
}

func TestClientSkipsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"actions":[` +
			`{"actionId":"0x1234","actionType":"BORROW","status":"pending"},` +
			`{"actionId":"` + pendingID.Hex() + `","actionType":"STAKE","status":"pending"},` +
			`{"actionId":"` + pendingID.Hex() + `","actionType":"BORROW","status":"pending","createdAt":"2026-03-01T12:00:00Z"}]}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second, zap.NewNop())

	actions, err := c.ListPendingActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionBorrow, actions[0].ActionType)
}

func TestStoreSource(t *testing.T) {
	src := NewStoreSource(seedStore(t))
	ctx := context.Background()

	actions, err := src.ListPendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, pendingID, actions[0].ActionID)

	status, err := src.GetActionStatus(ctx, processedID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, status)

	status, err = src.GetActionStatus(ctx, common.HexToHash("0xffff"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionStatus(""), status)
}
