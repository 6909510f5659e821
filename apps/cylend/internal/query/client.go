// Package query is the settlement processor's view of indexed actions, either over
// the indexer's HTTP API or directly over an entity store.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cylend/apps/cylend/internal/api"
	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const pendingPageSize = 1000

// Client reads actions from the indexer query API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) ListPendingActions(ctx context.Context) ([]model.Action, error) {
	q := url.Values{}
	q.Set("status", string(model.StatusPending))
	q.Set("limit", fmt.Sprint(pendingPageSize))

	var body api.ActionListResponse
	found, err := c.get(ctx, "/api/actions?"+q.Encode(), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("failed to list pending actions: endpoint not found")
	}

	actions := make([]model.Action, 0, len(body.Actions))
	for _, r := range body.Actions {
		a, err := toAction(r)
		if err != nil {
			c.logger.Warn("Skipping malformed action record", zap.String("action_id", r.ActionID), zap.Error(err))
			continue
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (c *Client) GetActionStatus(ctx context.Context, actionID common.Hash) (model.ActionStatus, error) {
	var body api.ActionResponse
	found, err := c.get(ctx, "/api/actions/"+actionID.Hex(), &body)
	if err != nil {
		return "", fmt.Errorf("failed to get action %s: %w", actionID.Hex(), err)
	}
	if !found {
		return "", nil
	}
	return model.ActionStatus(body.Status), nil
}

// get decodes a 200 response into out and reports false on 404
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}

func toAction(r api.ActionResponse) (model.Action, error) {
	if !isHash(r.ActionID) {
		return model.Action{}, fmt.Errorf("invalid action id %q", r.ActionID)
	}
	actionType, err := model.ParseActionType(r.ActionType)
	if err != nil {
		return model.Action{}, err
	}
	return model.Action{
		ActionID:    common.HexToHash(r.ActionID),
		DepositID:   common.HexToHash(r.DepositID),
		User:        common.HexToAddress(r.User),
		ActionType:  actionType,
		Status:      model.ActionStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		ProcessedAt: r.ProcessedAt,
	}, nil
}

func isHash(s string) bool {
	return len(s) == 66 && (s[:2] == "0x" || s[:2] == "0X")
}
