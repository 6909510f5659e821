package query

import (
	"context"

	"cylend/apps/cylend/internal/model"
	"cylend/apps/cylend/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

// StoreSource reads actions straight from an entity store, for a processor
// deployed next to the database
type StoreSource struct {
	store store.Store
}

func NewStoreSource(s store.Store) *StoreSource {
	return &StoreSource{store: s}
}

func (s *StoreSource) ListPendingActions(ctx context.Context) ([]model.Action, error) {
	return s.store.ListActionsByStatus(ctx, model.StatusPending, pendingPageSize)
}

func (s *StoreSource) GetActionStatus(ctx context.Context, actionID common.Hash) (model.ActionStatus, error) {
	a, err := s.store.GetAction(ctx, actionID)
	if err != nil || a == nil {
		return "", err
	}
	return a.Status, nil
}
