package settlement

import (
	"context"

	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

// ActionSource is the read layer the processor polls. GetActionStatus returns an
// empty status for an unknown action.
type ActionSource interface {
	ListPendingActions(ctx context.Context) ([]model.Action, error)
	GetActionStatus(ctx context.Context, actionID common.Hash) (model.ActionStatus, error)
}
