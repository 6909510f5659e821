package repository

import (
	"database/sql"

	"cylend/apps/cylend/internal/store"

	"go.uber.org/zap"
)

// Store is the Postgres-backed entity store
type Store struct {
	*DepositRepository
	*ActionRepository
	*MarketRepository
}

var _ store.Store = (*Store)(nil)

func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		DepositRepository: NewDepositRepository(db, logger),
		ActionRepository:  NewActionRepository(db, logger),
		MarketRepository:  NewMarketRepository(db, logger),
	}
}
