package store

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

type positionKey struct {
	user  common.Address
	token common.Address
}

// Memory is an in-process Store. Values are copied in and out so callers never share
// big.Int pointers with the store.
type Memory struct {
	mu        sync.RWMutex
	deposits  map[common.Hash]model.Deposit
	actions   map[common.Hash]model.Action
	positions map[positionKey]model.Position
	liquidity map[common.Address]model.Liquidity
	prices    map[common.Address]model.Price
}

func NewMemory() *Memory {
	return &Memory{
		deposits:  make(map[common.Hash]model.Deposit),
		actions:   make(map[common.Hash]model.Action),
		positions: make(map[positionKey]model.Position),
		liquidity: make(map[common.Address]model.Liquidity),
		prices:    make(map[common.Address]model.Price),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) InsertDeposit(_ context.Context, d model.Deposit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.deposits[d.DepositID]; exists {
		return false, nil
	}
	m.deposits[d.DepositID] = copyDeposit(d)
	return true, nil
}

func (m *Memory) GetDeposit(_ context.Context, id common.Hash) (*model.Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deposits[id]
	if !ok {
		return nil, nil
	}
	out := copyDeposit(d)
	return &out, nil
}

func (m *Memory) ListDepositsByDepositor(_ context.Context, depositor common.Address, limit int) ([]model.Deposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Deposit
	for _, d := range m.deposits {
		if d.Depositor == depositor {
			out = append(out, copyDeposit(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateDepositBalance(_ context.Context, id common.Hash, remaining *big.Int, released bool, lastUsedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deposits[id]
	if !ok {
		return nil
	}
	d.RemainingAmount = new(big.Int).Set(remaining)
	d.Released = released
	d.LastUsedAt = &lastUsedAt
	m.deposits[id] = d
	return nil
}

func (m *Memory) InsertAction(_ context.Context, a model.Action) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.actions[a.ActionID]; exists {
		return false, nil
	}
	m.actions[a.ActionID] = a
	return true, nil
}

func (m *Memory) GetAction(_ context.Context, id common.Hash) (*model.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) FindActionByEncryptedDataHash(_ context.Context, hash common.Hash) (*model.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *model.Action
	for _, a := range m.actions {
		if a.EncryptedDataHash == nil || *a.EncryptedDataHash != hash {
			continue
		}
		// Oldest match wins, mirroring the ORDER BY in the Postgres store
		if found == nil || a.CreatedAt.Before(found.CreatedAt) {
			a := a
			found = &a
		}
	}
	return found, nil
}

func (m *Memory) UpdateAction(_ context.Context, id common.Hash, u model.ActionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return false, nil
	}
	m.actions[id] = a.Apply(u)
	return true, nil
}

func (m *Memory) ConsumeDepositForAction(_ context.Context, actionID, depositID common.Hash, amount *big.Int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[actionID]
	if !ok || a.DepositConsumed {
		return false, nil
	}
	d, ok := m.deposits[depositID]
	if !ok {
		return false, nil
	}

	d.RemainingAmount, d.Released = d.Consume(amount)
	d.LastUsedAt = &at
	m.deposits[depositID] = d
	a.DepositConsumed = true
	m.actions[actionID] = a
	return true, nil
}

func (m *Memory) ListActionsByStatus(_ context.Context, status model.ActionStatus, limit int) ([]model.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Action
	for _, a := range m.actions {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ActionID.Hex() < out[j].ActionID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertPosition(_ context.Context, p model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[positionKey{p.User, p.Token}] = p
	return nil
}

func (m *Memory) GetPosition(_ context.Context, user, token common.Address) (*model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[positionKey{user, token}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) UpsertLiquidity(_ context.Context, l model.Liquidity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidity[l.Token] = model.Liquidity{
		Token:          l.Token,
		TotalDeposited: copyInt(l.TotalDeposited),
		TotalReserved:  copyInt(l.TotalReserved),
		TotalBorrowed:  copyInt(l.TotalBorrowed),
		UpdatedAt:      l.UpdatedAt,
	}
	return nil
}

func (m *Memory) GetLiquidity(_ context.Context, token common.Address) (*model.Liquidity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.liquidity[token]
	if !ok {
		return nil, nil
	}
	l.TotalDeposited = copyInt(l.TotalDeposited)
	l.TotalReserved = copyInt(l.TotalReserved)
	l.TotalBorrowed = copyInt(l.TotalBorrowed)
	return &l, nil
}

func (m *Memory) UpsertPrice(_ context.Context, p model.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Price = copyInt(p.Price)
	m.prices[p.Token] = p
	return nil
}

func (m *Memory) GetPrice(_ context.Context, token common.Address) (*model.Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[token]
	if !ok {
		return nil, nil
	}
	p.Price = copyInt(p.Price)
	return &p, nil
}

func copyDeposit(d model.Deposit) model.Deposit {
	d.InitialAmount = copyInt(d.InitialAmount)
	d.RemainingAmount = copyInt(d.RemainingAmount)
	return d
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
