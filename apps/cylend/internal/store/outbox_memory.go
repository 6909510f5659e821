package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cylend/apps/cylend/internal/model"
)

type outboxKey struct {
	chain    string
	txHash   string
	logIndex uint
}

// MemoryOutbox holds crawler cursors and the event outbox for the memory driver.
// It mirrors repository.CrawlerRepository.
type MemoryOutbox struct {
	mu      sync.Mutex
	cursors map[string]uint64
	events  []model.OutboxEvent
	seen    map[outboxKey]struct{}
	nextID  int64
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{
		cursors: make(map[string]uint64),
		seen:    make(map[outboxKey]struct{}),
	}
}

func (m *MemoryOutbox) InitCursor(_ context.Context, chain string, startBlock uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cursors[chain]; ok {
		return nil
	}
	var last uint64
	if startBlock > 0 {
		last = startBlock - 1
	}
	m.cursors[chain] = last
	return nil
}

func (m *MemoryOutbox) GetLastProcessedBlock(_ context.Context, chain string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.cursors[chain]
	if !ok {
		return 0, fmt.Errorf("no cursor for chain %s", chain)
	}
	return block, nil
}

func (m *MemoryOutbox) UpdateLastProcessedBlock(_ context.Context, chain string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[chain] = block
	return nil
}

func (m *MemoryOutbox) StoreOutboxEvent(_ context.Context, event model.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := outboxKey{event.Chain, event.TxHash, event.LogIndex}
	if _, dup := m.seen[key]; dup {
		return nil
	}
	m.seen[key] = struct{}{}
	m.nextID++
	event.ID = m.nextID
	event.Status = model.OutboxUnsent
	event.CreatedAt = time.Now()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryOutbox) GetUnsentEventsForProcessing(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OutboxEvent
	for i := range m.events {
		if len(out) == limit {
			break
		}
		if m.events[i].Status != model.OutboxUnsent {
			continue
		}
		m.events[i].Status = model.OutboxProcessing
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *MemoryOutbox) MarkEventAsSent(_ context.Context, id int64) error {
	m.setStatus(id, "", model.OutboxSent)
	return nil
}

func (m *MemoryOutbox) MarkEventAsFailed(_ context.Context, id int64) error {
	m.setStatus(id, model.OutboxProcessing, model.OutboxUnsent)
	return nil
}

// setStatus moves event id to status; from restricts the transition when non-empty
func (m *MemoryOutbox) setStatus(id int64, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID != id {
			continue
		}
		if from == "" || m.events[i].Status == from {
			m.events[i].Status = to
		}
		return
	}
}

// Pending counts events not yet sent
func (m *MemoryOutbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Status != model.OutboxSent {
			n++
		}
	}
	return n
}
