// Package ingestion reconciles custody-chain and compute-chain events into the entity
// store. Events from either chain may arrive in any relative order; every handler is
// idempotent so replays from the event stream are harmless.
package ingestion

import (
	"context"
	"fmt"
	"sync"

	"cylend/apps/cylend/internal/chain"
	"cylend/apps/cylend/internal/events"
	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/store"

	"go.uber.org/zap"
)

// Engine dispatches events to handlers one at a time
type Engine struct {
	mu       sync.Mutex
	handlers map[Key]HandlerFunc
	deps     Deps
}

func NewEngine(s store.Store, reader chain.Reader, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return NewEngineWithHandlers(DefaultHandlers(), Deps{Store: s, Reader: reader, Logger: logger, Metrics: m})
}

func NewEngineWithHandlers(handlers map[Key]HandlerFunc, deps Deps) *Engine {
	return &Engine{handlers: handlers, deps: deps}
}

// Handle applies one event. Unknown (chain, kind) pairs are logged and skipped.
func (e *Engine) Handle(ctx context.Context, ev events.ChainEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := Key{Chain: ev.Chain, Kind: ev.Kind}
	handler, ok := e.handlers[key]
	if !ok {
		e.deps.Logger.Warn("No handler for event",
			zap.String("chain", string(ev.Chain)),
			zap.String("kind", string(ev.Kind)),
			zap.String("tx_hash", ev.TxHash.Hex()))
		e.count(ev, "unhandled")
		return nil
	}

	logger := e.deps.Logger.With(
		zap.String("chain", string(ev.Chain)),
		zap.String("kind", string(ev.Kind)),
		zap.String("tx_hash", ev.TxHash.Hex()),
		zap.Uint("log_index", ev.LogIndex))
	deps := e.deps
	deps.Logger = logger

	if err := handler(ctx, ev, deps); err != nil {
		e.count(ev, "error")
		return fmt.Errorf("handling %s/%s in %s: %w", ev.Chain, ev.Kind, ev.TxHash.Hex(), err)
	}

	e.count(ev, "ok")
	logger.Debug("Handled event", zap.Uint64("block", ev.BlockNumber))
	return nil
}

func (e *Engine) count(ev events.ChainEvent, result string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.IngestedEvents.WithLabelValues(string(ev.Chain), string(ev.Kind), result).Inc()
	}
}
