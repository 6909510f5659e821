// Package settlement drives pending actions to completion on the compute chain.
//
// A Processor polls the read layer on a fixed interval. Within a cycle every pending
// action is claimed in a process-local in-flight set before anything is submitted, so
// no two submissions for the same action are ever outstanding in one process; a Lease
// extends that exclusion across processes. Successful actions go into a TTL cache so
// they are not resubmitted while their completion event travels back through
// ingestion. Failed actions simply stay pending.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/model"
	"cylend/apps/cylend/internal/ttlcache"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

type Options struct {
	PollInterval      time.Duration
	CompletedTTL      time.Duration
	CompletedCapacity int
	Concurrency       int

	// ParkAfterFailures > 0 parks an action for ParkDuration after that many
	// consecutive failed cycles
	ParkAfterFailures int
	ParkDuration      time.Duration

	// Now overrides the clock of the TTL caches
	Now func() time.Time
}

type Processor struct {
	source    ActionSource
	submitter *Submitter
	lease     Lease
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics

	inFlight  *xsync.Map[common.Hash, uuid.UUID] // action id -> owning cycle
	failures  *xsync.Map[common.Hash, int]
	completed *ttlcache.Set[common.Hash]
	parked    *ttlcache.Set[common.Hash]
	pool      pond.Pool
}

func NewProcessor(source ActionSource, submitter *Submitter, lease Lease, opts Options, logger *zap.Logger, m *metrics.Metrics) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.CompletedTTL <= 0 {
		opts.CompletedTTL = 5 * time.Minute
	}
	if opts.CompletedCapacity <= 0 {
		opts.CompletedCapacity = 10000
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if lease == nil {
		lease = LocalLease{}
	}
	if m == nil {
		m = metrics.NewNop()
	}

	var cacheOpts []ttlcache.Option[common.Hash]
	if opts.Now != nil {
		cacheOpts = append(cacheOpts, ttlcache.WithClock[common.Hash](opts.Now))
	}

	return &Processor{
		source:    source,
		submitter: submitter,
		lease:     lease,
		opts:      opts,
		logger:    logger,
		metrics:   m,
		inFlight:  xsync.NewMap[common.Hash, uuid.UUID](),
		failures:  xsync.NewMap[common.Hash, int](),
		completed: ttlcache.New[common.Hash](opts.CompletedTTL, opts.CompletedCapacity, cacheOpts...),
		parked:    ttlcache.New[common.Hash](opts.ParkDuration, opts.CompletedCapacity, cacheOpts...),
		pool:      pond.NewPool(opts.Concurrency),
	}
}

// Run processes immediately and then every PollInterval until ctx is cancelled.
// A cycle that is running when ctx ends is allowed to finish.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Starting settlement processor",
		zap.Duration("poll_interval", p.opts.PollInterval),
		zap.Int("concurrency", p.opts.Concurrency))

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.RunCycle(context.WithoutCancel(ctx)); err != nil {
			p.logger.Error("Settlement cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Settlement processor stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle runs one poll cycle. It is skipped entirely while any action from an
// earlier cycle is still in flight.
func (p *Processor) RunCycle(ctx context.Context) (err error) {
	if n := p.inFlight.Size(); n > 0 {
		p.logger.Info("Previous batch still processing, skipping cycle", zap.Int("in_flight", n))
		p.metrics.Cycles.WithLabelValues("skipped").Inc()
		return nil
	}

	cycleID := uuid.New()
	logger := p.logger.With(zap.String("cycle_id", cycleID.String()))

	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, panicError(r))
		}
		if err != nil {
			p.release(cycleID)
			p.metrics.Cycles.WithLabelValues("error").Inc()
			return
		}
		p.metrics.Cycles.WithLabelValues("ok").Inc()
	}()

	actions, err := p.source.ListPendingActions(ctx)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		logger.Debug("No pending actions")
		return nil
	}
	logger.Info("Found pending actions", zap.Int("count", len(actions)))

	var tasks []pond.Task
	for _, action := range actions {
		if !p.claim(logger, action.ActionID, cycleID) {
			continue
		}
		action := action
		tasks = append(tasks, p.pool.Submit(func() {
			p.process(ctx, logger, action)
		}))
	}

	// every task is waited on so no claim is released while its submission still runs
	var errs []error
	for _, task := range tasks {
		if err := task.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// claim marks the action in flight for cycleID and then applies the skip rules.
// Completion is recorded before a claim is dropped, so the caches are checked
// only once the claim is held.
func (p *Processor) claim(logger *zap.Logger, id common.Hash, cycleID uuid.UUID) bool {
	if _, held := p.inFlight.LoadOrStore(id, cycleID); held {
		logger.Info("Action already in flight, skipping", zap.String("action_id", id.Hex()))
		return false
	}
	p.metrics.InFlight.Inc()

	switch {
	case p.completed.Contains(id):
		logger.Debug("Action completed recently, skipping", zap.String("action_id", id.Hex()))
	case p.parked.Contains(id):
		logger.Debug("Action parked, skipping", zap.String("action_id", id.Hex()))
	default:
		return true
	}
	p.done(id)
	return false
}

func (p *Processor) process(ctx context.Context, logger *zap.Logger, action model.Action) {
	id := action.ActionID
	logger = logger.With(zap.String("action_id", id.Hex()))
	defer p.done(id)

	status, err := p.source.GetActionStatus(ctx, id)
	if err != nil {
		logger.Warn("Could not re-check action status, skipping", zap.Error(err))
		return
	}
	if status != model.StatusPending {
		logger.Info("Action no longer pending, skipping", zap.String("status", string(status)))
		p.completed.Add(id)
		return
	}

	release, ok, err := p.lease.Acquire(ctx, id)
	if err != nil {
		logger.Error("Failed to acquire lease", zap.Error(err))
		return
	}
	if !ok {
		logger.Info("Action leased by another processor, skipping")
		return
	}
	defer release()

	logger.Info("Processing action",
		zap.String("deposit_id", action.DepositID.Hex()),
		zap.String("user", action.User.Hex()),
		zap.String("action_type", action.ActionType.String()))

	result := p.submitter.SubmitWithRetry(ctx, id)
	if result.Success {
		p.completed.Add(id)
		p.failures.Delete(id)
		logger.Info("Successfully processed action",
			zap.String("tx_hash", result.TxHash.Hex()),
			zap.Bool("already_processed", result.AlreadyProcessed),
			zap.Int("attempts", result.Attempts))
		return
	}

	logger.Error("Failed to process action, leaving it pending", zap.Error(result.Err))
	p.recordFailure(logger, id)
}

func (p *Processor) recordFailure(logger *zap.Logger, id common.Hash) {
	if p.opts.ParkAfterFailures <= 0 {
		return
	}
	count, _ := p.failures.Compute(id, func(old int, _ bool) (int, xsync.ComputeOp) {
		return old + 1, xsync.UpdateOp
	})
	if count < p.opts.ParkAfterFailures {
		return
	}
	p.failures.Delete(id)
	p.parked.Add(id)
	logger.Warn("Parking action after repeated failures",
		zap.Int("failures", count),
		zap.Duration("park_duration", p.opts.ParkDuration))
}

func (p *Processor) done(id common.Hash) {
	if _, ok := p.inFlight.LoadAndDelete(id); ok {
		p.metrics.InFlight.Dec()
	}
}

// release drops every in-flight claim held by cycleID
func (p *Processor) release(cycleID uuid.UUID) {
	p.inFlight.Range(func(id common.Hash, owner uuid.UUID) bool {
		if owner == cycleID {
			p.done(id)
		}
		return true
	})
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic in settlement cycle: %w", err)
	}
	return fmt.Errorf("panic in settlement cycle: %v", r)
}

// RecentlyCompleted reports whether id sits in the completed cache
func (p *Processor) RecentlyCompleted(id common.Hash) bool {
	return p.completed.Contains(id)
}

func (p *Processor) InFlight() int {
	return p.inFlight.Size()
}

// Close waits for queued submissions and stops the worker pool
func (p *Processor) Close() {
	p.pool.StopAndWait()
}
