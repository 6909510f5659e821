package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cylend/apps/cylend/internal/chain"
	"cylend/apps/cylend/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Result is the outcome of SubmitWithRetry
type Result struct {
	Success bool
	TxHash  common.Hash // zero when nothing was mined by us
	Err     error

	// Attempts counts completion submissions, not processed-flag checks
	Attempts int

	// AlreadyProcessed is set when success came from the chain reporting the
	// action as done rather than from our own inclusion
	AlreadyProcessed bool
}

// RevertError is returned when a completion transaction was mined but reverted
type RevertError struct {
	TxHash common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash.Hex(), e.Reason)
}

// Submitter drives one action to completion on the compute chain
type Submitter struct {
	writer     chain.Writer
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewSubmitter(writer chain.Writer, maxRetries int, baseDelay time.Duration, logger *zap.Logger, m *metrics.Metrics) *Submitter {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Submitter{
		writer:     writer,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
		logger:     logger,
		metrics:    m,
	}
}

// SubmitWithRetry checks the on-chain processed flag, submits and awaits inclusion,
// retrying with a linear backoff of baseDelay * attempt. Duplicate and
// already-processed errors count as success.
func (s *Submitter) SubmitWithRetry(ctx context.Context, actionID common.Hash) Result {
	logger := s.logger.With(zap.String("action_id", actionID.Hex()))
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if s.alreadyProcessed(ctx, logger, actionID) {
			logger.Info("Action already processed on-chain, skipping submission")
			return s.finish(Result{Success: true, Attempts: attempt - 1, AlreadyProcessed: true})
		}

		logger.Info("Submitting completion", zap.Int("attempt", attempt), zap.Int("max_attempts", s.maxRetries))
		txHash, err := s.submitOnce(ctx, actionID)
		if err == nil {
			logger.Info("Action processed", zap.String("tx_hash", txHash.Hex()), zap.Int("attempt", attempt))
			return s.finish(Result{Success: true, TxHash: txHash, Attempts: attempt})
		}
		if IsDuplicate(err) {
			logger.Info("Submission reported a duplicate, treating as processed", zap.Error(err))
			return s.finish(Result{Success: true, TxHash: txHash, Attempts: attempt, AlreadyProcessed: true})
		}

		lastErr = err
		logger.Error("Completion attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < s.maxRetries {
			wait := s.baseDelay * time.Duration(attempt)
			logger.Info("Retrying completion", zap.Duration("wait", wait))
			if err := s.sleep(ctx, wait); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
	}

	return s.finish(Result{
		Success:  false,
		Err:      fmt.Errorf("failed after %d attempts: %w", s.maxRetries, lastErr),
		Attempts: s.maxRetries,
	})
}

// alreadyProcessed treats a failed flag read as not processed
func (s *Submitter) alreadyProcessed(ctx context.Context, logger *zap.Logger, actionID common.Hash) bool {
	processed, err := s.writer.ReadActionProcessed(ctx, actionID)
	if err != nil {
		logger.Warn("Could not read processed flag, assuming not processed", zap.Error(err))
		return false
	}
	return processed
}

func (s *Submitter) submitOnce(ctx context.Context, actionID common.Hash) (common.Hash, error) {
	txHash, err := s.writer.SubmitCompletion(ctx, actionID)
	if err != nil {
		return common.Hash{}, err
	}

	inclusion, err := s.writer.AwaitInclusion(ctx, txHash)
	if err != nil {
		return txHash, fmt.Errorf("awaiting inclusion of %s: %w", txHash.Hex(), err)
	}
	if inclusion.Status == chain.InclusionReverted {
		return txHash, &RevertError{TxHash: txHash, Reason: inclusion.Reason}
	}
	return txHash, nil
}

func (s *Submitter) finish(r Result) Result {
	if s.metrics == nil {
		return r
	}
	switch {
	case r.Success && r.AlreadyProcessed:
		s.metrics.Submissions.WithLabelValues("already_processed").Inc()
	case r.Success:
		s.metrics.Submissions.WithLabelValues("success").Inc()
	default:
		s.metrics.Submissions.WithLabelValues("failed").Inc()
	}
	s.metrics.Attempts.Observe(float64(r.Attempts))
	return r
}

// IsDuplicate reports whether a submission error means the action is already done
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already processed")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
