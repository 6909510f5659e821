package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cylend/apps/cylend/internal/chain"
	"cylend/apps/cylend/internal/events"
	"cylend/apps/cylend/internal/metrics"
	"cylend/apps/cylend/internal/model"
	"cylend/apps/cylend/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Key selects the handler for an event
type Key struct {
	Chain events.Chain
	Kind  events.Kind
}

// Deps is everything a handler may touch
type Deps struct {
	Store   store.Store
	Reader  chain.Reader
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type HandlerFunc func(ctx context.Context, ev events.ChainEvent, deps Deps) error

// DefaultHandlers is the full dispatch table for both chains
func DefaultHandlers() map[Key]HandlerFunc {
	return map[Key]HandlerFunc{
		{events.ChainCustody, events.KindDepositCreated}:           HandleDepositCreated,
		{events.ChainCustody, events.KindEncryptedActionReceived}:  HandleEncryptedActionReceived,
		{events.ChainCustody, events.KindEncryptedActionProcessed}: HandleEncryptedActionProcessed,
		{events.ChainCustody, events.KindLiquidityUpdated}:         HandleLiquidityUpdated,
		{events.ChainCustody, events.KindWithdrawUnused}:           HandleWithdrawUnused,
		{events.ChainCompute, events.KindEncryptedActionStored}:    HandleEncryptedActionStored,
		{events.ChainCompute, events.KindActionProcessed}:          HandleActionProcessed,
		{events.ChainCompute, events.KindPositionUpdated}:          HandlePositionUpdated,
		{events.ChainCompute, events.KindPriceUpdated}:             HandlePriceUpdated,
	}
}

// readFailed logs a failed authoritative read and counts the fallback taken
func (d Deps) readFailed(err error, fallback string, fields ...zap.Field) {
	op := "unknown"
	var readErr *chain.ReadError
	if errors.As(err, &readErr) {
		op = readErr.Op
	}
	if d.Metrics != nil {
		d.Metrics.ReadFallbacks.WithLabelValues(op).Inc()
	}
	d.Logger.Warn("Chain read failed, falling back",
		append(fields, zap.String("op", op), zap.String("fallback", fallback), zap.Error(err))...)
}

func HandleDepositCreated(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.DepositCreated
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return fmt.Errorf("%w: deposit %s has invalid amount", events.ErrMalformed, p.DepositID.Hex())
	}

	d := model.NewDeposit(p.DepositID, p.Depositor, p.Token, p.Amount, p.IsNative, ev.BlockTime)
	inserted, err := deps.Store.InsertDeposit(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to insert deposit %s: %w", p.DepositID.Hex(), err)
	}
	if !inserted {
		deps.Logger.Info("Deposit already indexed, skipping", zap.String("deposit_id", p.DepositID.Hex()))
		return nil
	}

	// Liquidity is best effort here; the next LiquidityUpdated event carries the totals anyway
	totals, err := deps.Reader.ReadLiquidity(ctx, p.Token)
	if err != nil {
		deps.readFailed(err, "wait for LiquidityUpdated", zap.String("token", p.Token.Hex()))
		return nil
	}
	return upsertLiquidity(ctx, deps, p.Token, totals.TotalDeposited, totals.TotalReserved, totals.TotalBorrowed, ev.BlockTime)
}

func HandleEncryptedActionReceived(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.EncryptedActionReceived
	if err := ev.Decode(&p); err != nil {
		return err
	}

	actionID, err := deps.Reader.ReadActionIDByCiphertextHash(ctx, p.EncryptedDataHash)
	depositID := model.ZeroHash
	if err != nil {
		deps.readFailed(err, "transaction hash as action id",
			zap.String("encrypted_data_hash", p.EncryptedDataHash.Hex()),
			zap.String("tx_hash", ev.TxHash.Hex()))
		actionID = ev.TxHash
	} else {
		resolved, err := deps.Reader.ReadDepositIDForAction(ctx, actionID)
		if err != nil {
			deps.readFailed(err, "unresolved deposit id", zap.String("action_id", actionID.Hex()))
		} else {
			depositID = resolved
		}
	}

	var user common.Address
	if ev.TxFrom != nil {
		user = *ev.TxFrom
	}

	hash := p.EncryptedDataHash
	inserted, err := deps.Store.InsertAction(ctx, model.Action{
		ActionID:          actionID,
		DepositID:         depositID,
		User:              user,
		ActionType:        model.ActionSupply,
		Status:            model.StatusPending,
		EncryptedDataHash: &hash,
		CreatedAt:         ev.BlockTime,
	})
	if err != nil {
		return fmt.Errorf("failed to insert action %s: %w", actionID.Hex(), err)
	}
	if inserted {
		return nil
	}

	// Already known, usually from the compute chain, whose deposit id and user are
	// authoritative. Only fill what it left unresolved.
	_, err = deps.Store.UpdateAction(ctx, actionID, model.ActionUpdate{
		FillDepositID:     &depositID,
		FillUser:          &user,
		EncryptedDataHash: &hash,
	})
	if err != nil {
		return fmt.Errorf("failed to enrich action %s: %w", actionID.Hex(), err)
	}
	return nil
}

func HandleEncryptedActionProcessed(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.EncryptedActionProcessed
	if err := ev.Decode(&p); err != nil {
		return err
	}

	a, err := deps.Store.FindActionByEncryptedDataHash(ctx, p.EncryptedDataHash)
	if err != nil {
		return fmt.Errorf("failed to find action by hash %s: %w", p.EncryptedDataHash.Hex(), err)
	}
	if a == nil {
		deps.Logger.Warn("No action for processed ciphertext",
			zap.String("encrypted_data_hash", p.EncryptedDataHash.Hex()))
		return nil
	}

	status := model.StatusProcessed
	processedAt := ev.BlockTime
	if _, err := deps.Store.UpdateAction(ctx, a.ActionID, model.ActionUpdate{Status: &status, ProcessedAt: &processedAt}); err != nil {
		return fmt.Errorf("failed to mark action %s processed: %w", a.ActionID.Hex(), err)
	}
	return nil
}

func HandleLiquidityUpdated(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.LiquidityUpdated
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return upsertLiquidity(ctx, deps, p.Token, p.TotalDeposited, p.TotalReserved, p.TotalBorrowed, ev.BlockTime)
}

func HandleWithdrawUnused(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.WithdrawUnused
	if err := ev.Decode(&p); err != nil {
		return err
	}

	d, err := deps.Store.GetDeposit(ctx, p.DepositID)
	if err != nil {
		return fmt.Errorf("failed to get deposit %s: %w", p.DepositID.Hex(), err)
	}
	if d == nil {
		deps.Logger.Warn("Deposit not found for WithdrawUnused", zap.String("deposit_id", p.DepositID.Hex()))
		return nil
	}

	var remaining *big.Int
	var released bool
	record, err := deps.Reader.ReadDeposit(ctx, p.DepositID)
	if err != nil {
		deps.readFailed(err, "local subtraction", zap.String("deposit_id", p.DepositID.Hex()))
		remaining, released = d.Consume(p.Amount)
	} else {
		remaining, released = d.ApplyAuthoritative(record.Amount, record.Released)
	}

	if err := deps.Store.UpdateDepositBalance(ctx, p.DepositID, remaining, released, ev.BlockTime); err != nil {
		return fmt.Errorf("failed to update deposit %s: %w", p.DepositID.Hex(), err)
	}
	return nil
}

func HandleEncryptedActionStored(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.EncryptedActionStored
	if err := ev.Decode(&p); err != nil {
		return err
	}

	domain := p.OriginDomain
	router := p.OriginRouter
	update := model.ActionUpdate{OriginDomain: &domain, OriginRouter: &router}

	found, err := deps.Store.UpdateAction(ctx, p.ActionID, update)
	if err != nil {
		return fmt.Errorf("failed to update action %s: %w", p.ActionID.Hex(), err)
	}
	if found {
		return nil
	}

	// compute chain got here first; deposit and user resolve later
	inserted, err := deps.Store.InsertAction(ctx, model.Action{
		ActionID:     p.ActionID,
		DepositID:    model.ZeroHash,
		ActionType:   model.ActionSupply,
		Status:       model.StatusPending,
		CreatedAt:    ev.BlockTime,
		OriginDomain: &domain,
		OriginRouter: &router,
	})
	if err != nil {
		return fmt.Errorf("failed to insert action stub %s: %w", p.ActionID.Hex(), err)
	}
	if !inserted {
		// lost a race with another writer; enrich what is there now
		if _, err := deps.Store.UpdateAction(ctx, p.ActionID, update); err != nil {
			return fmt.Errorf("failed to update action %s: %w", p.ActionID.Hex(), err)
		}
	}
	return nil
}

func HandleActionProcessed(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.ActionProcessed
	if err := ev.Decode(&p); err != nil {
		return err
	}

	existing, err := deps.Store.GetAction(ctx, p.ActionID)
	if err != nil {
		return fmt.Errorf("failed to get action %s: %w", p.ActionID.Hex(), err)
	}
	if existing == nil {
		stub := model.Action{
			ActionID:   p.ActionID,
			DepositID:  model.ZeroHash,
			ActionType: model.ActionType(p.ActionType),
			Status:     model.StatusPending,
			CreatedAt:  ev.BlockTime,
		}
		if _, err := deps.Store.InsertAction(ctx, stub); err != nil {
			return fmt.Errorf("failed to insert action stub %s: %w", p.ActionID.Hex(), err)
		}
		existing = &stub
	}

	actionType := model.ActionType(p.ActionType)
	status := model.StatusProcessed
	processedAt := ev.BlockTime
	update := model.ActionUpdate{ActionType: &actionType, Status: &status, ProcessedAt: &processedAt}

	payload, err := deps.Reader.ReadProcessedPayload(ctx, p.ActionID)
	havePayload := err == nil
	if !havePayload {
		deps.readFailed(err, "status only, deposit untouched", zap.String("action_id", p.ActionID.Hex()))
	} else {
		update.DepositID = &payload.DepositID
		update.User = &payload.OnBehalf
	}

	consume := havePayload && !existing.DepositConsumed &&
		payload.DepositID != model.ZeroHash && payload.Amount != nil && payload.Amount.Sign() > 0
	if consume {
		consumed, err := deps.Store.ConsumeDepositForAction(ctx, p.ActionID, payload.DepositID, payload.Amount, ev.BlockTime)
		if err != nil {
			return fmt.Errorf("failed to consume deposit %s: %w", payload.DepositID.Hex(), err)
		}
		if !consumed {
			deps.Logger.Warn("Deposit not consumed for processed action",
				zap.String("action_id", p.ActionID.Hex()),
				zap.String("deposit_id", payload.DepositID.Hex()))
		}
	}

	if _, err := deps.Store.UpdateAction(ctx, p.ActionID, update); err != nil {
		return fmt.Errorf("failed to update action %s: %w", p.ActionID.Hex(), err)
	}

	if havePayload {
		token := payload.Token
		if payload.IsNative {
			token = model.NativeToken
		}
		refreshPrice(ctx, deps, token, ev.BlockTime)
	}
	return nil
}

func refreshPrice(ctx context.Context, deps Deps, token common.Address, at time.Time) {
	tuple, err := deps.Reader.ReadPrice(ctx, token)
	if err != nil {
		deps.readFailed(err, "keep stored price", zap.String("token", token.Hex()))
		return
	}

	price := model.Price{Token: token, Price: tuple.Price, Timestamp: unixTime(tuple.Timestamp), UpdatedAt: at}
	if !tuple.Valid || !price.Acceptable() {
		deps.Logger.Debug("Ignoring invalid on-chain price", zap.String("token", token.Hex()))
		return
	}
	if err := deps.Store.UpsertPrice(ctx, price); err != nil {
		deps.Logger.Error("Failed to store refreshed price", zap.String("token", token.Hex()), zap.Error(err))
	}
}

func HandlePositionUpdated(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.PositionUpdated
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return deps.Store.UpsertPosition(ctx, model.Position{
		User:         p.User,
		Token:        p.Token,
		PositionHash: p.PositionHash,
		UpdatedAt:    ev.BlockTime,
	})
}

func HandlePriceUpdated(ctx context.Context, ev events.ChainEvent, deps Deps) error {
	var p events.PriceUpdated
	if err := ev.Decode(&p); err != nil {
		return err
	}

	price := model.Price{Token: p.Token, Price: p.Price, Timestamp: unixTime(p.Timestamp), UpdatedAt: ev.BlockTime}
	if !price.Acceptable() {
		deps.Logger.Warn("Ignoring non-positive price", zap.String("token", p.Token.Hex()))
		return nil
	}
	return deps.Store.UpsertPrice(ctx, price)
}

func upsertLiquidity(ctx context.Context, deps Deps, token common.Address, deposited, reserved, borrowed *big.Int, at time.Time) error {
	return deps.Store.UpsertLiquidity(ctx, model.Liquidity{
		Token:          token,
		TotalDeposited: orZero(deposited),
		TotalReserved:  orZero(reserved),
		TotalBorrowed:  orZero(borrowed),
		UpdatedAt:      at,
	})
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func unixTime(v *big.Int) time.Time {
	if v == nil || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
