package chain

import (
	"context"
	"fmt"

	"cylend/apps/cylend/internal/model"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EVMReader reads the ingress contract on the custody chain and the core contract on
// the compute chain through plain eth_call.
type EVMReader struct {
	custody  ethereum.ContractCaller
	compute  ethereum.ContractCaller
	ingress  common.Address
	core     common.Address
	ingressA abi.ABI
	coreA    abi.ABI
}

var _ Reader = (*EVMReader)(nil)

func NewEVMReader(custody, compute ethereum.ContractCaller, ingress, core common.Address, contracts *Contracts) *EVMReader {
	return &EVMReader{
		custody:  custody,
		compute:  compute,
		ingress:  ingress,
		core:     core,
		ingressA: contracts.Ingress,
		coreA:    contracts.Core,
	}
}

func call(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call failed: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result from %s", method)
	}

	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

func (r *EVMReader) ReadLiquidity(ctx context.Context, token common.Address) (LiquidityTuple, error) {
	const op = "getLiquidityInfo"
	values, err := call(ctx, r.custody, r.ingressA, r.ingress, op, token)
	if err != nil {
		return LiquidityTuple{}, readErr(op, token.Hex(), err)
	}

	f := fields{values: values}
	l := LiquidityTuple{
		TotalDeposited: f.bigAt(0),
		TotalReserved:  f.bigAt(1),
		TotalBorrowed:  f.bigAt(2),
	}
	if f.err != nil {
		return LiquidityTuple{}, readErr(op, token.Hex(), f.err)
	}
	return l, nil
}

func (r *EVMReader) ReadActionIDByCiphertextHash(ctx context.Context, hash common.Hash) (common.Hash, error) {
	const op = "getActionIdByCiphertextHash"
	values, err := call(ctx, r.custody, r.ingressA, r.ingress, op, [32]byte(hash))
	if err != nil {
		return common.Hash{}, readErr(op, hash.Hex(), err)
	}

	f := fields{values: values}
	id := f.hashAt(0)
	if f.err != nil {
		return common.Hash{}, readErr(op, hash.Hex(), f.err)
	}
	if id == model.ZeroHash {
		return common.Hash{}, readErr(op, hash.Hex(), fmt.Errorf("no action registered for ciphertext"))
	}
	return id, nil
}

func (r *EVMReader) ReadDepositIDForAction(ctx context.Context, actionID common.Hash) (common.Hash, error) {
	const op = "actionToDepositId"
	values, err := call(ctx, r.custody, r.ingressA, r.ingress, op, [32]byte(actionID))
	if err != nil {
		return common.Hash{}, readErr(op, actionID.Hex(), err)
	}

	f := fields{values: values}
	id := f.hashAt(0)
	if f.err != nil {
		return common.Hash{}, readErr(op, actionID.Hex(), f.err)
	}
	return id, nil
}

func (r *EVMReader) ReadDeposit(ctx context.Context, depositID common.Hash) (DepositRecord, error) {
	const op = "deposits"
	values, err := call(ctx, r.custody, r.ingressA, r.ingress, op, [32]byte(depositID))
	if err != nil {
		return DepositRecord{}, readErr(op, depositID.Hex(), err)
	}

	f := fields{values: values}
	d := DepositRecord{
		Depositor: f.addressAt(0),
		Token:     f.addressAt(1),
		Amount:    f.bigAt(2),
		IsNative:  f.boolAt(3),
		Released:  f.boolAt(4),
	}
	if f.err != nil {
		return DepositRecord{}, readErr(op, depositID.Hex(), f.err)
	}
	if d.Depositor == (common.Address{}) {
		return DepositRecord{}, readErr(op, depositID.Hex(), fmt.Errorf("deposit does not exist"))
	}
	return d, nil
}

func (r *EVMReader) ReadProcessedPayload(ctx context.Context, actionID common.Hash) (ProcessedPayload, error) {
	const op = "processedPayloads"
	values, err := call(ctx, r.compute, r.coreA, r.core, op, [32]byte(actionID))
	if err != nil {
		return ProcessedPayload{}, readErr(op, actionID.Hex(), err)
	}

	f := fields{values: values}
	p := ProcessedPayload{
		ActionType: model.ActionType(f.uint8At(0)),
		Token:      f.addressAt(1),
		Amount:     f.bigAt(2),
		OnBehalf:   f.addressAt(3),
		DepositID:  f.hashAt(4),
		IsNative:   f.boolAt(5),
		Memo:       f.stringAt(6),
	}
	if f.err != nil {
		return ProcessedPayload{}, readErr(op, actionID.Hex(), f.err)
	}
	return p, nil
}

func (r *EVMReader) ReadPrice(ctx context.Context, token common.Address) (PriceTuple, error) {
	const op = "prices"
	values, err := call(ctx, r.compute, r.coreA, r.core, op, token)
	if err != nil {
		return PriceTuple{}, readErr(op, token.Hex(), err)
	}

	f := fields{values: values}
	p := PriceTuple{
		Price:     f.bigAt(0),
		Timestamp: f.bigAt(1),
		Valid:     f.boolAt(2),
	}
	if f.err != nil {
		return PriceTuple{}, readErr(op, token.Hex(), f.err)
	}
	return p, nil
}

func (r *EVMReader) ReadActionProcessed(ctx context.Context, actionID common.Hash) (bool, error) {
	return readActionProcessed(ctx, r.compute, r.coreA, r.core, actionID)
}

func readActionProcessed(ctx context.Context, caller ethereum.ContractCaller, core abi.ABI, to common.Address, actionID common.Hash) (bool, error) {
	const op = "encryptedActions"
	data, err := core.Pack(op, [32]byte(actionID))
	if err != nil {
		return false, readErr(op, actionID.Hex(), err)
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return false, readErr(op, actionID.Hex(), err)
	}

	result := make(map[string]any)
	if err := core.UnpackIntoMap(result, op, out); err != nil {
		return false, readErr(op, actionID.Hex(), err)
	}

	processed, err := asBool(result["processed"])
	if err != nil {
		return false, readErr(op, actionID.Hex(), err)
	}
	return processed, nil
}
