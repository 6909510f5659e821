package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// WriteBackend is the subset of *ethclient.Client the writer needs
type WriteBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EVMWriter signs processAction calls on the core contract with the owner key
type EVMWriter struct {
	backend      WriteBackend
	core         common.Address
	coreA        abi.ABI
	key          *ecdsa.PrivateKey
	from         common.Address
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger

	// calldata of submitted transactions, kept until inclusion for revert replay
	sent *xsync.Map[common.Hash, []byte]

	// nonceMu is held from nonce lookup until the transaction is sent; nextNonce
	// covers a node whose pending count lags behind our own sends and is reset
	// whenever a receipt never shows up
	nonceMu   sync.Mutex
	nextNonce uint64
}

var _ Writer = (*EVMWriter)(nil)

func NewEVMWriter(backend WriteBackend, core common.Address, contracts *Contracts, privateKeyHex string, timeout time.Duration, logger *zap.Logger) (*EVMWriter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse owner private key: %w", err)
	}

	return &EVMWriter{
		backend:      backend,
		core:         core,
		coreA:        contracts.Core,
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		pollInterval: 2 * time.Second,
		timeout:      timeout,
		logger:       logger,
		sent:         xsync.NewMap[common.Hash, []byte](),
	}, nil
}

// From is the address completions are sent from
func (w *EVMWriter) From() common.Address {
	return w.from
}

func (w *EVMWriter) ReadActionProcessed(ctx context.Context, actionID common.Hash) (bool, error) {
	return readActionProcessed(ctx, w.backend, w.coreA, w.core, actionID)
}

func (w *EVMWriter) SubmitCompletion(ctx context.Context, actionID common.Hash) (common.Hash, error) {
	data, err := w.coreA.Pack("processAction", [32]byte(actionID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack processAction: %w", err)
	}

	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get chain id: %w", err)
	}

	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	// EstimateGas surfaces contract reverts (including "already processed") before signing
	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: w.from, To: &w.core, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	signed, nonce, err := w.signAndSend(ctx, chainID, gasPrice, gas, data)
	if err != nil {
		return common.Hash{}, err
	}
	w.sent.Store(signed.Hash(), data)

	w.logger.Info("Submitted processAction",
		zap.String("action_id", actionID.Hex()),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce))
	return signed.Hash(), nil
}

func (w *EVMWriter) signAndSend(ctx context.Context, chainID, gasPrice *big.Int, gas uint64, data []byte) (*types.Transaction, uint64, error) {
	w.nonceMu.Lock()
	defer w.nonceMu.Unlock()

	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	nonce = max(nonce, w.nextNonce)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &w.core,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return nil, 0, fmt.Errorf("failed to send transaction: %w", err)
	}
	w.nextNonce = nonce + 1
	return signed, nonce, nil
}

// resetNonce makes the next submission take the node's pending nonce as is
func (w *EVMWriter) resetNonce() {
	w.nonceMu.Lock()
	w.nextNonce = 0
	w.nonceMu.Unlock()
}

func (w *EVMWriter) AwaitInclusion(ctx context.Context, txHash common.Hash) (Inclusion, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return w.inclusion(ctx, txHash, receipt), nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			w.sent.Delete(txHash)
			return Inclusion{}, fmt.Errorf("failed to get receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			w.sent.Delete(txHash)
			w.resetNonce()
			return Inclusion{}, fmt.Errorf("waiting for receipt of %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (w *EVMWriter) inclusion(ctx context.Context, txHash common.Hash, receipt *types.Receipt) Inclusion {
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		w.sent.Delete(txHash)
		return Inclusion{Status: InclusionSuccess, BlockNumber: block}
	}

	return Inclusion{Status: InclusionReverted, Reason: w.revertReason(ctx, txHash, receipt), BlockNumber: block}
}

// revertReason replays the call against the parent block; nodes report the reason as a call error
func (w *EVMWriter) revertReason(ctx context.Context, txHash common.Hash, receipt *types.Receipt) string {
	data, ok := w.sent.LoadAndDelete(txHash)
	if !ok || receipt.BlockNumber == nil || receipt.BlockNumber.Sign() == 0 {
		return "execution reverted"
	}

	parent := new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	_, err := w.backend.CallContract(ctx, ethereum.CallMsg{From: w.from, To: &w.core, Data: data}, parent)
	if err == nil {
		return "execution reverted"
	}

	w.logger.Warn("Transaction reverted",
		zap.String("tx_hash", txHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Error(err))
	return err.Error()
}
