package chain

import (
	"fmt"
	"math/big"

	"cylend/apps/cylend/internal/events"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decoder turns raw contract logs of one chain into typed event payloads
type Decoder struct {
	chain    events.Chain
	contract abi.ABI
	kinds    map[common.Hash]events.Kind
}

func NewIngressDecoder(contracts *Contracts) *Decoder {
	return newDecoder(events.ChainCustody, contracts.Ingress, []events.Kind{
		events.KindDepositCreated,
		events.KindEncryptedActionReceived,
		events.KindEncryptedActionProcessed,
		events.KindLiquidityUpdated,
		events.KindWithdrawUnused,
	})
}

func NewCoreDecoder(contracts *Contracts) *Decoder {
	return newDecoder(events.ChainCompute, contracts.Core, []events.Kind{
		events.KindEncryptedActionStored,
		events.KindActionProcessed,
		events.KindPositionUpdated,
		events.KindPriceUpdated,
	})
}

func newDecoder(chain events.Chain, contract abi.ABI, kinds []events.Kind) *Decoder {
	d := &Decoder{chain: chain, contract: contract, kinds: make(map[common.Hash]events.Kind, len(kinds))}
	for _, kind := range kinds {
		d.kinds[contract.Events[string(kind)].ID] = kind
	}
	return d
}

func (d *Decoder) Chain() events.Chain {
	return d.chain
}

// Topics is the topic0 filter matching every event this decoder understands
func (d *Decoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.kinds))
	for topic := range d.kinds {
		topics = append(topics, topic)
	}
	return topics
}

// Decode returns the kind and typed payload of a log. ok is false for logs of
// events this decoder does not handle.
func (d *Decoder) Decode(log types.Log) (kind events.Kind, payload any, ok bool, err error) {
	if len(log.Topics) == 0 {
		return "", nil, false, nil
	}
	kind, ok = d.kinds[log.Topics[0]]
	if !ok {
		return "", nil, false, nil
	}

	event := d.contract.Events[string(kind)]
	values := make(map[string]any)
	if len(log.Data) > 0 {
		if err := d.contract.UnpackIntoMap(values, event.Name, log.Data); err != nil {
			return kind, nil, true, fmt.Errorf("failed to unpack %s data: %w", kind, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return kind, nil, true, fmt.Errorf("%s: expected %d indexed topics, got %d", kind, len(indexed), len(log.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return kind, nil, true, fmt.Errorf("failed to parse %s topics: %w", kind, err)
	}

	payload, err = build(kind, values)
	if err != nil {
		return kind, nil, true, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return kind, payload, true, nil
}

type named struct {
	values map[string]any
	err    error
}

func (n *named) get(key string) any {
	if n.err != nil {
		return nil
	}
	v, ok := n.values[key]
	if !ok {
		n.err = fmt.Errorf("missing field %q", key)
	}
	return v
}

func (n *named) hash(key string) common.Hash {
	v := n.get(key)
	if n.err != nil {
		return common.Hash{}
	}
	h, err := asHash(v)
	n.err = err
	return h
}

func (n *named) address(key string) common.Address {
	v := n.get(key)
	if n.err != nil {
		return common.Address{}
	}
	a, err := asAddress(v)
	n.err = err
	return a
}

func (n *named) bigInt(key string) *big.Int {
	v := n.get(key)
	if n.err != nil {
		return nil
	}
	b, err := asBig(v)
	n.err = err
	return b
}

func (n *named) flag(key string) bool {
	v := n.get(key)
	if n.err != nil {
		return false
	}
	b, err := asBool(v)
	n.err = err
	return b
}

func build(kind events.Kind, values map[string]any) (any, error) {
	n := &named{values: values}
	var payload any

	switch kind {
	case events.KindDepositCreated:
		payload = events.DepositCreated{
			DepositID: n.hash("depositId"),
			Depositor: n.address("depositor"),
			Token:     n.address("token"),
			Amount:    n.bigInt("amount"),
			IsNative:  n.flag("isNative"),
		}
	case events.KindEncryptedActionReceived:
		payload = events.EncryptedActionReceived{EncryptedDataHash: n.hash("encryptedDataHash")}
	case events.KindEncryptedActionProcessed:
		payload = events.EncryptedActionProcessed{EncryptedDataHash: n.hash("encryptedDataHash")}
	case events.KindLiquidityUpdated:
		payload = events.LiquidityUpdated{
			Token:          n.address("token"),
			TotalDeposited: n.bigInt("totalDeposited"),
			TotalReserved:  n.bigInt("totalReserved"),
			TotalBorrowed:  n.bigInt("totalBorrowed"),
		}
	case events.KindWithdrawUnused:
		payload = events.WithdrawUnused{
			DepositID: n.hash("depositId"),
			Depositor: n.address("depositor"),
			Token:     n.address("token"),
			Amount:    n.bigInt("amount"),
		}
	case events.KindEncryptedActionStored:
		p := events.EncryptedActionStored{
			ActionID:     n.hash("actionId"),
			OriginRouter: n.hash("originRouter"),
		}
		if v := n.get("originDomain"); n.err == nil {
			p.OriginDomain, n.err = asUint32(v)
		}
		payload = p
	case events.KindActionProcessed:
		p := events.ActionProcessed{ActionID: n.hash("actionId")}
		if v := n.get("actionType"); n.err == nil {
			p.ActionType, n.err = asUint8(v)
		}
		payload = p
	case events.KindPositionUpdated:
		payload = events.PositionUpdated{
			User:         n.address("user"),
			Token:        n.address("token"),
			PositionHash: n.hash("positionHash"),
		}
	case events.KindPriceUpdated:
		payload = events.PriceUpdated{
			Token:     n.address("token"),
			Price:     n.bigInt("price"),
			Timestamp: n.bigInt("timestamp"),
		}
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}

	if n.err != nil {
		return nil, n.err
	}
	return payload, nil
}
