package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// abi unpacking yields loosely typed values; these helpers narrow them

func asHash(v any) (common.Hash, error) {
	switch h := v.(type) {
	case [32]byte:
		return common.Hash(h), nil
	case common.Hash:
		return h, nil
	}
	return common.Hash{}, fmt.Errorf("expected bytes32, got %T", v)
}

func asAddress(v any) (common.Address, error) {
	if a, ok := v.(common.Address); ok {
		return a, nil
	}
	return common.Address{}, fmt.Errorf("expected address, got %T", v)
}

func asBig(v any) (*big.Int, error) {
	if b, ok := v.(*big.Int); ok && b != nil {
		return new(big.Int).Set(b), nil
	}
	return nil, fmt.Errorf("expected uint256, got %T", v)
}

func asBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("expected bool, got %T", v)
}

func asUint8(v any) (uint8, error) {
	if b, ok := v.(uint8); ok {
		return b, nil
	}
	return 0, fmt.Errorf("expected uint8, got %T", v)
}

func asUint32(v any) (uint32, error) {
	if b, ok := v.(uint32); ok {
		return b, nil
	}
	return 0, fmt.Errorf("expected uint32, got %T", v)
}

func asString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

// fields collects the first conversion error so callers can decode a tuple in one pass
type fields struct {
	values []any
	err    error
}

func (f *fields) at(i int) any {
	if f.err != nil {
		return nil
	}
	if i >= len(f.values) {
		f.err = fmt.Errorf("missing output %d of %d", i, len(f.values))
		return nil
	}
	return f.values[i]
}

func (f *fields) hashAt(i int) common.Hash {
	v := f.at(i)
	if f.err != nil {
		return common.Hash{}
	}
	h, err := asHash(v)
	f.err = err
	return h
}

func (f *fields) addressAt(i int) common.Address {
	v := f.at(i)
	if f.err != nil {
		return common.Address{}
	}
	a, err := asAddress(v)
	f.err = err
	return a
}

func (f *fields) bigAt(i int) *big.Int {
	v := f.at(i)
	if f.err != nil {
		return nil
	}
	b, err := asBig(v)
	f.err = err
	return b
}

func (f *fields) boolAt(i int) bool {
	v := f.at(i)
	if f.err != nil {
		return false
	}
	b, err := asBool(v)
	f.err = err
	return b
}

func (f *fields) uint8At(i int) uint8 {
	v := f.at(i)
	if f.err != nil {
		return 0
	}
	b, err := asUint8(v)
	f.err = err
	return b
}

func (f *fields) stringAt(i int) string {
	v := f.at(i)
	if f.err != nil {
		return ""
	}
	s, err := asString(v)
	f.err = err
	return s
}
