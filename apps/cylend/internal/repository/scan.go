package repository

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Amounts are stored as NUMERIC(78,0) and travel as decimal strings, hashes and
// addresses as 0x-prefixed hex.

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

func nullHash(h *common.Hash) sql.NullString {
	if h == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: h.Hex(), Valid: true}
}

func hashFromNull(s sql.NullString) *common.Hash {
	if !s.Valid {
		return nil
	}
	h := common.HexToHash(s.String)
	return &h
}

func uint32FromNull(v sql.NullInt64) *uint32 {
	if !v.Valid {
		return nil
	}
	u := uint32(v.Int64)
	return &u
}

func nullUint32(v *uint32) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
