package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// responder holds the JSON helpers every handler shares
type responder struct {
	logger *zap.Logger
}

// writeJSONResponse writes a JSON response with the specified status code
func (h responder) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h responder) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	h.writeJSONResponse(w, statusCode, errorResponse)
}

// parseHash accepts only a 0x-prefixed 32-byte hex string
func parseHash(s string) (common.Hash, bool) {
	if len(s) != 2+2*common.HashLength || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return common.Hash{}, false
	}
	b, err := hexutil.Decode(strings.ToLower(s))
	if err != nil {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
