package api

import (
	"net/http"

	"cylend/apps/cylend/internal/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// EntityHandler serves deposits and market state straight from the store
type EntityHandler struct {
	responder
	store store.Store
}

func NewEntityHandler(s store.Store, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{responder: responder{logger: logger}, store: s}
}

// GetDeposit handles GET /api/deposits/{deposit_id}
func (h *EntityHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHash(mux.Vars(r)["deposit_id"])
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_deposit_id", "Deposit id must be a 0x-prefixed 32-byte hex string")
		return
	}

	d, err := h.store.GetDeposit(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get deposit", zap.String("deposit_id", id.Hex()), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve deposit")
		return
	}
	if d == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "deposit_not_found", "Deposit not found")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, newDepositResponse(*d))
}

// ListDeposits handles GET /api/deposits?depositor=0x...
func (h *EntityHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	depositor, ok := parseAddress(r.URL.Query().Get("depositor"))
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_depositor", "Depositor must be a hex address")
		return
	}
	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer")
		return
	}

	deposits, err := h.store.ListDepositsByDepositor(r.Context(), depositor, limit)
	if err != nil {
		h.logger.Error("Failed to list deposits", zap.String("depositor", depositor.Hex()), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to list deposits")
		return
	}

	response := DepositListResponse{Deposits: make([]DepositResponse, 0, len(deposits))}
	for _, d := range deposits {
		response.Deposits = append(response.Deposits, newDepositResponse(d))
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetPosition handles GET /api/positions/{user}/{token}
func (h *EntityHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user, okUser := parseAddress(vars["user"])
	token, okToken := parseAddress(vars["token"])
	if !okUser || !okToken {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_address", "User and token must be hex addresses")
		return
	}

	p, err := h.store.GetPosition(r.Context(), user, token)
	if err != nil {
		h.logger.Error("Failed to get position", zap.String("user", user.Hex()), zap.String("token", token.Hex()), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve position")
		return
	}
	if p == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "position_not_found", "Position not found")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, PositionResponse{
		User:         p.User.Hex(),
		Token:        p.Token.Hex(),
		PositionHash: p.PositionHash.Hex(),
		UpdatedAt:    p.UpdatedAt,
	})
}

// GetLiquidity handles GET /api/liquidity/{token}
func (h *EntityHandler) GetLiquidity(w http.ResponseWriter, r *http.Request) {
	token, ok := parseAddress(mux.Vars(r)["token"])
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_token", "Token must be a hex address")
		return
	}

	l, err := h.store.GetLiquidity(r.Context(), token)
	if err != nil {
		h.logger.Error("Failed to get liquidity", zap.String("token", token.Hex()), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve liquidity")
		return
	}
	if l == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "liquidity_not_found", "Liquidity not found")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, LiquidityResponse{
		Token:          l.Token.Hex(),
		TotalDeposited: decimal(l.TotalDeposited),
		TotalReserved:  decimal(l.TotalReserved),
		TotalBorrowed:  decimal(l.TotalBorrowed),
		UpdatedAt:      l.UpdatedAt,
	})
}

// GetPrice handles GET /api/prices/{token}
func (h *EntityHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	token, ok := parseAddress(mux.Vars(r)["token"])
	if !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_token", "Token must be a hex address")
		return
	}

	p, err := h.store.GetPrice(r.Context(), token)
	if err != nil {
		h.logger.Error("Failed to get price", zap.String("token", token.Hex()), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve price")
		return
	}
	if p == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "price_not_found", "Price not found")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, PriceResponse{
		Token:     p.Token.Hex(),
		Price:     decimal(p.Price),
		Timestamp: p.Timestamp,
		UpdatedAt: p.UpdatedAt,
	})
}
