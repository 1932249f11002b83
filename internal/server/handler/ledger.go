package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// LedgerHandler exposes the reference ledger behind the asset gateway:
// balances, allowances for the engine and admin credits.
type LedgerHandler struct {
	ledger domain.Ledger
	admin  common.Address
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler. Only admin may mint.
func NewLedgerHandler(ledger domain.Ledger, admin common.Address, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, admin: admin, logger: logHandler(logger, "ledger")}
}

// Balance returns owner's balance of asset and the allowance granted to the
// engine.
// GET /api/ledger/balance?asset=..&owner=..
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset, err := domain.ParseAsset(q.Get("asset"))
	if err != nil {
		badRequest(w, "asset: %s", err.Error())
		return
	}
	owner, err := parseAddress("owner", q.Get("owner"))
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}

	bal, err := h.ledger.BalanceOf(r.Context(), asset, owner)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	resp := map[string]string{
		"asset":   asset.String(),
		"owner":   owner.Hex(),
		"balance": amountString(bal),
	}
	if !asset.IsNative() {
		allowed, err := h.ledger.Allowance(r.Context(), asset, owner)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		resp["allowance"] = amountString(allowed)
	}
	writeJSON(w, http.StatusOK, resp)
}

type approveRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Approve sets how much of asset the engine may pull from the caller.
// POST /api/ledger/approve
func (h *LedgerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	asset, err := domain.ParseAsset(req.Asset)
	if err != nil {
		badRequest(w, "asset: %s", err.Error())
		return
	}
	if asset.IsNative() {
		badRequest(w, "asset: native value is attached to calls, not approved")
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	call, err := callFrom(r, "")
	if err != nil {
		writeCallError(w, err)
		return
	}

	if err := h.ledger.Approve(r.Context(), asset, call.Caller, amount); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     asset.String(),
		"owner":     call.Caller.Hex(),
		"allowance": amount.String(),
	})
}

type mintRequest struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// Mint credits a balance. Admin only.
// POST /api/ledger/mint
func (h *LedgerHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	asset, err := domain.ParseAsset(req.Asset)
	if err != nil {
		badRequest(w, "asset: %s", err.Error())
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	if amount.Sign() == 0 {
		writeDomainError(w, h.logger, domain.ErrZeroAmount)
		return
	}
	call, err := callFrom(r, "")
	if err != nil {
		writeCallError(w, err)
		return
	}
	if call.Caller != h.admin {
		writeDomainError(w, h.logger, domain.ErrUnauthorized)
		return
	}

	if err := h.ledger.Mint(r.Context(), asset, to, amount); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "ledger credited",
		slog.String("asset", asset.String()),
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":  asset.String(),
		"to":     to.Hex(),
		"amount": amount.String(),
	})
}
