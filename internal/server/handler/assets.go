package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// AssetService is the slice of the engine the asset endpoints need.
type AssetService interface {
	RegisterAsset(ctx context.Context, call domain.Call, name string, window time.Duration) (domain.PreMarketAsset, error)
	OpenSettlement(ctx context.Context, call domain.Call, assetID domain.AssetID, deliverable common.Address) (domain.PreMarketAsset, error)
	SetPaymentAsset(ctx context.Context, call domain.Call, asset domain.Asset, allowed bool) error
	Asset(ctx context.Context, id domain.AssetID) (domain.PreMarketAsset, bool, error)
	Assets(ctx context.Context, opts domain.ListOpts) ([]domain.PreMarketAsset, error)
	PaymentAssets(ctx context.Context) ([]domain.Asset, error)
}

// AssetHandler serves the token registry and the payment whitelist.
type AssetHandler struct {
	svc    AssetService
	logger *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(svc AssetService, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{svc: svc, logger: logHandler(logger, "assets")}
}

type registerAssetRequest struct {
	Name string `json:"name"`
	// SettlementWindow is a Go duration such as "72h".
	SettlementWindow string `json:"settlement_window"`
}

// RegisterAsset registers a pre-market asset. Admin only.
// POST /api/assets
func (h *AssetHandler) RegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req registerAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	window, err := time.ParseDuration(req.SettlementWindow)
	if err != nil {
		badRequest(w, "settlement_window: %s", err.Error())
		return
	}
	call, err := callFrom(r, "")
	if err != nil {
		writeCallError(w, err)
		return
	}

	asset, err := h.svc.RegisterAsset(r.Context(), call, req.Name, window)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAssetView(asset))
}

type openSettlementRequest struct {
	DeliverableAsset string `json:"deliverable_asset"`
}

// OpenSettlement binds the deliverable token and starts every order's
// countdown. Admin only.
// POST /api/assets/{id}/open
func (h *AssetHandler) OpenSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := parseAssetID("id", r.PathValue("id"))
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	var req openSettlementRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	token, err := parseAddress("deliverable_asset", req.DeliverableAsset)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	call, err := callFrom(r, "")
	if err != nil {
		writeCallError(w, err)
		return
	}

	asset, err := h.svc.OpenSettlement(r.Context(), call, id, token)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAssetView(asset))
}

// GetAsset returns one registered asset.
// GET /api/assets/{id}
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := parseAssetID("id", r.PathValue("id"))
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	asset, found, err := h.svc.Asset(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "asset not registered", "UnknownAsset")
		return
	}
	writeJSON(w, http.StatusOK, newAssetView(asset))
}

// ListAssets lists registered assets.
// GET /api/assets
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	assets, err := h.svc.Assets(r.Context(), opts)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(assets, opts, newAssetView))
}

type paymentAssetRequest struct {
	Asset   string `json:"asset"`
	Allowed *bool  `json:"allowed"`
}

// SetPaymentAsset adds or removes a whitelisted payment asset. Admin only.
// PUT /api/payment-assets
func (h *AssetHandler) SetPaymentAsset(w http.ResponseWriter, r *http.Request) {
	var req paymentAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	asset, err := domain.ParseAsset(req.Asset)
	if err != nil {
		badRequest(w, "asset: %s", err.Error())
		return
	}
	if req.Allowed == nil {
		badRequest(w, "allowed is required")
		return
	}
	call, err := callFrom(r, "")
	if err != nil {
		writeCallError(w, err)
		return
	}

	if err := h.svc.SetPaymentAsset(r.Context(), call, asset, *req.Allowed); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset.String(), "allowed": *req.Allowed})
}

// ListPaymentAssets returns the payment whitelist.
// GET /api/payment-assets
func (h *AssetHandler) ListPaymentAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.svc.PaymentAssets(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}
