package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/premarket/internal/domain"
	"github.com/alanyoungcy/premarket/internal/engine"
)

// OfferService is the slice of the engine the offer endpoints need.
type OfferService interface {
	CreateOffer(ctx context.Context, call domain.Call, req engine.CreateOfferRequest) (domain.Offer, error)
	FulfillOffer(ctx context.Context, call domain.Call, offerID uint64) (domain.Order, error)
	CancelOffer(ctx context.Context, call domain.Call, offerID uint64) (domain.Offer, error)
	Offer(ctx context.Context, id uint64) (domain.Offer, error)
	Offers(ctx context.Context, filter domain.OfferFilter) ([]domain.Offer, error)
}

// OfferHandler serves the offer book.
type OfferHandler struct {
	svc    OfferService
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler.
func NewOfferHandler(svc OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{svc: svc, logger: logHandler(logger, "offers")}
}

type createOfferRequest struct {
	Kind string `json:"kind"`
	// AssetID wins over AssetName when both are set.
	AssetID       string `json:"asset_id"`
	AssetName     string `json:"asset_name"`
	Amount        string `json:"amount"`
	Value         string `json:"value"`
	PaymentAsset  string `json:"payment_asset"`
	AttachedValue string `json:"attached_value"`
}

// CreateOffer posts a new offer and escrows the caller's value.
// POST /api/offers
func (h *OfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var body createOfferRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	req, err := body.toEngine()
	if err != nil {
		if domain.CodeOf(err) != "" {
			writeDomainError(w, h.logger, err)
			return
		}
		badRequest(w, "%s", err.Error())
		return
	}
	call, err := callFrom(r, body.AttachedValue)
	if err != nil {
		writeCallError(w, err)
		return
	}

	offer, err := h.svc.CreateOffer(r.Context(), call, req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOfferView(offer))
}

func (b createOfferRequest) toEngine() (engine.CreateOfferRequest, error) {
	var req engine.CreateOfferRequest
	kind, err := domain.ParseOfferKind(b.Kind)
	if err != nil {
		return req, err
	}
	req.Kind = kind

	switch {
	case b.AssetID != "":
		if req.AssetID, err = parseAssetID("asset_id", b.AssetID); err != nil {
			return req, err
		}
	case b.AssetName != "":
		req.AssetID = domain.AssetIDFromName(b.AssetName)
	default:
		return req, errRequired("asset_id or asset_name")
	}

	if req.Amount, err = parseAmount("amount", b.Amount); err != nil {
		return req, err
	}
	if req.Value, err = parseAmount("value", b.Value); err != nil {
		return req, err
	}
	if req.PaymentAsset, err = domain.ParseAsset(b.PaymentAsset); err != nil {
		return req, err
	}
	return req, nil
}

type attachedRequest struct {
	AttachedValue string `json:"attached_value"`
}

// FulfillOffer accepts an open offer and returns the new order.
// POST /api/offers/{id}/fill
func (h *OfferHandler) FulfillOffer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	var body attachedRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	call, err := callFrom(r, body.AttachedValue)
	if err != nil {
		writeCallError(w, err)
		return
	}

	order, err := h.svc.FulfillOffer(r.Context(), call, id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(order, nil))
}

// CancelOffer withdraws an open offer and refunds its creator.
// POST /api/offers/{id}/cancel
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	call, err := callFrom(r, "")
	if err != nil {
		writeCallError(w, err)
		return
	}

	offer, err := h.svc.CancelOffer(r.Context(), call, id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

// GetOffer returns one offer.
// GET /api/offers/{id}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	offer, err := h.svc.Offer(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferView(offer))
}

// ListOffers lists offers filtered by status, asset_id and creator.
// GET /api/offers
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	filter := domain.OfferFilter{ListOpts: opts}
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		filter.Status = domain.OfferStatus(strings.ToLower(s))
	}
	if s := q.Get("asset_id"); s != "" {
		id, err := parseAssetID("asset_id", s)
		if err != nil {
			badRequest(w, "%s", err.Error())
			return
		}
		filter.AssetID = &id
	}
	if s := q.Get("creator"); s != "" {
		addr, err := parseAddress("creator", s)
		if err != nil {
			badRequest(w, "%s", err.Error())
			return
		}
		filter.Creator = &addr
	}

	offers, err := h.svc.Offers(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(offers, opts, newOfferView))
}
