package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// OrderService is the slice of the engine the order endpoints need.
type OrderService interface {
	SettleFilled(ctx context.Context, call domain.Call, orderID uint64) (domain.Order, error)
	SettleCancelled(ctx context.Context, call domain.Call, orderID uint64) (domain.Order, error)
	CancelOrder(ctx context.Context, call domain.Call, orderID uint64) (domain.Order, error)
	Order(ctx context.Context, id uint64) (domain.OrderView, error)
	Orders(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderView, error)
	EscrowBalance(ctx context.Context, orderID uint64) (*big.Int, error)
}

// OrderHandler serves order settlement.
type OrderHandler struct {
	svc    OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(svc OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, logger: logHandler(logger, "orders")}
}

type orderTransition func(ctx context.Context, call domain.Call, orderID uint64) (domain.Order, error)

func (h *OrderHandler) transition(w http.ResponseWriter, r *http.Request, fn orderTransition) {
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
	if _, err := fn(r.Context(), call, id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	view, err := h.svc.Order(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(view.Order, view.SettleDeadline))
}

// SettleOrder delivers the tokens and releases the escrow to the seller.
// POST /api/orders/{id}/settle
func (h *OrderHandler) SettleOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.SettleFilled)
}

// ForfeitOrder pays the whole escrow to the buyer after the deadline.
// POST /api/orders/{id}/forfeit
func (h *OrderHandler) ForfeitOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.SettleCancelled)
}

// CancelOrder records the caller's cancellation consent, or cancels outright
// for the admin.
// POST /api/orders/{id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CancelOrder)
}

// GetOrder returns one order with its deadline.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	view, err := h.svc.Order(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(view.Order, view.SettleDeadline))
}

// GetEscrow returns the value locked for an order.
// GET /api/orders/{id}/escrow
func (h *OrderHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	bal, err := h.svc.EscrowBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "escrow": amountString(bal)})
}

// ListOrders lists orders filtered by status, asset_id and party.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		badRequest(w, "%s", err.Error())
		return
	}
	filter := domain.OrderFilter{ListOpts: opts}
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		filter.Status = domain.OrderStatus(strings.ToLower(s))
	}
	if s := q.Get("asset_id"); s != "" {
		id, err := parseAssetID("asset_id", s)
		if err != nil {
			badRequest(w, "%s", err.Error())
			return
		}
		filter.AssetID = &id
	}
	if s := q.Get("party"); s != "" {
		addr, err := parseAddress("party", s)
		if err != nil {
			badRequest(w, "%s", err.Error())
			return
		}
		filter.Party = &addr
	}

	orders, err := h.svc.Orders(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(orders, opts, func(v domain.OrderView) orderView {
		return newOrderView(v.Order, v.SettleDeadline)
	}))
}
