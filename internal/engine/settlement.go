package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// SettleFilled completes an open order by delivery. The seller calls it
// after approving the engine for Amount of the deliverable asset; the asset
// moves to the buyer and the whole escrow (proceeds plus the returned bond)
// is released to the seller. It is allowed up to and including the deadline.
func (e *Engine) SettleFilled(ctx context.Context, call domain.Call, orderID uint64) (domain.Order, error) {
	var order domain.Order
	err := e.mutate(ctx, "settle_filled", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		var err error
		order, err = getOrder(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		if order.Status != domain.OrderStatusOpen {
			return nil, domain.ErrInvalidOrderStatus
		}
		asset, err := settlementAsset(ctx, tx, order.AssetID)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, domain.ErrSettlementNotOpen
		}
		deadline, _ := asset.Deadline()
		if now.After(deadline) {
			return nil, domain.ErrDeadlineExceeded
		}
		if call.Caller != order.Seller {
			return nil, domain.ErrUnauthorized
		}

		gw := tx.Gateway()
		if err := deliver(ctx, gw, *asset.DeliverableAsset, order.Seller, order.Buyer, order.Amount); err != nil {
			return nil, err
		}
		paid := new(big.Int).Set(order.Escrow)
		if err := payoutSettleFilled(ctx, gw, &order); err != nil {
			return nil, err
		}

		settledAt := now
		order.Status = domain.OrderStatusSettleFilled
		order.SettledAt = &settledAt
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return nil, err
		}

		return []domain.Event{newEvent(domain.EventOrderSettleFilled, now,
			"order_id", idString(order.ID),
			"asset_id", order.AssetID.Hex(),
			"deliverable_asset", asset.DeliverableAsset.Hex(),
			"delivered", order.Amount.String(),
			"buyer", order.Buyer.Hex(),
			"seller", order.Seller.Hex(),
			"paid_to_seller", paid.String(),
		)}, nil
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: settle filled %d: %w", orderID, err)
	}

	e.logger.InfoContext(ctx, "order settled by delivery",
		slog.Uint64("order_id", orderID),
		slog.String("seller", order.Seller.Hex()),
	)
	return order, nil
}

// SettleCancelled resolves an open order whose deadline has passed without
// delivery. Anyone may call it: the whole escrow goes to the buyer, so the
// seller's bond is forfeited.
func (e *Engine) SettleCancelled(ctx context.Context, call domain.Call, orderID uint64) (domain.Order, error) {
	var order domain.Order
	err := e.mutate(ctx, "settle_cancelled", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		var err error
		order, err = getOrder(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		if order.Status != domain.OrderStatusOpen {
			return nil, domain.ErrInvalidOrderStatus
		}
		asset, err := settlementAsset(ctx, tx, order.AssetID)
		if err != nil {
			return nil, err
		}
		if asset == nil {
			return nil, domain.ErrDeadlineNotReached
		}
		deadline, _ := asset.Deadline()
		if !now.After(deadline) {
			return nil, domain.ErrDeadlineNotReached
		}

		paid := new(big.Int).Set(order.Escrow)
		if err := payoutSettleCancelled(ctx, tx.Gateway(), &order); err != nil {
			return nil, err
		}

		settledAt := now
		order.Status = domain.OrderStatusSettleCancelled
		order.SettledAt = &settledAt
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return nil, err
		}

		return []domain.Event{newEvent(domain.EventOrderSettleCancelled, now,
			"order_id", idString(order.ID),
			"asset_id", order.AssetID.Hex(),
			"buyer", order.Buyer.Hex(),
			"seller", order.Seller.Hex(),
			"paid_to_buyer", paid.String(),
			"forfeited_bond", order.Value.String(),
			"triggered_by", call.Caller.Hex(),
		)}, nil
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: settle cancelled %d: %w", orderID, err)
	}

	e.logger.InfoContext(ctx, "order forfeited to buyer",
		slog.Uint64("order_id", orderID),
		slog.String("buyer", order.Buyer.Hex()),
		slog.String("triggered_by", call.Caller.Hex()),
	)
	return order, nil
}

// CancelOrder moves an open order to ORDER_CANCELLED and refunds both
// deposits in full. The admin cancels immediately; otherwise buyer and seller
// must both ask, and the order cancels on the second request. Cancellation is
// refused once the deadline has passed, since the buyer is then owed the
// seller's bond.
func (e *Engine) CancelOrder(ctx context.Context, call domain.Call, orderID uint64) (domain.Order, error) {
	var order domain.Order
	err := e.mutate(ctx, "cancel_order", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		var err error
		order, err = getOrder(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		if order.Status != domain.OrderStatusOpen {
			return nil, domain.ErrInvalidOrderStatus
		}
		asset, err := settlementAsset(ctx, tx, order.AssetID)
		if err != nil {
			return nil, err
		}
		if asset != nil {
			if deadline, _ := asset.Deadline(); now.After(deadline) {
				return nil, domain.ErrDeadlineExceeded
			}
		}

		switch {
		case call.Caller == e.admin:
			order.BuyerCancel, order.SellerCancel = true, true
		case call.Caller == order.Buyer || call.Caller == order.Seller:
			if call.Caller == order.Buyer {
				order.BuyerCancel = true
			}
			if call.Caller == order.Seller {
				order.SellerCancel = true
			}
		default:
			return nil, domain.ErrUnauthorized
		}

		if !order.BuyerCancel || !order.SellerCancel {
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return nil, err
			}
			return []domain.Event{newEvent(domain.EventOrderCancelRequested, now,
				"order_id", idString(order.ID),
				"requested_by", call.Caller.Hex(),
			)}, nil
		}

		if err := payoutOrderCancelled(ctx, tx.Gateway(), &order); err != nil {
			return nil, err
		}
		settledAt := now
		order.Status = domain.OrderStatusOrderCancelled
		order.SettledAt = &settledAt
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return nil, err
		}

		return []domain.Event{newEvent(domain.EventOrderCancelled, now,
			"order_id", idString(order.ID),
			"buyer", order.Buyer.Hex(),
			"seller", order.Seller.Hex(),
			"refunded_each", order.Value.String(),
			"cancelled_by", call.Caller.Hex(),
		)}, nil
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: cancel order %d: %w", orderID, err)
	}

	e.logger.InfoContext(ctx, "order cancel processed",
		slog.Uint64("order_id", orderID),
		slog.String("status", string(order.Status)),
	)
	return order, nil
}

// Order returns the order with id together with its settlement deadline.
func (e *Engine) Order(ctx context.Context, id uint64) (domain.OrderView, error) {
	order, err := getOrder(ctx, e.store, id)
	if err != nil {
		return domain.OrderView{}, fmt.Errorf("engine: get order %d: %w", id, err)
	}
	views, err := e.views(ctx, []domain.Order{order})
	if err != nil {
		return domain.OrderView{}, fmt.Errorf("engine: get order %d: %w", id, err)
	}
	return views[0], nil
}

// Orders lists orders matching filter with their settlement deadlines.
func (e *Engine) Orders(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderView, error) {
	orders, err := e.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("engine: list orders: %w", err)
	}
	views, err := e.views(ctx, orders)
	if err != nil {
		return nil, fmt.Errorf("engine: list orders: %w", err)
	}
	return views, nil
}

// EscrowBalance returns the value currently locked for an order.
func (e *Engine) EscrowBalance(ctx context.Context, orderID uint64) (*big.Int, error) {
	order, err := getOrder(ctx, e.store, orderID)
	if err != nil {
		return nil, fmt.Errorf("engine: escrow balance %d: %w", orderID, err)
	}
	return new(big.Int).Set(order.Escrow), nil
}

// ExpiredOrders returns up to limit open orders with ids above afterID whose
// settlement deadline has passed, oldest order first. These can be resolved
// with SettleCancelled.
func (e *Engine) ExpiredOrders(ctx context.Context, afterID uint64, limit int) ([]domain.OrderView, error) {
	orders, err := e.store.ListOrders(ctx, domain.OrderFilter{Status: domain.OrderStatusOpen})
	if err != nil {
		return nil, fmt.Errorf("engine: list expired orders: %w", err)
	}
	views, err := e.views(ctx, orders)
	if err != nil {
		return nil, fmt.Errorf("engine: list expired orders: %w", err)
	}

	now := e.now()
	var expired []domain.OrderView
	for _, v := range views {
		if v.ID <= afterID || v.SettleDeadline == nil || !now.After(*v.SettleDeadline) {
			continue
		}
		expired = append(expired, v)
		if limit > 0 && len(expired) == limit {
			break
		}
	}
	return expired, nil
}

// views attaches each order's settlement deadline, loading every referenced
// asset once.
func (e *Engine) views(ctx context.Context, orders []domain.Order) ([]domain.OrderView, error) {
	assets := make(map[domain.AssetID]*domain.PreMarketAsset)
	out := make([]domain.OrderView, 0, len(orders))
	for _, o := range orders {
		asset, seen := assets[o.AssetID]
		if !seen {
			var err error
			asset, err = settlementAsset(ctx, e.store, o.AssetID)
			if err != nil {
				return nil, err
			}
			assets[o.AssetID] = asset
		}

		view := domain.OrderView{Order: o}
		if asset != nil {
			deadline, _ := asset.Deadline()
			view.SettleDeadline = &deadline
		}
		out = append(out, view)
	}
	return out, nil
}

// settlementAsset returns the asset behind an order when its settlement has
// opened, or nil when the asset is unregistered or still unopened.
func settlementAsset(ctx context.Context, r domain.Reader, id domain.AssetID) (*domain.PreMarketAsset, error) {
	asset, err := r.GetAsset(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !asset.SettlementOpen() {
		return nil, nil
	}
	return &asset, nil
}

func getOrder(ctx context.Context, r domain.Reader, id uint64) (domain.Order, error) {
	order, err := r.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, err
}
