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

// CreateOfferRequest describes a new offer. The referenced asset does not
// have to be registered yet.
type CreateOfferRequest struct {
	Kind         domain.OfferKind
	AssetID      domain.AssetID
	Amount       *big.Int
	Value        *big.Int
	PaymentAsset domain.Asset
}

// CreateOffer escrows req.Value from the caller and posts a new open offer.
func (e *Engine) CreateOffer(ctx context.Context, call domain.Call, req CreateOfferRequest) (domain.Offer, error) {
	var offer domain.Offer
	err := e.mutate(ctx, "create_offer", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		if !req.Kind.Valid() {
			return nil, domain.ErrInvalidOfferKind
		}
		if req.Amount == nil || req.Amount.Sign() <= 0 || req.Value == nil || req.Value.Sign() <= 0 {
			return nil, domain.ErrZeroAmount
		}
		allowed, err := tx.PaymentAssetAllowed(ctx, req.PaymentAsset)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, domain.ErrAssetNotWhitelisted
		}

		if err := deposit(ctx, tx.Gateway(), call, req.PaymentAsset, req.Value); err != nil {
			return nil, err
		}

		id, err := tx.NextOfferID(ctx)
		if err != nil {
			return nil, err
		}
		offer = domain.Offer{
			ID:           id,
			Kind:         req.Kind,
			AssetID:      req.AssetID,
			Amount:       new(big.Int).Set(req.Amount),
			Value:        new(big.Int).Set(req.Value),
			PaymentAsset: req.PaymentAsset,
			Creator:      call.Caller,
			Status:       domain.OfferStatusOpen,
			FilledAmount: new(big.Int),
			Escrow:       new(big.Int).Set(req.Value),
			CreatedAt:    now,
		}
		if err := tx.CreateOffer(ctx, offer); err != nil {
			return nil, err
		}

		return []domain.Event{newEvent(domain.EventOfferCreated, now,
			"offer_id", idString(id),
			"kind", offer.Kind.String(),
			"asset_id", offer.AssetID.Hex(),
			"amount", offer.Amount.String(),
			"value", offer.Value.String(),
			"payment_asset", offer.PaymentAsset.String(),
			"creator", offer.Creator.Hex(),
		)}, nil
	})
	if err != nil {
		return domain.Offer{}, fmt.Errorf("engine: create offer: %w", err)
	}

	e.logger.InfoContext(ctx, "offer created",
		slog.Uint64("offer_id", offer.ID),
		slog.String("kind", offer.Kind.String()),
		slog.String("creator", offer.Creator.Hex()),
	)
	return offer, nil
}

// FulfillOffer accepts an open offer. The caller deposits the matching value
// and becomes the counterparty; the offer is filled and a new open order is
// created in the same unit of work.
func (e *Engine) FulfillOffer(ctx context.Context, call domain.Call, offerID uint64) (domain.Order, error) {
	var order domain.Order
	err := e.mutate(ctx, "fulfill_offer", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		offer, err := getOffer(ctx, tx, offerID)
		if err != nil {
			return nil, err
		}
		if offer.Status != domain.OfferStatusOpen {
			return nil, domain.ErrInvalidOfferStatus
		}
		if call.Caller == offer.Creator {
			return nil, domain.ErrSelfFill
		}
		// An order created past the deadline could be forfeited at once.
		asset, err := settlementAsset(ctx, tx, offer.AssetID)
		if err != nil {
			return nil, err
		}
		if asset != nil {
			if deadline, _ := asset.Deadline(); now.After(deadline) {
				return nil, domain.ErrDeadlineExceeded
			}
		}

		if err := deposit(ctx, tx.Gateway(), call, offer.PaymentAsset, offer.Value); err != nil {
			return nil, err
		}

		closedAt := now
		offer.Status = domain.OfferStatusFilled
		offer.FilledAmount = new(big.Int).Set(offer.Amount)
		offer.Escrow = new(big.Int)
		offer.ClosedAt = &closedAt
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return nil, err
		}

		id, err := tx.NextOrderID(ctx)
		if err != nil {
			return nil, err
		}
		order = domain.Order{
			ID:           id,
			OfferID:      offer.ID,
			AssetID:      offer.AssetID,
			Amount:       new(big.Int).Set(offer.Amount),
			Value:        new(big.Int).Set(offer.Value),
			PaymentAsset: offer.PaymentAsset,
			Status:       domain.OrderStatusOpen,
			Escrow:       orderEscrow(offer.Value),
			CreatedAt:    now,
		}
		if offer.Kind == domain.OfferSell {
			order.Seller, order.Buyer = offer.Creator, call.Caller
		} else {
			order.Buyer, order.Seller = offer.Creator, call.Caller
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return nil, err
		}

		return []domain.Event{
			newEvent(domain.EventOfferFilled, now,
				"offer_id", idString(offer.ID),
				"filler", call.Caller.Hex(),
				"filled_amount", offer.FilledAmount.String(),
			),
			newEvent(domain.EventOrderCreated, now,
				"order_id", idString(order.ID),
				"offer_id", idString(offer.ID),
				"asset_id", order.AssetID.Hex(),
				"buyer", order.Buyer.Hex(),
				"seller", order.Seller.Hex(),
				"amount", order.Amount.String(),
				"value", order.Value.String(),
				"escrow", order.Escrow.String(),
			),
		}, nil
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: fulfill offer %d: %w", offerID, err)
	}

	e.logger.InfoContext(ctx, "offer filled",
		slog.Uint64("offer_id", offerID),
		slog.Uint64("order_id", order.ID),
		slog.String("buyer", order.Buyer.Hex()),
		slog.String("seller", order.Seller.Hex()),
	)
	return order, nil
}

// CancelOffer withdraws an open offer and refunds its creator's deposit.
// Only the creator may cancel.
func (e *Engine) CancelOffer(ctx context.Context, call domain.Call, offerID uint64) (domain.Offer, error) {
	var offer domain.Offer
	err := e.mutate(ctx, "cancel_offer", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		var err error
		offer, err = getOffer(ctx, tx, offerID)
		if err != nil {
			return nil, err
		}
		if offer.Status != domain.OfferStatusOpen {
			return nil, domain.ErrInvalidOfferStatus
		}
		if call.Caller != offer.Creator {
			return nil, domain.ErrUnauthorized
		}

		if err := release(ctx, tx.Gateway(), offer.PaymentAsset, offer.Creator, offer.Escrow); err != nil {
			return nil, err
		}
		refunded := offer.Escrow

		closedAt := now
		offer.Status = domain.OfferStatusCancelled
		offer.Escrow = new(big.Int)
		offer.ClosedAt = &closedAt
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return nil, err
		}

		return []domain.Event{newEvent(domain.EventOfferCancelled, now,
			"offer_id", idString(offer.ID),
			"creator", offer.Creator.Hex(),
			"refunded", refunded.String(),
		)}, nil
	})
	if err != nil {
		return domain.Offer{}, fmt.Errorf("engine: cancel offer %d: %w", offerID, err)
	}

	e.logger.InfoContext(ctx, "offer cancelled", slog.Uint64("offer_id", offerID))
	return offer, nil
}

// Offer returns the offer with the given id, in any status.
func (e *Engine) Offer(ctx context.Context, id uint64) (domain.Offer, error) {
	offer, err := getOffer(ctx, e.store, id)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("engine: get offer %d: %w", id, err)
	}
	return offer, nil
}

// Offers lists offers matching filter.
func (e *Engine) Offers(ctx context.Context, filter domain.OfferFilter) ([]domain.Offer, error) {
	offers, err := e.store.ListOffers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("engine: list offers: %w", err)
	}
	return offers, nil
}

func getOffer(ctx context.Context, r domain.Reader, id uint64) (domain.Offer, error) {
	offer, err := r.GetOffer(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return offer, err
}
