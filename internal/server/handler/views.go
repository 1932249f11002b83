package handler

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// Wire shapes. Amounts are decimal strings so clients never lose precision.

type assetView struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	SettlementWindow string     `json:"settlement_window"`
	WindowSeconds    int64      `json:"settlement_window_seconds"`
	DeliverableAsset string     `json:"deliverable_asset,omitempty"`
	OpenedAt         *time.Time `json:"opened_at,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newAssetView(a domain.PreMarketAsset) assetView {
	v := assetView{
		ID:               a.ID.Hex(),
		Name:             a.Name,
		SettlementWindow: a.SettlementWindow.String(),
		WindowSeconds:    int64(a.SettlementWindow / time.Second),
		OpenedAt:         a.OpenedAt,
		CreatedAt:        a.CreatedAt,
	}
	if a.DeliverableAsset != nil {
		v.DeliverableAsset = a.DeliverableAsset.Hex()
	}
	if d, ok := a.Deadline(); ok {
		v.Deadline = &d
	}
	return v
}

type offerView struct {
	ID           uint64     `json:"id"`
	Kind         string     `json:"kind"`
	AssetID      string     `json:"asset_id"`
	Amount       string     `json:"amount"`
	Value        string     `json:"value"`
	PaymentAsset string     `json:"payment_asset"`
	Creator      string     `json:"creator"`
	Status       string     `json:"status"`
	FilledAmount string     `json:"filled_amount"`
	Escrow       string     `json:"escrow"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

func newOfferView(o domain.Offer) offerView {
	return offerView{
		ID:           o.ID,
		Kind:         o.Kind.String(),
		AssetID:      o.AssetID.Hex(),
		Amount:       amountString(o.Amount),
		Value:        amountString(o.Value),
		PaymentAsset: o.PaymentAsset.String(),
		Creator:      o.Creator.Hex(),
		Status:       string(o.Status),
		FilledAmount: amountString(o.FilledAmount),
		Escrow:       amountString(o.Escrow),
		CreatedAt:    o.CreatedAt,
		ClosedAt:     o.ClosedAt,
	}
}

type orderView struct {
	ID             uint64     `json:"id"`
	OfferID        uint64     `json:"offer_id"`
	AssetID        string     `json:"asset_id"`
	Amount         string     `json:"amount"`
	Value          string     `json:"value"`
	PaymentAsset   string     `json:"payment_asset"`
	Buyer          string     `json:"buyer"`
	Seller         string     `json:"seller"`
	Status         string     `json:"status"`
	Escrow         string     `json:"escrow"`
	BuyerCancel    bool       `json:"buyer_cancel"`
	SellerCancel   bool       `json:"seller_cancel"`
	SettleDeadline *time.Time `json:"settle_deadline,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
}

func newOrderView(o domain.Order, deadline *time.Time) orderView {
	return orderView{
		ID:             o.ID,
		OfferID:        o.OfferID,
		AssetID:        o.AssetID.Hex(),
		Amount:         amountString(o.Amount),
		Value:          amountString(o.Value),
		PaymentAsset:   o.PaymentAsset.String(),
		Buyer:          o.Buyer.Hex(),
		Seller:         o.Seller.Hex(),
		Status:         string(o.Status),
		Escrow:         amountString(o.Escrow),
		BuyerCancel:    o.BuyerCancel,
		SellerCancel:   o.SellerCancel,
		SettleDeadline: deadline,
		CreatedAt:      o.CreatedAt,
		SettledAt:      o.SettledAt,
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// listResponse wraps list results the same way on every endpoint.
type listResponse[T any] struct {
	Items  []T `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newList[S any, T any](items []S, opts domain.ListOpts, conv func(S) T) listResponse[T] {
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, conv(it))
	}
	return listResponse[T]{Items: out, Count: len(out), Limit: opts.Limit, Offset: opts.Offset}
}
