package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus tracks the order lifecycle. Every status except open is terminal.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusSettleFilled    OrderStatus = "settle_filled"
	OrderStatusSettleCancelled OrderStatus = "settle_cancelled"
	OrderStatusOrderCancelled  OrderStatus = "order_cancelled"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusOpen
}

// Order is the escrowed commitment created when an offer is accepted. While
// open, Escrow holds both deposits (2 x Value); it is zero after any terminal
// transition.
type Order struct {
	ID           uint64
	OfferID      uint64
	AssetID      AssetID
	Amount       *big.Int
	Value        *big.Int
	PaymentAsset Asset
	Buyer        common.Address
	Seller       common.Address
	Status       OrderStatus
	Escrow       *big.Int

	// BuyerCancel and SellerCancel record consent to a mutual cancellation.
	BuyerCancel  bool
	SellerCancel bool

	CreatedAt time.Time
	SettledAt *time.Time
}

// Clone returns a deep copy so callers can mutate the result freely.
func (o Order) Clone() Order {
	out := o
	out.Amount = cloneInt(o.Amount)
	out.Value = cloneInt(o.Value)
	out.Escrow = cloneInt(o.Escrow)
	if o.SettledAt != nil {
		t := *o.SettledAt
		out.SettledAt = &t
	}
	return out
}

// IsParty reports whether addr is the order's buyer or seller.
func (o Order) IsParty(addr common.Address) bool {
	return addr == o.Buyer || addr == o.Seller
}

// OrderView is an order together with its lazily computed settlement
// deadline. SettleDeadline is nil until the asset's settlement opens.
type OrderView struct {
	Order
	SettleDeadline *time.Time
}

// OrderFilter narrows order listings. Zero-valued fields are ignored.
type OrderFilter struct {
	Status  OrderStatus
	AssetID *AssetID
	Party   *common.Address
	// ClosedBefore keeps only terminal orders settled strictly before it.
	ClosedBefore *time.Time
	ListOpts
}
