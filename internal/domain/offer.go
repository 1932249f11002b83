package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OfferKind says which side of the trade the offer's creator takes.
type OfferKind uint8

const (
	// OfferBuy: the creator pays for the pre-market asset.
	OfferBuy OfferKind = 0
	// OfferSell: the creator promises to deliver the pre-market asset.
	OfferSell OfferKind = 1
)

// Valid reports whether k is a supported kind.
func (k OfferKind) Valid() bool {
	return k == OfferBuy || k == OfferSell
}

func (k OfferKind) String() string {
	switch k {
	case OfferBuy:
		return "buy"
	case OfferSell:
		return "sell"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseOfferKind accepts "buy"/"sell" in any case.
func ParseOfferKind(s string) (OfferKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return OfferBuy, nil
	case "sell":
		return OfferSell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidOfferKind, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OfferKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrInvalidOfferKind
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OfferKind) UnmarshalText(text []byte) error {
	parsed, err := ParseOfferKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// OfferStatus tracks the offer lifecycle. It only moves forward.
type OfferStatus string

const (
	OfferStatusOpen      OfferStatus = "open"
	OfferStatusFilled    OfferStatus = "filled"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s OfferStatus) Terminal() bool {
	return s == OfferStatusFilled || s == OfferStatusCancelled
}

// Offer is a standing proposal to buy or sell a pre-market asset at a fixed
// amount and value. Escrow is the creator's deposit still held for the offer.
type Offer struct {
	ID           uint64
	Kind         OfferKind
	AssetID      AssetID
	Amount       *big.Int
	Value        *big.Int
	PaymentAsset Asset
	Creator      common.Address
	Status       OfferStatus
	FilledAmount *big.Int
	Escrow       *big.Int
	CreatedAt    time.Time
	ClosedAt     *time.Time
}

// Clone returns a deep copy so callers can mutate the result freely.
func (o Offer) Clone() Offer {
	out := o
	out.Amount = cloneInt(o.Amount)
	out.Value = cloneInt(o.Value)
	out.FilledAmount = cloneInt(o.FilledAmount)
	out.Escrow = cloneInt(o.Escrow)
	if o.ClosedAt != nil {
		t := *o.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// OfferFilter narrows offer listings. Zero-valued fields are ignored.
type OfferFilter struct {
	Status  OfferStatus
	AssetID *AssetID
	Creator *common.Address
	// ClosedBefore keeps only terminal offers closed strictly before it.
	ClosedBefore *time.Time
	ListOpts
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
