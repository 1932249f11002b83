package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Reader exposes every persisted record by id. Records stay readable after a
// terminal transition. Missing records yield ErrNotFound.
type Reader interface {
	GetAsset(ctx context.Context, id AssetID) (PreMarketAsset, error)
	ListAssets(ctx context.Context, opts ListOpts) ([]PreMarketAsset, error)
	PaymentAssetAllowed(ctx context.Context, asset Asset) (bool, error)
	ListPaymentAssets(ctx context.Context) ([]Asset, error)

	GetOffer(ctx context.Context, id uint64) (Offer, error)
	ListOffers(ctx context.Context, filter OfferFilter) ([]Offer, error)

	GetOrder(ctx context.Context, id uint64) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// Tx is one atomic unit of work. Reads inside a Tx see the Tx's own writes
// and lock the rows they touch until the Tx ends.
type Tx interface {
	Reader

	CreateAsset(ctx context.Context, asset PreMarketAsset) error
	UpdateAsset(ctx context.Context, asset PreMarketAsset) error
	SetPaymentAsset(ctx context.Context, asset Asset, allowed bool) error

	// NextOfferID and NextOrderID hand out strictly increasing 1-based ids.
	// An id drawn in a Tx that later fails is not consumed.
	NextOfferID(ctx context.Context) (uint64, error)
	CreateOffer(ctx context.Context, offer Offer) error
	UpdateOffer(ctx context.Context, offer Offer) error

	NextOrderID(ctx context.Context) (uint64, error)
	CreateOrder(ctx context.Context, order Order) error
	UpdateOrder(ctx context.Context, order Order) error

	// Gateway returns an AssetGateway whose movements commit or roll back
	// together with the Tx.
	Gateway() AssetGateway
}

// Store persists pre-market assets, offers, orders and the ledger behind
// them.
type Store interface {
	Reader
	// Atomic runs fn in a single Tx. If fn returns an error every record and
	// balance change it made is discarded.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
