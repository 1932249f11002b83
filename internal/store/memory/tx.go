package memory

import (
	"context"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// Tx is a unit of work over the Store's state. It is only valid inside the
// Atomic callback that created it.
type Tx struct {
	st   *state
	undo []func()
}

func (tx *Tx) record(fn func()) {
	tx.undo = append(tx.undo, fn)
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// Gateway returns the ledger bound to this unit of work.
func (tx *Tx) Gateway() domain.AssetGateway {
	return &ledger{tx: tx}
}

func (tx *Tx) GetAsset(ctx context.Context, id domain.AssetID) (domain.PreMarketAsset, error) {
	return tx.st.getAsset(id)
}

func (tx *Tx) ListAssets(ctx context.Context, opts domain.ListOpts) ([]domain.PreMarketAsset, error) {
	return tx.st.listAssets(opts), nil
}

func (tx *Tx) PaymentAssetAllowed(ctx context.Context, asset domain.Asset) (bool, error) {
	return tx.st.payment[asset], nil
}

func (tx *Tx) ListPaymentAssets(ctx context.Context) ([]domain.Asset, error) {
	return tx.st.listPaymentAssets(), nil
}

func (tx *Tx) GetOffer(ctx context.Context, id uint64) (domain.Offer, error) {
	return tx.st.getOffer(id)
}

func (tx *Tx) ListOffers(ctx context.Context, f domain.OfferFilter) ([]domain.Offer, error) {
	return tx.st.listOffers(f), nil
}

func (tx *Tx) GetOrder(ctx context.Context, id uint64) (domain.Order, error) {
	return tx.st.getOrder(id)
}

func (tx *Tx) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	return tx.st.listOrders(f), nil
}

func (tx *Tx) CreateAsset(ctx context.Context, a domain.PreMarketAsset) error {
	st := tx.st
	if _, ok := st.assets[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	st.assets[a.ID] = cloneAsset(a)
	st.assetOrder = append(st.assetOrder, a.ID)
	tx.record(func() {
		delete(st.assets, a.ID)
		st.assetOrder = st.assetOrder[:len(st.assetOrder)-1]
	})
	return nil
}

func (tx *Tx) UpdateAsset(ctx context.Context, a domain.PreMarketAsset) error {
	st := tx.st
	prev, ok := st.assets[a.ID]
	if !ok {
		return domain.ErrNotFound
	}
	st.assets[a.ID] = cloneAsset(a)
	tx.record(func() { st.assets[a.ID] = prev })
	return nil
}

func (tx *Tx) SetPaymentAsset(ctx context.Context, asset domain.Asset, allowed bool) error {
	st := tx.st
	prev, had := st.payment[asset]
	if allowed {
		st.payment[asset] = true
	} else {
		delete(st.payment, asset)
	}
	tx.record(func() {
		if had {
			st.payment[asset] = prev
		} else {
			delete(st.payment, asset)
		}
	})
	return nil
}

func (tx *Tx) NextOfferID(ctx context.Context) (uint64, error) {
	st := tx.st
	st.offerSeq++
	tx.record(func() { st.offerSeq-- })
	return st.offerSeq, nil
}

func (tx *Tx) CreateOffer(ctx context.Context, o domain.Offer) error {
	st := tx.st
	if o.ID != uint64(len(st.offers))+1 {
		return domain.ErrAlreadyExists
	}
	st.offers = append(st.offers, o.Clone())
	tx.record(func() { st.offers = st.offers[:len(st.offers)-1] })
	return nil
}

func (tx *Tx) UpdateOffer(ctx context.Context, o domain.Offer) error {
	st := tx.st
	if o.ID == 0 || o.ID > uint64(len(st.offers)) {
		return domain.ErrNotFound
	}
	prev := st.offers[o.ID-1]
	st.offers[o.ID-1] = o.Clone()
	tx.record(func() { st.offers[o.ID-1] = prev })
	return nil
}

func (tx *Tx) NextOrderID(ctx context.Context) (uint64, error) {
	st := tx.st
	st.orderSeq++
	tx.record(func() { st.orderSeq-- })
	return st.orderSeq, nil
}

func (tx *Tx) CreateOrder(ctx context.Context, o domain.Order) error {
	st := tx.st
	if o.ID != uint64(len(st.orders))+1 {
		return domain.ErrAlreadyExists
	}
	st.orders = append(st.orders, o.Clone())
	tx.record(func() { st.orders = st.orders[:len(st.orders)-1] })
	return nil
}

func (tx *Tx) UpdateOrder(ctx context.Context, o domain.Order) error {
	st := tx.st
	if o.ID == 0 || o.ID > uint64(len(st.orders)) {
		return domain.ErrNotFound
	}
	prev := st.orders[o.ID-1]
	st.orders[o.ID-1] = o.Clone()
	tx.record(func() { st.orders[o.ID-1] = prev })
	return nil
}
