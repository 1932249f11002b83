package memory

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

type account struct {
	asset domain.Asset
	owner common.Address
}

type state struct {
	custody common.Address

	assets     map[domain.AssetID]domain.PreMarketAsset
	assetOrder []domain.AssetID
	payment    map[domain.Asset]bool

	// offers[i] has id i+1; ids are dense because failed units undo their
	// sequence bump.
	offers    []domain.Offer
	orders    []domain.Order
	offerSeq  uint64
	orderSeq  uint64
	balances  map[account]*big.Int
	allowance map[account]*big.Int
	rejects   map[common.Address]bool
}

func newState(custody common.Address) *state {
	return &state{
		custody:   custody,
		assets:    make(map[domain.AssetID]domain.PreMarketAsset),
		payment:   make(map[domain.Asset]bool),
		balances:  make(map[account]*big.Int),
		allowance: make(map[account]*big.Int),
		rejects:   make(map[common.Address]bool),
	}
}

func (st *state) getAsset(id domain.AssetID) (domain.PreMarketAsset, error) {
	a, ok := st.assets[id]
	if !ok {
		return domain.PreMarketAsset{}, domain.ErrNotFound
	}
	return cloneAsset(a), nil
}

func (st *state) listAssets(opts domain.ListOpts) []domain.PreMarketAsset {
	out := make([]domain.PreMarketAsset, 0, len(st.assetOrder))
	for _, id := range st.assetOrder {
		a := st.assets[id]
		if !inRange(a.CreatedAt, opts) {
			continue
		}
		out = append(out, cloneAsset(a))
	}
	return paginate(out, opts)
}

func (st *state) getOffer(id uint64) (domain.Offer, error) {
	if id == 0 || id > uint64(len(st.offers)) {
		return domain.Offer{}, domain.ErrNotFound
	}
	return st.offers[id-1].Clone(), nil
}

func (st *state) listOffers(f domain.OfferFilter) []domain.Offer {
	var out []domain.Offer
	for _, o := range st.offers {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.AssetID != nil && o.AssetID != *f.AssetID {
			continue
		}
		if f.Creator != nil && o.Creator != *f.Creator {
			continue
		}
		if f.ClosedBefore != nil && (o.ClosedAt == nil || !o.ClosedAt.Before(*f.ClosedBefore)) {
			continue
		}
		if !inRange(o.CreatedAt, f.ListOpts) {
			continue
		}
		out = append(out, o.Clone())
	}
	return paginate(out, f.ListOpts)
}

func (st *state) getOrder(id uint64) (domain.Order, error) {
	if id == 0 || id > uint64(len(st.orders)) {
		return domain.Order{}, domain.ErrNotFound
	}
	return st.orders[id-1].Clone(), nil
}

func (st *state) listOrders(f domain.OrderFilter) []domain.Order {
	var out []domain.Order
	for _, o := range st.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.AssetID != nil && o.AssetID != *f.AssetID {
			continue
		}
		if f.Party != nil && !o.IsParty(*f.Party) {
			continue
		}
		if f.ClosedBefore != nil && (o.SettledAt == nil || !o.SettledAt.Before(*f.ClosedBefore)) {
			continue
		}
		if !inRange(o.CreatedAt, f.ListOpts) {
			continue
		}
		out = append(out, o.Clone())
	}
	return paginate(out, f.ListOpts)
}

func (st *state) balance(asset domain.Asset, owner common.Address) *big.Int {
	if v, ok := st.balances[account{asset, owner}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (st *state) allowanceOf(asset domain.Asset, owner common.Address) *big.Int {
	if v, ok := st.allowance[account{asset, owner}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func cloneAsset(a domain.PreMarketAsset) domain.PreMarketAsset {
	out := a
	if a.DeliverableAsset != nil {
		addr := *a.DeliverableAsset
		out.DeliverableAsset = &addr
	}
	if a.OpenedAt != nil {
		t := *a.OpenedAt
		out.OpenedAt = &t
	}
	return out
}
