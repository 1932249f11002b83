// Package memory implements domain.Store in process memory, including a
// token ledger that serves as the AssetGateway. Atomic holds a store-wide
// lock for the whole unit of work and records an undo entry for every
// mutation, so a failed unit leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// DefaultCustody is the ledger account that holds escrowed value when no
// custody address is configured.
var DefaultCustody = common.HexToAddress("0x00000000000000000000000000000000000e5c40")

// Store is an in-memory domain.Store. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty Store whose escrow lives in the custody account.
func New(custody common.Address) *Store {
	if custody == (common.Address{}) {
		custody = DefaultCustody
	}
	return &Store{st: newState(custody)}
}

// Atomic runs fn in a unit of work that is undone if fn fails.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{st: s.st}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	tx.undo = nil
	return nil
}

// Custody returns the account that holds escrowed value.
func (s *Store) Custody() common.Address {
	return s.st.custody
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// GetAsset implements domain.Reader.
func (s *Store) GetAsset(ctx context.Context, id domain.AssetID) (a domain.PreMarketAsset, err error) {
	s.read(func(st *state) { a, err = st.getAsset(id) })
	return a, err
}

// ListAssets implements domain.Reader.
func (s *Store) ListAssets(ctx context.Context, opts domain.ListOpts) (out []domain.PreMarketAsset, err error) {
	s.read(func(st *state) { out = st.listAssets(opts) })
	return out, nil
}

// PaymentAssetAllowed implements domain.Reader.
func (s *Store) PaymentAssetAllowed(ctx context.Context, asset domain.Asset) (ok bool, err error) {
	s.read(func(st *state) { ok = st.payment[asset] })
	return ok, nil
}

// ListPaymentAssets implements domain.Reader.
func (s *Store) ListPaymentAssets(ctx context.Context) (out []domain.Asset, err error) {
	s.read(func(st *state) { out = st.listPaymentAssets() })
	return out, nil
}

// GetOffer implements domain.Reader.
func (s *Store) GetOffer(ctx context.Context, id uint64) (o domain.Offer, err error) {
	s.read(func(st *state) { o, err = st.getOffer(id) })
	return o, err
}

// ListOffers implements domain.Reader.
func (s *Store) ListOffers(ctx context.Context, f domain.OfferFilter) (out []domain.Offer, err error) {
	s.read(func(st *state) { out = st.listOffers(f) })
	return out, nil
}

// GetOrder implements domain.Reader.
func (s *Store) GetOrder(ctx context.Context, id uint64) (o domain.Order, err error) {
	s.read(func(st *state) { o, err = st.getOrder(id) })
	return o, err
}

// ListOrders implements domain.Reader.
func (s *Store) ListOrders(ctx context.Context, f domain.OrderFilter) (out []domain.Order, err error) {
	s.read(func(st *state) { out = st.listOrders(f) })
	return out, nil
}

func (st *state) listPaymentAssets() []domain.Asset {
	out := make([]domain.Asset, 0, len(st.payment))
	for a, ok := range st.payment {
		if ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Compile-time interface checks.
var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*Tx)(nil)
)
