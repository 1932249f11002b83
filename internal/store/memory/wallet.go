package memory

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// Ledger runs each ledger call in its own unit of work. It serves the
// ledger endpoints and deposit crediting outside engine operations.
func (s *Store) Ledger() *Wallet {
	return &Wallet{store: s}
}

// Wallet is the Store's ledger exposed outside a Tx.
type Wallet struct {
	store *Store
}

func (w *Wallet) with(ctx context.Context, fn func(l *ledger) error) error {
	return w.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(&ledger{tx: tx.(*Tx)})
	})
}

// Mint credits amount of asset to an account.
func (w *Wallet) Mint(ctx context.Context, asset domain.Asset, to common.Address, amount *big.Int) error {
	return w.with(ctx, func(l *ledger) error { return l.Mint(ctx, asset, to, amount) })
}

// Approve sets the amount of asset the engine may pull from owner.
func (w *Wallet) Approve(ctx context.Context, asset domain.Asset, owner common.Address, amount *big.Int) error {
	return w.with(ctx, func(l *ledger) error { return l.Approve(ctx, asset, owner, amount) })
}

// BalanceOf returns owner's balance of asset.
func (w *Wallet) BalanceOf(ctx context.Context, asset domain.Asset, owner common.Address) (bal *big.Int, err error) {
	w.store.read(func(st *state) { bal = st.balance(asset, owner) })
	return bal, nil
}

// Allowance returns how much of asset the engine may pull from owner.
func (w *Wallet) Allowance(ctx context.Context, asset domain.Asset, owner common.Address) (v *big.Int, err error) {
	w.store.read(func(st *state) { v = st.allowanceOf(asset, owner) })
	return v, nil
}

// RejectTransfersTo makes every later push to recipient fail, as a token
// contract that reverts on receipt would. Passing false lifts the block.
func (s *Store) RejectTransfersTo(recipient common.Address, reject bool) {
	s.read(func(st *state) {
		if reject {
			st.rejects[recipient] = true
		} else {
			delete(st.rejects, recipient)
		}
	})
}

var _ domain.Ledger = (*Wallet)(nil)
