package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// gateway is the AssetGateway bound to one transaction. Balances and
// allowances live in ledger_balances and ledger_allowances; the custody
// account holds everything in escrow.
type gateway struct {
	q       querier
	custody string
}

func (g *gateway) PullFrom(ctx context.Context, asset domain.Asset, owner common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if !asset.IsNative() {
		tag, err := g.q.Exec(ctx, `
			UPDATE ledger_allowances SET amount = amount - $3::numeric
			WHERE asset = $1 AND owner = $2 AND amount >= $3::numeric`,
			assetKey(asset), addrKey(owner), amount.String(),
		)
		if err != nil {
			return fmt.Errorf("postgres: consume allowance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s for %s of %s", domain.ErrAllowanceExceeded, owner.Hex(), amount, asset)
		}
	}
	if err := g.debit(ctx, asset, addrKey(owner), amount); err != nil {
		return err
	}
	return g.credit(ctx, asset, g.custody, amount)
}

func (g *gateway) Push(ctx context.Context, asset domain.Asset, recipient common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := g.debit(ctx, asset, g.custody, amount); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	if err := g.credit(ctx, asset, addrKey(recipient), amount); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	return nil
}

func (g *gateway) Approve(ctx context.Context, asset domain.Asset, owner common.Address, amount *big.Int) error {
	if asset.IsNative() {
		return fmt.Errorf("postgres: native value cannot be approved")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("postgres: approve negative amount %s", amount)
	}
	_, err := g.q.Exec(ctx, `
		INSERT INTO ledger_allowances (asset, owner, amount) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (asset, owner) DO UPDATE SET amount = EXCLUDED.amount`,
		assetKey(asset), addrKey(owner), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: approve %s: %w", asset, err)
	}
	return nil
}

func (g *gateway) BalanceOf(ctx context.Context, asset domain.Asset, owner common.Address) (*big.Int, error) {
	return g.lookup(ctx, `SELECT balance::text FROM ledger_balances WHERE asset = $1 AND owner = $2`, asset, owner)
}

func (g *gateway) Allowance(ctx context.Context, asset domain.Asset, owner common.Address) (*big.Int, error) {
	return g.lookup(ctx, `SELECT amount::text FROM ledger_allowances WHERE asset = $1 AND owner = $2`, asset, owner)
}

func (g *gateway) Mint(ctx context.Context, asset domain.Asset, to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("postgres: mint non-positive amount %s", amount)
	}
	return g.credit(ctx, asset, addrKey(to), amount)
}

func (g *gateway) lookup(ctx context.Context, query string, asset domain.Asset, owner common.Address) (*big.Int, error) {
	var s string
	err := g.q.QueryRow(ctx, query, assetKey(asset), addrKey(owner)).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ledger lookup: %w", err)
	}
	return parseAmount(s)
}

func (g *gateway) debit(ctx context.Context, asset domain.Asset, owner string, amount *big.Int) error {
	tag, err := g.q.Exec(ctx, `
		UPDATE ledger_balances SET balance = balance - $3::numeric
		WHERE asset = $1 AND owner = $2 AND balance >= $3::numeric`,
		assetKey(asset), owner, amount.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", owner, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s short of %s %s", domain.ErrInsufficientBalance, owner, amount, asset)
	}
	return nil
}

func (g *gateway) credit(ctx context.Context, asset domain.Asset, owner string, amount *big.Int) error {
	_, err := g.q.Exec(ctx, `
		INSERT INTO ledger_balances (asset, owner, balance) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (asset, owner) DO UPDATE SET balance = ledger_balances.balance + EXCLUDED.balance`,
		assetKey(asset), owner, amount.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", owner, err)
	}
	return nil
}

// Ledger runs each ledger call in its own transaction.
type Ledger struct {
	store *Store
}

func (l *Ledger) with(ctx context.Context, fn func(g *gateway) error) error {
	return l.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(tx.Gateway().(*gateway))
	})
}

// Mint credits amount of asset to an account.
func (l *Ledger) Mint(ctx context.Context, asset domain.Asset, to common.Address, amount *big.Int) error {
	return l.with(ctx, func(g *gateway) error { return g.Mint(ctx, asset, to, amount) })
}

// Approve sets the amount of asset the engine may pull from owner.
func (l *Ledger) Approve(ctx context.Context, asset domain.Asset, owner common.Address, amount *big.Int) error {
	return l.with(ctx, func(g *gateway) error { return g.Approve(ctx, asset, owner, amount) })
}

// BalanceOf returns owner's balance of asset.
func (l *Ledger) BalanceOf(ctx context.Context, asset domain.Asset, owner common.Address) (*big.Int, error) {
	g := &gateway{q: l.store.pool, custody: l.store.custody}
	return g.BalanceOf(ctx, asset, owner)
}

// Allowance returns how much of asset the engine may pull from owner.
func (l *Ledger) Allowance(ctx context.Context, asset domain.Asset, owner common.Address) (*big.Int, error) {
	g := &gateway{q: l.store.pool, custody: l.store.custody}
	return g.Allowance(ctx, asset, owner)
}

var (
	_ domain.AssetGateway = (*gateway)(nil)
	_ domain.Ledger       = (*Ledger)(nil)
)
