package memory

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// ledger is the AssetGateway over the in-memory balances. Native value is
// modelled as a balance like any token; a native pull debits the wallet the
// attached value came from.
type ledger struct {
	tx *Tx
}

func (l *ledger) PullFrom(ctx context.Context, asset domain.Asset, owner common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("memory: pull negative amount %s", amount)
	}
	st := l.tx.st
	if !asset.IsNative() {
		allowed := st.allowanceOf(asset, owner)
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allows %s, need %s", domain.ErrAllowanceExceeded, owner.Hex(), allowed, amount)
		}
		l.setAllowance(asset, owner, allowed.Sub(allowed, amount))
	}
	if err := l.move(asset, owner, st.custody, amount); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, err)
	}
	return nil
}

func (l *ledger) Push(ctx context.Context, asset domain.Asset, recipient common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("memory: push negative amount %s", amount)
	}
	st := l.tx.st
	if st.rejects[recipient] {
		return fmt.Errorf("%w: recipient %s rejects %s", domain.ErrTransferFailed, recipient.Hex(), asset)
	}
	if err := l.move(asset, st.custody, recipient, amount); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrTransferFailed, err)
	}
	return nil
}

func (l *ledger) Approve(ctx context.Context, asset domain.Asset, owner common.Address, amount *big.Int) error {
	if asset.IsNative() {
		return fmt.Errorf("memory: native value cannot be approved")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("memory: approve negative amount %s", amount)
	}
	l.setAllowance(asset, owner, new(big.Int).Set(amount))
	return nil
}

func (l *ledger) BalanceOf(ctx context.Context, asset domain.Asset, owner common.Address) (*big.Int, error) {
	return l.tx.st.balance(asset, owner), nil
}

func (l *ledger) Allowance(ctx context.Context, asset domain.Asset, owner common.Address) (*big.Int, error) {
	return l.tx.st.allowanceOf(asset, owner), nil
}

// Mint credits amount of asset to an account.
func (l *ledger) Mint(ctx context.Context, asset domain.Asset, to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("memory: mint non-positive amount %s", amount)
	}
	bal := l.tx.st.balance(asset, to)
	l.setBalance(asset, to, bal.Add(bal, amount))
	return nil
}

// move transfers amount between two accounts, failing when from is short.
func (l *ledger) move(asset domain.Asset, from, to common.Address, amount *big.Int) error {
	st := l.tx.st
	fromBal := st.balance(asset, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%s holds %s of %s, need %s", from.Hex(), fromBal, asset, amount)
	}
	l.setBalance(asset, from, fromBal.Sub(fromBal, amount))
	toBal := st.balance(asset, to)
	l.setBalance(asset, to, toBal.Add(toBal, amount))
	return nil
}

func (l *ledger) setBalance(asset domain.Asset, owner common.Address, v *big.Int) {
	setJournaled(l.tx, l.tx.st.balances, account{asset, owner}, v)
}

func (l *ledger) setAllowance(asset domain.Asset, owner common.Address, v *big.Int) {
	setJournaled(l.tx, l.tx.st.allowance, account{asset, owner}, v)
}

func setJournaled(tx *Tx, m map[account]*big.Int, key account, v *big.Int) {
	prev, had := m[key]
	m[key] = v
	tx.record(func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

var (
	_ domain.AssetGateway = (*ledger)(nil)
	_ domain.Minter       = (*ledger)(nil)
)
