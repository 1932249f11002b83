package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetGateway moves value between parties and the engine's custody account.
// Implementations return ErrAllowanceExceeded, ErrInsufficientBalance or
// ErrTransferFailed (possibly wrapped) so the engine can branch on cause.
type AssetGateway interface {
	// PullFrom moves amount of asset from owner into custody. Token pulls
	// consume an allowance previously granted with Approve; native pulls take
	// the value attached to the triggering call.
	PullFrom(ctx context.Context, asset Asset, owner common.Address, amount *big.Int) error
	// Push moves amount of asset out of custody to recipient.
	Push(ctx context.Context, asset Asset, recipient common.Address, amount *big.Int) error
	// Approve sets the amount of asset the engine may pull from owner.
	Approve(ctx context.Context, asset Asset, owner common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, asset Asset, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, asset Asset, owner common.Address) (*big.Int, error)
}

// Minter credits balances that entered the system from outside, such as
// confirmed on-chain deposits.
type Minter interface {
	Mint(ctx context.Context, asset Asset, to common.Address, amount *big.Int) error
}

// Ledger is the balance book behind an AssetGateway, usable outside an
// engine transaction. Each call commits on its own.
type Ledger interface {
	Minter
	Approve(ctx context.Context, asset Asset, owner common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, asset Asset, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, asset Asset, owner common.Address) (*big.Int, error)
}
