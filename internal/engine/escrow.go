package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// escrowMultiplier is the number of equal deposits backing an order: the
// buyer's payment and the seller's bond.
var escrowMultiplier = big.NewInt(2)

// orderEscrow returns the escrow an open order holds for value.
func orderEscrow(value *big.Int) *big.Int {
	return new(big.Int).Mul(value, escrowMultiplier)
}

// deposit takes value of asset from the caller into custody. Native deposits
// must be attached to the call in exactly that amount; token deposits are
// pulled against the caller's allowance and must not carry native value.
func deposit(ctx context.Context, gw domain.AssetGateway, call domain.Call, asset domain.Asset, value *big.Int) error {
	attached := call.AttachedValue()
	if asset.IsNative() {
		if attached.Cmp(value) != 0 {
			return fmt.Errorf("%w: attached %s, want %s", domain.ErrInsufficientPayment, attached, value)
		}
	} else if attached.Sign() != 0 {
		return domain.ErrUnexpectedNativeValue
	}

	if err := gw.PullFrom(ctx, asset, call.Caller, value); err != nil {
		if errors.Is(err, domain.ErrAllowanceExceeded) {
			return fmt.Errorf("%w: %w", domain.ErrInsufficientPayment, err)
		}
		return err
	}
	return nil
}

// release pushes amount of asset out of custody to recipient.
func release(ctx context.Context, gw domain.AssetGateway, asset domain.Asset, recipient common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := gw.Push(ctx, asset, recipient, amount); err != nil {
		if errors.Is(err, domain.ErrTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	return nil
}

// deliver moves amount of the deliverable token from seller to buyer. The
// seller must have approved the engine beforehand.
func deliver(ctx context.Context, gw domain.AssetGateway, token common.Address, seller, buyer common.Address, amount *big.Int) error {
	asset := domain.Token(token)
	if err := gw.PullFrom(ctx, asset, seller, amount); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	if err := gw.Push(ctx, asset, buyer, amount); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	return nil
}

// payoutSettleFilled releases the whole escrow to the seller: the buyer's
// payment as proceeds plus the seller's own bond.
func payoutSettleFilled(ctx context.Context, gw domain.AssetGateway, o *domain.Order) error {
	if err := release(ctx, gw, o.PaymentAsset, o.Seller, o.Escrow); err != nil {
		return err
	}
	o.Escrow = new(big.Int)
	return nil
}

// payoutSettleCancelled releases the whole escrow to the buyer: their own
// payment back plus the seller's forfeited bond.
func payoutSettleCancelled(ctx context.Context, gw domain.AssetGateway, o *domain.Order) error {
	if err := release(ctx, gw, o.PaymentAsset, o.Buyer, o.Escrow); err != nil {
		return err
	}
	o.Escrow = new(big.Int)
	return nil
}

// payoutOrderCancelled refunds each party's deposit.
func payoutOrderCancelled(ctx context.Context, gw domain.AssetGateway, o *domain.Order) error {
	if err := release(ctx, gw, o.PaymentAsset, o.Buyer, o.Value); err != nil {
		return err
	}
	if err := release(ctx, gw, o.PaymentAsset, o.Seller, o.Value); err != nil {
		return err
	}
	o.Escrow = new(big.Int)
	return nil
}
