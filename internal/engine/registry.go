package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// RegisterAsset creates a pre-market asset keyed by keccak256(name) with no
// deliverable asset bound.
func (e *Engine) RegisterAsset(ctx context.Context, call domain.Call, name string, window time.Duration) (domain.PreMarketAsset, error) {
	var created domain.PreMarketAsset
	err := e.mutate(ctx, "register_asset", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		if err := e.requireAdmin(call); err != nil {
			return nil, err
		}
		if window <= 0 {
			return nil, domain.ErrInvalidSettlementWindow
		}

		id := domain.AssetIDFromName(name)
		if _, err := tx.GetAsset(ctx, id); err == nil {
			return nil, domain.ErrAlreadyRegistered
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		created = domain.PreMarketAsset{
			ID:               id,
			Name:             name,
			SettlementWindow: window,
			CreatedAt:        now,
		}
		if err := tx.CreateAsset(ctx, created); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return nil, domain.ErrAlreadyRegistered
			}
			return nil, err
		}

		return []domain.Event{newEvent(domain.EventAssetRegistered, now,
			"asset_id", id.Hex(),
			"name", name,
			"settlement_window_seconds", strconv.FormatInt(int64(window/time.Second), 10),
		)}, nil
	})
	if err != nil {
		return domain.PreMarketAsset{}, fmt.Errorf("engine: register asset %q: %w", name, err)
	}

	e.logger.InfoContext(ctx, "asset registered",
		slog.String("asset_id", created.ID.Hex()),
		slog.String("name", name),
		slog.Duration("settlement_window", window),
	)
	return created, nil
}

// OpenSettlement binds the deliverable asset and starts the settlement
// countdown for every order on assetID. Deadlines are derived per order from
// the asset's OpenedAt, so this call does not touch any order.
func (e *Engine) OpenSettlement(ctx context.Context, call domain.Call, assetID domain.AssetID, deliverable common.Address) (domain.PreMarketAsset, error) {
	var opened domain.PreMarketAsset
	err := e.mutate(ctx, "open_settlement", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		if err := e.requireAdmin(call); err != nil {
			return nil, err
		}
		if deliverable == (common.Address{}) {
			return nil, domain.ErrInvalidDeliverableAsset
		}

		asset, err := tx.GetAsset(ctx, assetID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownAsset
		}
		if err != nil {
			return nil, err
		}
		if asset.DeliverableAsset != nil {
			return nil, domain.ErrAlreadyOpened
		}

		addr := deliverable
		openedAt := now
		asset.DeliverableAsset = &addr
		asset.OpenedAt = &openedAt
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return nil, err
		}
		opened = asset

		deadline, _ := asset.Deadline()
		return []domain.Event{newEvent(domain.EventSettlementOpened, now,
			"asset_id", assetID.Hex(),
			"deliverable_asset", deliverable.Hex(),
			"settle_deadline", deadline.Format(time.RFC3339),
		)}, nil
	})
	if err != nil {
		return domain.PreMarketAsset{}, fmt.Errorf("engine: open settlement %s: %w", assetID.Hex(), err)
	}

	e.logger.InfoContext(ctx, "settlement opened",
		slog.String("asset_id", assetID.Hex()),
		slog.String("deliverable_asset", deliverable.Hex()),
	)
	return opened, nil
}

// SetPaymentAsset adds asset to, or removes it from, the payment whitelist.
func (e *Engine) SetPaymentAsset(ctx context.Context, call domain.Call, asset domain.Asset, allowed bool) error {
	err := e.mutate(ctx, "set_payment_asset", func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error) {
		if err := e.requireAdmin(call); err != nil {
			return nil, err
		}
		if asset.IsZero() {
			return nil, domain.ErrAssetNotWhitelisted
		}
		if err := tx.SetPaymentAsset(ctx, asset, allowed); err != nil {
			return nil, err
		}
		return []domain.Event{newEvent(domain.EventPaymentAssetUpdated, now,
			"asset", asset.String(),
			"allowed", strconv.FormatBool(allowed),
		)}, nil
	})
	if err != nil {
		return fmt.Errorf("engine: set payment asset %s: %w", asset, err)
	}
	return nil
}

// Asset resolves id to its record. found is false, with a nil error, when no
// asset is registered under id.
func (e *Engine) Asset(ctx context.Context, id domain.AssetID) (asset domain.PreMarketAsset, found bool, err error) {
	asset, err = e.store.GetAsset(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PreMarketAsset{}, false, nil
	}
	if err != nil {
		return domain.PreMarketAsset{}, false, fmt.Errorf("engine: get asset %s: %w", id.Hex(), err)
	}
	return asset, true, nil
}

// Assets lists registered pre-market assets.
func (e *Engine) Assets(ctx context.Context, opts domain.ListOpts) ([]domain.PreMarketAsset, error) {
	assets, err := e.store.ListAssets(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: list assets: %w", err)
	}
	return assets, nil
}

// PaymentAssets lists the whitelisted payment assets.
func (e *Engine) PaymentAssets(ctx context.Context) ([]domain.Asset, error) {
	assets, err := e.store.ListPaymentAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: list payment assets: %w", err)
	}
	return assets, nil
}
