package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/premarket/internal/domain"
)

const assetSelectCols = `id, name, settlement_window_seconds, deliverable_asset, opened_at, created_at`

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func assetKey(a domain.Asset) string {
	return strings.ToLower(a.String())
}

func scanAsset(scanner interface{ Scan(dest ...any) error }) (domain.PreMarketAsset, error) {
	var (
		a           domain.PreMarketAsset
		id          string
		windowSecs  int64
		deliverable *string
	)
	if err := scanner.Scan(&id, &a.Name, &windowSecs, &deliverable, &a.OpenedAt, &a.CreatedAt); err != nil {
		return domain.PreMarketAsset{}, err
	}
	a.ID = common.HexToHash(id)
	a.SettlementWindow = time.Duration(windowSecs) * time.Second
	if deliverable != nil {
		addr := common.HexToAddress(*deliverable)
		a.DeliverableAsset = &addr
	}
	a.CreatedAt = a.CreatedAt.UTC()
	if a.OpenedAt != nil {
		t := a.OpenedAt.UTC()
		a.OpenedAt = &t
	}
	return a, nil
}

// GetAsset implements domain.Reader.
func (r reader) GetAsset(ctx context.Context, id domain.AssetID) (domain.PreMarketAsset, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+assetSelectCols+` FROM premarket_assets WHERE id = $1`, id.Hex())
	a, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PreMarketAsset{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PreMarketAsset{}, fmt.Errorf("postgres: get asset %s: %w", id.Hex(), err)
	}
	return a, nil
}

// ListAssets implements domain.Reader.
func (r reader) ListAssets(ctx context.Context, opts domain.ListOpts) ([]domain.PreMarketAsset, error) {
	var w whereBuilder
	w.timeRange("created_at", opts)
	query := `SELECT ` + assetSelectCols + ` FROM premarket_assets` + w.sql("created_at, id", opts)

	rows, err := r.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assets: %w", err)
	}
	defer rows.Close()

	var out []domain.PreMarketAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PaymentAssetAllowed implements domain.Reader.
func (r reader) PaymentAssetAllowed(ctx context.Context, asset domain.Asset) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payment_assets WHERE asset = $1)`, assetKey(asset),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: check payment asset %s: %w", asset, err)
	}
	return ok, nil
}

// ListPaymentAssets implements domain.Reader.
func (r reader) ListPaymentAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := r.q.Query(ctx, `SELECT asset FROM payment_assets ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payment assets: %w", err)
	}
	defer rows.Close()

	var out []domain.Asset
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("postgres: scan payment asset: %w", err)
		}
		a, err := domain.ParseAsset(s)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAsset implements domain.Tx.
func (tx *Tx) CreateAsset(ctx context.Context, a domain.PreMarketAsset) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO premarket_assets (id, name, settlement_window_seconds, created_at)
		VALUES ($1, $2, $3, $4)`,
		a.ID.Hex(), a.Name, int64(a.SettlementWindow/time.Second), a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("postgres: create asset %s: %w", a.ID.Hex(), err)
	}
	return nil
}

// UpdateAsset implements domain.Tx.
func (tx *Tx) UpdateAsset(ctx context.Context, a domain.PreMarketAsset) error {
	var deliverable *string
	if a.DeliverableAsset != nil {
		v := addrKey(*a.DeliverableAsset)
		deliverable = &v
	}
	tag, err := tx.q.Exec(ctx, `
		UPDATE premarket_assets
		SET name = $2, settlement_window_seconds = $3, deliverable_asset = $4, opened_at = $5
		WHERE id = $1`,
		a.ID.Hex(), a.Name, int64(a.SettlementWindow/time.Second), deliverable, a.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update asset %s: %w", a.ID.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetPaymentAsset implements domain.Tx.
func (tx *Tx) SetPaymentAsset(ctx context.Context, asset domain.Asset, allowed bool) error {
	var err error
	if allowed {
		_, err = tx.q.Exec(ctx,
			`INSERT INTO payment_assets (asset) VALUES ($1) ON CONFLICT (asset) DO NOTHING`, assetKey(asset))
	} else {
		_, err = tx.q.Exec(ctx, `DELETE FROM payment_assets WHERE asset = $1`, assetKey(asset))
	}
	if err != nil {
		return fmt.Errorf("postgres: set payment asset %s: %w", asset, err)
	}
	return nil
}
