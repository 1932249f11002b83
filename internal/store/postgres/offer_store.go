package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/premarket/internal/domain"
)

const offerSelectCols = `id, kind, asset_id, amount::text, value::text, payment_asset, creator,
	status, filled_amount::text, escrow::text, created_at, closed_at`

func scanOffer(scanner interface{ Scan(dest ...any) error }) (domain.Offer, error) {
	var (
		o                                 domain.Offer
		id                                int64
		kind                              int16
		assetID, payment, creator, status string
		amount, value, filled, escrow     string
	)
	err := scanner.Scan(&id, &kind, &assetID, &amount, &value, &payment, &creator,
		&status, &filled, &escrow, &o.CreatedAt, &o.ClosedAt)
	if err != nil {
		return domain.Offer{}, err
	}

	o.ID = uint64(id)
	o.Kind = domain.OfferKind(kind)
	o.AssetID = common.HexToHash(assetID)
	o.Creator = common.HexToAddress(creator)
	o.Status = domain.OfferStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	if o.ClosedAt != nil {
		t := o.ClosedAt.UTC()
		o.ClosedAt = &t
	}
	if o.PaymentAsset, err = domain.ParseAsset(payment); err != nil {
		return domain.Offer{}, err
	}
	if o.Amount, err = parseAmount(amount); err != nil {
		return domain.Offer{}, err
	}
	if o.Value, err = parseAmount(value); err != nil {
		return domain.Offer{}, err
	}
	if o.FilledAmount, err = parseAmount(filled); err != nil {
		return domain.Offer{}, err
	}
	if o.Escrow, err = parseAmount(escrow); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

// GetOffer implements domain.Reader.
func (r reader) GetOffer(ctx context.Context, id uint64) (domain.Offer, error) {
	row := r.q.QueryRow(ctx, `SELECT `+offerSelectCols+` FROM offers WHERE id = $1`, int64(id))
	o, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Offer{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Offer{}, fmt.Errorf("postgres: get offer %d: %w", id, err)
	}
	return o, nil
}

// ListOffers implements domain.Reader. Offers come back in id order.
func (r reader) ListOffers(ctx context.Context, f domain.OfferFilter) ([]domain.Offer, error) {
	var w whereBuilder
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.AssetID != nil {
		w.add("asset_id = $%d", f.AssetID.Hex())
	}
	if f.Creator != nil {
		w.add("creator = $%d", addrKey(*f.Creator))
	}
	if f.ClosedBefore != nil {
		w.add("closed_at < $%d", *f.ClosedBefore)
	}
	w.timeRange("created_at", f.ListOpts)
	query := `SELECT ` + offerSelectCols + ` FROM offers` + w.sql("id", f.ListOpts)

	rows, err := r.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers: %w", err)
	}
	defer rows.Close()

	var out []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan offer: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOffer implements domain.Tx.
func (tx *Tx) CreateOffer(ctx context.Context, o domain.Offer) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO offers (
			id, kind, asset_id, amount, value, payment_asset, creator,
			status, filled_amount, escrow, created_at, closed_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6, $7,
			$8, $9::numeric, $10::numeric, $11, $12
		)`,
		int64(o.ID), int16(o.Kind), o.AssetID.Hex(), amountText(o.Amount), amountText(o.Value),
		assetKey(o.PaymentAsset), addrKey(o.Creator),
		string(o.Status), amountText(o.FilledAmount), amountText(o.Escrow), o.CreatedAt, o.ClosedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("postgres: create offer %d: %w", o.ID, err)
	}
	return nil
}

// UpdateOffer implements domain.Tx. Only the mutable lifecycle columns are
// written.
func (tx *Tx) UpdateOffer(ctx context.Context, o domain.Offer) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE offers
		SET status = $2, filled_amount = $3::numeric, escrow = $4::numeric, closed_at = $5
		WHERE id = $1`,
		int64(o.ID), string(o.Status), amountText(o.FilledAmount), amountText(o.Escrow), o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update offer %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
