package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// orderSelectCols lists the columns selected when reading orders. Amounts
// are read as text so they round-trip through big.Int without loss.
const orderSelectCols = `id, offer_id, asset_id, amount::text, value::text, payment_asset,
	buyer, seller, status, escrow::text, buyer_cancel, seller_cancel, created_at, settled_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var (
		o                               domain.Order
		id, offerID                     int64
		assetID, payment, buyer, seller string
		status, amount, value, escrow   string
	)
	err := scanner.Scan(&id, &offerID, &assetID, &amount, &value, &payment,
		&buyer, &seller, &status, &escrow, &o.BuyerCancel, &o.SellerCancel, &o.CreatedAt, &o.SettledAt)
	if err != nil {
		return domain.Order{}, err
	}

	o.ID = uint64(id)
	o.OfferID = uint64(offerID)
	o.AssetID = common.HexToHash(assetID)
	o.Buyer = common.HexToAddress(buyer)
	o.Seller = common.HexToAddress(seller)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	if o.SettledAt != nil {
		t := o.SettledAt.UTC()
		o.SettledAt = &t
	}
	if o.PaymentAsset, err = domain.ParseAsset(payment); err != nil {
		return domain.Order{}, err
	}
	if o.Amount, err = parseAmount(amount); err != nil {
		return domain.Order{}, err
	}
	if o.Value, err = parseAmount(value); err != nil {
		return domain.Order{}, err
	}
	if o.Escrow, err = parseAmount(escrow); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetOrder implements domain.Reader.
func (r reader) GetOrder(ctx context.Context, id uint64) (domain.Order, error) {
	row := r.q.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, int64(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// ListOrders implements domain.Reader. Orders come back in id order.
func (r reader) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	var w whereBuilder
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.AssetID != nil {
		w.add("asset_id = $%d", f.AssetID.Hex())
	}
	if f.Party != nil {
		w.add("(buyer = $%[1]d OR seller = $%[1]d)", addrKey(*f.Party))
	}
	if f.ClosedBefore != nil {
		w.add("settled_at < $%d", *f.ClosedBefore)
	}
	w.timeRange("created_at", f.ListOpts)
	query := `SELECT ` + orderSelectCols + ` FROM orders` + w.sql("id", f.ListOpts)

	rows, err := r.q.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

// CreateOrder implements domain.Tx.
func (tx *Tx) CreateOrder(ctx context.Context, o domain.Order) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO orders (
			id, offer_id, asset_id, amount, value, payment_asset,
			buyer, seller, status, escrow, buyer_cancel, seller_cancel,
			created_at, settled_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6,
			$7, $8, $9, $10::numeric, $11, $12,
			$13, $14
		)`,
		int64(o.ID), int64(o.OfferID), o.AssetID.Hex(), amountText(o.Amount), amountText(o.Value),
		assetKey(o.PaymentAsset), addrKey(o.Buyer), addrKey(o.Seller), string(o.Status),
		amountText(o.Escrow), o.BuyerCancel, o.SellerCancel, o.CreatedAt, o.SettledAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("postgres: create order %d: %w", o.ID, err)
	}
	return nil
}

// UpdateOrder implements domain.Tx.
func (tx *Tx) UpdateOrder(ctx context.Context, o domain.Order) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE orders
		SET status = $2, escrow = $3::numeric, buyer_cancel = $4, seller_cancel = $5, settled_at = $6
		WHERE id = $1`,
		int64(o.ID), string(o.Status), amountText(o.Escrow), o.BuyerCancel, o.SellerCancel, o.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
