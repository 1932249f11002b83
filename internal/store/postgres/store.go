package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// settlementLockKey is the advisory lock every unit of work takes first, so
// engine processes sharing one database apply their calls one at a time.
const settlementLockKey int64 = 0x0e5c40

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store. Each Atomic call is one database
// transaction that also carries the ledger movements.
type Store struct {
	pool    *pgxpool.Pool
	custody string
	reader
}

// NewStore creates a Store over pool whose escrow is held by custody.
func NewStore(pool *pgxpool.Pool, custody string) *Store {
	return &Store{
		pool:    pool,
		custody: strings.ToLower(custody),
		reader:  reader{q: pool},
	}
}

// Atomic implements domain.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = pgxTx.Rollback(ctx) }()

	if _, err := pgxTx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, settlementLockKey); err != nil {
		return fmt.Errorf("postgres: acquire settlement lock: %w", err)
	}

	tx := &Tx{reader: reader{q: pgxTx}, custody: s.custody}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Ledger returns the standalone ledger over the same tables the engine moves
// escrow through.
func (s *Store) Ledger() *Ledger {
	return &Ledger{store: s}
}

// Tx implements domain.Tx inside a pgx transaction.
type Tx struct {
	reader
	custody string
}

// Gateway implements domain.Tx.
func (tx *Tx) Gateway() domain.AssetGateway {
	return &gateway{q: tx.q, custody: tx.custody}
}

// reader implements domain.Reader over any querier.
type reader struct {
	q querier
}

func (tx *Tx) nextID(ctx context.Context, name string) (uint64, error) {
	var id int64
	err := tx.q.QueryRow(ctx,
		`UPDATE sequences SET value = value + 1 WHERE name = $1 RETURNING value`, name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: next %s id: %w", name, err)
	}
	return uint64(id), nil
}

// NextOfferID implements domain.Tx.
func (tx *Tx) NextOfferID(ctx context.Context) (uint64, error) {
	return tx.nextID(ctx, "offer")
}

// NextOrderID implements domain.Tx.
func (tx *Tx) NextOrderID(ctx context.Context) (uint64, error) {
	return tx.nextID(ctx, "order")
}

// whereBuilder accumulates positional SQL conditions.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

// sql renders the WHERE clause, the ordering and any paging in opts.
func (w *whereBuilder) sql(orderBy string, opts domain.ListOpts) string {
	var b strings.Builder
	if len(w.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(w.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	if opts.Limit > 0 {
		w.args = append(w.args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if opts.Offset > 0 {
		w.args = append(w.args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}

func (w *whereBuilder) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		w.add(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		w.add(col+" <= $%d", *opts.Until)
	}
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ domain.Store = (*Store)(nil)
	_ domain.Tx    = (*Tx)(nil)
)
