package postgres

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/premarket/internal/domain"
	"github.com/alanyoungcy/premarket/internal/engine"
)

var (
	testAdmin   = common.HexToAddress("0xad00000000000000000000000000000000000001")
	testAlice   = common.HexToAddress("0xa11ce00000000000000000000000000000000002")
	testBob     = common.HexToAddress("0xb0b0000000000000000000000000000000000003")
	testCustody = common.HexToAddress("0xc057000000000000000000000000000000000009")
	testUSDT    = domain.Token(common.HexToAddress("0x05d7000000000000000000000000000000000005"))
	testXToken  = common.HexToAddress("0x7000000000000000000000000000000000000006")
)

// newTestStore migrates a throwaway schema on OTC_TEST_POSTGRES_DSN, or skips
// the test when no database is configured.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("OTC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OTC_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	schema := "otctest_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		admin.Close()
	})

	client := &Client{pool: pool}
	require.NoError(t, client.RunMigrations(ctx))
	return NewStore(pool, testCustody.Hex())
}

type liveFixture struct {
	t     *testing.T
	ctx   context.Context
	store *Store
	led   *Ledger
	now   time.Time
	eng   *engine.Engine
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	store := newTestStore(t)
	f := &liveFixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		led:   store.Ledger(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.eng = engine.New(store, engine.Config{
		Admin:  testAdmin,
		Clock:  func() time.Time { return f.now },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, f.eng.SetPaymentAsset(f.ctx, domain.Call{Caller: testAdmin}, testUSDT, true))
	return f
}

func (f *liveFixture) fund(asset domain.Asset, owner common.Address, amount int64) {
	f.t.Helper()
	require.NoError(f.t, f.led.Mint(f.ctx, asset, owner, big.NewInt(amount)))
	require.NoError(f.t, f.led.Approve(f.ctx, asset, owner, big.NewInt(amount)))
}

func (f *liveFixture) balance(asset domain.Asset, owner common.Address) int64 {
	f.t.Helper()
	bal, err := f.led.BalanceOf(f.ctx, asset, owner)
	require.NoError(f.t, err)
	return bal.Int64()
}

func (f *liveFixture) escrow(orderID uint64) int64 {
	f.t.Helper()
	v, err := f.eng.EscrowBalance(f.ctx, orderID)
	require.NoError(f.t, err)
	return v.Int64()
}

// sellOrder has alice sell 500 X for 1000 USDT to bob and opens settlement.
func (f *liveFixture) sellOrder() domain.Order {
	f.t.Helper()
	asset, err := f.eng.RegisterAsset(f.ctx, domain.Call{Caller: testAdmin}, "X", 7*24*time.Hour)
	require.NoError(f.t, err)
	f.fund(testUSDT, testAlice, 1000)
	f.fund(testUSDT, testBob, 1000)

	offer, err := f.eng.CreateOffer(f.ctx, domain.Call{Caller: testAlice}, engine.CreateOfferRequest{
		Kind:         domain.OfferSell,
		AssetID:      asset.ID,
		Amount:       big.NewInt(500),
		Value:        big.NewInt(1000),
		PaymentAsset: testUSDT,
	})
	require.NoError(f.t, err)
	order, err := f.eng.FulfillOffer(f.ctx, domain.Call{Caller: testBob}, offer.ID)
	require.NoError(f.t, err)
	_, err = f.eng.OpenSettlement(f.ctx, domain.Call{Caller: testAdmin}, asset.ID, testXToken)
	require.NoError(f.t, err)
	return order
}

func TestLiveAtomicRollsBack(t *testing.T) {
	f := newLiveFixture(t)

	err := f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Gateway().(domain.Minter).Mint(ctx, testUSDT, testAlice, big.NewInt(50)))
		id, err := tx.NextOfferID(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), id)
		return domain.ErrTransferFailed
	})
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	require.Equal(t, int64(0), f.balance(testUSDT, testAlice))

	err = f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		id, err := tx.NextOfferID(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), id, "rolled back ids are not consumed")
		return nil
	})
	require.NoError(t, err)
}

func TestLiveGatewayErrors(t *testing.T) {
	f := newLiveFixture(t)
	require.NoError(t, f.led.Mint(f.ctx, testUSDT, testAlice, big.NewInt(100)))

	pull := func(amount int64) error {
		return f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
			return tx.Gateway().PullFrom(ctx, testUSDT, testAlice, big.NewInt(amount))
		})
	}

	require.ErrorIs(t, pull(10), domain.ErrAllowanceExceeded)

	require.NoError(t, f.led.Approve(f.ctx, testUSDT, testAlice, big.NewInt(500)))
	require.ErrorIs(t, pull(200), domain.ErrInsufficientBalance)
	allowance, err := f.led.Allowance(f.ctx, testUSDT, testAlice)
	require.NoError(t, err)
	require.Equal(t, "500", allowance.String(), "failed pull leaves the allowance untouched")

	require.NoError(t, pull(60))
	require.Equal(t, int64(40), f.balance(testUSDT, testAlice))
	require.Equal(t, int64(60), f.balance(testUSDT, testCustody))

	err = f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Gateway().Push(ctx, testUSDT, testBob, big.NewInt(61))
	})
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	require.Equal(t, int64(0), f.balance(testUSDT, testBob))
}

func TestLiveFailedCreationKeepsSequence(t *testing.T) {
	f := newLiveFixture(t)
	f.fund(testUSDT, testAlice, 100)

	req := engine.CreateOfferRequest{
		Kind:         domain.OfferSell,
		AssetID:      domain.AssetIDFromName("X"),
		Amount:       big.NewInt(1),
		Value:        big.NewInt(1000),
		PaymentAsset: testUSDT,
	}
	_, err := f.eng.CreateOffer(f.ctx, domain.Call{Caller: testAlice}, req)
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)

	req.Value = big.NewInt(100)
	offer, err := f.eng.CreateOffer(f.ctx, domain.Call{Caller: testAlice}, req)
	require.NoError(t, err)
	require.Equal(t, uint64(1), offer.ID)
}

func TestLiveDeliveryFailureRollsBack(t *testing.T) {
	f := newLiveFixture(t)
	order := f.sellOrder()
	// Alice holds the tokens but never approved the engine.
	require.NoError(t, f.led.Mint(f.ctx, domain.Token(testXToken), testAlice, big.NewInt(500)))

	_, err := f.eng.SettleFilled(f.ctx, domain.Call{Caller: testAlice}, order.ID)
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
	require.ErrorIs(t, err, domain.ErrAllowanceExceeded)

	view, err := f.eng.Order(f.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, view.Status)
	require.Equal(t, int64(2000), f.escrow(order.ID))
	require.Equal(t, int64(2000), f.balance(testUSDT, testCustody))
	require.Equal(t, int64(500), f.balance(domain.Token(testXToken), testAlice))
	require.Equal(t, int64(0), f.balance(domain.Token(testXToken), testBob))

	// The failed call consumed no order id.
	f.fund(testUSDT, testAlice, 10)
	f.fund(testUSDT, testBob, 10)
	offer, err := f.eng.CreateOffer(f.ctx, domain.Call{Caller: testAlice}, engine.CreateOfferRequest{
		Kind:         domain.OfferBuy,
		AssetID:      order.AssetID,
		Amount:       big.NewInt(1),
		Value:        big.NewInt(10),
		PaymentAsset: testUSDT,
	})
	require.NoError(t, err)
	next, err := f.eng.FulfillOffer(f.ctx, domain.Call{Caller: testBob}, offer.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID+1, next.ID)
}

func TestLiveSettleFilledOnce(t *testing.T) {
	f := newLiveFixture(t)
	order := f.sellOrder()
	f.fund(domain.Token(testXToken), testAlice, 500)

	settled, err := f.eng.SettleFilled(f.ctx, domain.Call{Caller: testAlice}, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSettleFilled, settled.Status)
	require.Equal(t, int64(2000), f.balance(testUSDT, testAlice))
	require.Equal(t, int64(500), f.balance(domain.Token(testXToken), testBob))
	require.Equal(t, int64(0), f.escrow(order.ID))
	require.Equal(t, int64(0), f.balance(testUSDT, testCustody))

	_, err = f.eng.SettleFilled(f.ctx, domain.Call{Caller: testAlice}, order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidOrderStatus)
	f.now = f.now.Add(30 * 24 * time.Hour)
	_, err = f.eng.SettleCancelled(f.ctx, domain.Call{Caller: testBob}, order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidOrderStatus)

	require.Equal(t, int64(2000), f.balance(testUSDT, testAlice))
	require.Equal(t, int64(0), f.balance(testUSDT, testBob))
}
