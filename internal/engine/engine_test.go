package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/premarket/internal/domain"
	"github.com/alanyoungcy/premarket/internal/store/memory"
)

const week = 7 * 24 * time.Hour

var (
	admin   = common.HexToAddress("0xad00000000000000000000000000000000000001")
	alice   = common.HexToAddress("0xa11ce00000000000000000000000000000000002")
	bob     = common.HexToAddress("0xb0b0000000000000000000000000000000000003")
	carol   = common.HexToAddress("0xca40100000000000000000000000000000000004")
	usdt    = domain.Token(common.HexToAddress("0x05d7000000000000000000000000000000000005"))
	xToken  = common.HexToAddress("0x7000000000000000000000000000000000000006")
	assetX  = domain.AssetIDFromName("X")
	genesis = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, events ...domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	ledger *memory.Wallet
	clock  *fakeClock
	events *recorder
	eng    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New(common.Address{})
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		ledger: store.Ledger(),
		clock:  &fakeClock{now: genesis},
		events: &recorder{},
	}
	h.eng = New(store, Config{
		Admin:  admin,
		Clock:  h.clock.Now,
		Events: h.events,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, h.eng.SetPaymentAsset(h.ctx, as(admin), usdt, true))
	require.NoError(t, h.eng.SetPaymentAsset(h.ctx, as(admin), domain.Native(), true))
	return h
}

func as(addr common.Address) domain.Call {
	return domain.Call{Caller: addr}
}

func withValue(addr common.Address, v int64) domain.Call {
	return domain.Call{Caller: addr, Value: big.NewInt(v)}
}

// fund mints amount of asset to owner and, for tokens, approves the engine
// for all of it.
func (h *harness) fund(asset domain.Asset, owner common.Address, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.ledger.Mint(h.ctx, asset, owner, big.NewInt(amount)))
	if !asset.IsNative() {
		require.NoError(h.t, h.ledger.Approve(h.ctx, asset, owner, big.NewInt(amount)))
	}
}

func (h *harness) balance(asset domain.Asset, owner common.Address) int64 {
	h.t.Helper()
	bal, err := h.ledger.BalanceOf(h.ctx, asset, owner)
	require.NoError(h.t, err)
	return bal.Int64()
}

func (h *harness) custody(asset domain.Asset) int64 {
	return h.balance(asset, h.store.Custody())
}

func (h *harness) escrow(orderID uint64) int64 {
	h.t.Helper()
	v, err := h.eng.EscrowBalance(h.ctx, orderID)
	require.NoError(h.t, err)
	return v.Int64()
}

func (h *harness) register(name string, window time.Duration) domain.PreMarketAsset {
	h.t.Helper()
	a, err := h.eng.RegisterAsset(h.ctx, as(admin), name, window)
	require.NoError(h.t, err)
	return a
}

func (h *harness) open(id domain.AssetID) domain.PreMarketAsset {
	h.t.Helper()
	a, err := h.eng.OpenSettlement(h.ctx, as(admin), id, xToken)
	require.NoError(h.t, err)
	return a
}

// sellOrder registers X, has alice post a SELL offer for 500 X at 1000 USDT
// and bob fill it.
func (h *harness) sellOrder() domain.Order {
	h.t.Helper()
	h.register("X", week)
	h.fund(usdt, alice, 1000)
	h.fund(usdt, bob, 1000)

	offer, err := h.eng.CreateOffer(h.ctx, as(alice), CreateOfferRequest{
		Kind:         domain.OfferSell,
		AssetID:      assetX,
		Amount:       big.NewInt(500),
		Value:        big.NewInt(1000),
		PaymentAsset: usdt,
	})
	require.NoError(h.t, err)
	order, err := h.eng.FulfillOffer(h.ctx, as(bob), offer.ID)
	require.NoError(h.t, err)
	return order
}

func TestNewDefaults(t *testing.T) {
	e := New(memory.New(common.Address{}), Config{Admin: admin})
	require.Equal(t, admin, e.Admin())
	require.NotNil(t, e.clock)
	require.NotNil(t, e.logger)
}

func TestNowTruncatesToSeconds(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(genesis.Add(1500 * time.Millisecond))
	require.Equal(t, genesis.Add(time.Second), h.eng.now())
}

func TestEventsPublishedOnlyOnCommit(t *testing.T) {
	h := newHarness(t)
	before := len(h.events.types())

	_, err := h.eng.RegisterAsset(h.ctx, as(alice), "X", week)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Len(t, h.events.types(), before)

	h.register("X", week)
	types := h.events.types()
	require.Equal(t, domain.EventAssetRegistered, types[len(types)-1])
}

// gatedPublisher blocks the first Publish until release is closed.
type gatedPublisher struct {
	recorder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedPublisher) Publish(ctx context.Context, events ...domain.Event) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	g.recorder.Publish(ctx, events...)
}

func TestSlowPublisherDoesNotBlockCommits(t *testing.T) {
	ctx := context.Background()
	pub := &gatedPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	eng := New(memory.New(common.Address{}), Config{
		Admin:  admin,
		Events: pub,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	errs := make(chan error, 2)
	go func() {
		_, err := eng.RegisterAsset(ctx, as(admin), "X", week)
		errs <- err
	}()
	<-pub.entered

	go func() {
		_, err := eng.RegisterAsset(ctx, as(admin), "Y", week)
		errs <- err
	}()
	require.Eventually(t, func() bool {
		_, found, err := eng.Asset(ctx, domain.AssetIDFromName("Y"))
		return err == nil && found
	}, 2*time.Second, 5*time.Millisecond, "second call should commit while the first is publishing")
	require.Empty(t, pub.types())

	close(pub.release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 2)
	require.Equal(t, domain.AssetIDFromName("X").Hex(), pub.events[0].Data["asset_id"])
	require.Equal(t, domain.AssetIDFromName("Y").Hex(), pub.events[1].Data["asset_id"])
}
