package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/premarket/internal/domain"
	"github.com/alanyoungcy/premarket/internal/engine"
	"github.com/alanyoungcy/premarket/internal/store/memory"
)

var (
	admin  = common.HexToAddress("0xad00000000000000000000000000000000000001")
	alice  = common.HexToAddress("0xa11ce00000000000000000000000000000000002")
	bob    = common.HexToAddress("0xb0b0000000000000000000000000000000000003")
	keeper = common.HexToAddress("0x4ee9e40000000000000000000000000000000007")
	usdt   = domain.Token(common.HexToAddress("0x05d7000000000000000000000000000000000005"))
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBus records publishes and appends.
type fakeBus struct {
	mu        sync.Mutex
	published [][]byte
	streamed  [][]byte
	err       error
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return b.err
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, payload)
	return b.err
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeNotifier struct {
	got chan domain.Event
}

func (n *fakeNotifier) NotifyEvent(_ context.Context, ev domain.Event) error {
	n.got <- ev
	return nil
}

type sinkFunc func([]byte)

func (f sinkFunc) Broadcast(p []byte) { f(p) }

// fakeLocks hands out a single lock at a time.
type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

type fixture struct {
	ctx   context.Context
	store *memory.Store
	clock *clock
	eng   *engine.Engine
}

func newFixture(t *testing.T, events domain.EventPublisher) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memory.New(common.Address{}),
		clock: &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.eng = engine.New(f.store, engine.Config{Admin: admin, Clock: f.clock.Now, Events: events, Logger: discard()})
	require.NoError(t, f.eng.SetPaymentAsset(f.ctx, domain.Call{Caller: admin}, usdt, true))
	return f
}

// openOrder registers name, trades 10 units for 100 USDT between alice and
// bob and opens settlement with a one-day window.
func (f *fixture) openOrder(t *testing.T, name string) domain.Order {
	t.Helper()
	w := f.store.Ledger()
	for _, who := range []common.Address{alice, bob} {
		require.NoError(t, w.Mint(f.ctx, usdt, who, big.NewInt(100)))
		require.NoError(t, w.Approve(f.ctx, usdt, who, big.NewInt(100)))
	}
	asset, err := f.eng.RegisterAsset(f.ctx, domain.Call{Caller: admin}, name, 24*time.Hour)
	require.NoError(t, err)
	offer, err := f.eng.CreateOffer(f.ctx, domain.Call{Caller: alice}, engine.CreateOfferRequest{
		Kind: domain.OfferSell, AssetID: asset.ID, Amount: big.NewInt(10), Value: big.NewInt(100), PaymentAsset: usdt,
	})
	require.NoError(t, err)
	order, err := f.eng.FulfillOffer(f.ctx, domain.Call{Caller: bob}, offer.ID)
	require.NoError(t, err)
	_, err = f.eng.OpenSettlement(f.ctx, domain.Call{Caller: admin}, asset.ID, common.HexToAddress("0x7000000000000000000000000000000000000006"))
	require.NoError(t, err)
	return order
}

func TestEventFanoutDelivers(t *testing.T) {
	bus := &fakeBus{}
	audit := memory.NewAuditStore()
	notifier := &fakeNotifier{got: make(chan domain.Event, 8)}
	fan := NewEventFanout(bus, audit, notifier, discard())

	var sunk [][]byte
	fan.AddSink(sinkFunc(func(p []byte) { sunk = append(sunk, p) }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = fan.Run(ctx) }()

	f := newFixture(t, fan)
	require.NoError(t, f.eng.SetPaymentAsset(f.ctx, domain.Call{Caller: admin}, domain.Native(), true))

	// One event per whitelist call.
	require.Len(t, bus.published, 2)
	require.Len(t, bus.streamed, 2)
	require.Len(t, sunk, 2)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(bus.published[1], &ev))
	assert.Equal(t, domain.EventPaymentAssetUpdated, ev.Type)
	assert.Equal(t, "native", ev.Data["asset"])

	entries, err := audit.List(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(domain.EventPaymentAssetUpdated), entries[0].Event)
	assert.Equal(t, ev.ID, entries[0].Detail["event_id"])

	for i := 0; i < 2; i++ {
		select {
		case got := <-notifier.got:
			assert.Equal(t, domain.EventPaymentAssetUpdated, got.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("notification not delivered")
		}
	}
}

func TestEventFanoutSurvivesBusErrors(t *testing.T) {
	bus := &fakeBus{err: errors.New("redis down")}
	audit := memory.NewAuditStore()
	fan := NewEventFanout(bus, audit, nil, discard())

	f := newFixture(t, fan)
	entries, err := audit.List(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestKeeperSweepForfeitsExpired(t *testing.T) {
	f := newFixture(t, nil)
	expiring := f.openOrder(t, "X")

	k := NewKeeper(f.eng, nil, KeeperConfig{Address: keeper, BatchSize: 10}, discard())

	n, err := k.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "deadline not reached yet")

	f.clock.Advance(24*time.Hour + time.Second)
	n, err = k.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.eng.Order(f.ctx, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSettleCancelled, got.Status)

	bal, err := f.store.Ledger().BalanceOf(f.ctx, usdt, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(200), bal.Int64())

	n, err = k.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestKeeperRespectsBatchSize(t *testing.T) {
	f := newFixture(t, nil)
	f.openOrder(t, "X")
	f.openOrder(t, "Y")
	f.clock.Advance(48 * time.Hour)

	k := NewKeeper(f.eng, nil, KeeperConfig{Address: keeper, BatchSize: 1}, discard())
	n, err := k.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = k.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKeeperSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, nil)
	f.openOrder(t, "X")
	f.clock.Advance(48 * time.Hour)

	locks := &fakeLocks{}
	unlock, err := locks.Acquire(f.ctx, keeperLockKey, time.Minute)
	require.NoError(t, err)

	k := NewKeeper(f.eng, locks, KeeperConfig{Address: keeper}, discard())
	n, err := k.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	unlock()
	n, err = k.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type fakeArchiver struct {
	cutoffs []time.Time
	err     error
}

func (a *fakeArchiver) ArchiveOrders(_ context.Context, before time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, before)
	return 3, a.err
}

func (a *fakeArchiver) ArchiveOffers(context.Context, time.Time) (int64, error) { return 2, nil }

func (a *fakeArchiver) ArchiveAudit(context.Context, time.Time) (int64, error) { return 1, nil }

func TestArchiveJobRunOnce(t *testing.T) {
	arch := &fakeArchiver{}
	j := NewArchiveJob(arch, &fakeLocks{}, ArchiveConfig{Retention: 24 * time.Hour}, discard())
	j.clock = func() time.Time { return time.Date(2026, 3, 10, 8, 30, 15, 500, time.UTC) }

	res, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 8, 30, 15, 0, time.UTC), res.Cutoff)
	assert.Equal(t, ArchiveResult{Cutoff: res.Cutoff, Orders: 3, Offers: 2, Audit: 1}, res)
	assert.Equal(t, []time.Time{res.Cutoff}, arch.cutoffs)
}

func TestArchiveJobStopsOnError(t *testing.T) {
	arch := &fakeArchiver{err: errors.New("s3 down")}
	j := NewArchiveJob(arch, nil, ArchiveConfig{}, discard())
	_, err := j.RunOnce(context.Background())
	require.ErrorContains(t, err, "archive: orders: s3 down")
}

func TestArchiveJobRejectsBadSchedule(t *testing.T) {
	j := NewArchiveJob(&fakeArchiver{}, nil, ArchiveConfig{Schedule: "every tuesday"}, discard())
	err := j.Run(context.Background())
	require.ErrorContains(t, err, "schedule")
	assert.Error(t, ValidateSchedule("every tuesday"))
	assert.NoError(t, ValidateSchedule("15 3 * * *"))
}

// stuckSettler reports ids as expired and refuses to settle the ones in stuck.
type stuckSettler struct {
	ids      []uint64
	stuck    map[uint64]bool
	resolved []uint64
}

func (s *stuckSettler) ExpiredOrders(_ context.Context, afterID uint64, limit int) ([]domain.OrderView, error) {
	var out []domain.OrderView
	for _, id := range s.ids {
		if id <= afterID {
			continue
		}
		out = append(out, domain.OrderView{Order: domain.Order{ID: id}})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stuckSettler) SettleCancelled(_ context.Context, _ domain.Call, orderID uint64) (domain.Order, error) {
	if s.stuck[orderID] {
		return domain.Order{}, domain.ErrTransferFailed
	}
	kept := s.ids[:0]
	for _, id := range s.ids {
		if id != orderID {
			kept = append(kept, id)
		}
	}
	s.ids = kept
	s.resolved = append(s.resolved, orderID)
	return domain.Order{ID: orderID}, nil
}

func TestKeeperPagesPastFailingOrders(t *testing.T) {
	ctx := context.Background()
	s := &stuckSettler{ids: []uint64{1, 2, 3, 4}, stuck: map[uint64]bool{1: true, 2: true}}
	k := NewKeeper(s, nil, KeeperConfig{Address: keeper, BatchSize: 2}, discard())

	n, err := k.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = k.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{3, 4}, s.resolved)

	// Back to the start: the stuck orders are retried.
	n, err = k.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []uint64{1, 2}, s.ids)
}
