package engine

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/premarket/internal/domain"
)

func TestSellScenarioSettleFilled(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()
	require.Equal(t, alice, order.Seller)
	require.Equal(t, bob, order.Buyer)
	require.Equal(t, int64(2000), h.escrow(order.ID))
	aliceAfterDeposit := h.balance(usdt, alice)

	h.clock.Advance(24 * time.Hour)
	h.open(assetX)
	h.fund(domain.Token(xToken), alice, 500)

	h.clock.Advance(3 * 24 * time.Hour)
	settled, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSettleFilled, settled.Status)
	require.NotNil(t, settled.SettledAt)

	require.Equal(t, int64(500), h.balance(domain.Token(xToken), bob))
	require.Equal(t, int64(0), h.balance(domain.Token(xToken), alice))
	require.Equal(t, int64(2000), h.balance(usdt, alice)-aliceAfterDeposit)
	require.Equal(t, int64(0), h.escrow(order.ID))
	require.Equal(t, int64(0), h.custody(usdt))
	require.Equal(t, int64(0), h.custody(domain.Token(xToken)))
}

func TestDefaultScenarioSettleCancelled(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()
	bobBefore := h.balance(usdt, bob)

	h.open(assetX)
	h.clock.Advance(week + time.Second)

	settled, err := h.eng.SettleCancelled(h.ctx, as(carol), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSettleCancelled, settled.Status)
	require.Equal(t, int64(2000), h.balance(usdt, bob)-bobBefore)
	require.Equal(t, int64(0), h.balance(usdt, alice))
	require.Equal(t, int64(0), h.escrow(order.ID))

	types := h.events.types()
	require.Equal(t, domain.EventOrderSettleCancelled, types[len(types)-1])
}

func TestDeadlineBoundary(t *testing.T) {
	setup := func(t *testing.T) (*harness, domain.Order, time.Time) {
		h := newHarness(t)
		order := h.sellOrder()
		a := h.open(assetX)
		h.fund(domain.Token(xToken), alice, 500)
		deadline, ok := a.Deadline()
		require.True(t, ok)
		return h, order, deadline
	}

	t.Run("settle filled at deadline", func(t *testing.T) {
		h, order, deadline := setup(t)
		h.clock.Set(deadline)
		_, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID)
		require.NoError(t, err)
	})
	t.Run("settle filled after deadline", func(t *testing.T) {
		h, order, deadline := setup(t)
		h.clock.Set(deadline.Add(time.Second))
		_, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID)
		require.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	})
	t.Run("settle cancelled at deadline", func(t *testing.T) {
		h, order, deadline := setup(t)
		h.clock.Set(deadline)
		_, err := h.eng.SettleCancelled(h.ctx, as(bob), order.ID)
		require.ErrorIs(t, err, domain.ErrDeadlineNotReached)
	})
	t.Run("settle cancelled after deadline", func(t *testing.T) {
		h, order, deadline := setup(t)
		h.clock.Set(deadline.Add(time.Second))
		_, err := h.eng.SettleCancelled(h.ctx, as(bob), order.ID)
		require.NoError(t, err)
	})
	t.Run("sub-second past deadline still counts as deadline", func(t *testing.T) {
		h, order, deadline := setup(t)
		h.clock.Set(deadline.Add(999 * time.Millisecond))
		_, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID)
		require.NoError(t, err)
	})
}

func TestSettleBeforeOpen(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()

	_, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID)
	require.ErrorIs(t, err, domain.ErrSettlementNotOpen)

	h.clock.Advance(365 * 24 * time.Hour)
	_, err = h.eng.SettleCancelled(h.ctx, as(bob), order.ID)
	require.ErrorIs(t, err, domain.ErrDeadlineNotReached)

	view, err := h.eng.Order(h.ctx, order.ID)
	require.NoError(t, err)
	require.Nil(t, view.SettleDeadline)
}

func TestSettleFilledOnlyBySeller(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()
	h.open(assetX)
	h.fund(domain.Token(xToken), bob, 500)

	_, err := h.eng.SettleFilled(h.ctx, as(bob), order.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Equal(t, int64(2000), h.escrow(order.ID))
}

func TestSettleTwiceFails(t *testing.T) {
	t.Run("filled", func(t *testing.T) {
		h := newHarness(t)
		order := h.sellOrder()
		h.open(assetX)
		h.fund(domain.Token(xToken), alice, 1000)

		_, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID)
		require.NoError(t, err)
		aliceBal := h.balance(usdt, alice)

		_, err = h.eng.SettleFilled(h.ctx, as(alice), order.ID)
		require.ErrorIs(t, err, domain.ErrInvalidOrderStatus)
		h.clock.Advance(2 * week)
		_, err = h.eng.SettleCancelled(h.ctx, as(bob), order.ID)
		require.ErrorIs(t, err, domain.ErrInvalidOrderStatus)

		require.Equal(t, aliceBal, h.balance(usdt, alice))
		require.Equal(t, int64(500), h.balance(domain.Token(xToken), alice))
	})
	t.Run("cancelled", func(t *testing.T) {
		h := newHarness(t)
		order := h.sellOrder()
		h.open(assetX)
		h.clock.Advance(week + time.Second)

		_, err := h.eng.SettleCancelled(h.ctx, as(bob), order.ID)
		require.NoError(t, err)
		bobBal := h.balance(usdt, bob)

		_, err = h.eng.SettleCancelled(h.ctx, as(bob), order.ID)
		require.ErrorIs(t, err, domain.ErrInvalidOrderStatus)
		require.Equal(t, bobBal, h.balance(usdt, bob))
	})
}

func TestSettleConcurrentCallsMutuallyExclusive(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()
	a := h.open(assetX)
	h.fund(domain.Token(xToken), alice, 500)
	deadline, _ := a.Deadline()
	h.clock.Set(deadline)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := h.eng.SettleCancelled(h.ctx, as(bob), order.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	view, err := h.eng.Order(h.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSettleFilled, view.Status)
	require.Equal(t, int64(0), h.custody(usdt))
}

func TestDeliveryFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()
	h.open(assetX)
	// Alice holds the tokens but never approved the engine.
	require.NoError(t, h.ledger.Mint(h.ctx, domain.Token(xToken), alice, big.NewInt(500)))

	_, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID)
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
	require.ErrorIs(t, err, domain.ErrAllowanceExceeded)
	require.Equal(t, "DeliveryFailed", domain.CodeOf(err))

	view, err := h.eng.Order(h.ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, view.Status)
	require.Equal(t, int64(500), h.balance(domain.Token(xToken), alice))
	require.Equal(t, int64(2000), h.escrow(order.ID))
}

func TestPayoutFailureRollsBackDelivery(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()
	h.open(assetX)
	h.fund(domain.Token(xToken), alice, 500)
	h.store.RejectTransfersTo(alice, true)

	_, err := h.eng.SettleFilled(h.ctx, as(alice), order.ID)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	require.Equal(t, int64(0), h.balance(domain.Token(xToken), bob))
	require.Equal(t, int64(500), h.balance(domain.Token(xToken), alice))
	require.Equal(t, int64(2000), h.custody(usdt))

	h.store.RejectTransfersTo(alice, false)
	_, err = h.eng.SettleFilled(h.ctx, as(alice), order.ID)
	require.NoError(t, err)
}

func TestCancelOrderMutualConsent(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()

	_, err := h.eng.CancelOrder(h.ctx, as(carol), order.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	pending, err := h.eng.CancelOrder(h.ctx, as(bob), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, pending.Status)
	require.True(t, pending.BuyerCancel)
	require.False(t, pending.SellerCancel)
	require.Equal(t, int64(2000), h.escrow(order.ID))

	done, err := h.eng.CancelOrder(h.ctx, as(alice), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOrderCancelled, done.Status)
	require.Equal(t, int64(1000), h.balance(usdt, alice))
	require.Equal(t, int64(1000), h.balance(usdt, bob))
	require.Equal(t, int64(0), h.escrow(order.ID))

	_, err = h.eng.CancelOrder(h.ctx, as(alice), order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidOrderStatus)
}

func TestCancelOrderByAdmin(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()
	h.open(assetX)

	done, err := h.eng.CancelOrder(h.ctx, as(admin), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOrderCancelled, done.Status)
	require.Equal(t, int64(0), h.custody(usdt))

	types := h.events.types()
	require.Equal(t, domain.EventOrderCancelled, types[len(types)-1])
}

func TestCancelOrderAfterDeadline(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()
	h.open(assetX)
	h.clock.Advance(week + time.Second)

	_, err := h.eng.CancelOrder(h.ctx, as(admin), order.ID)
	require.ErrorIs(t, err, domain.ErrDeadlineExceeded)
}

func TestMissingOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.SettleFilled(h.ctx, as(alice), 9)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = h.eng.Order(h.ctx, 9)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = h.eng.EscrowBalance(h.ctx, 9)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestExpiredOrders(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()

	expired, err := h.eng.ExpiredOrders(h.ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, expired)

	a := h.open(assetX)
	deadline, _ := a.Deadline()
	h.clock.Set(deadline)
	expired, err = h.eng.ExpiredOrders(h.ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, expired)

	h.clock.Set(deadline.Add(time.Second))
	expired, err = h.eng.ExpiredOrders(h.ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, order.ID, expired[0].ID)
	require.Equal(t, deadline, *expired[0].SettleDeadline)

	expired, err = h.eng.ExpiredOrders(h.ctx, order.ID, 10)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestEscrowInvariantAcrossLifecycle(t *testing.T) {
	h := newHarness(t)
	order := h.sellOrder()

	views, err := h.eng.Orders(h.ctx, domain.OrderFilter{Status: domain.OrderStatusOpen})
	require.NoError(t, err)
	for _, v := range views {
		require.Equal(t, 0, v.Escrow.Cmp(orderEscrow(v.Value)), "order %d", v.ID)
	}

	h.open(assetX)
	h.clock.Advance(week + time.Second)
	_, err = h.eng.SettleCancelled(h.ctx, as(bob), order.ID)
	require.NoError(t, err)

	views, err = h.eng.Orders(h.ctx, domain.OrderFilter{})
	require.NoError(t, err)
	for _, v := range views {
		require.True(t, v.Status.Terminal())
		require.Equal(t, 0, v.Escrow.Sign())
	}

	// Terminal records stay readable.
	offer, err := h.eng.Offer(h.ctx, order.OfferID)
	require.NoError(t, err)
	require.Equal(t, domain.OfferStatusFilled, offer.Status)
}
