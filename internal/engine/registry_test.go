package engine

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/premarket/internal/domain"
)

func TestRegisterAsset(t *testing.T) {
	h := newHarness(t)

	a := h.register("X", week)
	require.Equal(t, assetX, a.ID)
	require.Equal(t, "X", a.Name)
	require.Nil(t, a.DeliverableAsset)
	require.False(t, a.SettlementOpen())
	require.Equal(t, genesis, a.CreatedAt)

	got, found, err := h.eng.Asset(h.ctx, assetX)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, week, got.SettlementWindow)

	_, err = h.eng.RegisterAsset(h.ctx, as(admin), "X", time.Hour)
	require.ErrorIs(t, err, domain.ErrAlreadyRegistered)
	require.Equal(t, "AlreadyRegistered", domain.CodeOf(err))

	_, err = h.eng.RegisterAsset(h.ctx, as(admin), "Y", 0)
	require.ErrorIs(t, err, domain.ErrInvalidSettlementWindow)

	_, err = h.eng.RegisterAsset(h.ctx, as(bob), "Z", week)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Equal(t, domain.KindAuth, domain.KindOf(err))

	assets, err := h.eng.Assets(h.ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, assets, 1)
}

func TestAssetLookupMissing(t *testing.T) {
	h := newHarness(t)
	_, found, err := h.eng.Asset(h.ctx, domain.AssetIDFromName("nope"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestOpenSettlement(t *testing.T) {
	h := newHarness(t)
	h.register("X", week)
	h.clock.Advance(time.Hour)

	_, err := h.eng.OpenSettlement(h.ctx, as(alice), assetX, xToken)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.eng.OpenSettlement(h.ctx, as(admin), assetX, common.Address{})
	require.ErrorIs(t, err, domain.ErrInvalidDeliverableAsset)

	_, err = h.eng.OpenSettlement(h.ctx, as(admin), domain.AssetIDFromName("Y"), xToken)
	require.ErrorIs(t, err, domain.ErrUnknownAsset)

	a := h.open(assetX)
	require.Equal(t, xToken, *a.DeliverableAsset)
	deadline, ok := a.Deadline()
	require.True(t, ok)
	require.Equal(t, genesis.Add(time.Hour+week), deadline)

	_, err = h.eng.OpenSettlement(h.ctx, as(admin), assetX, common.HexToAddress("0x01"))
	require.ErrorIs(t, err, domain.ErrAlreadyOpened)

	got, _, err := h.eng.Asset(h.ctx, assetX)
	require.NoError(t, err)
	require.Equal(t, xToken, *got.DeliverableAsset, "deliverable asset is set at most once")
}

func TestSetPaymentAsset(t *testing.T) {
	h := newHarness(t)
	dai := domain.Token(common.HexToAddress("0xda1"))

	require.ErrorIs(t, h.eng.SetPaymentAsset(h.ctx, as(bob), dai, true), domain.ErrUnauthorized)
	require.NoError(t, h.eng.SetPaymentAsset(h.ctx, as(admin), dai, true))

	assets, err := h.eng.PaymentAssets(h.ctx)
	require.NoError(t, err)
	require.Contains(t, assets, dai)

	require.NoError(t, h.eng.SetPaymentAsset(h.ctx, as(admin), dai, false))
	assets, err = h.eng.PaymentAssets(h.ctx)
	require.NoError(t, err)
	require.NotContains(t, assets, dai)
}
