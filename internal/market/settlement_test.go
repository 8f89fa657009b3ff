package market

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

func TestBuyItem_NotListed(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.m.BuyItem(context.Background(), collection, "1", buyer, price100)
	require.ErrorIs(t, err, ErrNotListed)

	var nl *NotListedError
	require.True(t, errors.As(err, &nl))
	assert.Equal(t, "1", nl.Key.AssetID)
}

func TestBuyItem_OverpaymentRetainedAsProceeds(t *testing.T) {
	f := newFixture(t, true)
	f.reg.mint("1", seller, true)
	ctx := context.Background()
	require.NoError(t, f.m.ListItem(ctx, collection, "1", price100, seller))

	sale, err := f.m.BuyItem(ctx, collection, "1", buyer, decimal.NewFromInt(130))
	require.NoError(t, err)

	assert.True(t, f.m.GetProceeds(seller).Equal(decimal.NewFromInt(130)))
	assert.True(t, sale.Price.Equal(price100))
	assert.True(t, sale.Paid.Equal(decimal.NewFromInt(130)))

	// the announced price is what the buyer paid, matching the proceeds credited
	last := f.sink.events[len(f.sink.events)-1]
	assert.Equal(t, model.EventItemBought, last.Type)
	assert.True(t, last.Price.Equal(decimal.NewFromInt(130)), "got %s", last.Price)
	assert.True(t, last.Price.Equal(f.m.GetProceeds(seller)))
	assert.Equal(t, buyer, last.Buyer)
	assert.Equal(t, seller, last.Seller)
}

func TestBuyItem_TransferFailureRollsBack(t *testing.T) {
	f := newFixture(t, true)
	f.reg.mint("1", seller, true)
	ctx := context.Background()
	require.NoError(t, f.m.ListItem(ctx, collection, "1", price100, seller))
	totalBefore := f.m.TotalProceeds()

	f.reg.failNext = errors.New("registry paused")
	_, err := f.m.BuyItem(ctx, collection, "1", buyer, price100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry paused")

	l, ok := f.m.GetListing(collection, "1")
	require.True(t, ok)
	assert.Equal(t, seller, l.Seller)
	assert.True(t, f.m.TotalProceeds().Equal(totalBefore))
	assert.Empty(t, f.m.Balances())
	assert.Equal(t, []model.EventType{model.EventItemListed}, f.sink.types())

	owner, _ := f.reg.OwnerOf(ctx, collection, "1")
	assert.Equal(t, seller, owner)
}

func TestBuyItem_ProceedsSumInvariant(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	payments := []int64{100, 250, 100}
	for i, id := range []string{"1", "2", "3"} {
		f.reg.mint(id, seller, true)
		require.NoError(t, f.m.ListItem(ctx, collection, id, price100, seller))

		before := f.m.TotalProceeds()
		_, err := f.m.BuyItem(ctx, collection, id, buyer, decimal.NewFromInt(payments[i]))
		require.NoError(t, err)
		assert.True(t, f.m.TotalProceeds().Sub(before).Equal(decimal.NewFromInt(payments[i])))
	}

	// failed buys add nothing
	before := f.m.TotalProceeds()
	_, err := f.m.BuyItem(ctx, collection, "1", buyer, price100)
	require.ErrorIs(t, err, ErrNotListed)
	assert.True(t, f.m.TotalProceeds().Equal(before))
	assert.True(t, before.Equal(decimal.NewFromInt(450)))
}

func TestBuyItem_ProceedsOverflowIsFatal(t *testing.T) {
	f := newFixture(t, true)
	f.reg.mint("1", seller, true)
	ctx := context.Background()
	require.NoError(t, f.m.Restore(nil, []model.ProceedsEntry{{Owner: seller, Balance: model.MaxAmount}}))
	require.NoError(t, f.m.ListItem(ctx, collection, "1", price100, seller))

	_, err := f.m.BuyItem(ctx, collection, "1", buyer, price100)
	require.ErrorIs(t, err, ErrProceedsOverflow)
	assert.False(t, IsRejection(err))

	assert.True(t, f.m.GetProceeds(seller).Equal(model.MaxAmount))
	_, ok := f.m.GetListing(collection, "1")
	assert.True(t, ok)
	assert.Equal(t, 0, f.reg.transfers)
}

func TestBuyItem_CannotBuyTwice(t *testing.T) {
	f := newFixture(t, true)
	f.reg.mint("1", seller, true)
	ctx := context.Background()
	require.NoError(t, f.m.ListItem(ctx, collection, "1", price100, seller))

	_, err := f.m.BuyItem(ctx, collection, "1", buyer, price100)
	require.NoError(t, err)
	_, err = f.m.BuyItem(ctx, collection, "1", stranger, price100)
	require.ErrorIs(t, err, ErrNotListed)

	assert.Equal(t, 1, f.reg.transfers)
	assert.True(t, f.m.GetProceeds(seller).Equal(price100))
}

func TestBuyItem_SellerNoLongerOwnerFailsAtomically(t *testing.T) {
	f := newFixture(t, true)
	f.reg.mint("1", seller, true)
	ctx := context.Background()
	require.NoError(t, f.m.ListItem(ctx, collection, "1", price100, seller))

	// asset moved outside the marketplace after listing
	f.reg.owners[regKey(collection, "1")] = stranger

	_, err := f.m.BuyItem(ctx, collection, "1", buyer, price100)
	require.Error(t, err)
	assert.True(t, f.m.GetProceeds(seller).IsZero())
	_, ok := f.m.GetListing(collection, "1")
	assert.True(t, ok)
}

func TestBuyItem_CollaboratorPanicRollsBack(t *testing.T) {
	f := newFixture(t, true)
	f.reg.mint("1", seller, true)
	ctx := context.Background()
	require.NoError(t, f.m.ListItem(ctx, collection, "1", price100, seller))

	f.reg.onTransfer = func() { panic("registry crashed") }
	assert.Panics(t, func() {
		_, _ = f.m.BuyItem(ctx, collection, "1", buyer, price100)
	})
	f.reg.onTransfer = nil

	_, ok := f.m.GetListing(collection, "1")
	assert.True(t, ok)
	assert.True(t, f.m.TotalProceeds().IsZero())

	// the market is usable afterwards
	_, err := f.m.BuyItem(ctx, collection, "1", buyer, price100)
	require.NoError(t, err)
}
