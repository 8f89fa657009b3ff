package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/market"
	"github.com/Checker-Finance/nftmarket/internal/payout"
	"github.com/Checker-Finance/nftmarket/internal/registry"
	"github.com/Checker-Finance/nftmarket/pkg/model"
)

const (
	marketAddr = model.Address("0x00000000000000000000000000000000000000ff")
	collection = model.Address("0x00000000000000000000000000000000000000c1")
	seller     = model.Address("0x00000000000000000000000000000000000000a1")
	buyer      = model.Address("0x00000000000000000000000000000000000000b1")
)

type memStore struct {
	mu       sync.Mutex
	listings map[model.ListingKey]model.Listing
	balances map[model.Address]decimal.Decimal
	events   []model.MarketEvent
	saveErr  error
	loadErr  error
}

func newMemStore() *memStore {
	return &memStore{
		listings: map[model.ListingKey]model.Listing{},
		balances: map[model.Address]decimal.Decimal{},
	}
}

func (m *memStore) SaveListing(_ context.Context, key model.ListingKey, l model.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.listings[key] = l
	return nil
}

func (m *memStore) DeleteListing(_ context.Context, key model.ListingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listings, key)
	return nil
}

func (m *memStore) SaveBalance(_ context.Context, owner model.Address, bal decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[owner] = bal
	return nil
}

func (m *memStore) RecordEvent(_ context.Context, evt model.MarketEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *memStore) LoadListings(context.Context) ([]model.ListingEntry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []model.ListingEntry
	for k, l := range m.listings {
		out = append(out, model.ListingEntry{Key: k, Listing: l})
	}
	return out, nil
}

func (m *memStore) LoadBalances(context.Context) ([]model.ProceedsEntry, error) {
	var out []model.ProceedsEntry
	for o, b := range m.balances {
		out = append(out, model.ProceedsEntry{Owner: o, Balance: b})
	}
	return out, nil
}

type recordingHistory struct {
	sales []model.SaleRecord
	err   error
}

func (h *recordingHistory) RecordSale(_ context.Context, sale *model.SaleRecord) error {
	h.sales = append(h.sales, *sale)
	return h.err
}

type fixture struct {
	svc     *Service
	reg     *registry.Memory
	payouts *payout.Ledger
	store   *memStore
	history *recordingHistory
}

func newFixture(t *testing.T, guard bool) *fixture {
	t.Helper()
	reg := registry.NewMemory(marketAddr)
	payouts := payout.NewLedger(zap.NewNop())
	st := newMemStore()
	hist := &recordingHistory{}
	svc := New(market.Config{Self: marketAddr, ReentrancyGuard: guard}, reg, payouts, Options{
		Store:   st,
		History: hist,
		Logger:  zap.NewNop(),
	})
	return &fixture{svc: svc, reg: reg, payouts: payouts, store: st, history: hist}
}

func (f *fixture) mintApproved(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.reg.Mint(collection, id, seller))
	require.NoError(t, f.reg.Approve(collection, id, seller, marketAddr))
}

var price = decimal.NewFromInt(100)

func TestListBuyWithdrawPersists(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.mintApproved(t, "0")

	require.NoError(t, f.svc.ListItem(ctx, collection, "0", price, seller))
	key := model.ListingKey{Collection: collection, AssetID: "0"}
	assert.Contains(t, f.store.listings, key)

	sale, err := f.svc.BuyItem(ctx, collection, "0", buyer, decimal.NewFromInt(120))
	require.NoError(t, err)
	assert.NotEmpty(t, sale.SaleID)
	assert.True(t, sale.Paid.Equal(decimal.NewFromInt(120)))
	assert.NotContains(t, f.store.listings, key)
	assert.True(t, f.store.balances[seller].Equal(decimal.NewFromInt(120)))
	require.Len(t, f.history.sales, 1)
	assert.Equal(t, sale.SaleID, f.history.sales[0].SaleID)

	owner, err := f.reg.OwnerOf(ctx, collection, "0")
	require.NoError(t, err)
	assert.Equal(t, buyer, owner)

	amount, err := f.svc.WithdrawProceeds(ctx, seller)
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(120)))
	assert.True(t, f.payouts.Paid(seller).Equal(decimal.NewFromInt(120)))
	assert.True(t, f.store.balances[seller].IsZero())

	var types []model.EventType
	for _, e := range f.store.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []model.EventType{
		model.EventItemListed, model.EventItemBought, model.EventProceedsWithdrawn,
	}, types)
}

func TestUpdateAndCancelPersist(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.mintApproved(t, "1")
	key := model.ListingKey{Collection: collection, AssetID: "1"}

	require.NoError(t, f.svc.ListItem(ctx, collection, "1", price, seller))
	require.NoError(t, f.svc.UpdateListing(ctx, collection, "1", decimal.NewFromInt(300), seller))
	assert.True(t, f.store.listings[key].Price.Equal(decimal.NewFromInt(300)))

	l, ok := f.svc.GetListing(collection, "1")
	require.True(t, ok)
	assert.True(t, l.Price.Equal(decimal.NewFromInt(300)))

	require.NoError(t, f.svc.CancelItem(ctx, collection, "1", seller))
	assert.NotContains(t, f.store.listings, key)
	assert.Empty(t, f.svc.Listings())
}

func TestRejectionsDoNotPersist(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.reg.Mint(collection, "2", seller))

	err := f.svc.ListItem(ctx, collection, "2", price, seller)
	assert.ErrorIs(t, err, market.ErrNotApprovedForMarketplace)
	assert.Empty(t, f.store.listings)
	assert.Empty(t, f.store.events)

	_, err = f.svc.WithdrawProceeds(ctx, seller)
	assert.ErrorIs(t, err, market.ErrNoProceeds)
}

func TestPersistFailureDoesNotUndoCommit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.mintApproved(t, "3")
	f.store.saveErr = errors.New("redis down")

	require.NoError(t, f.svc.ListItem(ctx, collection, "3", price, seller))
	_, ok := f.svc.GetListing(collection, "3")
	assert.True(t, ok)
}

func TestHistoryFailureDoesNotFailBuy(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.mintApproved(t, "4")
	f.history.err = errors.New("pg down")

	require.NoError(t, f.svc.ListItem(ctx, collection, "4", price, seller))
	_, err := f.svc.BuyItem(ctx, collection, "4", buyer, price)
	assert.NoError(t, err)
	assert.True(t, f.svc.GetProceeds(seller).Equal(price))
}

func TestBusReceivesEventsInOrder(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.mintApproved(t, "5")

	var got []model.EventType
	f.svc.Bus().Subscribe("test", func(_ context.Context, e model.MarketEvent) { got = append(got, e.Type) })

	require.NoError(t, f.svc.ListItem(ctx, collection, "5", price, seller))
	_, err := f.svc.BuyItem(ctx, collection, "5", buyer, price)
	require.NoError(t, err)

	assert.Equal(t, []model.EventType{model.EventItemListed, model.EventItemBought}, got)
}

func TestReentrantCallbackThroughMarket(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.mintApproved(t, "6")
	require.NoError(t, f.svc.ListItem(ctx, collection, "6", price, seller))

	var nestedErr error
	f.reg.OnTransfer = func(ctx context.Context, key model.ListingKey, _, _ model.Address) {
		_, nestedErr = f.svc.Market().BuyItem(ctx, key.Collection, key.AssetID, buyer, price)
	}

	_, err := f.svc.BuyItem(ctx, collection, "6", buyer, price)
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, market.ErrReentrantCall)
	assert.True(t, f.svc.GetProceeds(seller).Equal(price))
}

func TestRestoreFromStore(t *testing.T) {
	f := newFixture(t, true)
	key := model.ListingKey{Collection: collection, AssetID: "9"}
	f.store.listings[key] = model.Listing{Seller: seller, Price: price}
	f.store.balances[seller] = decimal.NewFromInt(55)

	require.NoError(t, f.svc.Restore(context.Background()))

	_, ok := f.svc.GetListing(collection, "9")
	assert.True(t, ok)
	assert.True(t, f.svc.GetProceeds(seller).Equal(decimal.NewFromInt(55)))

	listings, balances := f.svc.Snapshot()
	assert.Len(t, listings, 1)
	assert.Len(t, balances, 1)
}

func TestRestoreLoadError(t *testing.T) {
	f := newFixture(t, true)
	f.store.loadErr = errors.New("boom")
	assert.ErrorContains(t, f.svc.Restore(context.Background()), "boom")
}

func TestRestoreWithoutStore(t *testing.T) {
	svc := New(market.Config{Self: marketAddr}, registry.NewMemory(marketAddr), payout.NewLedger(nil), Options{})
	assert.NoError(t, svc.Restore(context.Background()))
}

func TestConcurrentCallersAreSerialised(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.mintApproved(t, "7")
	require.NoError(t, f.svc.ListItem(ctx, collection, "7", price, seller))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.BuyItem(ctx, collection, "7", buyer, price); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, f.svc.GetProceeds(seller).Equal(price))
}
