package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/market"
	"github.com/Checker-Finance/nftmarket/internal/metrics"
	"github.com/Checker-Finance/nftmarket/pkg/eventbus"
	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// Store is the persistence the service writes through to.
type Store interface {
	SaveListing(ctx context.Context, key model.ListingKey, l model.Listing) error
	DeleteListing(ctx context.Context, key model.ListingKey) error
	SaveBalance(ctx context.Context, owner model.Address, balance decimal.Decimal) error
	RecordEvent(ctx context.Context, evt model.MarketEvent) error
	LoadListings(ctx context.Context) ([]model.ListingEntry, error)
	LoadBalances(ctx context.Context) ([]model.ProceedsEntry, error)
}

// SaleRecorder appends completed sales to the history.
type SaleRecorder interface {
	RecordSale(ctx context.Context, sale *model.SaleRecord) error
}

// Service hosts a Market: it admits one external call at a time, persists
// committed effects and fans events out on the bus.
//
// Collaborators that call back into the marketplace while a settlement is in
// flight must do so through the Market passed to New, not through the
// Service, which is still holding its lock.
type Service struct {
	mu      sync.Mutex
	market  *market.Market
	store   Store
	history SaleRecorder
	bus     *eventbus.EventBus[model.MarketEvent]
	logger  *zap.Logger
	newID   func() string
}

// Options wires the optional dependencies of a Service.
type Options struct {
	Store   Store
	History SaleRecorder
	Bus     *eventbus.EventBus[model.MarketEvent]
	Logger  *zap.Logger
}

// New builds the hosted market with the service as its event sink.
func New(cfg market.Config, registry market.AssetRegistry, payouts market.PayoutSender, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New[model.MarketEvent]()
	}
	s := &Service{
		store:   opts.Store,
		history: opts.History,
		bus:     bus,
		logger:  logger,
		newID:   uuid.NewString,
	}
	s.market = market.New(cfg, registry, payouts, market.EventSinkFunc(s.onEvent), logger.Named("market"))
	return s
}

// Market returns the hosted market for collaborator callbacks and tests.
func (s *Service) Market() *market.Market { return s.market }

func (s *Service) Bus() *eventbus.EventBus[model.MarketEvent] { return s.bus }

// Restore loads persisted listings and balances into the market.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	listings, err := s.store.LoadListings(ctx)
	if err != nil {
		return fmt.Errorf("load listings: %w", err)
	}
	balances, err := s.store.LoadBalances(ctx)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.market.Restore(listings, balances); err != nil {
		return err
	}
	metrics.SetLedgerGauges(len(listings), s.market.TotalProceeds())
	return nil
}

func (s *Service) observe(op string, start time.Time, err error) {
	metrics.ObserveDuration(metrics.MarketOpDuration, start, op)
	result := "ok"
	if err != nil {
		if result = market.Kind(err); result == "" {
			result = "error"
		}
	}
	metrics.IncMarketOp(op, result)
	if err != nil && !market.IsRejection(err) {
		s.logger.Error("service.op_failed", zap.String("op", op), zap.Error(err))
		metrics.IncError("market", op)
	}
}

func (s *Service) ListItem(ctx context.Context, collection model.Address, assetID string, price decimal.Decimal, caller model.Address) (err error) {
	defer func(start time.Time) { s.observe("list_item", start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.ListItem(ctx, collection, assetID, price, caller)
}

func (s *Service) UpdateListing(ctx context.Context, collection model.Address, assetID string, newPrice decimal.Decimal, caller model.Address) (err error) {
	defer func(start time.Time) { s.observe("update_listing", start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.UpdateListing(ctx, collection, assetID, newPrice, caller)
}

func (s *Service) CancelItem(ctx context.Context, collection model.Address, assetID string, caller model.Address) (err error) {
	defer func(start time.Time) { s.observe("cancel_item", start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.CancelItem(ctx, collection, assetID, caller)
}

// BuyItem settles a purchase and records it in the sales history.
func (s *Service) BuyItem(ctx context.Context, collection model.Address, assetID string, caller model.Address, payment decimal.Decimal) (sale model.SaleRecord, err error) {
	defer func(start time.Time) { s.observe("buy_item", start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err = s.market.BuyItem(ctx, collection, assetID, caller, payment)
	if err != nil {
		return sale, err
	}
	sale.SaleID = s.newID()
	if s.history != nil {
		if herr := s.history.RecordSale(context.WithoutCancel(ctx), &sale); herr != nil {
			metrics.IncError("history", "record_sale_failed")
		}
	}
	return sale, nil
}

func (s *Service) WithdrawProceeds(ctx context.Context, caller model.Address) (amount decimal.Decimal, err error) {
	defer func(start time.Time) { s.observe("withdraw_proceeds", start, err) }(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.WithdrawProceeds(ctx, caller)
}

func (s *Service) GetListing(collection model.Address, assetID string) (model.Listing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.GetListing(collection, assetID)
}

func (s *Service) Listings() []model.ListingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.Listings()
}

func (s *Service) GetProceeds(owner model.Address) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.GetProceeds(owner)
}

// Snapshot returns a consistent copy of listings and balances.
func (s *Service) Snapshot() ([]model.ListingEntry, []model.ProceedsEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.market.Listings(), s.market.Balances()
}

// onEvent runs for every committed event, in order, while the service lock
// is held. It writes the current state of whatever the event touched, so
// replaying it is harmless.
func (s *Service) onEvent(ctx context.Context, evt model.MarketEvent) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Info("service.event",
		zap.String("type", string(evt.Type)),
		zap.String("key", evt.Key().String()),
		zap.String("price", evt.Price.String()))

	if s.store != nil {
		s.persist(ctx, evt)
	}
	metrics.SetLedgerGauges(len(s.market.Listings()), s.market.TotalProceeds())
	s.bus.Publish(ctx, evt)
}

func (s *Service) persist(ctx context.Context, evt model.MarketEvent) {
	fail := func(what string, err error) {
		if err == nil {
			return
		}
		s.logger.Error("service.persist_failed",
			zap.String("what", what),
			zap.String("type", string(evt.Type)),
			zap.String("key", evt.Key().String()),
			zap.Error(err))
		metrics.IncError("store", what)
	}

	switch evt.Type {
	case model.EventItemListed, model.EventItemCanceled:
		s.syncListing(ctx, evt.Key(), fail)
	case model.EventItemBought:
		s.syncListing(ctx, evt.Key(), fail)
		fail("save_balance", s.store.SaveBalance(ctx, evt.Seller, s.market.GetProceeds(evt.Seller)))
	case model.EventProceedsWithdrawn:
		fail("save_balance", s.store.SaveBalance(ctx, evt.Owner, s.market.GetProceeds(evt.Owner)))
	}
	fail("record_event", s.store.RecordEvent(ctx, evt))
}

func (s *Service) syncListing(ctx context.Context, key model.ListingKey, fail func(string, error)) {
	if l, ok := s.market.GetListing(key.Collection, key.AssetID); ok {
		fail("save_listing", s.store.SaveListing(ctx, key, l))
		return
	}
	fail("delete_listing", s.store.DeleteListing(ctx, key))
}
