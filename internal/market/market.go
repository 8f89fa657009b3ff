package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// Config controls marketplace behaviour.
type Config struct {
	// Self is the marketplace identity the registry must approve as spender.
	Self model.Address
	// ReentrancyGuard rejects any mutating call made while another is in progress.
	ReentrancyGuard bool
}

// Market owns the listing registry and the proceeds ledger.
//
// Market is not safe for concurrent use: the host must serialise calls.
// Calls made back into the market from a collaborator (nested calls) are
// supported and observe the state as already mutated by the outer call.
type Market struct {
	cfg      Config
	registry AssetRegistry
	payouts  PayoutSender
	sink     EventSink
	logger   *zap.Logger
	now      func() time.Time

	listings map[model.ListingKey]model.Listing
	proceeds map[model.Address]decimal.Decimal

	journal journal
	depth   int
}

// New creates an empty market.
func New(cfg Config, registry AssetRegistry, payouts PayoutSender, sink EventSink, logger *zap.Logger) *Market {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Market{
		cfg:      cfg,
		registry: registry,
		payouts:  payouts,
		sink:     sink,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		listings: make(map[model.ListingKey]model.Listing),
		proceeds: make(map[model.Address]decimal.Decimal),
	}
}

// Restore replaces all state with a persisted snapshot. It must not be
// called while an operation is in progress.
func (m *Market) Restore(listings []model.ListingEntry, proceeds []model.ProceedsEntry) error {
	if m.depth > 0 {
		return ErrReentrantCall
	}
	ls := make(map[model.ListingKey]model.Listing, len(listings))
	for _, e := range listings {
		if err := priceAboveZero(e.Listing.Price); err != nil {
			return fmt.Errorf("restore listing %s: %w", e.Key, err)
		}
		if err := validAmount(e.Listing.Price); err != nil {
			return fmt.Errorf("restore listing %s: %w", e.Key, err)
		}
		if _, dup := ls[e.Key]; dup {
			return fmt.Errorf("restore listing %s: %w", e.Key, &AlreadyListedError{Key: e.Key})
		}
		ls[e.Key] = e.Listing
	}
	ps := make(map[model.Address]decimal.Decimal, len(proceeds))
	for _, e := range proceeds {
		if err := validAmount(e.Balance); err != nil {
			return fmt.Errorf("restore proceeds %s: %w", e.Owner, err)
		}
		ps[e.Owner] = e.Balance
	}
	m.listings = ls
	m.proceeds = ps
	m.logger.Info("market.restored",
		zap.Int("listings", len(ls)),
		zap.Int("accounts", len(ps)))
	return nil
}

// run executes one mutating operation inside a journal scope. On error or
// panic the operation's effects are undone. When the outermost call
// succeeds, buffered events are delivered to the sink.
func (m *Market) run(ctx context.Context, op string, fn func() error) (err error) {
	if m.cfg.ReentrancyGuard && m.depth > 0 {
		m.logger.Warn("market.reentrant_call_rejected", zap.String("op", op))
		return ErrReentrantCall
	}

	m.depth++
	sp := m.journal.mark()
	committed := false
	defer func() {
		m.depth--
		if !committed {
			m.journal.rollback(sp)
		}
		if m.depth == 0 {
			for _, evt := range m.journal.reset() {
				m.sink.Emit(ctx, evt)
			}
		}
	}()

	if err := fn(); err != nil {
		m.logger.Debug("market.op_rejected", zap.String("op", op), zap.Int("depth", m.depth), zap.Error(err))
		return err
	}
	committed = true
	return nil
}

func (m *Market) putListing(key model.ListingKey, l model.Listing) {
	prev, had := m.listings[key]
	m.listings[key] = l
	m.journal.record(func() {
		if had {
			m.listings[key] = prev
		} else {
			delete(m.listings, key)
		}
	})
}

func (m *Market) deleteListing(key model.ListingKey) {
	prev, had := m.listings[key]
	if !had {
		return
	}
	delete(m.listings, key)
	m.journal.record(func() { m.listings[key] = prev })
}

func (m *Market) setBalance(owner model.Address, bal decimal.Decimal) {
	prev, had := m.proceeds[owner]
	m.proceeds[owner] = bal
	m.journal.record(func() {
		if had {
			m.proceeds[owner] = prev
		} else {
			delete(m.proceeds, owner)
		}
	})
}

// GetListing returns the active listing for key and whether one exists.
func (m *Market) GetListing(collection model.Address, assetID string) (model.Listing, bool) {
	l, ok := m.listings[model.ListingKey{Collection: collection, AssetID: assetID}]
	return l, ok
}

// Listings returns all active listings ordered by key.
func (m *Market) Listings() []model.ListingEntry {
	out := make([]model.ListingEntry, 0, len(m.listings))
	for k, l := range m.listings {
		out = append(out, model.ListingEntry{Key: k, Listing: l})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Collection != out[j].Key.Collection {
			return out[i].Key.Collection < out[j].Key.Collection
		}
		return out[i].Key.AssetID < out[j].Key.AssetID
	})
	return out
}

// GetProceeds returns the withdrawable balance of owner, zero if none.
func (m *Market) GetProceeds(owner model.Address) decimal.Decimal {
	if bal, ok := m.proceeds[owner]; ok {
		return bal
	}
	return decimal.Zero
}

// TotalProceeds returns the sum of all balances.
func (m *Market) TotalProceeds() decimal.Decimal {
	total := decimal.Zero
	for _, bal := range m.proceeds {
		total = total.Add(bal)
	}
	return total
}

// Balances returns every known proceeds account ordered by owner,
// including accounts that have been drained to zero.
func (m *Market) Balances() []model.ProceedsEntry {
	out := make([]model.ProceedsEntry, 0, len(m.proceeds))
	for owner, bal := range m.proceeds {
		out = append(out, model.ProceedsEntry{Owner: owner, Balance: bal})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}
