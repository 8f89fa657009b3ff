package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

const (
	marketAddr = model.Address("0x00000000000000000000000000000000000000aa")
	collection = model.Address("0x0000000000000000000000000000000000000c01")
	seller     = model.Address("0x1111111111111111111111111111111111111111")
	buyer      = model.Address("0x2222222222222222222222222222222222222222")
	stranger   = model.Address("0x3333333333333333333333333333333333333333")
)

var price100 = decimal.NewFromInt(100)

// --- fake registry ---

type fakeRegistry struct {
	owners     map[string]model.Address
	approved   map[string]model.Address
	transfers  int
	failNext   error
	onTransfer func()
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		owners:   make(map[string]model.Address),
		approved: make(map[string]model.Address),
	}
}

func regKey(c model.Address, id string) string { return fmt.Sprintf("%s/%s", c, id) }

func (r *fakeRegistry) mint(id string, owner model.Address, approveMarket bool) {
	r.owners[regKey(collection, id)] = owner
	if approveMarket {
		r.approved[regKey(collection, id)] = marketAddr
	}
}

func (r *fakeRegistry) OwnerOf(_ context.Context, c model.Address, id string) (model.Address, error) {
	o, ok := r.owners[regKey(c, id)]
	if !ok {
		return "", errors.New("nonexistent token")
	}
	return o, nil
}

func (r *fakeRegistry) IsApprovedForTransfer(_ context.Context, c model.Address, id string, spender model.Address) (bool, error) {
	return r.approved[regKey(c, id)] == spender, nil
}

func (r *fakeRegistry) Transfer(_ context.Context, c model.Address, id string, from, to model.Address) error {
	if r.onTransfer != nil {
		r.onTransfer()
	}
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	k := regKey(c, id)
	if r.owners[k] != from {
		return errors.New("transfer from incorrect owner")
	}
	r.owners[k] = to
	delete(r.approved, k)
	r.transfers++
	return nil
}

// --- fake payouts ---

type fakePayouts struct {
	sent     map[model.Address]decimal.Decimal
	calls    int
	failNext error
	onSend   func()
}

func newFakePayouts() *fakePayouts {
	return &fakePayouts{sent: make(map[model.Address]decimal.Decimal)}
}

func (p *fakePayouts) Send(_ context.Context, to model.Address, amount decimal.Decimal) error {
	if p.onSend != nil {
		p.onSend()
	}
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return err
	}
	p.calls++
	p.sent[to] = p.sent[to].Add(amount)
	return nil
}

// --- recording sink ---

type recordingSink struct {
	mu     sync.Mutex
	events []model.MarketEvent
}

func (s *recordingSink) Emit(_ context.Context, evt model.MarketEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) types() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	m       *Market
	reg     *fakeRegistry
	payouts *fakePayouts
	sink    *recordingSink
}

func newFixture(t *testing.T, guard bool) *fixture {
	t.Helper()
	reg := newFakeRegistry()
	payouts := newFakePayouts()
	sink := &recordingSink{}
	m := New(Config{Self: marketAddr, ReentrancyGuard: guard}, reg, payouts, sink, zap.NewNop())
	return &fixture{m: m, reg: reg, payouts: payouts, sink: sink}
}
