package market

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// AssetRegistry is the external registry that owns asset ownership and approvals.
type AssetRegistry interface {
	// OwnerOf fails if the asset does not exist.
	OwnerOf(ctx context.Context, collection model.Address, assetID string) (model.Address, error)
	IsApprovedForTransfer(ctx context.Context, collection model.Address, assetID string, spender model.Address) (bool, error)
	// Transfer fails if from is not the current owner or the transfer is not approved.
	Transfer(ctx context.Context, collection model.Address, assetID string, from, to model.Address) error
}

// PayoutSender moves withdrawn proceeds out to their owner.
type PayoutSender interface {
	Send(ctx context.Context, to model.Address, amount decimal.Decimal) error
}

// EventSink receives notifications of committed state changes, in order.
type EventSink interface {
	Emit(ctx context.Context, evt model.MarketEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, evt model.MarketEvent)

func (f EventSinkFunc) Emit(ctx context.Context, evt model.MarketEvent) { f(ctx, evt) }

type nopSink struct{}

func (nopSink) Emit(context.Context, model.MarketEvent) {}
