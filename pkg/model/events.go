package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a marketplace notification.
type EventType string

const (
	EventItemListed        EventType = "ItemListed"
	EventItemCanceled      EventType = "ItemCanceled"
	EventItemBought        EventType = "ItemBought"
	EventProceedsWithdrawn EventType = "ProceedsWithdrawn"
)

// Topic returns the NATS subject suffix for the event type.
func (t EventType) Topic() string {
	switch t {
	case EventItemListed:
		return "item.listed"
	case EventItemCanceled:
		return "item.canceled"
	case EventItemBought:
		return "item.bought"
	case EventProceedsWithdrawn:
		return "proceeds.withdrawn"
	default:
		return "unknown"
	}
}

// MarketEvent is the externally observable notification of a committed
// state change. Seller is set for listed, canceled and bought; Buyer for bought;
// Owner for withdrawals. For bought events Price is the amount paid.
type MarketEvent struct {
	Type       EventType       `json:"type"`
	Collection Address         `json:"collection,omitempty"`
	AssetID    string          `json:"assetId,omitempty"`
	Seller     Address         `json:"seller,omitempty"`
	Buyer      Address         `json:"buyer,omitempty"`
	Owner      Address         `json:"owner,omitempty"`
	Price      decimal.Decimal `json:"price"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Key returns the listing key the event refers to.
func (e MarketEvent) Key() ListingKey {
	return ListingKey{Collection: e.Collection, AssetID: e.AssetID}
}

// SaleRecord is a completed purchase, as written to the sales history.
type SaleRecord struct {
	SaleID     string          `json:"saleId"`
	Collection Address         `json:"collection"`
	AssetID    string          `json:"assetId"`
	Seller     Address         `json:"seller"`
	Buyer      Address         `json:"buyer"`
	Price      decimal.Decimal `json:"price"`
	Paid       decimal.Decimal `json:"paid"`
	SoldAt     time.Time       `json:"soldAt"`
}
