package market

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// ListItem offers an asset for sale at a fixed price. The caller must own
// the asset and the marketplace must be approved to transfer it.
func (m *Market) ListItem(ctx context.Context, collection model.Address, assetID string, price decimal.Decimal, caller model.Address) error {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	return m.run(ctx, "list_item", func() error {
		if err := priceAboveZero(price); err != nil {
			return err
		}
		if err := validAmount(price); err != nil {
			return err
		}
		if err := m.isNotListed(key); err != nil {
			return err
		}
		if err := m.requireOwner(ctx, key, caller); err != nil {
			return err
		}
		approved, err := m.registry.IsApprovedForTransfer(ctx, collection, assetID, m.cfg.Self)
		if err != nil {
			return fmt.Errorf("registry approval lookup for %s: %w", key, err)
		}
		if !approved {
			return &NotApprovedError{Key: key}
		}

		m.putListing(key, model.Listing{Seller: caller, Price: price})
		m.journal.emit(model.MarketEvent{
			Type:       model.EventItemListed,
			Collection: collection,
			AssetID:    assetID,
			Seller:     caller,
			Price:      price,
			OccurredAt: m.now(),
		})
		m.logger.Debug("market.item_listed",
			zap.String("key", key.String()),
			zap.String("seller", caller.String()),
			zap.String("price", price.String()))
		return nil
	})
}

// CancelItem removes an active listing. Only the current owner may cancel.
func (m *Market) CancelItem(ctx context.Context, collection model.Address, assetID string, caller model.Address) error {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	return m.run(ctx, "cancel_item", func() error {
		if _, err := m.isListed(key); err != nil {
			return err
		}
		if err := m.requireOwner(ctx, key, caller); err != nil {
			return err
		}

		m.deleteListing(key)
		m.journal.emit(model.MarketEvent{
			Type:       model.EventItemCanceled,
			Collection: collection,
			AssetID:    assetID,
			Seller:     caller,
			OccurredAt: m.now(),
		})
		m.logger.Debug("market.item_canceled", zap.String("key", key.String()))
		return nil
	})
}

// UpdateListing changes the price of an active listing in place and
// re-announces it with ItemListed.
func (m *Market) UpdateListing(ctx context.Context, collection model.Address, assetID string, newPrice decimal.Decimal, caller model.Address) error {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	return m.run(ctx, "update_listing", func() error {
		l, err := m.isListed(key)
		if err != nil {
			return err
		}
		if err := m.requireOwner(ctx, key, caller); err != nil {
			return err
		}
		if err := priceAboveZero(newPrice); err != nil {
			return err
		}
		if err := validAmount(newPrice); err != nil {
			return err
		}

		l.Price = newPrice
		m.putListing(key, l)
		m.journal.emit(model.MarketEvent{
			Type:       model.EventItemListed,
			Collection: collection,
			AssetID:    assetID,
			Seller:     caller,
			Price:      newPrice,
			OccurredAt: m.now(),
		})
		m.logger.Debug("market.listing_updated",
			zap.String("key", key.String()),
			zap.String("price", newPrice.String()))
		return nil
	})
}

// requireOwner reads the registry-recorded owner and checks it against caller.
func (m *Market) requireOwner(ctx context.Context, key model.ListingKey, caller model.Address) error {
	owner, err := m.registry.OwnerOf(ctx, key.Collection, key.AssetID)
	if err != nil {
		return fmt.Errorf("registry owner lookup for %s: %w", key, err)
	}
	return isOwner(key, owner, caller)
}
