package market

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// BuyItem settles a purchase of a listed asset. The full payment becomes
// the seller's proceeds; overpayment is not refunded.
//
// The listing is deleted and the seller credited before the registry is
// asked to move the asset, so a re-entrant call from the registry finds
// nothing left to buy. If the transfer fails, both effects are undone.
func (m *Market) BuyItem(ctx context.Context, collection model.Address, assetID string, caller model.Address, payment decimal.Decimal) (model.SaleRecord, error) {
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	var sale model.SaleRecord
	err := m.run(ctx, "buy_item", func() error {
		l, err := m.isListed(key)
		if err != nil {
			return err
		}
		if err := validAmount(payment); err != nil {
			return err
		}
		if err := paymentMeetsPrice(key, l, payment); err != nil {
			return err
		}

		m.deleteListing(key)
		if err := m.credit(l.Seller, payment); err != nil {
			return err
		}

		if err := m.registry.Transfer(ctx, collection, assetID, l.Seller, caller); err != nil {
			m.logger.Warn("market.transfer_failed",
				zap.String("key", key.String()),
				zap.String("seller", l.Seller.String()),
				zap.String("buyer", caller.String()),
				zap.Error(err))
			return fmt.Errorf("registry transfer of %s: %w", key, err)
		}

		now := m.now()
		m.journal.emit(model.MarketEvent{
			Type:       model.EventItemBought,
			Collection: collection,
			AssetID:    assetID,
			Seller:     l.Seller,
			Buyer:      caller,
			Price:      payment,
			OccurredAt: now,
		})
		sale = model.SaleRecord{
			Collection: collection,
			AssetID:    assetID,
			Seller:     l.Seller,
			Buyer:      caller,
			Price:      l.Price,
			Paid:       payment,
			SoldAt:     now,
		}
		return nil
	})
	if err != nil {
		return model.SaleRecord{}, err
	}
	return sale, nil
}
