package market

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// Guards are pure gates: each returns exactly one error kind and mutates nothing.

func (m *Market) isListed(key model.ListingKey) (model.Listing, error) {
	l, ok := m.listings[key]
	if !ok {
		return model.Listing{}, &NotListedError{Key: key}
	}
	return l, nil
}

func (m *Market) isNotListed(key model.ListingKey) error {
	if _, ok := m.listings[key]; ok {
		return &AlreadyListedError{Key: key}
	}
	return nil
}

func isOwner(key model.ListingKey, owner, caller model.Address) error {
	if owner != caller {
		return &NotOwnerError{Key: key, Caller: caller}
	}
	return nil
}

func priceAboveZero(price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrPriceMustBeAboveZero
	}
	return nil
}

func paymentMeetsPrice(key model.ListingKey, l model.Listing, payment decimal.Decimal) error {
	if payment.LessThan(l.Price) {
		return &PriceNotMetError{Key: key, Required: l.Price, Offered: payment}
	}
	return nil
}

func validAmount(d decimal.Decimal) error {
	if err := model.ValidateAmount(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return nil
}
