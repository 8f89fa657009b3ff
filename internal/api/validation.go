package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/nftmarket/internal/market"
	"github.com/Checker-Finance/nftmarket/pkg/model"
)

func parseAddress(field, v string) (model.Address, error) {
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	a, err := model.ParseAddress(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}

func parseAssetID(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("assetId is required")
	}
	if strings.ContainsAny(v, "/|") {
		return "", fmt.Errorf("assetId must not contain '/' or '|'")
	}
	return v, nil
}

func parseAmount(field, v string) (decimal.Decimal, error) {
	d, err := model.ParseAmount(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// parsePrice reports a negative price as PriceMustBeAboveZero so clients
// see the same kind the market returns for zero.
func parsePrice(v string) (decimal.Decimal, error) {
	if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil && d.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("price %s: %w", d.String(), market.ErrPriceMustBeAboveZero)
	}
	return parseAmount("price", v)
}

type listItemParams struct {
	collection model.Address
	assetID    string
	price      decimal.Decimal
	caller     model.Address
}

func (r ListItemRequest) Validate() (listItemParams, error) {
	var p listItemParams
	var err error
	if p.collection, err = parseAddress("collection", r.Collection); err != nil {
		return p, err
	}
	if p.assetID, err = parseAssetID(r.AssetID); err != nil {
		return p, err
	}
	if p.price, err = parsePrice(r.Price); err != nil {
		return p, err
	}
	if p.caller, err = parseAddress("caller", r.Caller); err != nil {
		return p, err
	}
	return p, nil
}

func (r UpdateListingRequest) Validate() (decimal.Decimal, model.Address, error) {
	price, err := parsePrice(r.Price)
	if err != nil {
		return decimal.Zero, "", err
	}
	caller, err := parseAddress("caller", r.Caller)
	if err != nil {
		return decimal.Zero, "", err
	}
	return price, caller, nil
}

func (r CallerRequest) Validate() (model.Address, error) {
	return parseAddress("caller", r.Caller)
}

func (r BuyItemRequest) Validate() (model.Address, decimal.Decimal, error) {
	caller, err := parseAddress("caller", r.Caller)
	if err != nil {
		return "", decimal.Zero, err
	}
	payment, err := parseAmount("payment", r.Payment)
	if err != nil {
		return "", decimal.Zero, err
	}
	return caller, payment, nil
}
