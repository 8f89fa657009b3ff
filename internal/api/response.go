package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// ListingResponse is an active listing with its price in raw and display units.
type ListingResponse struct {
	Collection     string `json:"collection"`
	AssetID        string `json:"assetId"`
	Seller         string `json:"seller"`
	Price          string `json:"price"`
	PriceFormatted string `json:"priceFormatted"`
}

type ProceedsResponse struct {
	Owner            string `json:"owner"`
	Balance          string `json:"balance"`
	BalanceFormatted string `json:"balanceFormatted"`
}

type SaleResponse struct {
	SaleID         string    `json:"saleId"`
	Collection     string    `json:"collection"`
	AssetID        string    `json:"assetId"`
	Seller         string    `json:"seller"`
	Buyer          string    `json:"buyer"`
	Price          string    `json:"price"`
	PriceFormatted string    `json:"priceFormatted"`
	Paid           string    `json:"paid"`
	SoldAt         time.Time `json:"soldAt"`
}

type WithdrawResponse struct {
	Owner           string `json:"owner"`
	Amount          string `json:"amount"`
	AmountFormatted string `json:"amountFormatted"`
}

// ErrorResponse carries the message and, for marketplace errors, its kind.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (h *MarketHandler) format(d decimal.Decimal) string {
	return model.FormatAmount(d, h.decimals)
}

func (h *MarketHandler) listingResponse(key model.ListingKey, l model.Listing) ListingResponse {
	return ListingResponse{
		Collection:     key.Collection.String(),
		AssetID:        key.AssetID,
		Seller:         l.Seller.String(),
		Price:          l.Price.String(),
		PriceFormatted: h.format(l.Price),
	}
}
