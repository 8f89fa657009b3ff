package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var addressRegex = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Address identifies an account or an asset collection.
type Address string

// ParseAddress normalises and validates a 0x-prefixed 20-byte hex address.
func ParseAddress(s string) (Address, error) {
	a := Address(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("invalid address: %q", s)
	}
	return a, nil
}

// Valid returns true if the address is in canonical lower-case form.
func (a Address) Valid() bool {
	return addressRegex.MatchString(string(a))
}

func (a Address) String() string {
	return string(a)
}

// ListingKey is the composite identity of a listable asset.
type ListingKey struct {
	Collection Address `json:"collection"`
	AssetID    string  `json:"assetId"`
}

func (k ListingKey) String() string {
	return fmt.Sprintf("%s/%s", k.Collection, k.AssetID)
}

// Listing is an active fixed-price sale offer.
type Listing struct {
	Seller Address         `json:"seller"`
	Price  decimal.Decimal `json:"price"`
}

// ListingEntry pairs a listing with its key, for snapshots and indexes.
type ListingEntry struct {
	Key     ListingKey `json:"key"`
	Listing Listing    `json:"listing"`
}

// ProceedsEntry is a persisted seller balance.
type ProceedsEntry struct {
	Owner   Address         `json:"owner"`
	Balance decimal.Decimal `json:"balance"`
}
