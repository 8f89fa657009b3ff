package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// Rejections. Each aborts the operation with no state change.
var (
	ErrPriceMustBeAboveZero      = errors.New("price must be above zero")
	ErrAlreadyListed             = errors.New("already listed")
	ErrNotOwner                  = errors.New("not owner")
	ErrNotApprovedForMarketplace = errors.New("not approved for marketplace")
	ErrNotListed                 = errors.New("not listed")
	ErrPriceNotMet               = errors.New("price not met")
	ErrNoProceeds                = errors.New("no proceeds")
	ErrReentrantCall             = errors.New("reentrant call")
	ErrInvalidAmount             = errors.New("invalid amount")
)

// ErrProceedsOverflow is fatal: a credit would exceed the 256-bit amount range.
var ErrProceedsOverflow = errors.New("proceeds overflow")

// AlreadyListedError carries the key that already has an active listing.
type AlreadyListedError struct {
	Key model.ListingKey
}

func (e *AlreadyListedError) Error() string {
	return fmt.Sprintf("already listed: %s", e.Key)
}

func (e *AlreadyListedError) Is(target error) bool { return target == ErrAlreadyListed }

// NotOwnerError is returned when the caller is not the registry-recorded owner.
type NotOwnerError struct {
	Key    model.ListingKey
	Caller model.Address
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("not owner: %s is not the owner of %s", e.Caller, e.Key)
}

func (e *NotOwnerError) Is(target error) bool { return target == ErrNotOwner }

// NotApprovedError is returned when the marketplace may not transfer the asset.
type NotApprovedError struct {
	Key model.ListingKey
}

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("not approved for marketplace: %s", e.Key)
}

func (e *NotApprovedError) Is(target error) bool { return target == ErrNotApprovedForMarketplace }

// NotListedError is returned when no active listing exists for the key.
type NotListedError struct {
	Key model.ListingKey
}

func (e *NotListedError) Error() string {
	return fmt.Sprintf("not listed: %s", e.Key)
}

func (e *NotListedError) Is(target error) bool { return target == ErrNotListed }

// PriceNotMetError carries the listed price and the offered payment.
type PriceNotMetError struct {
	Key      model.ListingKey
	Required decimal.Decimal
	Offered  decimal.Decimal
}

func (e *PriceNotMetError) Error() string {
	return fmt.Sprintf("price not met for %s: required %s, offered %s", e.Key, e.Required, e.Offered)
}

func (e *PriceNotMetError) Is(target error) bool { return target == ErrPriceNotMet }

var kinds = []struct {
	err  error
	name string
}{
	{ErrPriceMustBeAboveZero, "PriceMustBeAboveZero"},
	{ErrAlreadyListed, "AlreadyListed"},
	{ErrNotOwner, "NotOwner"},
	{ErrNotApprovedForMarketplace, "NotApprovedForMarketplace"},
	{ErrNotListed, "NotListed"},
	{ErrPriceNotMet, "PriceNotMet"},
	{ErrNoProceeds, "NoProceeds"},
	{ErrReentrantCall, "ReentrantCall"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrProceedsOverflow, "ProceedsOverflow"},
}

// Kind returns the taxonomy name of err, or "" if err is not a marketplace error.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// IsRejection reports whether err is an expected, caller-correctable rejection.
func IsRejection(err error) bool {
	k := Kind(err)
	return k != "" && k != "ProceedsOverflow"
}
