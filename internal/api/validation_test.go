package api

import (
	"errors"
	"strings"
	"testing"

	"github.com/Checker-Finance/nftmarket/internal/market"
)

func TestListItemRequest_Validate(t *testing.T) {
	valid := ListItemRequest{
		Collection: "0x00000000000000000000000000000000000000C1",
		AssetID:    " 7 ",
		Price:      "100",
		Caller:     "0x00000000000000000000000000000000000000a1",
	}

	p, err := valid.Validate()
	if err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}
	if p.collection != "0x00000000000000000000000000000000000000c1" {
		t.Errorf("expected lower-cased collection, got %s", p.collection)
	}
	if p.assetID != "7" {
		t.Errorf("expected trimmed asset id, got %q", p.assetID)
	}

	tests := []struct {
		name    string
		mutate  func(r *ListItemRequest)
		wantErr string
	}{
		{
			name:    "missing collection",
			mutate:  func(r *ListItemRequest) { r.Collection = "" },
			wantErr: "collection is required",
		},
		{
			name:    "short collection",
			mutate:  func(r *ListItemRequest) { r.Collection = "0x1234" },
			wantErr: "invalid address",
		},
		{
			name:    "missing assetId",
			mutate:  func(r *ListItemRequest) { r.AssetID = "  " },
			wantErr: "assetId is required",
		},
		{
			name:    "assetId with separator",
			mutate:  func(r *ListItemRequest) { r.AssetID = "a/b" },
			wantErr: "must not contain",
		},
		{
			name:    "missing price",
			mutate:  func(r *ListItemRequest) { r.Price = "" },
			wantErr: "amount is required",
		},
		{
			name:    "fractional price",
			mutate:  func(r *ListItemRequest) { r.Price = "0.5" },
			wantErr: "whole number",
		},
		{
			name:    "missing caller",
			mutate:  func(r *ListItemRequest) { r.Caller = "" },
			wantErr: "caller is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			_, err := r.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestBuyItemRequest_Validate(t *testing.T) {
	r := BuyItemRequest{Caller: "0x00000000000000000000000000000000000000b1", Payment: "5"}
	caller, payment, err := r.Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.String() != "0x00000000000000000000000000000000000000b1" || payment.String() != "5" {
		t.Errorf("unexpected parse result %s %s", caller, payment)
	}

	r.Payment = "-5"
	if _, _, err := r.Validate(); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Errorf("expected negative payment error, got %v", err)
	}
}

func TestZeroPriceIsValidInput(t *testing.T) {
	// zero passes input validation and is rejected by the market itself
	r := UpdateListingRequest{Price: "0", Caller: "0x00000000000000000000000000000000000000a1"}
	if _, _, err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNegativePriceIsPriceMustBeAboveZero(t *testing.T) {
	r := UpdateListingRequest{Price: "-3", Caller: "0x00000000000000000000000000000000000000a1"}
	_, _, err := r.Validate()
	if !errors.Is(err, market.ErrPriceMustBeAboveZero) {
		t.Fatalf("expected ErrPriceMustBeAboveZero, got %v", err)
	}

	r.Price = "-1.5"
	if _, _, err := r.Validate(); !errors.Is(err, market.ErrPriceMustBeAboveZero) {
		t.Errorf("expected ErrPriceMustBeAboveZero for fractional negative, got %v", err)
	}
}

func TestCallerRequest_Validate(t *testing.T) {
	if _, err := (CallerRequest{}).Validate(); err == nil {
		t.Error("expected error for empty caller")
	}
}
