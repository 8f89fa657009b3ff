package api

// ListItemRequest is the payload to list an asset for sale.
type ListItemRequest struct {
	Collection string `json:"collection" example:"0x5fbdb2315678afecb367f032d93f642f64180aa3"`
	AssetID    string `json:"assetId" example:"0"`
	Price      string `json:"price" example:"100000000000000000"`
	Caller     string `json:"caller"`
}

// UpdateListingRequest changes the price of an active listing.
type UpdateListingRequest struct {
	Price  string `json:"price"`
	Caller string `json:"caller"`
}

// CallerRequest carries only the acting account (cancel, withdraw).
type CallerRequest struct {
	Caller string `json:"caller"`
}

// BuyItemRequest pays for a listed asset. Payment is in the smallest unit.
type BuyItemRequest struct {
	Caller  string `json:"caller"`
	Payment string `json:"payment"`
}
