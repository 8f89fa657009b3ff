package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/nftmarket/internal/market"
	"github.com/Checker-Finance/nftmarket/pkg/model"
)

// MarketService is what the handler needs from the service host.
type MarketService interface {
	ListItem(ctx context.Context, collection model.Address, assetID string, price decimal.Decimal, caller model.Address) error
	UpdateListing(ctx context.Context, collection model.Address, assetID string, newPrice decimal.Decimal, caller model.Address) error
	CancelItem(ctx context.Context, collection model.Address, assetID string, caller model.Address) error
	BuyItem(ctx context.Context, collection model.Address, assetID string, caller model.Address, payment decimal.Decimal) (model.SaleRecord, error)
	WithdrawProceeds(ctx context.Context, caller model.Address) (decimal.Decimal, error)
	GetListing(collection model.Address, assetID string) (model.Listing, bool)
	Listings() []model.ListingEntry
	GetProceeds(owner model.Address) decimal.Decimal
}

// MarketHandler serves the marketplace REST API.
type MarketHandler struct {
	logger   *zap.Logger
	service  MarketService
	decimals int32
}

// NewMarketHandler creates a handler; decimals sets the display precision
// of formatted prices.
func NewMarketHandler(logger *zap.Logger, service MarketService, decimals int) *MarketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketHandler{logger: logger, service: service, decimals: int32(decimals)}
}

// StatusFor maps an operation error to its HTTP status.
func StatusFor(err error) int {
	switch market.Kind(err) {
	case "NotListed":
		return fiber.StatusNotFound
	case "NotOwner", "NotApprovedForMarketplace":
		return fiber.StatusForbidden
	case "AlreadyListed", "NoProceeds", "ReentrantCall":
		return fiber.StatusConflict
	case "PriceMustBeAboveZero", "PriceNotMet":
		return fiber.StatusUnprocessableEntity
	case "InvalidAmount":
		return fiber.StatusBadRequest
	case "ProceedsOverflow":
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusBadGateway
	}
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
}

// rejectInput answers a validation error with its market kind when it has
// one, and a plain 400 otherwise.
func (h *MarketHandler) rejectInput(c *fiber.Ctx, op string, err error) error {
	if market.Kind(err) != "" {
		return h.fail(c, op, err)
	}
	return badRequest(c, err)
}

func (h *MarketHandler) fail(c *fiber.Ctx, op string, err error) error {
	status := StatusFor(err)
	kind := market.Kind(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("api."+op+".failed", zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Info("api."+op+".rejected", zap.String("kind", kind), zap.Error(err))
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error(), Kind: kind})
}

func pathKey(c *fiber.Ctx) (model.Address, string, error) {
	collection, err := parseAddress("collection", c.Params("collection"))
	if err != nil {
		return "", "", err
	}
	assetID, err := parseAssetID(c.Params("assetId"))
	if err != nil {
		return "", "", err
	}
	return collection, assetID, nil
}

// ListListings returns every active listing.
func (h *MarketHandler) ListListings(c *fiber.Ctx) error {
	entries := h.service.Listings()
	out := make([]ListingResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.listingResponse(e.Key, e.Listing))
	}
	return c.JSON(out)
}

func (h *MarketHandler) GetListing(c *fiber.Ctx) error {
	collection, assetID, err := pathKey(c)
	if err != nil {
		return badRequest(c, err)
	}
	l, ok := h.service.GetListing(collection, assetID)
	if !ok {
		key := model.ListingKey{Collection: collection, AssetID: assetID}
		return h.fail(c, "get_listing", &market.NotListedError{Key: key})
	}
	return c.JSON(h.listingResponse(model.ListingKey{Collection: collection, AssetID: assetID}, l))
}

func (h *MarketHandler) ListItem(c *fiber.Ctx) error {
	var req ListItemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	p, err := req.Validate()
	if err != nil {
		return h.rejectInput(c, "list_item", err)
	}

	if err := h.service.ListItem(c.UserContext(), p.collection, p.assetID, p.price, p.caller); err != nil {
		return h.fail(c, "list_item", err)
	}

	key := model.ListingKey{Collection: p.collection, AssetID: p.assetID}
	return c.Status(fiber.StatusCreated).JSON(h.listingResponse(key, model.Listing{Seller: p.caller, Price: p.price}))
}

func (h *MarketHandler) UpdateListing(c *fiber.Ctx) error {
	collection, assetID, err := pathKey(c)
	if err != nil {
		return badRequest(c, err)
	}
	var req UpdateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	price, caller, err := req.Validate()
	if err != nil {
		return h.rejectInput(c, "update_listing", err)
	}

	if err := h.service.UpdateListing(c.UserContext(), collection, assetID, price, caller); err != nil {
		return h.fail(c, "update_listing", err)
	}
	key := model.ListingKey{Collection: collection, AssetID: assetID}
	l, ok := h.service.GetListing(collection, assetID)
	if !ok {
		l = model.Listing{Seller: caller, Price: price}
	}
	return c.JSON(h.listingResponse(key, l))
}

func (h *MarketHandler) CancelItem(c *fiber.Ctx) error {
	collection, assetID, err := pathKey(c)
	if err != nil {
		return badRequest(c, err)
	}
	var req CallerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	caller, err := req.Validate()
	if err != nil {
		return badRequest(c, err)
	}

	if err := h.service.CancelItem(c.UserContext(), collection, assetID, caller); err != nil {
		return h.fail(c, "cancel_item", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MarketHandler) BuyItem(c *fiber.Ctx) error {
	collection, assetID, err := pathKey(c)
	if err != nil {
		return badRequest(c, err)
	}
	var req BuyItemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	caller, payment, err := req.Validate()
	if err != nil {
		return badRequest(c, err)
	}

	sale, err := h.service.BuyItem(c.UserContext(), collection, assetID, caller, payment)
	if err != nil {
		return h.fail(c, "buy_item", err)
	}

	h.logger.Info("api.buy_item",
		zap.String("sale_id", sale.SaleID),
		zap.String("buyer", caller.String()),
		zap.String("price", sale.Price.String()))

	return c.JSON(SaleResponse{
		SaleID:         sale.SaleID,
		Collection:     sale.Collection.String(),
		AssetID:        sale.AssetID,
		Seller:         sale.Seller.String(),
		Buyer:          sale.Buyer.String(),
		Price:          sale.Price.String(),
		PriceFormatted: h.format(sale.Price),
		Paid:           sale.Paid.String(),
		SoldAt:         sale.SoldAt,
	})
}

func (h *MarketHandler) GetProceeds(c *fiber.Ctx) error {
	owner, err := parseAddress("owner", c.Params("owner"))
	if err != nil {
		return badRequest(c, err)
	}
	bal := h.service.GetProceeds(owner)
	return c.JSON(ProceedsResponse{
		Owner:            owner.String(),
		Balance:          bal.String(),
		BalanceFormatted: h.format(bal),
	})
}

func (h *MarketHandler) WithdrawProceeds(c *fiber.Ctx) error {
	var req CallerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	caller, err := req.Validate()
	if err != nil {
		return badRequest(c, err)
	}

	amount, err := h.service.WithdrawProceeds(c.UserContext(), caller)
	if err != nil {
		return h.fail(c, "withdraw_proceeds", err)
	}
	return c.JSON(WithdrawResponse{
		Owner:           caller.String(),
		Amount:          amount.String(),
		AmountFormatted: h.format(amount),
	})
}
