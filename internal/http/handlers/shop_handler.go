package handlers

import (
	"github.com/gofiber/fiber/v2"

	"bazaar/internal/domain"
	"bazaar/internal/services"
	"bazaar/internal/validate"
)

type ShopHandler struct {
	Shops   *services.ShopService
	Orders  *services.OrderService
	Catalog *services.CatalogService
}

func (h *ShopHandler) Register(c *fiber.Ctx) error {
	var in services.ShopDetails
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	name, ok := validate.ShopName(in.Name)
	if !ok {
		return badRequest(c, "name", "shop name must be 1-60 characters")
	}
	in.Name = name
	shop, err := h.Shops.RegisterShop(c.UserContext(), identity(c).UserID, in)
	if err != nil {
		return fail(c, "shop.register", err)
	}
	return c.Status(fiber.StatusCreated).JSON(shop)
}

func (h *ShopHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Shop not found"})
	}
	shop, err := h.Shops.GetShop(c.UserContext(), id)
	if err != nil {
		return fail(c, "shop.get", err)
	}
	return c.JSON(shop)
}

func (h *ShopHandler) Mine(c *fiber.Ctx) error {
	shops, err := h.Shops.ListMine(c.UserContext(), identity(c).UserID)
	if err != nil {
		return fail(c, "shop.mine", err)
	}
	return c.JSON(fiber.Map{"shops": shops})
}

func (h *ShopHandler) ListOrders(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Shop not found"})
	}
	list, err := h.Orders.ListShopOrders(c.UserContext(), identity(c), id)
	if err != nil {
		return fail(c, "shop.orders", err)
	}
	return c.JSON(fiber.Map{"orders": list})
}

type shopStatusReq struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// SetStatus answers POST /shops/:id/status.
func (h *ShopHandler) SetStatus(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Shop not found"})
	}
	var in shopStatusReq
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	target := domain.ShopStatus(in.Status)
	if !target.Valid() {
		return badRequest(c, "status", "unknown status")
	}
	note, ok := validate.Note(in.Note)
	if !ok {
		return badRequest(c, "note", "note too long")
	}
	shop, err := h.Shops.SetShopStatus(c.UserContext(), identity(c), id, target, note)
	if err != nil {
		return fail(c, "shop.status", err)
	}
	return c.JSON(shop)
}
