package handlers

import (
	"github.com/gofiber/fiber/v2"

	"bazaar/internal/services"
	"bazaar/internal/validate"
)

type InventoryHandler struct {
	Catalog *services.CatalogService
}

// Check answers GET /availability?productId=.
func (h *InventoryHandler) Check(c *fiber.Ctx) error {
	productID, ok := validate.ID(c.Query("productId"))
	if !ok {
		return badRequest(c, "productId", "missing or invalid productId")
	}
	avail, err := h.Catalog.Availability(c.UserContext(), productID)
	if err != nil {
		return fail(c, "inventory.check", err)
	}
	return c.JSON(avail)
}

type stockReq struct {
	Qty *int `json:"qty"`
}

// SetStock answers PUT /products/:id/stock for the shop owner or an admin.
func (h *InventoryHandler) SetStock(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "product", "invalid product id")
	}
	var in stockReq
	if err := c.BodyParser(&in); err != nil || in.Qty == nil || !validate.Stock(*in.Qty) {
		return badRequest(c, "qty", "qty must be a whole number of units")
	}
	p, err := h.Catalog.SetStock(c.UserContext(), identity(c), id, *in.Qty)
	if err != nil {
		return fail(c, "inventory.set", err)
	}
	return c.JSON(p)
}
