package handlers

import (
	"bazaar/internal/log"
	"bazaar/internal/services"
	"bazaar/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type ProductHandler struct {
	Catalog *services.CatalogService
}

func (h *ProductHandler) Detail(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "product"})
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "This item is no longer available"})
	}
	p, err := h.Catalog.GetProduct(c.UserContext(), id)
	if err != nil {
		return fail(c, "product.detail", err)
	}
	return c.JSON(p)
}

type newProductReq struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Qty         int    `json:"qty"`
}

// Create answers POST /shops/:id/products.
func (h *ProductHandler) Create(c *fiber.Ctx) error {
	shopID, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "shop", "invalid shop id")
	}
	var in newProductReq
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	title, ok := validate.Title(in.Title)
	if !ok {
		return badRequest(c, "title", "title must be 1-120 characters")
	}
	price, ok := validate.Money(in.Price)
	if !ok {
		return badRequest(c, "price", "price must be a non-negative amount with at most 2 decimals")
	}
	if !validate.Stock(in.Qty) {
		return badRequest(c, "qty", "qty must be a whole number of units")
	}

	p, err := h.Catalog.CreateProduct(c.UserContext(), identity(c), shopID, services.NewProduct{
		Title: title, Description: in.Description, Price: price, Qty: in.Qty,
	})
	if err != nil {
		return fail(c, "product.create", err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *ProductHandler) ListByShop(c *fiber.Ctx) error {
	shopID, ok := validate.ID(c.Params("id"))
	if !ok {
		return badRequest(c, "shop", "invalid shop id")
	}
	list, err := h.Catalog.ListShopProducts(c.UserContext(), shopID)
	if err != nil {
		return fail(c, "product.list", err)
	}
	return c.JSON(fiber.Map{"products": list})
}
