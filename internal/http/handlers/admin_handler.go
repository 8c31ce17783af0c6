package handlers

import (
	applog "bazaar/internal/log"
	"bazaar/internal/repos"
	"bazaar/internal/services"
	"bazaar/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type AdminHandler struct {
	Shops  *services.ShopService
	Outbox *repos.OutboxRepo
	Users  *repos.UserRepo
}

type activeReq struct {
	Active *bool `json:"active"`
}

// POST /shops/:id/active
func (h *AdminHandler) SetShopActive(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Shop not found"})
	}
	var in activeReq
	if err := c.BodyParser(&in); err != nil || in.Active == nil {
		return badRequest(c, "active", "active must be true or false")
	}
	shop, err := h.Shops.SetShopActive(c.UserContext(), identity(c), id, *in.Active)
	if err != nil {
		return fail(c, "admin.shop.active", err)
	}
	return c.JSON(shop)
}

// GET /admin/outbox
func (h *AdminHandler) OutboxStatus(c *fiber.Ctx) error {
	n, err := h.Outbox.PendingCount(c.UserContext())
	if err != nil {
		return fail(c, "admin.outbox", err)
	}
	return c.JSON(fiber.Map{"pending": n})
}

// UsersPage lists users (excluding admin) with their current role.
func (h *AdminHandler) UsersPage(c *fiber.Ctx) error {
	var users []struct {
		ID    string `db:"id" json:"id"`
		Email string `db:"email" json:"email"`
		Name  string `db:"name" json:"name"`
		Role  string `db:"role" json:"role"`
	}
	if err := h.Users.DB.Select(&users, `SELECT id,email,name,role FROM users WHERE role != 'ADMIN' ORDER BY email`); err != nil {
		applog.Error(c, "admin.users.list.fail", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not load users"})
	}
	return c.JSON(fiber.Map{"users": users})
}
