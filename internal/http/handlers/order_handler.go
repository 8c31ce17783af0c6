package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"bazaar/internal/domain"
	applog "bazaar/internal/log"
	"bazaar/internal/services"
	"bazaar/internal/validate"
)

type OrderHandler struct {
	Orders *services.OrderService
}

type placeOrderReq struct {
	Items           []services.LineRequest `json:"items"`
	ShippingAddress domain.Address         `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	Discount        string                 `json:"discount"`
}

// Place answers POST /orders. Prices and totals come from the catalog;
// anything the client sends about them is ignored.
func (h *OrderHandler) Place(c *fiber.Ctx) error {
	who := identity(c)
	var in placeOrderReq
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	if len(in.Items) == 0 || len(in.Items) > 100 {
		return badRequest(c, "items", "an order needs between 1 and 100 items")
	}
	for _, it := range in.Items {
		if _, ok := validate.ID(it.ProductID); !ok {
			return badRequest(c, "productId", "invalid productId")
		}
		if !validate.Qty(it.Qty) {
			return badRequest(c, "qty", "qty must be between 1 and 1000")
		}
	}
	addr, ok := validate.Address(in.ShippingAddress)
	if !ok {
		return badRequest(c, "shippingAddress", "enter a complete shipping address")
	}
	method, ok := validate.PaymentMethod(in.PaymentMethod)
	if !ok {
		return badRequest(c, "paymentMethod", "paymentMethod must be CARD, COD or WALLET")
	}
	discount := decimal.Zero
	if in.Discount != "" {
		if discount, ok = validate.Money(in.Discount); !ok {
			return badRequest(c, "discount", "discount must be a non-negative amount")
		}
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return badRequest(c, "Idempotency-Key", "invalid Idempotency-Key header")
	}

	o, err := h.Orders.PlaceOrder(c.UserContext(), services.PlaceOrderRequest{
		BuyerID:         who.UserID,
		Items:           in.Items,
		ShippingAddress: addr,
		PaymentMethod:   method,
		Discount:        discount,
		IdempotencyKey:  key,
	})
	if err != nil {
		return fail(c, "order.place", err)
	}
	applog.Audit(c, "order.place", map[string]any{"order_id": o.ID, "number": o.Number, "total": o.Pricing.Total.StringFixed(2)})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"order": o, "shops": o.ShopTotals()})
}

func (h *OrderHandler) View(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Order not found"})
	}
	o, err := h.Orders.GetOrder(c.UserContext(), identity(c), id)
	if err != nil {
		return fail(c, "order.view", err)
	}
	return c.JSON(o)
}

// History lists orders for the current logged-in user.
func (h *OrderHandler) History(c *fiber.Ctx) error {
	orders, err := h.Orders.ListOrders(c.UserContext(), identity(c))
	if err != nil {
		return fail(c, "orders.history", err)
	}
	return c.JSON(fiber.Map{"orders": orders})
}

type transitionReq struct {
	Status  string `json:"status"`
	Note    string `json:"note"`
	Payment *struct {
		Status        string `json:"status"`
		TransactionID string `json:"transactionId"`
	} `json:"payment"`
}

// Transition answers POST /orders/:id/status.
func (h *OrderHandler) Transition(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Order not found"})
	}
	var in transitionReq
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "body", "invalid request body")
	}
	target := domain.OrderStatus(in.Status)
	if !target.Valid() {
		return badRequest(c, "status", "unknown status")
	}
	note, ok := validate.Note(in.Note)
	if !ok {
		return badRequest(c, "note", "note too long")
	}
	var pay *services.PaymentUpdate
	if in.Payment != nil {
		ps, ok := validate.PaymentStatus(in.Payment.Status)
		if !ok {
			return badRequest(c, "payment.status", "unknown payment status")
		}
		pay = &services.PaymentUpdate{Status: ps, TransactionID: in.Payment.TransactionID}
	}

	o, err := h.Orders.TransitionOrderStatus(c.UserContext(), identity(c), id, target, note, pay)
	if err != nil {
		return fail(c, "order.status", err)
	}
	return c.JSON(o)
}
