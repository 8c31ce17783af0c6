package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	applog "bazaar/internal/log"
)

// Options tunes the app built by NewApp. Zero values fall back to the
// production limits.
type Options struct {
	GlobalMax   int
	LoginMax    int
	LoginWindow time.Duration
	AvailMax    int
	AvailWindow time.Duration

	// CSRF turns on the double-submit check for unsafe methods. Clients
	// read the token from GET /api/v1/csrf and echo it in X-CSRF-Token.
	CSRF bool
	// AccessLog enables the fiber request logger.
	AccessLog bool
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func (o *Options) defaults() {
	if o.GlobalMax <= 0 {
		o.GlobalMax = 120
	}
	if o.LoginMax <= 0 {
		o.LoginMax = 5
	}
	if o.LoginWindow <= 0 {
		o.LoginWindow = 10 * time.Minute
	}
	if o.AvailMax <= 0 {
		o.AvailMax = 15
	}
	if o.AvailWindow <= 0 {
		o.AvailWindow = 30 * time.Second
	}
}

// NewApp builds the fiber app with middleware and every route registered.
func NewApp(d *Deps, opts Options) *fiber.App {
	opts.defaults()

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    1 << 20,
	})

	app.Use(requestid.New())
	if opts.AccessLog {
		app.Use(logger.New())
	}
	app.Use(helmet.New())
	app.Use(AttachUser(d.Auth))
	app.Use(limiter.New(limiter.Config{
		Max:        opts.GlobalMax,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			p := c.Path()
			return p == "/healthz" || strings.HasPrefix(p, "/metrics")
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.global.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
		},
	}))
	if opts.CSRF {
		app.Use(csrf.New(csrf.Config{
			KeyLookup:      "header:X-CSRF-Token",
			CookieName:     "csrf_",
			CookieSameSite: "Lax",
			ContextKey:     "csrf",
			CookieSecure:   false, // set true behind HTTPS
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				applog.Security(c, "csrf.fail", map[string]any{"err": err.Error()})
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Security check failed. Please refresh and try again."})
			},
		}))
	}

	Register(app, d, opts)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Page not found"})
	})
	return app
}

// Register mounts the API under /api/v1 plus health and metrics.
func Register(app *fiber.App, d *Deps, opts Options) {
	opts.defaults()
	user := RequireUser(d.Auth)

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	api := app.Group("/api/v1")

	api.Get("/csrf", func(c *fiber.Ctx) error {
		tok, _ := c.Locals("csrf").(string)
		return c.JSON(fiber.Map{"token": tok})
	})

	// Auth (login throttled)
	api.Post("/login", limiter.New(limiter.Config{
		Max:        opts.LoginMax,
		Expiration: opts.LoginWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|login"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.login.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many attempts. Please try again later."})
		},
	}), d.AuthHandler.Login)
	api.Post("/logout", d.AuthHandler.Logout)
	api.Get("/me", d.AuthHandler.Me)

	// Catalog
	api.Get("/products/:id", d.ProductHandler.Detail)
	api.Put("/products/:id/stock", user, d.InventoryHandler.SetStock)
	api.Get("/availability", limiter.New(limiter.Config{
		Max:        opts.AvailMax,
		Expiration: opts.AvailWindow,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|avail"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.availability.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
		},
	}), d.InventoryHandler.Check)

	// Orders
	orders := api.Group("/orders", user)
	orders.Post("/", d.OrderHandler.Place)
	orders.Get("/", d.OrderHandler.History)
	orders.Get("/:id", d.OrderHandler.View)
	orders.Post("/:id/status", d.OrderHandler.Transition)

	// Shops
	api.Get("/shops/:id", d.ShopHandler.Get)
	api.Get("/shops/:id/products", d.ProductHandler.ListByShop)
	shops := api.Group("/shops", user)
	shops.Post("/", d.ShopHandler.Register)
	shops.Get("/", d.ShopHandler.Mine)
	shops.Post("/:id/products", d.ProductHandler.Create)
	shops.Get("/:id/orders", d.ShopHandler.ListOrders)
	shops.Post("/:id/status", d.ShopHandler.SetStatus)

	// Admin
	admin := api.Group("/admin", RequireAdmin(d.Auth))
	admin.Post("/shops/:id/active", d.AdminHandler.SetShopActive)
	admin.Get("/outbox", d.AdminHandler.OutboxStatus)
	admin.Get("/users", d.AdminHandler.UsersPage)
}
