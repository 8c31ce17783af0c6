package handlers

import (
	"bazaar/internal/cache"
	"bazaar/internal/config"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
	"bazaar/internal/services"

	"github.com/jmoiron/sqlx"
)

type Deps struct {
	Auth *services.AuthService

	AuthHandler      *AuthHandler
	ProductHandler   *ProductHandler
	InventoryHandler *InventoryHandler
	OrderHandler     *OrderHandler
	ShopHandler      *ShopHandler
	AdminHandler     *AdminHandler
}

// NewDeps wires repos and services for the HTTP layer. oc may be nil when no
// cache is configured; m may be nil in tests that do not look at metrics.
func NewDeps(db *sqlx.DB, cfg config.Config, auth *services.AuthService, oc *cache.Orders, m *metrics.Registry) *Deps {
	prodRepo := repos.NewProductRepo(db)
	shopRepo := repos.NewShopRepo(db)

	invSvc := services.NewInventoryService(prodRepo, m)
	if cfg.LowStockMark > 0 {
		invSvc.LowStockMark = cfg.LowStockMark
	}
	charges := services.RatePolicy{TaxRate: cfg.TaxRate, ShippingPerShop: cfg.ShippingPerShop}
	orderSvc := services.NewOrderService(db, invSvc, charges, oc, m)
	shopSvc := services.NewShopService(db, auth, m)
	catalogSvc := services.NewCatalogService(prodRepo, shopRepo, invSvc)

	return &Deps{
		Auth:             auth,
		AuthHandler:      &AuthHandler{Auth: auth},
		ProductHandler:   &ProductHandler{Catalog: catalogSvc},
		InventoryHandler: &InventoryHandler{Catalog: catalogSvc},
		OrderHandler:     &OrderHandler{Orders: orderSvc},
		ShopHandler:      &ShopHandler{Shops: shopSvc, Orders: orderSvc, Catalog: catalogSvc},
		AdminHandler:     &AdminHandler{Shops: shopSvc, Outbox: repos.NewOutboxRepo(db), Users: repos.NewUserRepo(db)},
	}
}
