package services_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bazaar/internal/cache"
	"bazaar/internal/domain"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
	"bazaar/internal/services"
)

var (
	alice = domain.Identity{UserID: "u-alice", Role: domain.RoleBuyer}
	bob   = domain.Identity{UserID: "u-bob", Role: domain.RoleSeller}
	carol = domain.Identity{UserID: "u-carol", Role: domain.RoleBuyer}
	admin = domain.Identity{UserID: "u-admin", Role: domain.RoleAdmin}
)

func memdb(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type env struct {
	db      *sqlx.DB
	m       *metrics.Registry
	auth    *services.AuthService
	inv     *services.InventoryService
	orders  *services.OrderService
	shops   *services.ShopService
	catalog *services.CatalogService
}

// filedb opens a store on a database file so that connections really contend.
func filedb(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := repos.OpenDB(filepath.Join(t.TempDir(), "bazaar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newEnv(t *testing.T, charges services.ChargesPolicy) env {
	t.Helper()
	return envOn(t, memdb(t), charges, nil)
}

func envOn(t *testing.T, db *sqlx.DB, charges services.ChargesPolicy, c *cache.Orders) env {
	t.Helper()
	m := metrics.NewRegistry()
	products := repos.NewProductRepo(db)
	auth := &services.AuthService{Users: repos.NewUserRepo(db)}
	inv := services.NewInventoryService(products, m)
	if charges == nil {
		charges = services.FixedCharges{}
	}
	return env{
		db:      db,
		m:       m,
		auth:    auth,
		inv:     inv,
		orders:  services.NewOrderService(db, inv, charges, c, m),
		shops:   services.NewShopService(db, auth, m),
		catalog: services.NewCatalogService(products, repos.NewShopRepo(db), inv),
	}
}

func (e env) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := repos.NewProductRepo(e.db).GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Qty
}

func (e env) addProduct(t *testing.T, id, shopID, price string, qty int) {
	t.Helper()
	require.NoError(t, repos.NewProductRepo(e.db).Create(context.Background(), domain.Product{
		ID: id, ShopID: shopID, Title: "Product " + id, Price: decimal.RequireFromString(price), Qty: qty,
	}))
}

func (e env) place(t *testing.T, buyer string, lines ...services.LineRequest) domain.Order {
	t.Helper()
	o, err := e.orders.PlaceOrder(context.Background(), services.PlaceOrderRequest{
		BuyerID:         buyer,
		Items:           lines,
		ShippingAddress: addr(),
		PaymentMethod:   domain.PaymentCard,
	})
	require.NoError(t, err)
	return o
}

func line(id string, qty int) services.LineRequest {
	return services.LineRequest{ProductID: id, Qty: qty}
}

func addr() domain.Address {
	return domain.Address{Name: "Alice", Line1: "1 Main St", City: "College Park", PostalCode: "20742", Country: "US"}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
