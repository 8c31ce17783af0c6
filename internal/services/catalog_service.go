package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bazaar/internal/domain"
	applog "bazaar/internal/log"
	"bazaar/internal/repos"
)

type NewProduct struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Qty         int             `json:"qty"`
}

// CatalogService is the seller-facing side of the catalog: reading products,
// listing new ones and correcting stock.
type CatalogService struct {
	Prods *repos.ProductRepo
	Shops *repos.ShopRepo
	Inv   *InventoryService
}

func NewCatalogService(prods *repos.ProductRepo, shops *repos.ShopRepo, inv *InventoryService) *CatalogService {
	return &CatalogService{Prods: prods, Shops: shops, Inv: inv}
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.Prods.GetProduct(ctx, id)
}

func (s *CatalogService) Availability(ctx context.Context, id string) (domain.Availability, error) {
	return s.Inv.CheckAvailability(ctx, id)
}

func (s *CatalogService) ListShopProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	return s.Prods.ListByShop(ctx, shopID)
}

func (s *CatalogService) ownShop(ctx context.Context, who domain.Identity, shopID string) (domain.Shop, error) {
	shop, err := s.Shops.Get(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	if who.Role != domain.RoleAdmin && shop.OwnerID != who.UserID {
		return domain.Shop{}, fmt.Errorf("%w: not the owner of shop %s", domain.ErrForbidden, shopID)
	}
	return shop, nil
}

// CreateProduct lists a product under a shop the caller owns. Pending shops
// may stock up before approval; deleted ones may not.
func (s *CatalogService) CreateProduct(ctx context.Context, who domain.Identity, shopID string, np NewProduct) (domain.Product, error) {
	shop, err := s.ownShop(ctx, who, shopID)
	if err != nil {
		return domain.Product{}, err
	}
	if shop.Status == domain.ShopDeleted {
		return domain.Product{}, &domain.NotFoundError{Entity: "shop", ID: shopID}
	}
	np.Title = strings.TrimSpace(np.Title)
	if np.Title == "" || len(np.Title) > 120 {
		return domain.Product{}, domain.Invalid("title must be 1-120 characters")
	}
	if np.Price.IsNegative() {
		return domain.Product{}, domain.Invalid("price must not be negative")
	}
	if np.Qty < 0 {
		return domain.Product{}, domain.Invalid("qty must not be negative")
	}

	p := domain.Product{
		ID:          uuid.NewString(),
		ShopID:      shopID,
		Title:       np.Title,
		Description: strings.TrimSpace(np.Description),
		Price:       np.Price.Round(2),
		Qty:         np.Qty,
	}
	if err := s.Prods.Create(ctx, p); err != nil {
		return domain.Product{}, err
	}
	applog.Audit(nil, "product.created", map[string]any{"product": p.ID, "shop": shopID, "actor": who.UserID})
	return p, nil
}

// SetStock overwrites the on-hand quantity of a product in the caller's shop.
func (s *CatalogService) SetStock(ctx context.Context, who domain.Identity, productID string, qty int) (domain.Product, error) {
	if qty < 0 {
		return domain.Product{}, domain.Invalid("qty must not be negative")
	}
	p, err := s.Prods.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if _, err := s.ownShop(ctx, who, p.ShopID); err != nil {
		return domain.Product{}, err
	}
	if err := s.Prods.SetStock(ctx, productID, qty); err != nil {
		return domain.Product{}, err
	}
	applog.Audit(nil, "product.stock", map[string]any{"product": productID, "from": p.Qty, "to": qty, "actor": who.UserID})
	p.Qty = qty
	return p, nil
}
