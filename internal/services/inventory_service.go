package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"bazaar/internal/domain"
	applog "bazaar/internal/log"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
)

// Catalog is the slice of the catalog store the reservation needs. The
// order service passes a transaction-bound *repos.ProductRepo.
type Catalog interface {
	CatalogItems(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error)
	ConditionalDecrement(ctx context.Context, id string, amount, expectedMinimum int) (bool, error)
	Restock(ctx context.Context, id string, amount int) error
}

type LineRequest struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

// ReservedLine is a line after stock was taken, with the price and shop
// captured from the same read.
type ReservedLine struct {
	ProductID string
	ShopID    string
	SellerID  string
	Title     string
	Qty       int
	Price     decimal.Decimal
}

var errLostRace = errors.New("conditional decrement lost")

type InventoryService struct {
	Products     *repos.ProductRepo
	Metrics      *metrics.Registry
	LowStockMark int
}

func NewInventoryService(products *repos.ProductRepo, m *metrics.Registry) *InventoryService {
	return &InventoryService{Products: products, Metrics: m, LowStockMark: 5}
}

// MergeLines validates quantities and folds repeated products into one line,
// keeping the position of the first occurrence.
func MergeLines(reqs []LineRequest) ([]LineRequest, error) {
	if len(reqs) == 0 {
		return nil, domain.Invalid("order has no items")
	}
	out := make([]LineRequest, 0, len(reqs))
	idx := map[string]int{}
	for _, r := range reqs {
		if r.ProductID == "" {
			return nil, domain.Invalid("item without productId")
		}
		if r.Qty < 1 {
			return nil, domain.Invalid("quantity for %s must be at least 1", r.ProductID)
		}
		if i, ok := idx[r.ProductID]; ok {
			out[i].Qty += r.Qty
			continue
		}
		idx[r.ProductID] = len(out)
		out = append(out, r)
	}
	return out, nil
}

// Reserve takes stock for every line or for none. All checks run against one
// read before any write; each write is a conditional decrement. If a decrement
// loses to a concurrent writer the taken units are put back and the whole
// reservation runs once more against fresh stock.
//
// cat should be bound to the caller's transaction so a later failure
// (pricing, persistence) rolls the decrements back as well.
func (s *InventoryService) Reserve(ctx context.Context, cat Catalog, lines []LineRequest) ([]ReservedLine, error) {
	for attempt := 0; ; attempt++ {
		reserved, lost, err := s.reserveOnce(ctx, cat, lines)
		if err == nil {
			return reserved, nil
		}
		if !errors.Is(err, errLostRace) {
			return nil, err
		}
		if attempt == 0 {
			s.Metrics.ReservationRetried()
			applog.Info(nil, "reservation.retry", map[string]any{"product": lost.ProductID})
			continue
		}
		s.Metrics.ReservationFailed("race")
		return nil, &domain.StockError{Shortfalls: []domain.Shortfall{lost}}
	}
}

func (s *InventoryService) reserveOnce(ctx context.Context, cat Catalog, lines []LineRequest) ([]ReservedLine, domain.Shortfall, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	items, err := cat.CatalogItems(ctx, ids)
	if err != nil {
		return nil, domain.Shortfall{}, err
	}

	// existence and shop gate first, then stock
	for _, l := range lines {
		it, ok := items[l.ProductID]
		if !ok {
			s.Metrics.ReservationFailed("not_found")
			return nil, domain.Shortfall{}, &domain.NotFoundError{Entity: "product", ID: l.ProductID}
		}
		if !it.Orderable() {
			s.Metrics.ReservationFailed("shop_closed")
			return nil, domain.Shortfall{}, &domain.NotFoundError{Entity: "product", ID: l.ProductID, Reason: "is not available for purchase"}
		}
	}
	var short []domain.Shortfall
	for _, l := range lines {
		if it := items[l.ProductID]; it.Qty < l.Qty {
			short = append(short, domain.Shortfall{ProductID: l.ProductID, Requested: l.Qty, Available: it.Qty})
		}
	}
	if len(short) > 0 {
		s.Metrics.ReservationFailed("stock")
		return nil, domain.Shortfall{}, &domain.StockError{Shortfalls: short}
	}

	out := make([]ReservedLine, 0, len(lines))
	for i, l := range lines {
		ok, err := cat.ConditionalDecrement(ctx, l.ProductID, l.Qty, l.Qty)
		if err != nil {
			return nil, domain.Shortfall{}, err
		}
		if !ok {
			if err := s.putBack(ctx, cat, lines[:i]); err != nil {
				return nil, domain.Shortfall{}, err
			}
			return nil, domain.Shortfall{ProductID: l.ProductID, Requested: l.Qty, Available: items[l.ProductID].Qty}, errLostRace
		}
		it := items[l.ProductID]
		out = append(out, ReservedLine{
			ProductID: it.ID,
			ShopID:    it.ShopID,
			SellerID:  it.ShopOwnerID,
			Title:     it.Title,
			Qty:       l.Qty,
			Price:     it.Price,
		})
	}
	return out, domain.Shortfall{}, nil
}

func (s *InventoryService) putBack(ctx context.Context, cat Catalog, taken []LineRequest) error {
	for _, l := range taken {
		if err := cat.Restock(ctx, l.ProductID, l.Qty); err != nil {
			return err
		}
	}
	return nil
}

// Release returns the units of cancelled order lines to the catalog.
func (s *InventoryService) Release(ctx context.Context, cat Catalog, items []domain.OrderItem) error {
	for _, it := range items {
		if err := cat.Restock(ctx, it.ProductID, it.Qty); err != nil {
			return err
		}
	}
	return nil
}

// CheckAvailability converts qty into IN_STOCK / LOW_STOCK / OUT_OF_STOCK.
// Products of closed shops read as OUT_OF_STOCK.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID string) (domain.Availability, error) {
	items, err := s.Products.CatalogItems(ctx, []string{productID})
	if err != nil {
		return domain.Availability{}, err
	}
	it, ok := items[productID]
	if !ok {
		return domain.Availability{}, &domain.NotFoundError{Entity: "product", ID: productID}
	}
	if !it.Orderable() {
		return domain.Availability{Status: "OUT_OF_STOCK"}, nil
	}

	status := "OUT_OF_STOCK"
	switch {
	case it.Qty >= s.LowStockMark:
		status = "IN_STOCK"
	case it.Qty > 0:
		status = "LOW_STOCK"
	}
	return domain.Availability{Status: status, Qty: it.Qty}, nil
}
