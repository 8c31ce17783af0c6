package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"bazaar/internal/cache"
	"bazaar/internal/domain"
	"bazaar/internal/events"
	applog "bazaar/internal/log"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
)

const orderSequence = "order"

type PlaceOrderRequest struct {
	BuyerID         string
	Items           []LineRequest
	ShippingAddress domain.Address
	PaymentMethod   domain.PaymentMethod
	Discount        decimal.Decimal
	IdempotencyKey  string
}

// PaymentUpdate may ride along with a seller or admin status change.
type PaymentUpdate struct {
	Status        domain.PaymentStatus
	TransactionID string
}

type OrderService struct {
	DB       *sqlx.DB
	Orders   *repos.OrderRepo
	Products *repos.ProductRepo
	Shops    *repos.ShopRepo
	Seq      *repos.SequenceRepo
	Outbox   *repos.OutboxRepo
	Inv      *InventoryService
	Charges  ChargesPolicy
	Cache    *cache.Orders
	Metrics  *metrics.Registry

	now func() time.Time
}

func NewOrderService(db *sqlx.DB, inv *InventoryService, charges ChargesPolicy, c *cache.Orders, m *metrics.Registry) *OrderService {
	return &OrderService{
		DB:       db,
		Orders:   repos.NewOrderRepo(db),
		Products: repos.NewProductRepo(db),
		Shops:    repos.NewShopRepo(db),
		Seq:      repos.NewSequenceRepo(db),
		Outbox:   repos.NewOutboxRepo(db),
		Inv:      inv,
		Charges:  charges,
		Cache:    c,
		Metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder reserves stock, prices the reserved lines and persists the order
// with its first history entry in one transaction. Nothing is written unless
// every step succeeds. A repeated idempotency key returns the stored order.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	if req.BuyerID == "" {
		return domain.Order{}, domain.Invalid("missing buyer")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCard
	}
	lines, err := MergeLines(req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	if req.IdempotencyKey != "" {
		if o, ok, err := s.Orders.ByIdempotencyKey(ctx, req.BuyerID, req.IdempotencyKey); err != nil {
			return domain.Order{}, err
		} else if ok {
			applog.Info(nil, "order.place.replay", map[string]any{"order": o.ID, "buyer": req.BuyerID})
			return o, nil
		}
	}

	start := time.Now()
	var order domain.Order
	err = repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		reserved, err := s.Inv.Reserve(ctx, s.Products.WithTx(tx), lines)
		if err != nil {
			return err
		}
		ch, err := s.Charges.Charges(reserved, req.Discount)
		if err != nil {
			return err
		}
		q, err := Price(reserved, ch)
		if err != nil {
			return err
		}
		n, err := s.Seq.WithTx(tx).Next(ctx, orderSequence)
		if err != nil {
			return err
		}

		now := s.now()
		order = domain.Order{
			ID:              uuid.NewString(),
			Number:          fmt.Sprintf("ORD-%08d", n),
			BuyerID:         req.BuyerID,
			Items:           q.Items,
			Pricing:         q.Pricing,
			Status:          domain.OrderPending,
			StatusHistory:   []domain.StatusEntry{{Status: string(domain.OrderPending), Note: "order placed", ActorID: req.BuyerID, Timestamp: now}},
			ShippingAddress: req.ShippingAddress,
			Payment:         domain.Payment{Method: req.PaymentMethod, Status: domain.PaymentPending},
			IdempotencyKey:  req.IdempotencyKey,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.Orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.emit(ctx, tx, events.TopicOrderCreated, order.ID, createdPayload(order))
	})
	if err != nil {
		// a concurrent request with the same key may have won the insert
		if req.IdempotencyKey != "" && !isDomainError(err) {
			if o, ok, lookupErr := s.Orders.ByIdempotencyKey(ctx, req.BuyerID, req.IdempotencyKey); lookupErr == nil && ok {
				return o, nil
			}
		}
		return domain.Order{}, err
	}

	s.Metrics.OrderPlaced(time.Since(start).Seconds())
	s.remember(ctx, order)
	applog.Audit(nil, "order.placed", map[string]any{
		"order": order.ID, "number": order.Number, "buyer": order.BuyerID,
		"items": len(order.Items), "total": order.Pricing.Total.StringFixed(2),
	})
	return order, nil
}

type actorMode int

const (
	asAdmin actorMode = iota
	asBuyer
	asSeller
)

// authorizeTransition decides in which capacity who may act on o. Buyers
// may only cancel; sellers must own a shop on at least one line and may
// never cancel.
func (s *OrderService) authorizeTransition(ctx context.Context, who domain.Identity, o domain.Order, target domain.OrderStatus) (actorMode, error) {
	if who.Role == domain.RoleAdmin {
		return asAdmin, nil
	}
	if who.UserID != "" && who.UserID == o.BuyerID && target == domain.OrderCancelled {
		return asBuyer, nil
	}
	if who.Role == domain.RoleSeller && target != domain.OrderCancelled {
		ok, err := s.Orders.SellerHasItem(ctx, o.ID, who.UserID)
		if err != nil {
			return 0, err
		}
		if ok {
			return asSeller, nil
		}
	}
	return 0, fmt.Errorf("%w: %s may not move order %s to %s", domain.ErrForbidden, who.Role, o.ID, target)
}

// TransitionOrderStatus moves an order one edge along its lifecycle. A request
// for the status the order already has is a successful no-op. The status write
// is conditional on the status that was read; losing that race yields
// ErrConflict and the caller should re-read.
func (s *OrderService) TransitionOrderStatus(ctx context.Context, who domain.Identity, orderID string, target domain.OrderStatus, note string, pay *PaymentUpdate) (domain.Order, error) {
	if !target.Valid() {
		return domain.Order{}, domain.Invalid("unknown order status %q", target)
	}
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	mode, err := s.authorizeTransition(ctx, who, o, target)
	if err != nil {
		applog.Security(nil, "order.transition.denied", map[string]any{"order": orderID, "user": who.UserID, "to": string(target)})
		return domain.Order{}, err
	}
	if pay != nil && mode == asBuyer {
		return domain.Order{}, fmt.Errorf("%w: buyers cannot update payment", domain.ErrForbidden)
	}
	if o.Status == target {
		return o, nil
	}

	valid := domain.CanTransitionOrder(o.Status, target)
	if mode == asSeller {
		next, ok := domain.NextForward(o.Status)
		valid = ok && next == target
	}
	if !valid {
		applog.Info(nil, "order.transition.rejected", map[string]any{"order": o.ID, "from": string(o.Status), "to": string(target), "terminal": o.Status.Terminal()})
		return domain.Order{}, &domain.TransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(target)}
	}

	entry := domain.StatusEntry{Status: string(target), Note: note, ActorID: who.UserID, Timestamp: s.now()}
	payment := paymentAfter(o, target, pay)
	restock := target == domain.OrderCancelled

	err = repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		if err := s.Orders.WithTx(tx).UpdateStatus(ctx, o.ID, o.Status, entry, payment); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return fmt.Errorf("order %s left %s before the update: %w", o.ID, o.Status, err)
			}
			return err
		}
		if restock {
			if err := s.Inv.Release(ctx, s.Products.WithTx(tx), o.Items); err != nil {
				return err
			}
		}
		return s.emit(ctx, tx, events.TopicOrderStatusChanged, o.ID, events.OrderStatusChangedPayload{
			OrderID: o.ID, From: string(o.Status), To: string(target), ActorID: who.UserID, Note: note, Restocked: restock,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.Metrics.OrderTransitioned(string(target))
	applog.Audit(nil, "order.status", map[string]any{
		"order": o.ID, "from": string(o.Status), "to": string(target), "actor": who.UserID, "restocked": restock,
	})

	if err := s.Cache.Invalidate(ctx, o.ID, o.Version+1); err != nil {
		applog.Error(nil, "order.cache.invalidate", err, map[string]any{"order": o.ID})
	}
	return s.Orders.Get(ctx, o.ID)
}

// paymentAfter returns the payment columns to write with the transition, or
// nil to leave them. Cancelling a paid order marks it refunded.
func paymentAfter(o domain.Order, target domain.OrderStatus, pay *PaymentUpdate) *domain.Payment {
	if pay != nil {
		p := o.Payment
		p.Status = pay.Status
		if pay.TransactionID != "" {
			p.TransactionID = pay.TransactionID
		}
		return &p
	}
	if target == domain.OrderCancelled && o.Payment.Status == domain.PaymentPaid {
		p := o.Payment
		p.Status = domain.PaymentRefunded
		return &p
	}
	return nil
}

// GetOrder returns the order to its buyer, to admins and to the current owner
// of a shop with a line in it. Everyone else gets NotFound. Cached and stored
// views are checked the same way.
func (s *OrderService) GetOrder(ctx context.Context, who domain.Identity, id string) (domain.Order, error) {
	o, hit, err := s.Cache.Get(ctx, id)
	if err != nil {
		applog.Error(nil, "order.cache.get", err, map[string]any{"order": id})
	}
	if !hit {
		if o, err = s.Orders.Get(ctx, id); err != nil {
			return domain.Order{}, err
		}
	}
	allowed, err := s.canView(ctx, who, o)
	if err != nil {
		return domain.Order{}, err
	}
	if !allowed {
		applog.Security(nil, "order.view.denied", map[string]any{"order": id, "user": who.UserID})
		return domain.Order{}, &domain.NotFoundError{Entity: "order", ID: id}
	}
	if !hit {
		s.remember(ctx, o)
	}
	return o, nil
}

func (s *OrderService) canView(ctx context.Context, who domain.Identity, o domain.Order) (bool, error) {
	switch {
	case who.Role == domain.RoleAdmin:
		return true, nil
	case who.UserID == "":
		return false, nil
	case o.BuyerID == who.UserID:
		return true, nil
	}
	return s.Orders.SellerHasItem(ctx, o.ID, who.UserID)
}

// ListOrders returns the caller's own orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, who domain.Identity) ([]repos.OrderSummary, error) {
	return s.Orders.ListByBuyer(ctx, who.UserID)
}

// ListShopOrders returns orders that contain a line of the shop. Only the
// shop owner and admins may list them.
func (s *OrderService) ListShopOrders(ctx context.Context, who domain.Identity, shopID string) ([]repos.OrderSummary, error) {
	shop, err := s.Shops.Get(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if who.Role != domain.RoleAdmin && shop.OwnerID != who.UserID {
		return nil, fmt.Errorf("%w: not the owner of shop %s", domain.ErrForbidden, shopID)
	}
	return s.Orders.ListByShop(ctx, shopID)
}

func (s *OrderService) emit(ctx context.Context, tx *sqlx.Tx, topic, key string, payload any) error {
	env, err := events.New(topic, key, payload)
	if err != nil {
		return err
	}
	return s.Outbox.WithTx(tx).Insert(ctx, env.EventID, topic, key, env)
}

func (s *OrderService) remember(ctx context.Context, o domain.Order) {
	if _, err := s.Cache.Put(ctx, o); err != nil {
		applog.Error(nil, "order.cache.put", err, map[string]any{"order": o.ID})
	}
}

func createdPayload(o domain.Order) events.OrderCreatedPayload {
	p := events.OrderCreatedPayload{OrderID: o.ID, Number: o.Number, BuyerID: o.BuyerID, Total: o.Pricing.Total}
	for _, it := range o.Items {
		p.Items = append(p.Items, events.OrderLine{ProductID: it.ProductID, ShopID: it.ShopID, Qty: it.Qty, Price: it.Price})
	}
	return p
}

// isDomainError reports whether err is one of the caller-facing kinds, as
// opposed to a store failure such as a unique-index violation.
func isDomainError(err error) bool {
	for _, k := range []error{
		domain.ErrNotFound, domain.ErrInsufficientStock, domain.ErrInvalidPricing, domain.ErrInvalidTransition,
		domain.ErrForbidden, domain.ErrConflict, domain.ErrDependencyFailure, domain.ErrInvalidInput,
	} {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
