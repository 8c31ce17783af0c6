package repos

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"bazaar/internal/domain"
)

type OrderRepo struct{ db sqlx.ExtContext }

func NewOrderRepo(db sqlx.ExtContext) *OrderRepo { return &OrderRepo{db: db} }

func (r *OrderRepo) WithTx(tx *sqlx.Tx) *OrderRepo { return &OrderRepo{db: tx} }

// ---------- List summary ----------
type OrderSummary struct {
	ID        string          `db:"id" json:"id"`
	Number    string          `db:"number" json:"number"`
	BuyerID   string          `db:"buyer_id" json:"buyerId"`
	Total     decimal.Decimal `db:"total" json:"total"`
	Status    string          `db:"status" json:"status"`
	CreatedAt string          `db:"created_at" json:"createdAt"`
}

type orderRow struct {
	ID              string          `db:"id"`
	Number          string          `db:"number"`
	BuyerID         string          `db:"buyer_id"`
	Status          string          `db:"status"`
	Subtotal        decimal.Decimal `db:"subtotal"`
	Tax             decimal.Decimal `db:"tax"`
	ShippingCost    decimal.Decimal `db:"shipping_cost"`
	Discount        decimal.Decimal `db:"discount"`
	Total           decimal.Decimal `db:"total"`
	ShippingAddress domain.Address  `db:"shipping_address"`
	PaymentMethod   string          `db:"payment_method"`
	PaymentStatus   string          `db:"payment_status"`
	PaymentTxnID    string          `db:"payment_txn_id"`
	IdempotencyKey  sql.NullString  `db:"idempotency_key"`
	Version         int             `db:"version"`
	CreatedAt       string          `db:"created_at"`
	UpdatedAt       string          `db:"updated_at"`
}

type orderItemRow struct {
	ProductID string          `db:"product_id"`
	ShopID    string          `db:"shop_id"`
	SellerID  string          `db:"seller_id"`
	Title     string          `db:"title"`
	Qty       int             `db:"qty"`
	Price     decimal.Decimal `db:"price"`
	Subtotal  decimal.Decimal `db:"subtotal"`
}

const orderCols = `id, number, buyer_id, status, subtotal, tax, shipping_cost, discount, total,
    shipping_address, payment_method, payment_status, payment_txn_id, idempotency_key, version,
    created_at, updated_at`

// Create inserts the order header, its lines and its creation history entry.
// Callers run it in the same transaction as the stock reservation.
func (r *OrderRepo) Create(ctx context.Context, o domain.Order) error {
	var idem any
	if o.IdempotencyKey != "" {
		idem = o.IdempotencyKey
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO orders(`+orderCols+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.Number, o.BuyerID, string(o.Status),
		o.Pricing.Subtotal.String(), o.Pricing.Tax.String(), o.Pricing.ShippingCost.String(),
		o.Pricing.Discount.String(), o.Pricing.Total.String(),
		o.ShippingAddress, string(o.Payment.Method), string(o.Payment.Status), o.Payment.TransactionID,
		idem, o.Version, ts(o.CreatedAt), ts(o.UpdatedAt)); err != nil {
		return err
	}
	for i, it := range o.Items {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO order_items(order_id, line, product_id, shop_id, seller_id, title, qty, price, subtotal)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, o.ID, i+1, it.ProductID, it.ShopID, it.SellerID, it.Title, it.Qty, it.Price.String(), it.Subtotal.String()); err != nil {
			return err
		}
	}
	for _, e := range o.StatusHistory {
		if err := orderHistory.appendEntry(ctx, r.db, o.ID, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id string) (domain.Order, error) {
	row, err := retryRead(ctx, func() (orderRow, error) {
		var row orderRow
		err := sqlx.GetContext(ctx, r.db, &row, `SELECT `+orderCols+` FROM orders WHERE id = ?`, id)
		return row, err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, &domain.NotFoundError{Entity: "order", ID: id}
	}
	if err != nil {
		return domain.Order{}, err
	}
	return r.hydrate(ctx, row)
}

// ByIdempotencyKey finds an order the buyer already placed with key.
func (r *OrderRepo) ByIdempotencyKey(ctx context.Context, buyerID, key string) (domain.Order, bool, error) {
	row, err := retryRead(ctx, func() (orderRow, error) {
		var row orderRow
		err := sqlx.GetContext(ctx, r.db, &row, `
			SELECT `+orderCols+` FROM orders WHERE buyer_id = ? AND idempotency_key = ?
		`, buyerID, key)
		return row, err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	o, err := r.hydrate(ctx, row)
	return o, err == nil, err
}

func (r *OrderRepo) hydrate(ctx context.Context, row orderRow) (domain.Order, error) {
	o := domain.Order{
		ID:      row.ID,
		Number:  row.Number,
		BuyerID: row.BuyerID,
		Status:  domain.OrderStatus(row.Status),
		Pricing: domain.Pricing{
			Subtotal:     row.Subtotal,
			Tax:          row.Tax,
			ShippingCost: row.ShippingCost,
			Discount:     row.Discount,
			Total:        row.Total,
		},
		ShippingAddress: row.ShippingAddress,
		Payment: domain.Payment{
			Method:        domain.PaymentMethod(row.PaymentMethod),
			Status:        domain.PaymentStatus(row.PaymentStatus),
			TransactionID: row.PaymentTxnID,
		},
		IdempotencyKey: row.IdempotencyKey.String,
		Version:        row.Version,
		CreatedAt:      parseTS(row.CreatedAt),
		UpdatedAt:      parseTS(row.UpdatedAt),
	}

	var items []orderItemRow
	if err := sqlx.SelectContext(ctx, r.db, &items, `
		SELECT product_id, shop_id, seller_id, title, qty, price, subtotal
		FROM order_items WHERE order_id = ? ORDER BY line
	`, row.ID); err != nil {
		return domain.Order{}, err
	}
	for _, it := range items {
		o.Items = append(o.Items, domain.OrderItem{
			ProductID: it.ProductID, ShopID: it.ShopID, SellerID: it.SellerID, Title: it.Title,
			Qty: it.Qty, Price: it.Price, Subtotal: it.Subtotal,
		})
	}

	hist, err := orderHistory.list(ctx, r.db, row.ID)
	if err != nil {
		return domain.Order{}, err
	}
	o.StatusHistory = hist
	return o, nil
}

// UpdateStatus applies one transition with optimistic concurrency: the write
// only lands while the order is still at expected. The history append shares
// the caller's transaction so status and last entry never disagree.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id string, expected domain.OrderStatus, e domain.StatusEntry, pay *domain.Payment) error {
	query := `UPDATE orders SET status = ?, version = version + 1, updated_at = ?`
	args := []any{e.Status, ts(e.Timestamp)}
	if pay != nil {
		query += `, payment_status = ?, payment_txn_id = ?`
		args = append(args, string(pay.Status), pay.TransactionID)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(expected))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return orderHistory.appendEntry(ctx, r.db, id, e)
}

// SellerHasItem reports whether any line of the order belongs to a shop the
// user currently owns.
func (r *OrderRepo) SellerHasItem(ctx context.Context, orderID, userID string) (bool, error) {
	return retryRead(ctx, func() (bool, error) {
		var n int
		err := sqlx.GetContext(ctx, r.db, &n, `
			SELECT COUNT(*) FROM order_items oi
			JOIN shops s ON s.id = oi.shop_id
			WHERE oi.order_id = ? AND s.owner_id = ?
		`, orderID, userID)
		return n > 0, err
	})
}

// ListByBuyer returns the buyer's orders, newest first.
func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID string) ([]OrderSummary, error) {
	var out []OrderSummary
	err := sqlx.SelectContext(ctx, r.db, &out, `
		SELECT id, number, buyer_id, total, status, created_at
		FROM orders
		WHERE buyer_id = ?
		ORDER BY created_at DESC
	`, buyerID)
	return out, err
}

// ListByShop returns orders containing at least one line from the shop.
func (r *OrderRepo) ListByShop(ctx context.Context, shopID string) ([]OrderSummary, error) {
	var out []OrderSummary
	err := sqlx.SelectContext(ctx, r.db, &out, `
		SELECT DISTINCT o.id, o.number, o.buyer_id, o.total, o.status, o.created_at
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE oi.shop_id = ?
		ORDER BY o.created_at DESC
	`, shopID)
	return out, err
}
