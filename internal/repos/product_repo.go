package repos

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"bazaar/internal/domain"
)

// ProductRepo is the catalog store. Quantity changes only through
// ConditionalDecrement, Restock and SetStock.
type ProductRepo struct{ db sqlx.ExtContext }

func NewProductRepo(db sqlx.ExtContext) *ProductRepo { return &ProductRepo{db: db} }

// WithTx binds the repo to an open transaction.
func (r *ProductRepo) WithTx(tx *sqlx.Tx) *ProductRepo { return &ProductRepo{db: tx} }

const productCols = `p.id, p.shop_id, p.title, p.description, p.price, p.qty,
    COALESCE(p.created_at,'') AS created_at, COALESCE(p.updated_at,'') AS updated_at`

func (r *ProductRepo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return retryRead(ctx, func() (domain.Product, error) {
		var p domain.Product
		err := sqlx.GetContext(ctx, r.db, &p, `SELECT `+productCols+` FROM products p WHERE p.id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return p, &domain.NotFoundError{Entity: "product", ID: id}
		}
		return p, err
	})
}

// CatalogItems reads every requested product together with its shop state in
// one statement. Missing ids are simply absent from the result.
func (r *ProductRepo) CatalogItems(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error) {
	out := make(map[string]domain.CatalogItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`
		SELECT `+productCols+`,
		       s.owner_id AS shop_owner_id, s.status AS shop_status, s.is_active AS shop_active
		FROM products p
		JOIN shops s ON s.id = p.shop_id
		WHERE p.id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := retryRead(ctx, func() ([]domain.CatalogItem, error) {
		var rows []domain.CatalogItem
		err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(query), args...)
		return rows, err
	})
	if err != nil {
		return nil, err
	}
	for _, it := range rows {
		out[it.ID] = it
	}
	return out, nil
}

// ConditionalDecrement subtracts amount only while qty >= expectedMinimum.
// It reports false when the guard did not hold at write time.
func (r *ProductRepo) ConditionalDecrement(ctx context.Context, id string, amount, expectedMinimum int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET qty = qty - ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND qty >= ? AND qty >= ?
	`, amount, id, expectedMinimum, amount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Restock adds amount units back to a product.
func (r *ProductRepo) Restock(ctx context.Context, id string, amount int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products SET qty = qty + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, amount, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "product", ID: id}
	}
	return nil
}

// SetStock overwrites the available quantity (inventory correction).
func (r *ProductRepo) SetStock(ctx context.Context, id string, qty int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products SET qty = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, qty, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "product", ID: id}
	}
	return nil
}

func (r *ProductRepo) Create(ctx context.Context, p domain.Product) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products(id, shop_id, title, description, price, qty, created_at)
		VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, p.ID, p.ShopID, p.Title, p.Description, p.Price.String(), p.Qty)
	return err
}

func (r *ProductRepo) ListByShop(ctx context.Context, shopID string) ([]domain.Product, error) {
	return retryRead(ctx, func() ([]domain.Product, error) {
		var out []domain.Product
		err := sqlx.SelectContext(ctx, r.db, &out, `
			SELECT `+productCols+` FROM products p WHERE p.shop_id = ? ORDER BY p.title
		`, shopID)
		return out, err
	})
}
