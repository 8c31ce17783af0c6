package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"bazaar/internal/domain"
)

type ShopRepo struct{ db sqlx.ExtContext }

func NewShopRepo(db sqlx.ExtContext) *ShopRepo { return &ShopRepo{db: db} }

func (r *ShopRepo) WithTx(tx *sqlx.Tx) *ShopRepo { return &ShopRepo{db: tx} }

type shopRow struct {
	ID          string `db:"id"`
	OwnerID     string `db:"owner_id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Status      string `db:"status"`
	IsActive    bool   `db:"is_active"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (s shopRow) shop() domain.Shop {
	return domain.Shop{
		ID:          s.ID,
		OwnerID:     s.OwnerID,
		Name:        s.Name,
		Description: s.Description,
		Status:      domain.ShopStatus(s.Status),
		IsActive:    s.IsActive,
		CreatedAt:   parseTS(s.CreatedAt),
		UpdatedAt:   parseTS(s.UpdatedAt),
	}
}

// Create inserts the shop and its first history entry.
func (r *ShopRepo) Create(ctx context.Context, s domain.Shop, first domain.StatusEntry) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO shops(id, owner_id, name, description, status, is_active, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.OwnerID, s.Name, s.Description, string(s.Status), s.IsActive, ts(s.CreatedAt), ts(s.UpdatedAt)); err != nil {
		return err
	}
	return shopHistory.appendEntry(ctx, r.db, s.ID, first)
}

func (r *ShopRepo) Get(ctx context.Context, id string) (domain.Shop, error) {
	row, err := retryRead(ctx, func() (shopRow, error) {
		var row shopRow
		err := sqlx.GetContext(ctx, r.db, &row, `
			SELECT id, owner_id, name, description, status, is_active, created_at, updated_at
			FROM shops WHERE id = ?
		`, id)
		return row, err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Shop{}, &domain.NotFoundError{Entity: "shop", ID: id}
	}
	if err != nil {
		return domain.Shop{}, err
	}
	s := row.shop()
	if s.StatusHistory, err = shopHistory.list(ctx, r.db, id); err != nil {
		return domain.Shop{}, err
	}
	return s, nil
}

func (r *ShopRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Shop, error) {
	var rows []shopRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, `
		SELECT id, owner_id, name, description, status, is_active, created_at, updated_at
		FROM shops WHERE owner_id = ? ORDER BY created_at
	`, ownerID); err != nil {
		return nil, err
	}
	out := make([]domain.Shop, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.shop())
	}
	return out, nil
}

// UpdateStatus moves the shop from expected to e.Status and appends e.
// It returns ErrConflict when the stored status is no longer expected.
// Entering APPROVED activates the shop; any other status deactivates it.
func (r *ShopRepo) UpdateStatus(ctx context.Context, id string, expected domain.ShopStatus, e domain.StatusEntry) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shops
		SET status = ?, is_active = CASE WHEN ? = 'APPROVED' THEN 1 ELSE 0 END, updated_at = ?
		WHERE id = ? AND status = ?
	`, e.Status, e.Status, ts(e.Timestamp), id, string(expected))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return shopHistory.appendEntry(ctx, r.db, id, e)
}

// SetActive toggles is_active while the shop is still APPROVED.
func (r *ShopRepo) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shops SET is_active = ?, updated_at = ? WHERE id = ? AND status = 'APPROVED'
	`, active, ts(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return nil
}
