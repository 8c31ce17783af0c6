package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"bazaar/internal/domain"
)

type historyRow struct {
	Status    string `db:"status"`
	Note      string `db:"note"`
	ActorID   string `db:"actor_id"`
	CreatedAt string `db:"created_at"`
}

func (h historyRow) entry() domain.StatusEntry {
	return domain.StatusEntry{Status: h.Status, Note: h.Note, ActorID: h.ActorID, Timestamp: parseTS(h.CreatedAt)}
}

// history tables share one shape; table and key column are fixed per caller.
type historyTable struct {
	table string
	key   string
}

var (
	orderHistory = historyTable{table: "order_status_history", key: "order_id"}
	shopHistory  = historyTable{table: "shop_status_history", key: "shop_id"}
)

// appendEntry adds the next entry in sequence. Existing rows are never touched.
func (h historyTable) appendEntry(ctx context.Context, db sqlx.ExtContext, id string, e domain.StatusEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO `+h.table+`(`+h.key+`, seq, status, note, actor_id, created_at)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
		FROM `+h.table+` WHERE `+h.key+` = ?
	`, id, e.Status, e.Note, e.ActorID, ts(e.Timestamp), id)
	return err
}

func (h historyTable) list(ctx context.Context, db sqlx.ExtContext, id string) ([]domain.StatusEntry, error) {
	var rows []historyRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT status, note, actor_id, created_at FROM `+h.table+` WHERE `+h.key+` = ? ORDER BY seq
	`, id); err != nil {
		return nil, err
	}
	out := make([]domain.StatusEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}
