package repos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

type OutboxRecord struct {
	ID        int64  `db:"id"`
	EventID   string `db:"event_id"`
	Topic     string `db:"topic"`
	Key       string `db:"key"`
	Payload   string `db:"payload"`
	CreatedAt string `db:"created_at"`
}

type OutboxRepo struct{ db sqlx.ExtContext }

func NewOutboxRepo(db sqlx.ExtContext) *OutboxRepo { return &OutboxRepo{db: db} }

func (r *OutboxRepo) WithTx(tx *sqlx.Tx) *OutboxRepo { return &OutboxRepo{db: tx} }

// Insert stores an event next to the state change that produced it.
func (r *OutboxRepo) Insert(ctx context.Context, eventID, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO outbox(event_id, topic, key, payload, created_at) VALUES(?, ?, ?, ?, ?)
	`, eventID, topic, key, string(data), ts(time.Now()))
	return err
}

func (r *OutboxRepo) FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []OutboxRecord
	err := sqlx.SelectContext(ctx, r.db, &out, `
		SELECT id, event_id, topic, key, payload, created_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?
	`, limit)
	return out, err
}

func (r *OutboxRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET sent_at = ? WHERE id = ?`, ts(time.Now()), id)
	return err
}

func (r *OutboxRepo) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`)
	return n, err
}
