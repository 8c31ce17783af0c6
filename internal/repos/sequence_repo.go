package repos

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SequenceRepo hands out durable, strictly increasing numbers per name.
type SequenceRepo struct{ db sqlx.ExtContext }

func NewSequenceRepo(db sqlx.ExtContext) *SequenceRepo { return &SequenceRepo{db: db} }

func (r *SequenceRepo) WithTx(tx *sqlx.Tx) *SequenceRepo { return &SequenceRepo{db: tx} }

// Next increments the named counter and returns the new value. Inside a
// transaction the increment is discarded together with a rollback.
func (r *SequenceRepo) Next(ctx context.Context, name string) (int64, error) {
	var v int64
	err := sqlx.GetContext(ctx, r.db, &v, `
		INSERT INTO sequences(name, value) VALUES(?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`, name)
	return v, err
}
