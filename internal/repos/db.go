package repos

import (
	"context"
	"database/sql/driver"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func OpenDB(dsn string) (*sqlx.DB, error) {
	memory := dsn == ":memory:"
	if !memory {
		dsn = fileDSN(dsn)
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// every connection to ":memory:" is its own database
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	if err := seedUsers(db); err != nil {
		return nil, err
	}
	if err := seedIfEmpty(db); err != nil {
		return nil, err
	}
	return db, nil
}

// fileDSN turns on WAL and a 5s busy timeout for a database file and makes
// every transaction take the write lock at BEGIN. Settings already in dsn are
// kept.
func fileDSN(dsn string) string {
	var params []string
	for _, p := range []struct{ key, param string }{
		{"busy_timeout", "_pragma=busy_timeout(5000)"},
		{"journal_mode", "_pragma=journal_mode(WAL)"},
		{"_txlock", "_txlock=immediate"},
	} {
		if !strings.Contains(dsn, p.key) {
			params = append(params, p.param)
		}
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// InTx runs fn inside one transaction. The transaction is rolled back when fn
// fails or ctx is cancelled before commit.
func InTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// retryRead retries an idempotent read once when the store reports a transient failure.
func retryRead[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !transient(err) || ctx.Err() != nil {
		return v, err
	}
	return fn()
}

func transient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

-- Users & Sessions
CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('BUYER','SELLER','ADMIN')),
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,               -- same value as the 'sid' cookie
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

-- Shops
CREATE TABLE IF NOT EXISTS shops(
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL REFERENCES users(id),
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK (status IN ('PENDING','APPROVED','REJECTED','DELETED')),
  is_active INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shops_owner ON shops(owner_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_shops_owner_name ON shops(owner_id, LOWER(name)) WHERE status != 'DELETED';

CREATE TABLE IF NOT EXISTS shop_status_history(
  shop_id TEXT NOT NULL REFERENCES shops(id),
  seq INTEGER NOT NULL,
  status TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  actor_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  PRIMARY KEY(shop_id, seq)
);

-- Catalog
CREATE TABLE IF NOT EXISTS products(
  id TEXT PRIMARY KEY,
  shop_id TEXT NOT NULL REFERENCES shops(id),
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL,
  qty INTEGER NOT NULL DEFAULT 0 CHECK (qty >= 0),
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_products_shop ON products(shop_id);

-- Durable counters (order numbers)
CREATE TABLE IF NOT EXISTS sequences(
  name TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);

-- Orders
CREATE TABLE IF NOT EXISTS orders(
  id TEXT PRIMARY KEY,
  number TEXT NOT NULL UNIQUE,
  buyer_id TEXT NOT NULL REFERENCES users(id),
  status TEXT NOT NULL CHECK (status IN ('PENDING','PROCESSING','SHIPPED','DELIVERED','CANCELLED')),
  subtotal TEXT NOT NULL,
  tax TEXT NOT NULL,
  shipping_cost TEXT NOT NULL,
  discount TEXT NOT NULL,
  total TEXT NOT NULL,
  shipping_address TEXT NOT NULL,
  payment_method TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  payment_txn_id TEXT NOT NULL DEFAULT '',
  idempotency_key TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_idem ON orders(buyer_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS order_items(
  order_id  TEXT NOT NULL REFERENCES orders(id),
  line INTEGER NOT NULL,
  product_id TEXT NOT NULL REFERENCES products(id),
  shop_id TEXT NOT NULL REFERENCES shops(id),
  seller_id TEXT NOT NULL,
  title TEXT NOT NULL,
  qty INTEGER NOT NULL CHECK (qty >= 1),
  price TEXT NOT NULL,
  subtotal TEXT NOT NULL,
  PRIMARY KEY (order_id, product_id)
);
CREATE INDEX IF NOT EXISTS idx_order_items_shop ON order_items(shop_id);

CREATE TABLE IF NOT EXISTS order_status_history(
  order_id TEXT NOT NULL REFERENCES orders(id),
  seq INTEGER NOT NULL,
  status TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  actor_id TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  PRIMARY KEY(order_id, seq)
);

-- Outbox (drained by the event relay)
CREATE TABLE IF NOT EXISTS outbox(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id TEXT NOT NULL UNIQUE,
  topic TEXT NOT NULL,
  key TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at TEXT NOT NULL,
  sent_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at, id);
`
	_, err := db.Exec(schema)
	return err
}

// seedUsers ensures the demo buyers, sellers and the admin exist (idempotent).
func seedUsers(db *sqlx.DB) error {
	type u struct {
		ID, Email, Name, Role, Hash string
	}
	mk := func(id, email, name, role, raw string) u {
		h, _ := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		return u{ID: id, Email: email, Name: name, Role: role, Hash: string(h)}
	}

	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM users`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	users := []u{
		mk("u-alice", "alice@bazaar.test", "Alice", "BUYER", "Passw0rd!"),
		mk("u-bob", "bob@bazaar.test", "Bob", "SELLER", "Passw0rd!"),
		mk("u-carol", "carol@bazaar.test", "Carol", "BUYER", "Passw0rd!"),
		mk("u-admin", "admin@bazaar.test", "Admin", "ADMIN", "Passw0rd!"),
	}

	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	for _, x := range users {
		if _, err := tx.Exec(`
			INSERT INTO users(id,email,name,password_hash,role)
			VALUES(?,?,?,?,?)
			ON CONFLICT(email) DO NOTHING
		`, x.ID, x.Email, x.Name, x.Hash, x.Role); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// seedIfEmpty inserts one approved shop with stock and one pending application.
func seedIfEmpty(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM shops`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting demo shops/products")

	now := ts(time.Now())
	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	tx.MustExec(`INSERT INTO shops(id,owner_id,name,description,status,is_active,created_at,updated_at) VALUES
	  ('s-retro','u-bob','Retro Corner','Consoles and radios','APPROVED',1,?,?),
	  ('s-carol','u-carol','Carol Ceramics','Hand-thrown mugs','PENDING',0,?,?)`, now, now, now, now)
	tx.MustExec(`INSERT INTO shop_status_history(shop_id,seq,status,note,actor_id,created_at) VALUES
	  ('s-retro',1,'PENDING','registered','u-bob',?),
	  ('s-retro',2,'APPROVED','seed','u-admin',?),
	  ('s-carol',1,'PENDING','registered','u-carol',?)`, now, now, now)
	tx.MustExec(`INSERT INTO products(id,shop_id,title,description,price,qty) VALUES
	  ('gbc-001','s-retro','Game Boy Color','Handheld console','129.99',8),
	  ('nes-001','s-retro','NES Console','Classic 8-bit console','199.00',5),
	  ('radio-001','s-retro','Philco 1939','Vintage vacuum tube radio','349.50',2),
	  ('mug-001','s-carol','Speckled Mug','Stoneware, 350ml','12.00',10)`)

	return tx.Commit()
}
