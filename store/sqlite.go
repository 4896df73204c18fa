package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteProvider is a Provider backed by a single SQLite database.
// All stores share the entries table, keyed by (store, key).
type SQLiteProvider struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteProvider creates a new provider with the given filename as the db.
// If filename is empty, a new in-memory db is opened.
func NewSQLiteProvider(filename string) SQLiteProvider {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS stores (
		name TEXT PRIMARY KEY,
		created_at INTEGER
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		store TEXT,
		key TEXT,
		stored_at INTEGER,
		bytes BLOB,
		PRIMARY KEY (store, key)
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS entries_store_idx ON entries (store)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteProvider{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (p SQLiteProvider) Open(ctx context.Context, name string) (Handle, error) {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	_, err := p.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)",
		name, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return sqliteHandle{provider: p, name: name}, nil
}

func (p SQLiteProvider) Names(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p SQLiteProvider) Delete(ctx context.Context, name string) (bool, error) {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

type sqliteHandle struct {
	provider SQLiteProvider
	name     string
}

func (h sqliteHandle) Name() string {
	return h.name
}

func (h sqliteHandle) Put(ctx context.Context, key string, bytes []byte) error {
	h.provider.writeMutex.Lock()
	defer h.provider.writeMutex.Unlock()
	_, err := h.provider.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (store, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		h.name, key, time.Now().Unix(), bytes)
	return err
}

func (h sqliteHandle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var bytes []byte
	err := h.provider.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE store = ? AND key = ?",
		h.name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (h sqliteHandle) Keys(ctx context.Context) ([]string, error) {
	rows, err := h.provider.db.QueryContext(ctx,
		"SELECT key FROM entries WHERE store = ? ORDER BY key", h.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
