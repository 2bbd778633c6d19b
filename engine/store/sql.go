package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Driver names an embedded SQL backend for SQLStore.
type Driver string

const (
	// DriverSQLite uses modernc.org/sqlite, a pure-Go driver requiring no
	// cgo toolchain — the default for local development and single-process
	// deployments.
	DriverSQLite Driver = "sqlite"
	// DriverMySQL uses github.com/go-sql-driver/mysql, for operators who
	// already run MySQL for other services and would rather not add a
	// second datastore.
	DriverMySQL Driver = "mysql"
)

// SQLStore is the embedded, single-process Store driver over database/sql,
// mirroring the teacher's SQLiteStore/MySQLStore pair as two drivers of one
// store rather than two separate types. Because it runs against a single
// process's connection pool (SQLite, in particular, allows only one
// writer), it is never distributed-safe: a Lock backed by SQLStore is only
// correct within the one process holding it.
//
// Schema: a single `kv` table holding keys/values/expiry, a `streams` table
// holding append-only rows per stream key, a `sets` table holding member
// rows per set key, and a `hashes` table holding field rows per hash key.
// Expired kv rows are swept lazily on read.
type SQLStore struct {
	db     *sql.DB
	driver Driver
	mu     sync.Mutex
}

// Open opens (and migrates) an embedded SQL store. dsn is passed straight
// to database/sql — a file path for sqlite (":memory:" for ephemeral use in
// tests), or a DSN string for mysql.
func Open(driver Driver, dsn string) (*SQLStore, error) {
	driverName := string(driver)
	if driver == DriverSQLite {
		driverName = "sqlite"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("engine/store: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// upsert returns the dialect-specific INSERT ... ON CONFLICT/DUPLICATE
// clause, since SQLite and MySQL spell "insert or update" differently.
func (s *SQLStore) upsert(insert, conflictCols, sqliteSet, mysqlSet string) string {
	if s.driver == DriverMySQL {
		return insert + " ON DUPLICATE KEY UPDATE " + mysqlSet
	}
	return insert + " ON CONFLICT(" + conflictCols + ") DO UPDATE SET " + sqliteSet
}

// upsertIgnore returns the dialect-specific "insert, ignore on conflict"
// clause used by set-membership inserts.
func (s *SQLStore) upsertIgnore(insert, conflictCols string) string {
	if s.driver == DriverMySQL {
		return insert + " ON DUPLICATE KEY UPDATE k = k"
	}
	return insert + " ON CONFLICT(" + conflictCols + ") DO NOTHING"
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL,
			expires_at BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS hashes (
			k TEXT NOT NULL,
			field TEXT NOT NULL,
			v BLOB NOT NULL,
			PRIMARY KEY (k, field)
		)`,
		`CREATE TABLE IF NOT EXISTS streams (
			k TEXT NOT NULL,
			seq BIGINT NOT NULL,
			v BLOB NOT NULL,
			PRIMARY KEY (k, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS sets (
			k TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (k, member)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("engine/store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.sweep(ctx, key); err != nil {
		return nil, err
	}
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *SQLStore) sweep(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		key, time.Now().UnixNano())
	return err
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires any
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixNano()
	}
	query := s.upsert(`INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)`, "k",
		"v = excluded.v, expires_at = excluded.expires_at",
		"v = VALUES(v), expires_at = VALUES(expires_at)")
	_, err := s.db.ExecContext(ctx, query, key, value, expires)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
	return err
}

func (s *SQLStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sweep(ctx, key); err != nil {
		return false, err
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM kv WHERE k = ?`, key).Scan(&exists); err == nil {
		return false, nil
	} else if err != sql.ErrNoRows {
		return false, err
	}
	return true, s.Set(ctx, key, value, ttl)
}

func (s *SQLStore) GetAndDeleteIf(ctx context.Context, key string, expectedValue []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if string(current) != string(expectedValue) {
		return false, nil
	}
	return true, s.Delete(ctx, key)
}

func (s *SQLStore) HSet(ctx context.Context, key, field string, value []byte) error {
	query := s.upsert(`INSERT INTO hashes (k, field, v) VALUES (?, ?, ?)`, "k, field",
		"v = excluded.v", "v = VALUES(v)")
	_, err := s.db.ExecContext(ctx, query, key, field, value)
	return err
}

func (s *SQLStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM hashes WHERE k = ? AND field = ?`, key, field).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *SQLStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, v FROM hashes WHERE k = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var field string
		var v []byte
		if err := rows.Scan(&field, &v); err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, rows.Err()
}

func (s *SQLStore) StreamAppend(ctx context.Context, key string, value []byte, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM streams WHERE k = ?`, key).Scan(&next)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO streams (k, seq, v) VALUES (?, ?, ?)`, key, next, value); err != nil {
		return err
	}
	if maxLen > 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM streams WHERE k = ? AND seq <= (SELECT MAX(seq) FROM streams WHERE k = ?) - ?`,
			key, key, maxLen)
		return err
	}
	return nil
}

func (s *SQLStore) StreamRange(ctx context.Context, key, cursor string, limit int64) ([][]byte, string, error) {
	start := int64(-1)
	if cursor != "" {
		if n, err := parseCursor(cursor); err == nil {
			start = int64(n)
		}
	}
	query := `SELECT seq, v FROM streams WHERE k = ? AND seq > ? ORDER BY seq ASC`
	args := []any{key, start}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()
	var out [][]byte
	next := start
	for rows.Next() {
		var seq int64
		var v []byte
		if err := rows.Scan(&seq, &v); err != nil {
			return nil, cursor, err
		}
		out = append(out, v)
		next = seq
	}
	return out, formatCursor(int(next)), rows.Err()
}

func (s *SQLStore) SAdd(ctx context.Context, key, member string) error {
	query := s.upsertIgnore(`INSERT INTO sets (k, member) VALUES (?, ?)`, "k, member")
	_, err := s.db.ExecContext(ctx, query, key, member)
	return err
}

func (s *SQLStore) SRem(ctx context.Context, key, member string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sets WHERE k = ? AND member = ?`, key, member)
	return err
}

func (s *SQLStore) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM sets WHERE k = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE kv SET expires_at = ? WHERE k = ?`, time.Now().Add(ttl).UnixNano(), key)
	return err
}

func (s *SQLStore) DistributedSafe() bool { return false }

func (s *SQLStore) Close() error { return s.db.Close() }
