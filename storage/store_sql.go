package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/goforj/geostate/geoerr"
)

// sqlDialect holds what differs between the supported database/sql drivers.
type sqlDialect struct {
	keyType, blobType, intType string
	tableSuffix                string
	// upsert is appended to the INSERT and may refer to the inserted row.
	upsert   string
	numbered bool
}

var sqlDialects = map[string]sqlDialect{
	"sqlite": {
		keyType: "TEXT", blobType: "BLOB", intType: "INTEGER",
		upsert: "ON CONFLICT (entry_key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at",
	},
	"mysql": {
		keyType: "VARCHAR(255)", blobType: "LONGBLOB", intType: "BIGINT",
		tableSuffix: " ENGINE=InnoDB",
		upsert:      "ON DUPLICATE KEY UPDATE payload = VALUES(payload), expires_at = VALUES(expires_at)",
	},
	"pgx": {
		keyType: "TEXT", blobType: "BYTEA", intType: "BIGINT",
		upsert:   "ON CONFLICT (entry_key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at",
		numbered: true,
	},
}

func init() {
	sqlDialects["postgres"] = sqlDialects["pgx"]
}

func (d sqlDialect) arg(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d sqlDialect) args(from, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.arg(from + i)
	}
	return strings.Join(parts, ", ")
}

var sqlIdentRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// sqlStore keeps one row per key in a single table:
// entry_key (prefixed), payload, expires_at (unix millis, 0 = never).
type sqlStore struct {
	db       *sql.DB
	table    string
	dialect  sqlDialect
	ns       keyspace
	lifetime time.Duration

	selectStmt *sql.Stmt
	upsertStmt *sql.Stmt
}

func newSQLStore(ctx context.Context, cfg Config) (*sqlStore, error) {
	const op = "storage.sql.open"
	dialect, ok := sqlDialects[cfg.SQLDriverName]
	if !ok {
		return nil, geoerr.Newf(geoerr.Validation, op, "unsupported sql driver %q", cfg.SQLDriverName)
	}
	if cfg.SQLDSN == "" {
		return nil, geoerr.New(geoerr.Validation, op, "sql dsn is required")
	}
	if !sqlIdentRE.MatchString(cfg.SQLTable) {
		return nil, geoerr.Newf(geoerr.Validation, op, "invalid sql table name %q", cfg.SQLTable)
	}
	db, err := sql.Open(cfg.SQLDriverName, cfg.SQLDSN)
	if err != nil {
		return nil, geoerr.Wrap(geoerr.Storage, op, err)
	}
	s := &sqlStore{db: db, table: cfg.SQLTable, dialect: dialect, ns: keyspace(cfg.Prefix), lifetime: cfg.DefaultTTL}
	if err := s.prepare(ctx); err != nil {
		_ = db.Close()
		return nil, geoerr.Wrap(geoerr.Unavailable, op, err)
	}
	return s, nil
}

func (s *sqlStore) prepare(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	d := s.dialect
	schema := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (entry_key %s PRIMARY KEY, payload %s NOT NULL, expires_at %s NOT NULL)%s",
		s.table, d.keyType, d.blobType, d.intType, d.tableSuffix)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	var err error
	s.selectStmt, err = s.db.PrepareContext(ctx, fmt.Sprintf(
		"SELECT payload, expires_at FROM %s WHERE entry_key = %s", s.table, d.arg(1)))
	if err != nil {
		return err
	}
	s.upsertStmt, err = s.db.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (entry_key, payload, expires_at) VALUES (%s) %s", s.table, d.args(1, 3), d.upsert))
	return err
}

func (s *sqlStore) Driver() Driver { return DriverSQL }

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKeys(DriverSQL, "get", key); err != nil {
		return nil, false, err
	}
	var (
		payload []byte
		expires deadline
	)
	err := s.selectStmt.QueryRowContext(ctx, s.ns.wrap(key)).Scan(&payload, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendErr(DriverSQL, "get", err)
	}
	if expires.passed() {
		_ = s.DeleteMany(ctx, key)
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKeys(DriverSQL, "set", key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.upsertStmt.ExecContext(ctx, s.ns.wrap(key), value, int64(deadlineFor(ttl, s.lifetime)))
	return backendErr(DriverSQL, "set", err)
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, key)
}

func (s *sqlStore) DeleteMany(ctx context.Context, keys ...string) error {
	if err := checkKeys(DriverSQL, "delete", keys...); err != nil || len(keys) == 0 {
		return err
	}
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = s.ns.wrap(key)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE entry_key IN (%s)", s.table, s.dialect.args(1, len(keys)))
	_, err := s.db.ExecContext(ctx, query, args...)
	return backendErr(DriverSQL, "delete", err)
}

func (s *sqlStore) Flush(ctx context.Context) error {
	return flushListed(ctx, s)
}

// Keys implements Lister. Expired rows are skipped but not removed.
func (s *sqlStore) Keys(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT entry_key FROM %s WHERE expires_at = 0 OR expires_at > %s", s.table, s.dialect.arg(1))
	rows, err := s.db.QueryContext(ctx, query, time.Now().UnixMilli())
	if err != nil {
		return nil, backendErr(DriverSQL, "keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			return nil, backendErr(DriverSQL, "keys", err)
		}
		if key, ok := s.ns.unwrap(stored); ok {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr(DriverSQL, "keys", err)
	}
	return sortedKeys(keys), nil
}

// Close releases the prepared statements and the connection pool.
func (s *sqlStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.selectStmt, s.upsertStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}
