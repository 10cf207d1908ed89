// Package sqldb opens the SQL sources used by the database_query tool and the
// warehouse agent. The backend is chosen by URL scheme.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"

	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/ports"
)

const (
	DialectDuckDB = "duckdb"
	DialectSQLite = "sqlite"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Database is a ports.SQLDatabase over database/sql.
type Database struct {
	db      *sql.DB
	dialect string
}

var _ ports.SQLDatabase = (*Database)(nil)

// Open connects to rawURL. Supported forms:
//
//	duckdb:///path/to/file.db   duckdb://:memory:
//	sqlite3:///path/to/file.db  sqlite://:memory:
func Open(rawURL string) (*Database, error) {
	scheme, path, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("database url %q has no scheme", rawURL)
	}

	switch strings.ToLower(scheme) {
	case "duckdb":
		if path == ":memory:" {
			path = ""
		}
		db, err := sql.Open("duckdb", path)
		if err != nil {
			return nil, fmt.Errorf("open duckdb: %w", err)
		}
		return &Database{db: db, dialect: DialectDuckDB}, nil
	case "sqlite", "sqlite3":
		db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if path == ":memory:" {
			// Every sqlite connection gets its own in-memory database.
			db.SetMaxOpenConns(1)
		}
		return &Database{db: db, dialect: DialectSQLite}, nil
	}
	return nil, fmt.Errorf("unsupported database scheme %q", scheme)
}

// DB exposes the pool.
func (d *Database) DB() *sql.DB { return d.db }

func (d *Database) Dialect() string { return d.dialect }

// Close closes the pool.
func (d *Database) Close() error { return d.db.Close() }

// Ping checks connectivity.
func (d *Database) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Query runs sql and returns every row as a column map.
func (d *Database) Query(ctx context.Context, query string) (*domain.QueryResult, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &domain.QueryResult{Columns: cols, Rows: []map[string]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return v
}

// ListTables returns user table names, sorted.
func (d *Database) ListTables(ctx context.Context) ([]string, error) {
	q := `SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`
	if d.dialect == DialectSQLite {
		q = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DescribeTable returns the columns of table in declaration order.
func (d *Database) DescribeTable(ctx context.Context, table string) (*domain.TableSchema, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	var cols []domain.Column
	var err error
	if d.dialect == DialectSQLite {
		cols, err = d.sqliteColumns(ctx, table)
	} else {
		cols, err = d.duckdbColumns(ctx, table)
	}
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}
	return &domain.TableSchema{Name: table, Columns: cols}, nil
}

func (d *Database) duckdbColumns(ctx context.Context, table string) ([]domain.Column, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'main' AND table_name = ?
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var c domain.Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.Type, &nullable); err != nil {
			return nil, err
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d *Database) sqliteColumns(ctx context.Context, table string) ([]domain.Column, error) {
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var (
			cid     int
			c       domain.Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		c.Nullable = notNull == 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
