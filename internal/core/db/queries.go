package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries provides named SQL queries loaded from embedded .sql files.
//
// Every method takes the connection to run on, so the same Queries value
// serves both the pool and open transactions. Queries are written with ?
// placeholders and rebound for the connection's driver.
type Queries struct {
	dot *dotsql.DotSql
}

// LoadQueries loads all .sql files from the embedded filesystem.
// Named queries are addressed by their "-- name:" tag.
func LoadQueries() (*Queries, error) {
	var combined strings.Builder

	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}

		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		combined.Write(content)
		combined.WriteByte('\n')
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load query files: %w", err)
	}

	dot, err := dotsql.LoadFromString(combined.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}

	return &Queries{dot: dot}, nil
}

// Raw returns the named query text without rebinding.
func (q *Queries) Raw(name string) (string, error) {
	query, err := q.dot.Raw(name)
	if err != nil {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return strings.TrimSuffix(strings.TrimSpace(query), ";"), nil
}

// Exec runs a named statement.
func (q *Queries) Exec(ctx context.Context, ext sqlx.ExtContext, name string, args ...any) (sql.Result, error) {
	query, err := q.Raw(name)
	if err != nil {
		return nil, err
	}
	return ext.ExecContext(ctx, ext.Rebind(query), args...)
}

// Get scans a single row into dest.
func (q *Queries) Get(ctx context.Context, ext sqlx.ExtContext, name string, dest any, args ...any) error {
	query, err := q.Raw(name)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, ext, dest, ext.Rebind(query), args...)
}

// Select scans every row into the dest slice.
func (q *Queries) Select(ctx context.Context, ext sqlx.ExtContext, name string, dest any, args ...any) error {
	query, err := q.Raw(name)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, ext, dest, ext.Rebind(query), args...)
}

// SelectIn is Select for queries with an IN (?) list; slice arguments are
// expanded with sqlx.In.
func (q *Queries) SelectIn(ctx context.Context, ext sqlx.ExtContext, name string, dest any, args ...any) error {
	query, err := q.Raw(name)
	if err != nil {
		return err
	}
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return sqlx.SelectContext(ctx, ext, dest, ext.Rebind(query), args...)
}
