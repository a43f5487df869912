package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/tptracker/tptracker/storage/sqlcgen"
)

// loggingDB traces statements at debug level. Statements touching api_key
// are logged without their arguments.
type loggingDB struct {
	inner  sqlcgen.DBTX
	logger *slog.Logger
}

func (l loggingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := l.inner.ExecContext(ctx, query, args...)
	l.trace(ctx, "sql exec", query, args, start, err)
	return res, err
}

func (l loggingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := l.inner.QueryContext(ctx, query, args...)
	l.trace(ctx, "sql query", query, args, start, err)
	return rows, err
}

func (l loggingDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := l.inner.QueryRowContext(ctx, query, args...)
	l.trace(ctx, "sql query row", query, args, start, row.Err())
	return row
}

func (l loggingDB) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	start := time.Now()
	stmt, err := l.inner.PrepareContext(ctx, query)
	l.trace(ctx, "sql prepare", query, nil, start, err)
	return stmt, err
}

func (l loggingDB) trace(ctx context.Context, msg, query string, args []any, start time.Time, err error) {
	level := slog.LevelDebug
	if err != nil && err != sql.ErrNoRows {
		level = slog.LevelWarn
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("query", statementName(query)),
		slog.Duration("duration", time.Since(start)),
	}
	if strings.Contains(query, "api_key") {
		attrs = append(attrs, slog.Int("args", len(args)))
	} else if len(args) > 0 {
		attrs = append(attrs, slog.Any("args", args))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

// statementName returns the sqlc "-- name: X :kind" tag of query, or the
// query itself when it carries none.
func statementName(query string) string {
	const prefix = "-- name: "
	if !strings.HasPrefix(query, prefix) {
		return query
	}
	line, _, _ := strings.Cut(query[len(prefix):], "\n")
	name, _, _ := strings.Cut(line, " ")
	return name
}
