package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface repositories depend on.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// ErrMissingMarker is returned for queries without a leading "--sql <uuid>" line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// SQLRunner strips the "--sql <uuid>" marker from each statement before
// handing it to the pool and logs by marker. Statements slower than
// SlowQuery are logged at warn level.
type SQLRunner struct {
	Pool      SQLExecutor
	Logger    zerolog.Logger
	SlowQuery time.Duration
}

const defaultSlowQuery = 500 * time.Millisecond

func NewSQLRunner(pool SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger, SlowQuery: defaultSlowQuery}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	started := time.Now()
	tag, err := r.Pool.Exec(ctx, stmt, args...)
	r.trace("exec", marker, started, err).Int64("rows", tag.RowsAffected()).Send()
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return tracedRow{row: r.Pool.QueryRow(ctx, stmt, args...), runner: r, marker: marker, started: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	rows, err := r.Pool.Query(ctx, stmt, args...)
	r.trace("query", marker, started, err).Send()
	return rows, err
}

// trace picks the event level from the outcome. pgx.ErrNoRows is not a failure.
func (r *SQLRunner) trace(op, marker string, started time.Time, err error) *zerolog.Event {
	took := time.Since(started)
	var ev *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		ev = r.Logger.Error().Err(err)
	case r.SlowQuery > 0 && took >= r.SlowQuery:
		ev = r.Logger.Warn().Bool("slow", true)
	default:
		ev = r.Logger.Debug()
	}
	return ev.Str("op", op).Str("marker", marker).Dur("took", took)
}

type tracedRow struct {
	row     pgx.Row
	runner  *SQLRunner
	marker  string
	started time.Time
}

func (t tracedRow) Scan(dest ...any) error {
	err := t.row.Scan(dest...)
	t.runner.trace("query_row", t.marker, t.started, err).Send()
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

// extractMarker splits a marked statement into its uuid and the SQL below it.
func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errors.New("empty query")
	}
	head, body, _ := strings.Cut(trimmed, "\n")
	head = strings.TrimSpace(head)
	if !markerRegexp.MatchString(head) {
		return "", "", ErrMissingMarker
	}
	return strings.TrimPrefix(head, "--sql "), body, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
