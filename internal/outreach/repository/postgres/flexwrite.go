package postgres

import (
	"context"
	"errors"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// undefinedColumnCode is the Postgres error code for a missing column.
const undefinedColumnCode = "42703"

var columnNameRe = regexp.MustCompile(`column "([^"]+)"`)

// execer matches the subset of pgxpool.Pool the flexible writer needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// execWithOptionalColumns runs a write built by build, retrying with
// progressively fewer optional columns when the database reports an
// undefined column. This is the single migration-compatibility shim for
// deployments whose schema lags behind the code: build receives the set of
// column names to omit and must produce a statement without them.
//
// Columns not listed in optional are never dropped; their absence is a real
// error.
func execWithOptionalColumns(ctx context.Context, db execer, optional []string, build func(omit map[string]bool) (string, []any)) error {
	omit := map[string]bool{}
	allowed := map[string]bool{}
	for _, c := range optional {
		allowed[c] = true
	}

	// One initial try plus at most one retry per optional column.
	for attempt := 0; attempt <= len(optional); attempt++ {
		sql, args := build(omit)
		_, err := db.Exec(ctx, sql, args...)
		if err == nil {
			return nil
		}

		missing, ok := missingOptionalColumn(err, allowed, omit)
		if !ok {
			return err
		}
		omit[missing] = true
	}

	sql, args := build(omit)
	_, err := db.Exec(ctx, sql, args...)
	return err
}

// missingOptionalColumn reports the optional column named by an
// undefined-column error, if any.
func missingOptionalColumn(err error, allowed, omit map[string]bool) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != undefinedColumnCode {
		return "", false
	}
	m := columnNameRe.FindStringSubmatch(pgErr.Message)
	if m == nil {
		return "", false
	}
	col := m[1]
	if !allowed[col] || omit[col] {
		return "", false
	}
	return col, true
}

// queryRowWithOptionalColumns is the RETURNING variant of
// execWithOptionalColumns: scan is invoked on the first statement the
// database accepts.
func queryRowWithOptionalColumns(ctx context.Context, db *pgxpool.Pool, optional []string, build func(omit map[string]bool) (string, []any), scan func(row pgx.Row) error) error {
	omit := map[string]bool{}
	allowed := map[string]bool{}
	for _, c := range optional {
		allowed[c] = true
	}

	for attempt := 0; attempt <= len(optional); attempt++ {
		sql, args := build(omit)
		err := scan(db.QueryRow(ctx, sql, args...))
		if err == nil {
			return nil
		}
		missing, ok := missingOptionalColumn(err, allowed, omit)
		if !ok {
			return err
		}
		omit[missing] = true
	}

	sql, args := build(omit)
	return scan(db.QueryRow(ctx, sql, args...))
}
