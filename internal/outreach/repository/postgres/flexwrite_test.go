package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	// missing columns still "absent" from the fake schema
	missing map[string]bool
	// calls records the SQL of each Exec
	calls []string
	// failWith, when set, is returned for every Exec
	failWith error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, sql)
	if f.failWith != nil {
		return pgconn.CommandTag{}, f.failWith
	}
	for col := range f.missing {
		if strings.Contains(sql, col) {
			return pgconn.CommandTag{}, &pgconn.PgError{
				Code:    undefinedColumnCode,
				Message: `column "` + col + `" of relation "threads" does not exist`,
			}
		}
	}
	return pgconn.CommandTag{}, nil
}

func buildFor(t *testing.T, cols ...string) func(omit map[string]bool) (string, []any) {
	t.Helper()
	return func(omit map[string]bool) (string, []any) {
		sql := "UPDATE threads SET base = $1"
		for _, c := range cols {
			if !omit[c] {
				sql += ", " + c + " = NULL"
			}
		}
		return sql, []any{1}
	}
}

func TestExecWithOptionalColumns(t *testing.T) {
	ctx := context.Background()

	t.Run("current schema succeeds first try", func(t *testing.T) {
		db := &fakeExecer{}
		err := execWithOptionalColumns(ctx, db, []string{"unread_count"}, buildFor(t, "unread_count"))
		require.NoError(t, err)
		assert.Len(t, db.calls, 1)
	})

	t.Run("missing optional column dropped and retried", func(t *testing.T) {
		db := &fakeExecer{missing: map[string]bool{"unread_count": true}}
		err := execWithOptionalColumns(ctx, db, []string{"unread_count"}, buildFor(t, "unread_count"))
		require.NoError(t, err)
		require.Len(t, db.calls, 2)
		assert.NotContains(t, db.calls[1], "unread_count")
	})

	t.Run("two lagging columns dropped one at a time", func(t *testing.T) {
		db := &fakeExecer{missing: map[string]bool{"unread_count": true, "contact_avatar_url": true}}
		err := execWithOptionalColumns(ctx, db,
			[]string{"contact_avatar_url", "unread_count"},
			buildFor(t, "contact_avatar_url", "unread_count"))
		require.NoError(t, err)
		assert.Len(t, db.calls, 3)
	})

	t.Run("missing required column is a real error", func(t *testing.T) {
		db := &fakeExecer{missing: map[string]bool{"base": true}}
		err := execWithOptionalColumns(ctx, db, []string{"unread_count"}, buildFor(t))
		require.Error(t, err)
		var pgErr *pgconn.PgError
		assert.ErrorAs(t, err, &pgErr)
		assert.Len(t, db.calls, 1)
	})

	t.Run("unrelated errors pass through untouched", func(t *testing.T) {
		sentinel := errors.New("connection refused")
		db := &fakeExecer{failWith: sentinel}
		err := execWithOptionalColumns(ctx, db, []string{"unread_count"}, buildFor(t, "unread_count"))
		assert.ErrorIs(t, err, sentinel)
		assert.Len(t, db.calls, 1)
	})
}

func TestMissingOptionalColumn(t *testing.T) {
	allowed := map[string]bool{"unread_count": true}

	col, ok := missingOptionalColumn(&pgconn.PgError{
		Code:    undefinedColumnCode,
		Message: `column "unread_count" of relation "threads" does not exist`,
	}, allowed, map[string]bool{})
	require.True(t, ok)
	assert.Equal(t, "unread_count", col)

	// Already omitted once: do not loop on the same column.
	_, ok = missingOptionalColumn(&pgconn.PgError{
		Code:    undefinedColumnCode,
		Message: `column "unread_count" of relation "threads" does not exist`,
	}, allowed, map[string]bool{"unread_count": true})
	assert.False(t, ok)

	// Different error code is not a schema-drift case.
	_, ok = missingOptionalColumn(&pgconn.PgError{Code: "23505", Message: `column "unread_count"`}, allowed, map[string]bool{})
	assert.False(t, ok)
}
