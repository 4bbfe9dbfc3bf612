package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDialect struct {
	named bool
}

func (fakeDialect) Engine() database.Engine { return database.EngineSQLite }
func (fakeDialect) Probe() string           { return "SELECT 1" }
func (d fakeDialect) NamedArgs() bool       { return d.named }

func (fakeDialect) MapError(err error, phase database.Phase, msg string) *errs.Error {
	if e, ok := database.ClassifyTransport(err, phase, msg); ok {
		return e
	}
	return database.Fallback(err, phase, msg)
}

func (fakeDialect) ListTables(ctx context.Context, q Queryer) ([]database.TableRef, error) {
	return QueryTables(ctx, q, "SELECT schema, name, kind FROM catalog")
}

func (fakeDialect) InspectTable(ctx context.Context, q Queryer, t database.TableRef) ([]database.ColumnInfo, error) {
	return QueryColumns(ctx, q, "SELECT name, type, nullable, dflt FROM columns WHERE t = ?", t.Name)
}

func newMock(t *testing.T, d Dialect, opts ...Option) (*Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return New(db, d, opts...), mock
}

func typedRows(cols ...string) *sqlmock.Rows {
	defs := make([]*sqlmock.Column, len(cols))
	for i, c := range cols {
		defs[i] = sqlmock.NewColumn(c).OfType("TEXT", "")
	}
	return sqlmock.NewRowsWithColumnDefinition(defs...)
}

func TestConn_Execute_StopsAtRowLimit(t *testing.T) {
	conn, mock := newMock(t, fakeDialect{})

	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(typedRows("id", "name").
			AddRow("1", "ada").
			AddRow("2", "grace").
			AddRow("3", "linus"))

	rs, err := conn.Execute(context.Background(), database.Query{
		Statement: "SELECT id, name FROM users",
		RowLimit:  2,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, rs.RowCount)
	assert.True(t, rs.Truncated)
	require.Len(t, rs.Columns, 2)
	assert.Equal(t, "id", rs.Columns[0].Name)
	assert.Equal(t, "TEXT", rs.Columns[0].DatabaseType)
	assert.Equal(t, "grace", rs.Rows[1]["name"])
}

func TestConn_Execute_NoLimit(t *testing.T) {
	conn, mock := newMock(t, fakeDialect{})

	mock.ExpectQuery("SELECT name FROM users WHERE id = ?").
		WithArgs(7).
		WillReturnRows(typedRows("name").AddRow([]byte("ada")))

	rs, err := conn.Execute(context.Background(), database.Query{
		Statement: "SELECT name FROM users WHERE id = ?",
		Params:    database.Params{Positional: []any{7}},
	})
	require.NoError(t, err)
	assert.False(t, rs.Truncated)
	assert.Equal(t, "ada", rs.Rows[0]["name"], "byte slices become strings")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_Execute_WriteReportsAffectedRows(t *testing.T) {
	conn, mock := newMock(t, fakeDialect{})

	mock.ExpectExec("UPDATE users SET active = ?").
		WithArgs(false).
		WillReturnResult(sqlmock.NewResult(0, 4))

	rs, err := conn.Execute(context.Background(), database.Query{
		Statement: "UPDATE users SET active = ?",
		Params:    database.Params{Positional: []any{false}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), rs.RowsAffected)
	assert.Empty(t, rs.Rows)
}

func TestConn_Execute_NamedParameters(t *testing.T) {
	t.Run("bound in name order", func(t *testing.T) {
		conn, mock := newMock(t, fakeDialect{named: true})

		mock.ExpectQuery("SELECT * FROM t WHERE a = :a AND b = :b").
			WithArgs(sql.Named("a", 1), sql.Named("b", "x")).
			WillReturnRows(typedRows("a"))

		_, err := conn.Execute(context.Background(), database.Query{
			Statement: "SELECT * FROM t WHERE a = :a AND b = :b",
			Params:    database.Params{Named: map[string]any{"b": "x", "a": 1}},
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejected by dialect", func(t *testing.T) {
		conn, _ := newMock(t, fakeDialect{named: false})
		_, err := conn.Execute(context.Background(), database.Query{
			Statement: "SELECT 1",
			Params:    database.Params{Named: map[string]any{"a": 1}},
		})
		assert.True(t, errs.IsInvalidInput(err))
	})

	t.Run("mixed", func(t *testing.T) {
		conn, _ := newMock(t, fakeDialect{named: true})
		_, err := conn.Execute(context.Background(), database.Query{
			Statement: "SELECT 1",
			Params:    database.Params{Positional: []any{1}, Named: map[string]any{"a": 1}},
		})
		assert.True(t, errs.IsInvalidInput(err))
	})
}

func TestConn_Execute_EmptyStatement(t *testing.T) {
	conn, _ := newMock(t, fakeDialect{})
	_, err := conn.Execute(context.Background(), database.Query{Statement: "  "})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestConn_Execute_ErrorsAreMappedAndRedacted(t *testing.T) {
	conn, mock := newMock(t, fakeDialect{}, WithSecrets("hunter2"))

	mock.ExpectQuery("SELECT secret").
		WillReturnError(errors.New("login with hunter2 rejected"))

	_, err := conn.Execute(context.Background(), database.Query{Statement: "SELECT secret"})
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.Equal(t, errs.ReasonEngineRejected, errs.ReasonOf(err))
	assert.NotContains(t, err.Error(), "hunter2")
}

func TestConn_Execute_DeadlineIsTimeout(t *testing.T) {
	conn, mock := newMock(t, fakeDialect{})
	mock.ExpectQuery("SELECT pg_sleep(10)").WillReturnError(context.DeadlineExceeded)

	_, err := conn.Execute(context.Background(), database.Query{Statement: "SELECT pg_sleep(10)"})
	assert.True(t, errs.IsTimeout(err))
	assert.True(t, errs.IsQueryFailed(err))
}

func TestConn_FetchSchema_PreservesOrder(t *testing.T) {
	conn, mock := newMock(t, fakeDialect{})

	mock.ExpectQuery("SELECT schema, name, kind FROM catalog").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "name", "kind"}).
			AddRow("main", "users", "table").
			AddRow("main", "orders", "view"))
	mock.ExpectQuery("SELECT name, type, nullable, dflt FROM columns WHERE t = ?").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "dflt"}).
			AddRow("id", "INTEGER", "NO", nil).
			AddRow("email", "TEXT", "YES", "'none'"))
	mock.ExpectQuery("SELECT name, type, nullable, dflt FROM columns WHERE t = ?").
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "dflt"}).
			AddRow("total", "REAL", "1", nil))

	info, err := conn.FetchSchema(context.Background())
	require.NoError(t, err)

	require.Len(t, info.Tables, 2)
	assert.Equal(t, database.EngineSQLite, info.Engine)
	assert.Equal(t, "users", info.Tables[0].Name)
	assert.Equal(t, "view", info.Tables[1].Kind)

	users := info.Tables[0].Columns
	require.Len(t, users, 2)
	assert.Equal(t, "id", users[0].Name)
	assert.False(t, users[0].IsNullable)
	assert.Equal(t, "email", users[1].Name)
	require.NotNil(t, users[1].DefaultValue)
	assert.Equal(t, "'none'", *users[1].DefaultValue)
	assert.True(t, info.Tables[1].Columns[0].IsNullable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_FetchSchema_ErrorIsSchemaFailure(t *testing.T) {
	conn, mock := newMock(t, fakeDialect{})
	mock.ExpectQuery("SELECT schema, name, kind FROM catalog").WillReturnError(errors.New("permission denied"))

	_, err := conn.FetchSchema(context.Background())
	assert.True(t, errs.IsSchemaFailed(err))
}

func TestConn_Ping(t *testing.T) {
	conn, mock := newMock(t, fakeDialect{})
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	require.NoError(t, conn.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	cleanups := 0
	conn, mock := newMock(t, fakeDialect{}, WithCleanup(func() error {
		cleanups++
		return nil
	}))
	mock.ExpectClose()

	require.NoError(t, conn.Close(context.Background()))
	require.NoError(t, conn.Close(context.Background()))
	assert.Equal(t, 1, cleanups)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		stmt string
		want bool
	}{
		{"SELECT 1", true},
		{"  with x as (select 1) select * from x", true},
		{"insert into t values (1)", false},
		{"INSERT INTO t VALUES (1) RETURNING id", true},
		{"-- comment\nDELETE FROM t", false},
		{"/* hint */ update t set a = 1", false},
		{"UPDATE t SET a = 1 OUTPUT inserted.a WHERE b = 2", true},
		{"INSERT INTO users (email) VALUES ('y@example.com')\nRETURNING id", true},
		{"INSERT INTO users (email) VALUES ('y@example.com') RETURNING\n id", true},
		{"DELETE FROM t\n\tRETURNING *", true},
		{"INSERT INTO t (a)\nOUTPUT inserted.id\nVALUES (1)", true},
		{"UPDATE t SET output_dir = 'x'", false},
		{"CREATE TABLE t (id int)", false},
		{"PRAGMA table_info(t)", true},
		{"SHOW TABLES", true},
	}

	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			assert.Equal(t, tt.want, ReturnsRows(tt.stmt))
		})
	}
}

func TestIsTruthy(t *testing.T) {
	for _, s := range []string{"YES", "Y", "1", "true"} {
		assert.True(t, IsTruthy(s), s)
	}
	for _, s := range []string{"NO", "N", "0", ""} {
		assert.False(t, IsTruthy(s), s)
	}
}
