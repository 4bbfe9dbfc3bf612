package sqlserver

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_DSN(t *testing.T) {
	a := NewAdapter(Options{ConnectTimeout: 15 * time.Second})
	dsn := a.dsn(database.Config{
		Engine:   database.EngineSQLServer,
		Host:     "mssql.internal",
		Port:     1433,
		Database: "warehouse",
		Username: "sa",
		Password: "S3cr#t/pw",
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "mssql.internal:1433", u.Host)
	assert.Equal(t, "sa", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "S3cr#t/pw", pw)

	q := u.Query()
	assert.Equal(t, "warehouse", q.Get("database"))
	assert.Equal(t, "false", q.Get("encrypt"))
	assert.Equal(t, "15", q.Get("dial timeout"))
	assert.Equal(t, "connhub", q.Get("app name"))
}

func TestAdapter_DSN_TLS(t *testing.T) {
	dsn := NewAdapter(Options{}).dsn(database.Config{
		Host: "h", Port: 1433, Database: "d", Username: "u", TLS: true,
	})
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "true", u.Query().Get("encrypt"))
}

func TestDialect_MapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		phase  database.Phase
		kind   errs.ErrKind
		reason errs.Reason
	}{
		{"login failed", mssql.Error{Number: 18456, Message: "Login failed for user 'sa'."}, database.PhaseConnect, errs.ErrKindConnectionFailed, errs.ReasonAuth},
		{"cannot open database", mssql.Error{Number: 4060, Message: "Cannot open database"}, database.PhaseConnect, errs.ErrKindConnectionFailed, errs.ReasonEngineRejected},
		{"syntax", mssql.Error{Number: 102, Message: "Incorrect syntax near 'FRM'."}, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonSyntax},
		{"invalid object", mssql.Error{Number: 208, Message: "Invalid object name 'x'."}, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonEngineRejected},
		{"lock timeout", mssql.Error{Number: 1222, Message: "Lock request time out period exceeded."}, database.PhaseSchema, errs.ErrKindSchemaFailed, errs.ReasonTimeout},
		{"permission", mssql.Error{Number: 229, Message: "The SELECT permission was denied"}, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonAuth},
		{"deadline", context.DeadlineExceeded, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dialect{}.MapError(tt.err, tt.phase, "failed")
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestDialect_Catalog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "name", "kind"}).
			AddRow("dbo", "customers", "table").
			AddRow("sales", "v_totals", "view"))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("dbo", "customers").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "default"}).
			AddRow("id", "int", "NO", nil).
			AddRow("region", "nvarchar", "YES", "('EU')"))

	ctx := context.Background()
	tables, err := Dialect{}.ListTables(ctx, db)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "sales", tables[1].Schema)

	cols, err := Dialect{}.InspectTable(ctx, db, tables[0])
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.False(t, cols[0].IsNullable)
	assert.Equal(t, "('EU')", *cols[1].DefaultValue)
	require.NoError(t, mock.ExpectationsWereMet())
}
