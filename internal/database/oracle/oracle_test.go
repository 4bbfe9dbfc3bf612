package oracle

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_DSN(t *testing.T) {
	a := NewAdapter(Options{ConnectTimeout: 10 * time.Second})
	dsn := a.dsn(database.Config{
		Engine:   database.EngineOracle,
		Host:     "ora.internal",
		Port:     1521,
		Database: "ORCLPDB1",
		Username: "scott",
		Password: "tiger",
		TLS:      true,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "oracle", u.Scheme)
	assert.Equal(t, "ora.internal:1521", u.Host)
	assert.Equal(t, "/ORCLPDB1", u.Path)
	assert.Equal(t, "scott", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal(t, "tiger", pw)
	assert.Equal(t, "enable", u.Query().Get("SSL"))
	assert.Equal(t, "10", u.Query().Get("TIMEOUT"))
}

func TestDialect_MapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		phase  database.Phase
		kind   errs.ErrKind
		reason errs.Reason
	}{
		{"invalid login", errors.New("ORA-01017: invalid username/password; logon denied"), database.PhaseConnect, errs.ErrKindConnectionFailed, errs.ReasonAuth},
		{"no listener", errors.New("ORA-12541: TNS:no listener"), database.PhaseConnect, errs.ErrKindConnectionFailed, errs.ReasonNetwork},
		{"syntax", errors.New("ORA-00933: SQL command not properly ended"), database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonSyntax},
		{"missing table", errors.New("ORA-00942: table or view does not exist"), database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonEngineRejected},
		{"cancelled", errors.New("ORA-01013: user requested cancel of current operation"), database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonTimeout},
		{"privileges", errors.New("ORA-01031: insufficient privileges"), database.PhaseSchema, errs.ErrKindSchemaFailed, errs.ReasonAuth},
		{"unknown", errors.New("connection reset"), database.PhaseConnect, errs.ErrKindConnectionFailed, errs.ReasonNetwork},
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

	mock.ExpectQuery("FROM user_tables").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "name", "kind"}).
			AddRow("SCOTT", "DEPT", "table").
			AddRow("SCOTT", "EMP", "table"))
	mock.ExpectQuery("FROM user_tab_columns").
		WithArgs("EMP").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "default"}).
			AddRow("EMPNO", "NUMBER", "N", nil).
			AddRow("ENAME", "VARCHAR2", "Y", nil))

	ctx := context.Background()
	tables, err := Dialect{}.ListTables(ctx, db)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	cols, err := Dialect{}.InspectTable(ctx, db, tables[1])
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.False(t, cols[0].IsNullable)
	assert.True(t, cols[1].IsNullable)
	assert.Nil(t, cols[1].DefaultValue)
	require.NoError(t, mock.ExpectationsWereMet())
}
