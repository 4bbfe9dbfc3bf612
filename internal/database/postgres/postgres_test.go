package postgres

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(database.Config{
		Engine:   database.EnginePostgres,
		Host:     "pg.internal",
		Port:     6543,
		Database: "analytics",
		Username: "reader",
		Password: "p@ss/word?",
		TLS:      true,
		Options:  map[string]string{"application_name": "connhub"},
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "pg.internal:6543", u.Host)
	assert.Equal(t, "/analytics", u.Path)
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss/word?", pass)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "connhub", u.Query().Get("application_name"))

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	assert.Equal(t, "reader", cfg.ConnConfig.User)
	assert.Equal(t, "p@ss/word?", cfg.ConnConfig.Password)
	assert.Equal(t, uint16(6543), cfg.ConnConfig.Port)
}

func TestBuildDSN_DisablesTLSByDefault(t *testing.T) {
	dsn := buildDSN(database.Config{Host: "h", Port: 5432, Database: "d"})
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Nil(t, u.User)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		phase  database.Phase
		kind   errs.ErrKind
		reason errs.Reason
	}{
		{"bad password", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}, database.PhaseConnect, errs.ErrKindConnectionFailed, errs.ReasonAuth},
		{"connection failure", &pgconn.PgError{Code: "08006"}, database.PhaseQuery, errs.ErrKindConnectionFailed, errs.ReasonNetwork},
		{"unknown database", &pgconn.PgError{Code: "3D000"}, database.PhaseConnect, errs.ErrKindConnectionFailed, errs.ReasonEngineRejected},
		{"syntax", &pgconn.PgError{Code: "42601", Message: "syntax error at or near"}, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonSyntax},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonEngineRejected},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonTimeout},
		{"schema permission", &pgconn.PgError{Code: "42501"}, database.PhaseSchema, errs.ErrKindSchemaFailed, errs.ReasonEngineRejected},
		{"deadline", context.DeadlineExceeded, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonTimeout},
		{"unknown connect failure", errors.New("tls: handshake failure"), database.PhaseConnect, errs.ErrKindConnectionFailed, errs.ReasonNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, tt.phase, "op failed")
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}

	assert.Nil(t, mapError(nil, database.PhaseQuery, "x"))
}

func TestAdapter_InvalidOptionIsInputError(t *testing.T) {
	a := NewAdapter(Options{})
	_, err := a.Connect(context.Background(), database.Config{
		Engine:   database.EnginePostgres,
		Host:     "localhost",
		Port:     5432,
		Database: "db",
		Username: "u",
		Password: "topsecret",
		Options:  map[string]string{"sslmode": "bogus"},
	})
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.NotContains(t, err.Error(), "topsecret")
}
