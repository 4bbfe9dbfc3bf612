package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/koustreak/connhub/internal/filestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDB creates a small database file and returns its path.
func seedDB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "shop.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, plan TEXT DEFAULT 'free')`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER, total REAL)`,
		`CREATE VIEW big_orders AS SELECT * FROM orders WHERE total > 100`,
		`INSERT INTO users (email) VALUES ('ada@example.com'), ('grace@example.com'), ('linus@example.com')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func connect(t *testing.T, a *Adapter, path string) database.Connection {
	t.Helper()
	conn, err := a.Connect(context.Background(), database.Config{Engine: database.EngineSQLite, Database: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func TestAdapter_ConnectMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.db")
	a := NewAdapter(Options{})
	_, err := a.Connect(context.Background(), database.Config{
		Engine:   database.EngineSQLite,
		Database: path,
	})
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "missing files are not created")
}

func TestConn_Execute(t *testing.T) {
	conn := connect(t, NewAdapter(Options{}), seedDB(t, t.TempDir()))
	ctx := context.Background()

	t.Run("select with limit", func(t *testing.T) {
		rs, err := conn.Execute(ctx, database.Query{
			Statement: "SELECT id, email FROM users ORDER BY id",
			RowLimit:  2,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, rs.RowCount)
		assert.True(t, rs.Truncated)
		assert.Equal(t, "ada@example.com", rs.Rows[0]["email"])
	})

	t.Run("named parameters", func(t *testing.T) {
		rs, err := conn.Execute(ctx, database.Query{
			Statement: "SELECT email FROM users WHERE id = :id",
			Params:    database.Params{Named: map[string]any{"id": 2}},
		})
		require.NoError(t, err)
		require.Equal(t, 1, rs.RowCount)
		assert.Equal(t, "grace@example.com", rs.Rows[0]["email"])
	})

	t.Run("write", func(t *testing.T) {
		rs, err := conn.Execute(ctx, database.Query{
			Statement: "UPDATE users SET plan = ? WHERE id > ?",
			Params:    database.Params{Positional: []any{"pro", 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), rs.RowsAffected)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := conn.Execute(ctx, database.Query{Statement: "SELEC 1"})
		require.Error(t, err)
		assert.True(t, errs.IsQueryFailed(err))
		assert.Equal(t, errs.ReasonSyntax, errs.ReasonOf(err))
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := conn.Execute(ctx, database.Query{Statement: "SELECT * FROM missing"})
		require.Error(t, err)
		assert.Equal(t, errs.ReasonEngineRejected, errs.ReasonOf(err))
	})
}

func TestConn_FetchSchema(t *testing.T) {
	conn := connect(t, NewAdapter(Options{}), seedDB(t, t.TempDir()))

	info, err := conn.FetchSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.EngineSQLite, info.Engine)

	names := make([]string, len(info.Tables))
	for i, tbl := range info.Tables {
		names[i] = tbl.Name
	}
	assert.Equal(t, []string{"big_orders", "orders", "users"}, names)
	assert.Equal(t, database.TableKindView, info.Tables[0].Kind)

	users := info.Tables[2]
	require.Len(t, users.Columns, 3)
	assert.Equal(t, "id", users.Columns[0].Name)
	assert.Equal(t, "INTEGER", users.Columns[0].DataType)
	assert.False(t, users.Columns[1].IsNullable)
	require.NotNil(t, users.Columns[2].DefaultValue)
	assert.Equal(t, "'free'", *users.Columns[2].DefaultValue)
}

type fakeObject struct {
	io.Reader
	info *filestore.ObjectInfo
}

func (o *fakeObject) Close() error                { return nil }
func (o *fakeObject) Info() *filestore.ObjectInfo { return o.info }

type fakeStore struct {
	objects map[string][]byte
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

func (s *fakeStore) ListObjects(_ context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	var out []filestore.ObjectInfo
	for path, data := range s.objects {
		key, ok := strings.CutPrefix(path, bucket+"/")
		if !ok || !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		out = append(out, filestore.ObjectInfo{Key: key, Size: int64(len(data)), IsDir: strings.HasSuffix(key, "/")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *fakeStore) GetObject(_ context.Context, bucket, key string) (filestore.Object, error) {
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "no such key")
	}
	return &fakeObject{Reader: bytes.NewReader(data), info: &filestore.ObjectInfo{Key: key, Size: int64(len(data))}}, nil
}

func (s *fakeStore) StatObject(_ context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, "no such key")
	}
	return &filestore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func TestAdapter_ConnectFromObjectStore(t *testing.T) {
	raw, err := os.ReadFile(seedDB(t, t.TempDir()))
	require.NoError(t, err)

	cacheDir := t.TempDir()
	a := NewAdapter(Options{
		Objects:  &fakeStore{objects: map[string][]byte{"datasets/shop.db": raw}},
		CacheDir: cacheDir,
	})

	conn, err := a.Connect(context.Background(), database.Config{
		Engine:   database.EngineSQLite,
		Database: "s3://datasets/shop.db",
	})
	require.NoError(t, err)

	rs, err := conn.Execute(context.Background(), database.Query{Statement: "SELECT count(*) AS n FROM users"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, rs.Rows[0]["n"])

	_, err = conn.Execute(context.Background(), database.Query{Statement: "DELETE FROM users"})
	require.Error(t, err, "object copies are read-only")

	copies, _ := os.ReadDir(cacheDir)
	assert.Len(t, copies, 1)

	require.NoError(t, conn.Close(context.Background()))
	copies, _ = os.ReadDir(cacheDir)
	assert.Empty(t, copies, "local copy removed on close")
}

func TestAdapter_ConnectFromObjectStore_Errors(t *testing.T) {
	t.Run("store not configured", func(t *testing.T) {
		_, err := NewAdapter(Options{}).Connect(context.Background(), database.Config{
			Engine:   database.EngineSQLite,
			Database: "s3://datasets/shop.db",
		})
		assert.True(t, errs.IsInvalidInput(err))
	})

	t.Run("missing object", func(t *testing.T) {
		a := NewAdapter(Options{Objects: &fakeStore{}, CacheDir: t.TempDir()})
		_, err := a.Connect(context.Background(), database.Config{
			Engine:   database.EngineSQLite,
			Database: "s3://datasets/absent.db",
		})
		assert.True(t, errs.IsConnectionFailed(err))
		assert.Equal(t, errs.ReasonEngineRejected, errs.ReasonOf(err))
	})

	t.Run("object over size limit", func(t *testing.T) {
		cacheDir := t.TempDir()
		a := NewAdapter(Options{
			Objects:        &fakeStore{objects: map[string][]byte{"datasets/big.db": make([]byte, 2048)}},
			CacheDir:       cacheDir,
			MaxObjectBytes: 1024,
		})
		_, err := a.Connect(context.Background(), database.Config{
			Engine:   database.EngineSQLite,
			Database: "s3://datasets/big.db",
		})
		assert.True(t, errs.IsInvalidInput(err))
		copies, _ := os.ReadDir(cacheDir)
		assert.Empty(t, copies, "nothing downloaded")
	})
}

func TestAdapter_Datasets(t *testing.T) {
	a := NewAdapter(Options{Objects: &fakeStore{objects: map[string][]byte{
		"datasets/sales/2024.db": make([]byte, 10),
		"datasets/sales/2025.db": make([]byte, 20),
		"datasets/sales/":        nil,
		"datasets/hr.db":         make([]byte, 5),
		"other/x.db":             nil,
	}}})

	got, err := a.Datasets(context.Background(), "datasets", "sales/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s3://datasets/sales/2024.db", got[0].Path)
	assert.Equal(t, int64(20), got[1].Size)

	_, err = a.Datasets(context.Background(), "", "")
	assert.True(t, errs.IsInvalidInput(err))

	_, err = NewAdapter(Options{}).Datasets(context.Background(), "datasets", "")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestAdapter_ConnectConfinedToRoot(t *testing.T) {
	root := t.TempDir()
	inside := seedDB(t, root)
	outside := seedDB(t, t.TempDir())
	a := NewAdapter(Options{Root: root})

	conn, err := a.Connect(context.Background(), database.Config{Engine: database.EngineSQLite, Database: inside})
	require.NoError(t, err)
	require.NoError(t, conn.Close(context.Background()))

	conn, err = a.Connect(context.Background(), database.Config{Engine: database.EngineSQLite, Database: "shop.db"})
	require.NoError(t, err, "relative paths resolve against the root")
	require.NoError(t, conn.Close(context.Background()))

	_, err = a.Connect(context.Background(), database.Config{Engine: database.EngineSQLite, Database: outside})
	assert.True(t, errs.IsPermissionDenied(err))

	_, err = a.Connect(context.Background(), database.Config{
		Engine:   database.EngineSQLite,
		Database: filepath.Join(root, "..", filepath.Base(filepath.Dir(outside)), "shop.db"),
	})
	assert.True(t, errs.IsPermissionDenied(err))

	link := filepath.Join(root, "link.db")
	require.NoError(t, os.Symlink(outside, link))
	_, err = a.Connect(context.Background(), database.Config{Engine: database.EngineSQLite, Database: link})
	assert.True(t, errs.IsPermissionDenied(err), "symlinks are followed before the check")
}

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		text   string
		phase  database.Phase
		kind   errs.ErrKind
		reason errs.Reason
	}{
		{"syntax", codeError, `near "SELEC": syntax error`, database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonSyntax},
		{"no such table", codeError, "no such table: x", database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonEngineRejected},
		{"busy", codeBusy, "database is locked", database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonTimeout},
		{"cant open", codeCantOpen, "unable to open database file", database.PhaseQuery, errs.ErrKindConnectionFailed, errs.ReasonEngineRejected},
		{"not a database", codeNotADB, "file is not a database", database.PhaseSchema, errs.ErrKindConnectionFailed, errs.ReasonEngineRejected},
		{"auth", codeAuth, "authorization denied", database.PhaseQuery, errs.ErrKindQueryFailed, errs.ReasonAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, reason := classifyCode(tt.code, tt.text, tt.phase)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
