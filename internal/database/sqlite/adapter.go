// Package sqlite implements the embedded-file adapter on top of the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/sqldb"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/koustreak/connhub/internal/filestore"
)

const (
	defaultBusyTimeout    = 5 * time.Second
	DefaultMaxObjectBytes = 512 << 20
	maxDatasets           = 1000
)

// Options tunes the adapter.
type Options struct {
	// Objects resolves "s3://bucket/key" database paths. Nil disables them.
	Objects filestore.Store

	// CacheDir receives downloaded database copies. Empty means os.TempDir.
	CacheDir string

	// MaxObjectBytes refuses larger objects before downloading them.
	// Zero means DefaultMaxObjectBytes.
	MaxObjectBytes int64

	// Root confines local database paths to one directory tree. Empty
	// allows any path the process can read.
	Root string

	BusyTimeout time.Duration
}

// Adapter opens SQLite files. Each connection is a single session: the
// file handle is not pooled.
type Adapter struct {
	opts Options
}

func NewAdapter(opts Options) *Adapter {
	return &Adapter{opts: opts}
}

func (a *Adapter) Engine() database.Engine { return database.EngineSQLite }

// Connect opens cfg.Database. Local files must already exist. Object paths
// are downloaded first and opened read-only; the copy is removed on Close.
func (a *Adapter) Connect(ctx context.Context, cfg database.Config) (database.Connection, error) {
	path := cfg.Database
	readOnly := false
	var cleanup func() error

	if bucket, key, ok := filestore.ParseObjectPath(path); ok {
		local, err := a.fetchObject(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		path, readOnly = local, true
		cleanup = func() error { return removeIfExists(local) }
	} else {
		local, err := a.localPath(path)
		if err != nil {
			return nil, err
		}
		path = local
	}

	opts := []sqldb.Option{}
	if cleanup != nil {
		opts = append(opts, sqldb.WithCleanup(cleanup))
	}
	conn, err := sqldb.Open(ctx, "sqlite", a.dsn(path, readOnly), Dialect{}, sqldb.SingleSession(), opts...)
	if err != nil {
		if cleanup != nil {
			_ = cleanup()
		}
		return nil, err
	}
	return conn, nil
}

func (a *Adapter) dsn(path string, readOnly bool) string {
	busy := a.opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	mode := "rw"
	if readOnly {
		mode = "ro"
	}
	return fmt.Sprintf("file:%s?mode=%s&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, mode, busy.Milliseconds())
}

// localPath checks that path exists. With a Root set, relative paths are
// taken from the root and the file must resolve inside it after following
// symlinks.
func (a *Adapter) localPath(path string) (string, error) {
	if a.opts.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(a.opts.Root, path)
	}
	if _, err := os.Stat(path); err != nil {
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "database file is not accessible", err).
			WithReason(errs.ReasonEngineRejected)
	}
	if a.opts.Root == "" {
		return path, nil
	}

	root, err := filepath.EvalSymlinks(a.opts.Root)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "sqlite root is not accessible", err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "database file is not accessible", err).
			WithReason(errs.ReasonEngineRejected)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.ErrKindPermissionDenied, "database file is outside the allowed directory")
	}
	return resolved, nil
}

func (a *Adapter) maxObjectBytes() int64 {
	if a.opts.MaxObjectBytes > 0 {
		return a.opts.MaxObjectBytes
	}
	return DefaultMaxObjectBytes
}

// fetchObject copies bucket/key into the cache directory.
func (a *Adapter) fetchObject(ctx context.Context, bucket, key string) (string, error) {
	if a.opts.Objects == nil {
		return "", errs.New(errs.ErrKindInvalidInput, "object storage is not configured for sqlite databases")
	}

	info, err := a.opts.Objects.StatObject(ctx, bucket, key)
	if err != nil {
		return "", objectError(err)
	}
	limit := a.maxObjectBytes()
	if info.Size > limit {
		return "", errs.Newf(errs.ErrKindInvalidInput,
			"database object is %d bytes; the limit is %d", info.Size, limit)
	}

	obj, err := a.opts.Objects.GetObject(ctx, bucket, key)
	if err != nil {
		return "", objectError(err)
	}
	defer obj.Close()

	f, err := os.CreateTemp(a.opts.CacheDir, "connhub-*.db")
	if err != nil {
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "creating local database copy", err)
	}
	n, err := io.Copy(f, io.LimitReader(obj, limit+1))
	if err == nil && n > limit {
		err = errs.Newf(errs.ErrKindInvalidInput, "database object grew past the %d byte limit", limit)
	}
	if err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		if errs.IsInvalidInput(err) {
			return "", err
		}
		return "", objectError(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "writing local database copy", err)
	}
	return f.Name(), nil
}

// Dataset is a database file available in object storage.
type Dataset struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Datasets lists the objects under prefix in bucket that can be opened as
// "s3://" databases. Directory entries are skipped.
func (a *Adapter) Datasets(ctx context.Context, bucket, prefix string) ([]Dataset, error) {
	if a.opts.Objects == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "object storage is not configured for sqlite databases")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "bucket is required")
	}

	objects, err := a.opts.Objects.ListObjects(ctx, bucket, filestore.ListOptions{
		Prefix:    prefix,
		Recursive: true,
		Limit:     maxDatasets,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Dataset, 0, len(objects))
	for _, o := range objects {
		if o.IsDir {
			continue
		}
		out = append(out, Dataset{
			Path:         filestore.ObjectScheme + bucket + "/" + o.Key,
			Size:         o.Size,
			LastModified: o.LastModified,
		})
	}
	return out, nil
}

// objectError restates a storage failure as a connection failure.
func objectError(err error) error {
	reason := errs.ReasonNetwork
	switch {
	case errs.IsNotFound(err):
		reason = errs.ReasonEngineRejected
	case errs.IsPermissionDenied(err):
		reason = errs.ReasonAuth
	case errs.IsTimeout(err):
		reason = errs.ReasonTimeout
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, "fetching database from object storage", err).WithReason(reason)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
