// Package mongodb implements the document-store adapter on top of the
// official mongo-driver.
//
// Statements have the form "operation:collection", for example
// "find:orders" or "updateMany:users". Operands travel as named parameters:
// filter, update, document, documents, pipeline, sort, projection, skip and
// limit. Values may use MongoDB extended JSON ({"$oid": ...}, {"$date": ...}).
package mongodb

import (
	"context"
	"maps"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultMaxPoolSize    = 20
	defaultSampleSize     = 100
)

// Options tunes clients created by the adapter.
type Options struct {
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
	AppName        string

	// SampleSize is the number of documents read per collection when
	// inferring a schema.
	SampleSize int64
}

// Adapter opens mongo clients.
type Adapter struct {
	opts Options
}

func NewAdapter(opts Options) *Adapter {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.MaxPoolSize == 0 {
		opts.MaxPoolSize = defaultMaxPoolSize
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}
	if opts.AppName == "" {
		opts.AppName = "connhub"
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Engine() database.Engine { return database.EngineMongoDB }

// Connect creates a client and pings the primary before returning.
// Driver-level retries are disabled; callers decide whether to retry.
func (a *Adapter) Connect(ctx context.Context, cfg database.Config) (database.Connection, error) {
	secrets := cfg.Secrets()

	clientOpts := options.Client().
		ApplyURI(buildURI(cfg)).
		SetConnectTimeout(a.opts.ConnectTimeout).
		SetServerSelectionTimeout(a.opts.ConnectTimeout).
		SetMaxPoolSize(a.opts.MaxPoolSize).
		SetAppName(a.opts.AppName).
		SetRetryReads(false).
		SetRetryWrites(false)
	if err := clientOpts.Validate(); err != nil {
		return nil, errs.Redact(errs.New(errs.ErrKindInvalidInput, "invalid mongodb options: "+err.Error()), secrets...)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errs.Redact(mapError(err, database.PhaseConnect, "failed to create mongodb client"), secrets...)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errs.Redact(mapError(err, database.PhaseConnect, "ping failed"), secrets...)
	}

	return &Conn{
		client:     client,
		db:         client.Database(cfg.Database),
		secrets:    secrets,
		sampleSize: a.opts.SampleSize,
	}, nil
}

// buildURI renders cfg as a mongodb:// or mongodb+srv:// URI. The database
// is selected on the client, not through the URI path, so authSource keeps
// the server default unless given explicitly.
func buildURI(cfg database.Config) string {
	opts := maps.Clone(cfg.Options)
	if opts == nil {
		opts = map[string]string{}
	}
	srv := opts["srv"] == "true"
	delete(opts, "srv")

	q := url.Values{}
	for k, v := range opts {
		q.Set(k, v)
	}
	if cfg.TLS {
		q.Set("tls", "true")
	}

	u := url.URL{Scheme: "mongodb", Path: "/", RawQuery: q.Encode()}
	if srv {
		u.Scheme = "mongodb+srv"
		u.Host = cfg.Host
	} else {
		u.Host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}
