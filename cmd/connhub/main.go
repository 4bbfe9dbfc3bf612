// Command connhub serves the connection manager over HTTP.
//
// Run with:
//
//	connhub -config connhub.yaml
//
// Every setting can also come from the environment or a .env file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koustreak/connhub/internal/config"
	"github.com/koustreak/connhub/internal/connmgr"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/mongodb"
	"github.com/koustreak/connhub/internal/database/mysql"
	"github.com/koustreak/connhub/internal/database/oracle"
	"github.com/koustreak/connhub/internal/database/postgres"
	"github.com/koustreak/connhub/internal/database/sqlite"
	"github.com/koustreak/connhub/internal/database/sqlserver"
	"github.com/koustreak/connhub/internal/filestore"
	"github.com/koustreak/connhub/internal/filestore/minio"
	"github.com/koustreak/connhub/internal/httpapi"
	"github.com/koustreak/connhub/internal/logger"
	"github.com/koustreak/connhub/internal/metacache"
	"github.com/koustreak/connhub/internal/metrics"
	"github.com/koustreak/connhub/internal/registry"
	"github.com/koustreak/connhub/internal/sweeper"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading configuration failed: " + err.Error())
	}

	log := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		TimeFormat: "rfc3339",
		Output:     os.Stdout,
	})
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorWith("connhub stopped with an error", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	conns := cfg.Connections
	rec := metrics.NewPrometheus()

	var objects filestore.Store
	if cfg.ObjectStore.Enabled() {
		store, err := minio.New(ctx, cfg.ObjectStore.Store())
		if err != nil {
			return err
		}
		defer store.Close()
		objects = store
		log.InfoWith("object store enabled for sqlite", map[string]interface{}{
			"endpoint": cfg.ObjectStore.Endpoint,
		})
	}

	files := sqlite.NewAdapter(sqlite.Options{
		Objects:        objects,
		CacheDir:       cfg.ObjectStore.CacheDir,
		MaxObjectBytes: cfg.SQLite.MaxObjectBytes(),
		Root:           cfg.SQLite.Root,
	})
	adapters := database.NewAdapters(
		postgres.NewAdapter(postgres.Options{ConnectTimeout: conns.ConnectTimeout()}),
		mysql.NewAdapter(mysql.Options{ConnectTimeout: conns.ConnectTimeout()}),
		files,
		mongodb.NewAdapter(mongodb.Options{ConnectTimeout: conns.ConnectTimeout()}),
		sqlserver.NewAdapter(sqlserver.Options{ConnectTimeout: conns.ConnectTimeout()}),
		oracle.NewAdapter(oracle.Options{ConnectTimeout: conns.ConnectTimeout()}),
	)

	cache := metacache.New(conns.CacheTTL(), log)
	go cache.Start()
	defer cache.Stop()

	mgr := connmgr.New(adapters, registry.New(), cache, connmgr.Options{
		ConnectTimeout: conns.ConnectTimeout(),
		QueryTimeout:   conns.QueryTimeout(),
		Logger:         log,
		Metrics:        rec,
	})

	sw := sweeper.New(mgr, sweeper.Options{
		Interval:    conns.SweepInterval(),
		IdleTimeout: conns.IdleTimeout(),
		Logger:      log,
	})
	go sw.Run(ctx)

	var opts []httpapi.Option
	if objects != nil {
		opts = append(opts, httpapi.WithDatasets(files))
	}
	srv := httpapi.New(httpapi.Config{
		Addr:                   cfg.Server.Addr,
		MaxConnectionsPerOwner: conns.MaxPerOwner,
		AdminToken:             cfg.Server.AdminToken,
	}, mgr, sw, rec.Handler(), log, opts...)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WarnWith("http shutdown failed", shutdownErr, nil)
	}
	n := mgr.DisconnectAll(shutdownCtx)
	log.InfoWith("connections closed", map[string]interface{}{"count": n})
	return err
}
