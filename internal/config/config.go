// Package config loads service settings from defaults, an optional .env
// file, an optional YAML file and the environment, in that order.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/koustreak/connhub/internal/filestore"
	"go.yaml.in/yaml/v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Connections ConnectionsConfig `yaml:"connections"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`

	// AdminToken enables /api/admin behind a bearer token.
	AdminToken string `yaml:"admin_token"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ConnectionsConfig struct {
	IdleTimeoutSeconds   int `yaml:"idle_timeout_seconds"`
	CacheTTLSeconds      int `yaml:"cache_ttl_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	ConnectTimeoutMs     int `yaml:"connect_timeout_ms"`
	QueryTimeoutMs       int `yaml:"query_timeout_ms"`

	// MaxPerOwner caps live connections per owner; 0 means unlimited.
	MaxPerOwner int `yaml:"max_per_owner"`
}

// ObjectStoreConfig enables s3:// SQLite paths when Endpoint is set.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	CacheDir  string `yaml:"cache_dir"`
}

type SQLiteConfig struct {
	// Root confines local database files to one directory. Empty allows
	// any readable path.
	Root string `yaml:"root"`

	// MaxObjectMB caps the size of databases fetched from object storage.
	MaxObjectMB int `yaml:"max_object_mb"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Connections: ConnectionsConfig{
			IdleTimeoutSeconds:   3600,
			CacheTTLSeconds:      1800,
			SweepIntervalSeconds: 300,
			ConnectTimeoutMs:     30000,
			QueryTimeoutMs:       30000,
			MaxPerOwner:          10,
		},
		SQLite: SQLiteConfig{MaxObjectMB: 512},
	}
}

// Load builds the configuration. A missing .env file is ignored; a missing
// YAML file is an error only when path is non-empty. Variables already set
// in the process environment win over .env entries.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "reading .env failed", err)
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "reading config file failed", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "parsing config file failed", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("HTTP_ADDR", &c.Server.Addr)
	envString("ADMIN_TOKEN", &c.Server.AdminToken)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	cc := &c.Connections
	for name, dst := range map[string]*int{
		"IDLE_TIMEOUT_SECONDS":      &cc.IdleTimeoutSeconds,
		"CACHE_TTL_SECONDS":         &cc.CacheTTLSeconds,
		"SWEEP_INTERVAL_SECONDS":    &cc.SweepIntervalSeconds,
		"CONNECT_TIMEOUT_MS":        &cc.ConnectTimeoutMs,
		"QUERY_TIMEOUT_MS":          &cc.QueryTimeoutMs,
		"MAX_CONNECTIONS_PER_OWNER": &cc.MaxPerOwner,
		"SQLITE_MAX_OBJECT_MB":      &c.SQLite.MaxObjectMB,
	} {
		if err := envInt(name, dst); err != nil {
			return err
		}
	}

	obj := &c.ObjectStore
	envString("OBJECT_STORE_ENDPOINT", &obj.Endpoint)
	envString("OBJECT_STORE_ACCESS_KEY", &obj.AccessKey)
	envString("OBJECT_STORE_SECRET_KEY", &obj.SecretKey)
	envString("OBJECT_STORE_REGION", &obj.Region)
	envString("SQLITE_CACHE_DIR", &obj.CacheDir)
	envString("SQLITE_ROOT", &c.SQLite.Root)
	return envBool("OBJECT_STORE_USE_SSL", &obj.UseSSL)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errs.New(errs.ErrKindInvalidInput, "server address is required")
	}
	cc := c.Connections
	for name, v := range map[string]int{
		"idle_timeout_seconds":   cc.IdleTimeoutSeconds,
		"cache_ttl_seconds":      cc.CacheTTLSeconds,
		"sweep_interval_seconds": cc.SweepIntervalSeconds,
		"connect_timeout_ms":     cc.ConnectTimeoutMs,
		"query_timeout_ms":       cc.QueryTimeoutMs,
	} {
		if v <= 0 {
			return errs.Newf(errs.ErrKindInvalidInput, "connections.%s must be positive, got %d", name, v)
		}
	}
	if cc.MaxPerOwner < 0 {
		return errs.Newf(errs.ErrKindInvalidInput, "connections.max_per_owner must not be negative, got %d", cc.MaxPerOwner)
	}
	if c.SQLite.MaxObjectMB <= 0 {
		return errs.Newf(errs.ErrKindInvalidInput, "sqlite.max_object_mb must be positive, got %d", c.SQLite.MaxObjectMB)
	}
	if c.ObjectStore.Enabled() && (c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "") {
		return errs.New(errs.ErrKindInvalidInput, "object store credentials are required when an endpoint is set")
	}
	return nil
}

func (c ConnectionsConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c ConnectionsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c ConnectionsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c ConnectionsConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c ConnectionsConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

func (o ObjectStoreConfig) Enabled() bool { return o.Endpoint != "" }

// Store converts the section into a filestore configuration.
func (o ObjectStoreConfig) Store() *filestore.Config {
	cfg := filestore.DefaultConfig(o.Endpoint, o.AccessKey, o.SecretKey)
	cfg.UseSSL = o.UseSSL
	cfg.Region = o.Region
	cfg.CacheDir = o.CacheDir
	return cfg
}

func (s SQLiteConfig) MaxObjectBytes() int64 {
	return int64(s.MaxObjectMB) << 20
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return errs.Newf(errs.ErrKindInvalidInput, "%s must be an integer, got %q", name, v)
	}
	*dst = n
	return nil
}

func envBool(name string, dst *bool) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return errs.Newf(errs.ErrKindInvalidInput, "%s must be a boolean, got %q", name, v)
	}
	*dst = b
	return nil
}
