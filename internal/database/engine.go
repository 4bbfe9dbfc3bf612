package database

import (
	"strings"

	"github.com/koustreak/connhub/internal/errs"
)

// Engine identifies the database engine behind a connection.
type Engine string

const (
	EnginePostgres  Engine = "postgres"
	EngineMySQL     Engine = "mysql"
	EngineSQLite    Engine = "sqlite"
	EngineMongoDB   Engine = "mongodb"
	EngineSQLServer Engine = "sqlserver"
	EngineOracle    Engine = "oracle"
)

// Engines lists every supported engine in a stable order.
var Engines = []Engine{
	EnginePostgres,
	EngineMySQL,
	EngineSQLite,
	EngineMongoDB,
	EngineSQLServer,
	EngineOracle,
}

var engineAliases = map[string]Engine{
	"postgres":   EnginePostgres,
	"postgresql": EnginePostgres,
	"mysql":      EngineMySQL,
	"sqlite":     EngineSQLite,
	"sqlite3":    EngineSQLite,
	"mongodb":    EngineMongoDB,
	"mongo":      EngineMongoDB,
	"sqlserver":  EngineSQLServer,
	"mssql":      EngineSQLServer,
	"oracle":     EngineOracle,
}

// ParseEngine resolves an engine name or one of its aliases. Unknown names
// fail as ConnectionFailed with reason unsupported_engine, the same as an
// engine without a registered adapter.
func ParseEngine(s string) (Engine, error) {
	if e, ok := engineAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return e, nil
	}
	return "", errs.Newf(errs.ErrKindConnectionFailed, "unsupported database engine %q", s).
		WithReason(errs.ReasonUnsupportedEngine)
}

// DefaultPort returns the conventional port for engines reached over TCP,
// or 0 for file-backed engines.
func (e Engine) DefaultPort() int {
	switch e {
	case EnginePostgres:
		return 5432
	case EngineMySQL:
		return 3306
	case EngineMongoDB:
		return 27017
	case EngineSQLServer:
		return 1433
	case EngineOracle:
		return 1521
	default:
		return 0
	}
}

// IsFileBased reports whether the engine opens a local file instead of a server.
func (e Engine) IsFileBased() bool {
	return e == EngineSQLite
}

func (e Engine) String() string { return string(e) }
