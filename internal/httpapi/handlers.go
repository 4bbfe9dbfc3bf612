package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/koustreak/connhub/internal/connmgr"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
)

type connectRequest struct {
	ConnectionString string          `json:"connectionString"`
	Type             database.Engine `json:"type"`
	Host             string          `json:"host"`
	Port             int             `json:"port"`
	Database         string          `json:"database"`
	Username         string          `json:"username"`
	Password         string          `json:"password"`
	SSL              bool            `json:"ssl"`

	// ConnectionName is a display label echoed back on connect.
	ConnectionName string `json:"connectionName"`
}

type connectResponse struct {
	*connmgr.ConnectResult
	ConnectionName string `json:"connectionName"`
}

func (c connectRequest) config() database.Config {
	return database.Config{
		Engine:           c.Type,
		Host:             c.Host,
		Port:             c.Port,
		Database:         c.Database,
		Username:         c.Username,
		Password:         c.Password,
		TLS:              c.SSL,
		ConnectionString: c.ConnectionString,
	}
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.mgr.TestConnection(r.Context(), req.config()); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "connection test successful")
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	owner := ownerFrom(r)
	cfg := req.config()

	release, err := s.reserve(owner, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.mgr.Connect(r.Context(), owner, cfg)
	release()
	if err != nil {
		writeError(w, err)
		return
	}
	msg := "connected"
	if res.Reused {
		msg = "reusing existing connection"
	}
	name := strings.TrimSpace(req.ConnectionName)
	if name == "" {
		name = string(res.Engine) + "_" + res.Database
	}
	writeData(w, http.StatusOK, msg, connectResponse{ConnectResult: res, ConnectionName: name})
}

// reserve refuses a new connection once owner holds the maximum, counting
// connects still in flight. A request that would reuse a live connection
// always passes. The returned release must be called once Connect returns.
func (s *Server) reserve(owner string, cfg database.Config) (func(), error) {
	limit := s.cfg.MaxConnectionsPerOwner
	if limit <= 0 {
		return func() {}, nil
	}
	key, err := s.mgr.KeyFor(owner, cfg)
	if err != nil {
		return nil, err
	}

	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	if s.mgr.IsLive(key) {
		return func() {}, nil
	}
	if n := len(s.mgr.ListConnections(owner)) + s.pending[owner]; n >= limit {
		return nil, errs.Newf(errs.ErrKindPermissionDenied,
			"connection limit reached: %d of %d connections in use", n, limit)
	}
	s.pending[owner]++

	return func() {
		s.quotaMu.Lock()
		defer s.quotaMu.Unlock()
		if s.pending[owner]--; s.pending[owner] <= 0 {
			delete(s.pending, owner)
		}
	}, nil
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.mgr.ListConnections(ownerFrom(r))
	writeData(w, http.StatusOK, "", map[string]any{
		"connections": conns,
		"count":       len(conns),
	})
}

func (s *Server) handleDisconnectMine(w http.ResponseWriter, r *http.Request) {
	n := s.mgr.DisconnectOwner(r.Context(), ownerFrom(r))
	writeData(w, http.StatusOK, "connections closed", map[string]int{"disconnected": n})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "", s.mgr.Status(keyFrom(r)))
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	info, err := s.mgr.FetchSchema(r.Context(), keyFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", info)
}

// handleDatasets lists sqlite databases under ?bucket= and ?prefix= that
// can be passed to connect as s3:// paths.
func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sets, err := s.datasets.Datasets(r.Context(), q.Get("bucket"), q.Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", map[string]any{
		"datasets": sets,
		"count":    len(sets),
	})
}

type queryRequest struct {
	Query  string          `json:"query"`
	Params json.RawMessage `json:"params"`
	Limit  int             `json:"limit"`
}

// params accepts an array (positional) or an object (named).
func (q queryRequest) params() (database.Params, error) {
	raw := bytes.TrimSpace(q.Params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return database.Params{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return database.Params{}, errs.Wrap(errs.ErrKindInvalidInput, "invalid params", err)
	}
	switch t := plainJSON(v).(type) {
	case []any:
		return database.Params{Positional: t}, nil
	case map[string]any:
		return database.Params{Named: t}, nil
	default:
		return database.Params{}, errs.New(errs.ErrKindInvalidInput, "params must be an array or an object")
	}
}

func (q queryRequest) rowLimit() (int, error) {
	switch {
	case q.Limit < 0:
		return 0, errs.New(errs.ErrKindInvalidInput, "limit must not be negative")
	case q.Limit == 0:
		return DefaultRowLimit, nil
	case q.Limit > MaxRowLimit:
		return MaxRowLimit, nil
	default:
		return q.Limit, nil
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	params, err := req.params()
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := req.rowLimit()
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.mgr.ExecuteQuery(r.Context(), keyFrom(r), database.Query{
		Statement: req.Query,
		Params:    params,
		RowLimit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "query executed", res)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req connmgr.PreviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	for i := range req.Filters {
		req.Filters[i].Value = plainJSON(req.Filters[i].Value)
	}

	res, err := s.mgr.Preview(r.Context(), keyFrom(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", res)
}

// handleDisconnect always acknowledges: the connection is gone from the
// registry even when closing the handle failed.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	key := keyFrom(r)
	if err := s.mgr.Disconnect(r.Context(), key); err != nil {
		s.log.WarnWith("disconnect close failed", err, map[string]interface{}{"key": key.String()})
	}
	writeMessage(w, http.StatusOK, "disconnected")
}
