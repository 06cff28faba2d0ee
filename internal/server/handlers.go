package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"logharvest/internal/database"
	"logharvest/internal/logging"
	"logharvest/internal/sshclient"
)

// Connections

func listConnections(w http.ResponseWriter, r *http.Request) {
	configs, err := database.ListConnectionConfigs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

type createConnectionRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Host == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "name, host, and username are required")
		return
	}
	if req.Port == 0 {
		req.Port = 22
	}

	conn := &database.ConnectionConfig{
		Name:     req.Name,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
	}
	if err := database.CreateConnectionConfig(conn); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func deleteConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := database.DeleteConnectionConfig(name)
	switch {
	case errors.Is(err, database.ErrConnectionInUse):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
	}
}

// testConnection opens and immediately closes a health-checked session,
// reporting whether the host is reachable with the stored credentials.
func testConnection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	conn, err := database.GetConnectionConfig(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	sess, err := Sessions.OpenSession(r.Context(), sshclient.Target{
		Host:     conn.Host,
		Port:     conn.Port,
		Username: conn.Username,
		Password: conn.Password,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"connected": false, "error": err.Error()})
		return
	}
	sess.Close()
	writeJSON(w, http.StatusOK, map[string]interface{}{"connected": true})
}

// Watch rules

func listWatchRules(w http.ResponseWriter, r *http.Request) {
	rules, err := database.ListWatchRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

type createWatchRuleRequest struct {
	Name         string `json:"name"`
	Connection   string `json:"connection_name"`
	WatchDir     string `json:"watch_dir"`
	RecurDepth   int    `json:"recur_depth"`
	FilePrefix   string `json:"file_prefix"`
	FileContains string `json:"file_contains"`
	FilePostfix  string `json:"file_postfix"`
	ArchivedLogs bool   `json:"archived_logs"`
	Enabled      *bool  `json:"enabled"`
}

func createWatchRule(w http.ResponseWriter, r *http.Request) {
	var req createWatchRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Connection == "" || req.WatchDir == "" {
		writeError(w, http.StatusBadRequest, "name, connection_name, and watch_dir are required")
		return
	}
	if req.RecurDepth < 1 {
		req.RecurDepth = 1
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &database.WatchRule{
		Name:           req.Name,
		ConnectionName: req.Connection,
		WatchDir:       req.WatchDir,
		RecurDepth:     req.RecurDepth,
		FilePrefix:     req.FilePrefix,
		FileContains:   req.FileContains,
		FilePostfix:    req.FilePostfix,
		ArchivedLogs:   req.ArchivedLogs,
		Enabled:        enabled,
	}
	if err := database.CreateWatchRule(rule); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func deleteWatchRule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := database.DeleteWatchRule(name)
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
	}
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func setWatchRuleEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := database.SetWatchRuleEnabled(name, req.Enabled); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "enabled": req.Enabled})
}

// Ledger

func listRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := database.ListFileRecords(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Jobs

func triggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := Sched.Trigger(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}

// Server logs

func serverLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if s := r.URL.Query().Get("lines"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			lines = n
		}
	}
	tail, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(tail))
}
