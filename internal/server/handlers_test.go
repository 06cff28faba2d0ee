package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"logharvest/internal/database"
	"logharvest/internal/scheduler"
	"logharvest/internal/sshclient"
)

func setupTestServer(t *testing.T) http.Handler {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&database.ConnectionConfig{}, &database.WatchRule{}, &database.FileRecord{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	database.DB = db

	Sched = scheduler.New()
	Sessions = sshclient.NewManager(500*time.Millisecond, 500*time.Millisecond)
	t.Cleanup(func() { Sessions.Close() })

	return NewRouter()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	h := setupTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/connections", map[string]interface{}{
		"name": "web-1", "host": "10.0.0.5", "username": "logs", "password": "pw",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create connection = %d, body %s", rec.Code, rec.Body.String())
	}
	var created database.ConnectionConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Port != 22 {
		t.Errorf("Port = %d, want default 22", created.Port)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/connections", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list connections = %d", rec.Code)
	}
	var listed []database.ConnectionConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "web-1" {
		t.Errorf("listed = %+v", listed)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/connections/web-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete connection = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/connections/web-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing connection = %d, want 404", rec.Code)
	}
}

func TestCreateConnection_Validation(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/connections", map[string]interface{}{
		"host": "10.0.0.5",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create without name = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connections", bytes.NewBufferString("{broken"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("create with broken JSON = %d, want 400", w.Code)
	}
}

func TestDeleteConnection_InUse(t *testing.T) {
	h := setupTestServer(t)

	doJSON(t, h, http.MethodPost, "/api/v1/connections", map[string]interface{}{
		"name": "web-1", "host": "h", "username": "u",
	})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/watchrules", map[string]interface{}{
		"name": "nginx", "connection_name": "web-1", "watch_dir": "/var/log/nginx",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/connections/web-1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete in-use connection = %d, want 409", rec.Code)
	}

	// Disabling the rule releases the connection.
	rec = doJSON(t, h, http.MethodPut, "/api/v1/watchrules/nginx/enabled", map[string]interface{}{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("disable rule = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/connections/web-1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete after disable = %d, want 200", rec.Code)
	}
}

func TestCreateWatchRule_UnknownConnection(t *testing.T) {
	h := setupTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/watchrules", map[string]interface{}{
		"name": "orphan", "connection_name": "ghost", "watch_dir": "/var/log",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create rule with unknown connection = %d, want 400", rec.Code)
	}
}

func TestWatchRuleDefaults(t *testing.T) {
	h := setupTestServer(t)

	doJSON(t, h, http.MethodPost, "/api/v1/connections", map[string]interface{}{
		"name": "web-1", "host": "h", "username": "u",
	})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/watchrules", map[string]interface{}{
		"name": "nginx", "connection_name": "web-1", "watch_dir": "/var/log/nginx",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule = %d", rec.Code)
	}
	var rule database.WatchRule
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatalf("decode rule: %v", err)
	}
	if rule.RecurDepth != 1 {
		t.Errorf("RecurDepth = %d, want default 1", rule.RecurDepth)
	}
	if !rule.Enabled {
		t.Error("rule should default to enabled")
	}
}

func TestListRecords_StatusFilter(t *testing.T) {
	h := setupTestServer(t)

	doJSON(t, h, http.MethodPost, "/api/v1/connections", map[string]interface{}{
		"name": "web-1", "host": "h", "username": "u",
	})
	doJSON(t, h, http.MethodPost, "/api/v1/watchrules", map[string]interface{}{
		"name": "nginx", "connection_name": "web-1", "watch_dir": "/var/log",
	})
	recs := []*database.FileRecord{
		{WatchRuleName: "nginx", FullPath: "/a.log", FileName: "a.log", FileHash: "h1", Status: database.StatusPending},
		{WatchRuleName: "nginx", FullPath: "/b.log", FileName: "b.log", FileHash: "h2", Status: database.StatusIndexed},
	}
	if err := database.CreateFileRecords(recs); err != nil {
		t.Fatalf("seed records: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/records?status=indexed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list records = %d", rec.Code)
	}
	var got []database.FileRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(got) != 1 || got[0].FullPath != "/b.log" {
		t.Errorf("filtered records = %+v", got)
	}
}

func TestTriggerJob(t *testing.T) {
	h := setupTestServer(t)

	ran := false
	if err := Sched.AddJob("watcher-scan", time.Hour, func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("AddJob() error: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/jobs/watcher-scan/run", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger job = %d, body %s", rec.Code, rec.Body.String())
	}
	if !ran {
		t.Error("job did not run")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/jobs/unknown/run", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("trigger unknown job = %d, want 404", rec.Code)
	}
}

func TestTestConnection_Unreachable(t *testing.T) {
	h := setupTestServer(t)

	// Port 1 on localhost: connection refused, reported as connected=false.
	doJSON(t, h, http.MethodPost, "/api/v1/connections", map[string]interface{}{
		"name": "dead", "host": "127.0.0.1", "port": 1, "username": "u", "password": "p",
	})
	rec := doJSON(t, h, http.MethodPost, "/api/v1/connections/dead/test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("test connection = %d", rec.Code)
	}
	var result struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Connected {
		t.Error("connected = true for unreachable host")
	}
	if result.Error == "" {
		t.Error("missing error detail for unreachable host")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/connections/ghost/test", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("test unknown connection = %d, want 404", rec.Code)
	}
}
