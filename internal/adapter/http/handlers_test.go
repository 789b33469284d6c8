package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/GowaManager/internal/adapter/sqlite"
	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/domain"
	"github.com/Strob0t/GowaManager/internal/domain/instance"
	"github.com/Strob0t/GowaManager/internal/middleware"
	"github.com/Strob0t/GowaManager/internal/port/releases"
	"github.com/Strob0t/GowaManager/internal/service"
)

// stubIndex satisfies the release index port without any upstream.
type stubIndex struct{}

func (stubIndex) Latest(context.Context) (*releases.Release, error) {
	return nil, domain.ErrNotFound
}
func (stubIndex) ByTag(context.Context, string) (*releases.Release, error) {
	return nil, domain.ErrNotFound
}
func (stubIndex) List(context.Context, int) ([]releases.Release, error) {
	return nil, nil
}
func (stubIndex) Download(context.Context, releases.Asset) (io.ReadCloser, error) {
	return nil, fmt.Errorf("stub index has no assets")
}

func newAPIServer(t *testing.T, admin config.Admin) *httptest.Server {
	t.Helper()

	ctx := context.Background()
	data := config.Data{Dir: t.TempDir()}

	db, err := sqlite.Open(ctx, data.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	store, err := sqlite.NewStore(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	allocator := service.NewPortAllocator(store, 3000)
	versions := service.NewVersionService(data, stubIndex{})
	monitor, err := service.NewResourceMonitor(data, config.Resources{DiskCacheTTL: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(monitor.Close)

	engine := service.NewInstanceService(store, allocator, versions, monitor, data, "app")
	updater := service.NewUpdater(config.Updater{
		Interval: time.Hour, InitialDelay: time.Minute, RestartConcurrency: 1,
	}, stubIndex{}, versions, engine)
	system := service.NewSystemService(engine, allocator, data)

	handlers := &Handlers{Instances: engine, Versions: versions, Updater: updater, System: system}
	auth := middleware.NewAdminAuth(admin)

	r := chi.NewRouter()
	MountRoutes(r, handlers, auth)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestCreateInstanceEndpoint(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/instances",
		map[string]any{"name": "alpha"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var inst instance.Instance
	if err := json.Unmarshal(body, &inst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.Name != "alpha" || !instance.ValidKey(inst.Key) {
		t.Errorf("instance = %+v", inst)
	}
	if inst.Port == nil || *inst.Port < instance.PortMin {
		t.Errorf("port = %v", inst.Port)
	}
	if inst.Config.Flags.BasePath != "/app/"+inst.Key {
		t.Errorf("basePath = %q", inst.Config.Flags.BasePath)
	}
}

func TestCreateInstanceValidation(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/instances",
		map[string]any{"name": strings.Repeat("x", 101)})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("long name: status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/instances",
		strings.NewReader("{not json"))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: status = %d", resp2.StatusCode)
	}
}

func TestDuplicateNameConflict(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/instances", map[string]any{"name": "dup"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create: %d", resp.StatusCode)
	}
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/instances", map[string]any{"name": "dup"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second create: %d: %s", resp.StatusCode, body)
	}
}

func TestGetInstanceNotFound(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/instances/42", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error == "" || envelope.Success {
		t.Errorf("envelope = %+v", envelope)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/instances/abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d", resp.StatusCode)
	}
}

func TestUpdateAndDeleteFlow(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/instances", map[string]any{"name": "flow"})
	var inst instance.Instance
	if err := json.Unmarshal(body, &inst); err != nil {
		t.Fatal(err)
	}
	url := fmt.Sprintf("%s/api/instances/%d", srv.URL, inst.ID)

	resp, body := doJSON(t, http.MethodPut, url, map[string]any{"name": "flow2", "gowa_version": "v7.5.0"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d: %s", resp.StatusCode, body)
	}
	var updated instance.Instance
	_ = json.Unmarshal(body, &updated)
	if updated.Name != "flow2" || updated.GowaVersion != "v7.5.0" {
		t.Errorf("updated = %+v", updated)
	}

	resp, body = doJSON(t, http.MethodDelete, url, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	var result struct {
		Success bool `json:"success"`
	}
	_ = json.Unmarshal(body, &result)
	if !result.Success {
		t.Errorf("delete result = %s", body)
	}

	resp, _ = doJSON(t, http.MethodDelete, url, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: %d", resp.StatusCode)
	}
}

func TestStartUnavailableVersionReturns500(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/instances", map[string]any{"name": "nover"})
	var inst instance.Instance
	_ = json.Unmarshal(body, &inst)

	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/instances/%d/start", srv.URL, inst.ID), nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var envelope errorResponse
	_ = json.Unmarshal(body, &envelope)
	if !strings.Contains(envelope.Error, "version unavailable") {
		t.Errorf("error = %q", envelope.Error)
	}
}

func TestSystemEndpoints(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/system/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config: %d", resp.StatusCode)
	}
	var cfg struct {
		PortRange struct {
			Min int `json:"min"`
			Max int `json:"max"`
		} `json:"port_range"`
		DataDirectory string `json:"data_directory"`
	}
	_ = json.Unmarshal(body, &cfg)
	if cfg.PortRange.Min != 8000 || cfg.PortRange.Max != 9000 || cfg.DataDirectory == "" {
		t.Errorf("config = %s", body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/system/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var status struct {
		Status    string `json:"status"`
		Instances struct {
			Total int `json:"total"`
		} `json:"instances"`
		Ports struct {
			NextAvailable int `json:"next_available"`
		} `json:"ports"`
	}
	_ = json.Unmarshal(body, &status)
	if status.Status != "ok" || status.Ports.NextAvailable < 8000 {
		t.Errorf("status = %s", body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/system/ports/next", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ports next: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/system/ports/notaport/available", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad port: %d", resp.StatusCode)
	}
}

func TestVersionEndpoints(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/system/versions/installed", nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("installed: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/system/versions/v7.5.0/available", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("available: %d", resp.StatusCode)
	}
	var avail struct {
		Version   string `json:"version"`
		Available bool   `json:"available"`
	}
	_ = json.Unmarshal(body, &avail)
	if avail.Version != "v7.5.0" || avail.Available {
		t.Errorf("avail = %s", body)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/system/versions/latest", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("delete latest: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/system/versions/install", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("install without version: %d", resp.StatusCode)
	}
}

func TestUpdaterEndpoints(t *testing.T) {
	srv := newAPIServer(t, config.Admin{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/system/auto-update/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var status struct {
		IsChecking bool `json:"isChecking"`
	}
	_ = json.Unmarshal(body, &status)
	if status.IsChecking {
		t.Error("isChecking should start false")
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/system/auto-update/instances", nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("instances: %d %s", resp.StatusCode, body)
	}
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	srv := newAPIServer(t, config.Admin{Username: "admin", Password: "pw", SessionTTL: time.Hour})

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: %d", resp.StatusCode)
	}
}

func TestAuthGuardAndLogin(t *testing.T) {
	srv := newAPIServer(t, config.Admin{Username: "admin", Password: "pw", SessionTTL: time.Hour})

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/instances", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="GOWA Manager"` {
		t.Errorf("challenge = %q", got)
	}

	// Basic auth works directly.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/instances", http.NoBody)
	req.SetBasicAuth("admin", "pw")
	basicResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = basicResp.Body.Close()
	if basicResp.StatusCode != http.StatusOK {
		t.Errorf("basic auth: %d", basicResp.StatusCode)
	}

	// Login issues a usable session cookie.
	loginResp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login",
		map[string]string{"username": "admin", "password": "pw"})
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d", loginResp.StatusCode)
	}
	var session *http.Cookie
	for _, c := range loginResp.Cookies() {
		if c.Name == middleware.SessionCookie {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no session cookie set")
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/instances", http.NoBody)
	req.AddCookie(session)
	cookieResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = cookieResp.Body.Close()
	if cookieResp.StatusCode != http.StatusOK {
		t.Errorf("cookie auth: %d", cookieResp.StatusCode)
	}

	// Bad credentials are rejected.
	badResp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login",
		map[string]string{"username": "admin", "password": "nope"})
	if badResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad login: %d", badResp.StatusCode)
	}
}
