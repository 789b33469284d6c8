// Package proxy forwards user traffic from /<prefix>/<key>/... to the
// instance's child process on 127.0.0.1. The full inbound path (prefix and
// key included) is passed through unchanged; children parse it via their
// base-path flag.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coder/websocket"

	"github.com/Strob0t/GowaManager/internal/domain"
	"github.com/Strob0t/GowaManager/internal/domain/instance"
	"github.com/Strob0t/GowaManager/internal/port/database"
)

// healthProbeTimeout bounds the upstream probe behind /<prefix>/<key>/health.
const healthProbeTimeout = 2 * time.Second

// Handler is the reverse proxy for one prefix.
type Handler struct {
	store  database.Store
	prefix string
	client *http.Client

	// Open upstream WS connections, keyed per client connection so
	// multiple clients of one instance do not trample each other. The
	// instance key level exists for bookkeeping and shutdown.
	wsMu sync.Mutex
	ws   map[string]map[string]*websocket.Conn
}

// New creates the proxy handler.
func New(store database.Store, prefix string) *Handler {
	return &Handler{
		store:  store,
		prefix: prefix,
		client: &http.Client{
			// Upstream requests inherit the client's cancellation via
			// the request context; no global deadline.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		ws: make(map[string]map[string]*websocket.Conn),
	}
}

// Mount registers the proxy routes under /<prefix>.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/"+h.prefix, func(r chi.Router) {
		r.Get("/", h.ListTargets)
		r.Get("/{key}/status", h.TargetStatus)
		r.Get("/{key}/health", h.TargetHealth)
		r.HandleFunc("/{key}/ws", h.WebSocket)
		r.HandleFunc("/{key}", h.Forward)
		r.HandleFunc("/{key}/*", h.Forward)
	})
}

// Target is one entry in the proxy enumeration.
type Target struct {
	InstanceKey  string `json:"instanceKey"`
	InstanceName string `json:"instanceName"`
	Status       string `json:"status"`
	Port         *int   `json:"port"`
	TargetPort   *int   `json:"targetPort"`
	ProxyPath    string `json:"proxyPath"`
}

// ListTargets enumerates all proxy targets.
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	instances, err := h.store.ListInstances(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "failed to list proxy targets", "success": false,
		})
		return
	}

	targets := make([]Target, 0, len(instances))
	for _, inst := range instances {
		targets = append(targets, h.target(&inst))
	}
	writeJSON(w, http.StatusOK, targets)
}

// TargetStatus returns the proxy record for one key.
func (h *Handler) TargetStatus(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.target(inst))
}

// TargetHealth probes the upstream with a short HTTP request. Healthy means
// the child answered anything at all.
func (h *Handler) TargetHealth(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}

	healthy := false
	if inst.Status == instance.StatusRunning && inst.Port != nil {
		probe := &http.Client{Timeout: healthProbeTimeout}
		url := fmt.Sprintf("http://127.0.0.1:%d%s", *inst.Port, instance.BasePath(h.prefix, inst.Key))
		if resp, err := probe.Get(url); err == nil {
			_ = resp.Body.Close()
			healthy = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instanceKey": inst.Key,
		"healthy":     healthy,
		"status":      inst.Status,
	})
}

// Forward proxies one HTTP request to the child.
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if inst.Status != instance.StatusRunning || inst.Port == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "Instance is not running",
			"instanceKey": inst.Key,
			"success":     false,
		})
		return
	}

	upstream := "http://127.0.0.1:" + strconv.Itoa(*inst.Port) + r.URL.Path
	if r.URL.RawQuery != "" {
		upstream += "?" + r.URL.RawQuery
	}

	// Non-GET/HEAD bodies are read fully before forwarding.
	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error": err.Error(), "success": false,
			})
			return
		}
		body = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream, body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": err.Error(), "success": false,
		})
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": err.Error(), "success": false,
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("proxy response copy aborted", "key", inst.Key, "error", err)
	}
}

// lookup resolves the key path parameter. Writes the 404 envelope and
// returns ok=false when the instance does not exist.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*instance.Instance, bool) {
	key := chi.URLParam(r, "key")
	inst, err := h.store.GetInstanceByKey(r.Context(), key)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "Instance not found", "success": false,
		})
		return nil, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "instance lookup failed", "success": false,
		})
		return nil, false
	}
	return inst, true
}

func (h *Handler) target(inst *instance.Instance) Target {
	return Target{
		InstanceKey:  inst.Key,
		InstanceName: inst.Name,
		Status:       string(inst.Status),
		Port:         inst.Port,
		TargetPort:   inst.Port,
		ProxyPath:    instance.BasePath(h.prefix, inst.Key),
	}
}

// hopHeaders are connection-scoped and never forwarded either way.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if hopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}
