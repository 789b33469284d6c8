package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/GowaManager/internal/domain/instance"
	"github.com/Strob0t/GowaManager/internal/domain/version"
)

// SystemStatus handles GET /api/system/status.
func (h *Handlers) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.System.Status(r.Context())
	if err != nil {
		writeDomainError(w, err, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SystemConfig handles GET /api/system/config.
func (h *Handlers) SystemConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.System.Config())
}

// NextPort handles GET /api/system/ports/next.
func (h *Handlers) NextPort(w http.ResponseWriter, r *http.Request) {
	port, err := h.System.NextPort(r.Context())
	if err != nil {
		writeDomainError(w, err, "no port available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"port": port})
}

// PortAvailable handles GET /api/system/ports/{port}/available.
func (h *Handlers) PortAvailable(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil || port < 1 || port > instance.PortMax {
		writeError(w, http.StatusBadRequest, "invalid port")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"port":      port,
		"available": h.System.PortAvailable(r.Context(), port),
	})
}

// InstalledVersions handles GET /api/system/versions/installed.
func (h *Handlers) InstalledVersions(w http.ResponseWriter, _ *http.Request) {
	installed, err := h.Versions.Installed()
	if err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	if installed == nil {
		installed = []version.Version{}
	}
	writeJSON(w, http.StatusOK, installed)
}

// AvailableVersions handles GET /api/system/versions/available?limit=N.
func (h *Handlers) AvailableVersions(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	available, err := h.Versions.Available(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, available)
}

// InstallVersion handles POST /api/system/versions/install.
func (h *Handlers) InstallVersion(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Version string `json:"version"`
	}](w, r)
	if !ok {
		return
	}
	if req.Version == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	tag, err := h.Versions.Install(r.Context(), req.Version)
	if err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "version " + tag + " installed",
	})
}

// RemoveVersion handles DELETE /api/system/versions/{version}.
func (h *Handlers) RemoveVersion(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "version")
	if err := h.Versions.Remove(tag); err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "version " + tag + " removed",
	})
}

// VersionAvailable handles GET /api/system/versions/{version}/available.
func (h *Handlers) VersionAvailable(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "version")

	path, err := h.Versions.Resolve(tag)
	available := err == nil
	if !available {
		path = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   tag,
		"available": available,
		"path":      path,
	})
}

// VersionUsage handles GET /api/system/versions/usage.
func (h *Handlers) VersionUsage(w http.ResponseWriter, _ *http.Request) {
	usage, err := h.Versions.Usage()
	if err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// CleanupVersions handles POST /api/system/versions/cleanup.
func (h *Handlers) CleanupVersions(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		KeepCount int `json:"keepCount"`
	}](w, r)
	if !ok {
		return
	}

	removed, err := h.Versions.Cleanup(req.KeepCount)
	if err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": strconv.Itoa(len(removed)) + " versions removed",
		"removed": removed,
	})
}

// UpdaterStatus handles GET /api/system/auto-update/status.
func (h *Handlers) UpdaterStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Updater.Status())
}

// UpdaterCheck handles POST /api/system/auto-update/check.
func (h *Handlers) UpdaterCheck(w http.ResponseWriter, r *http.Request) {
	result, err := h.Updater.Check(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UpdaterInstances handles GET /api/system/auto-update/instances.
func (h *Handlers) UpdaterInstances(w http.ResponseWriter, r *http.Request) {
	pinned, err := h.Instances.LatestPinnedRunning(r.Context())
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	if pinned == nil {
		pinned = []instance.Instance{}
	}
	writeJSON(w, http.StatusOK, pinned)
}
