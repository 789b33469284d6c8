package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/GowaManager/internal/domain/instance"
	"github.com/Strob0t/GowaManager/internal/service"
)

// Handlers bundles the services behind the management API.
type Handlers struct {
	Instances *service.InstanceService
	Versions  *service.VersionService
	Updater   *service.Updater
	System    *service.SystemService
}

// ListInstances handles GET /api/instances.
func (h *Handlers) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.Instances.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	if instances == nil {
		instances = []instance.Instance{}
	}
	writeJSON(w, http.StatusOK, instances)
}

// GetInstance handles GET /api/instances/{id}.
func (h *Handlers) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	inst, err := h.Instances.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// CreateInstance handles POST /api/instances.
func (h *Handlers) CreateInstance(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[instance.CreateRequest](w, r)
	if !ok {
		return
	}
	inst, err := h.Instances.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// UpdateInstance handles PUT /api/instances/{id}.
func (h *Handlers) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[instance.UpdateRequest](w, r)
	if !ok {
		return
	}
	inst, err := h.Instances.Update(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// DeleteInstance handles DELETE /api/instances/{id}.
func (h *Handlers) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Instances.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "instance deleted",
	})
}

// StartInstance handles POST /api/instances/{id}/start.
func (h *Handlers) StartInstance(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Instances.Start)
}

// StopInstance handles POST /api/instances/{id}/stop.
func (h *Handlers) StopInstance(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Instances.Stop)
}

// KillInstance handles POST /api/instances/{id}/kill.
func (h *Handlers) KillInstance(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Instances.Kill)
}

// RestartInstance handles POST /api/instances/{id}/restart.
func (h *Handlers) RestartInstance(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Instances.Restart)
}

// InstanceStatus handles GET /api/instances/{id}/status.
func (h *Handlers) InstanceStatus(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.Instances.Status)
}

// lifecycle runs one engine operation and writes the status report.
func (h *Handlers) lifecycle(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id int64) (*instance.StatusReport, error),
) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	report, err := op(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
