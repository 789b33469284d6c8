package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/GowaManager/internal/middleware"
)

// MountRoutes registers the management API on the given chi router. The
// health and login endpoints stay outside the auth guard.
func MountRoutes(r chi.Router, h *Handlers, auth *middleware.AdminAuth) {
	ah := &AuthHandlers{Auth: auth}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/auth/login", ah.Login)
		r.Post("/auth/logout", ah.Logout)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			// Instances
			r.Get("/instances", h.ListInstances)
			r.Post("/instances", h.CreateInstance)
			r.Get("/instances/{id}", h.GetInstance)
			r.Put("/instances/{id}", h.UpdateInstance)
			r.Delete("/instances/{id}", h.DeleteInstance)

			// Lifecycle
			r.Post("/instances/{id}/start", h.StartInstance)
			r.Post("/instances/{id}/stop", h.StopInstance)
			r.Post("/instances/{id}/kill", h.KillInstance)
			r.Post("/instances/{id}/restart", h.RestartInstance)
			r.Get("/instances/{id}/status", h.InstanceStatus)

			// System
			r.Get("/system/status", h.SystemStatus)
			r.Get("/system/config", h.SystemConfig)
			r.Get("/system/ports/next", h.NextPort)
			r.Get("/system/ports/{port}/available", h.PortAvailable)

			// Versions
			r.Get("/system/versions/installed", h.InstalledVersions)
			r.Get("/system/versions/available", h.AvailableVersions)
			r.Post("/system/versions/install", h.InstallVersion)
			r.Get("/system/versions/usage", h.VersionUsage)
			r.Post("/system/versions/cleanup", h.CleanupVersions)
			r.Delete("/system/versions/{version}", h.RemoveVersion)
			r.Get("/system/versions/{version}/available", h.VersionAvailable)

			// Auto-updater
			r.Get("/system/auto-update/status", h.UpdaterStatus)
			r.Post("/system/auto-update/check", h.UpdaterCheck)
			r.Get("/system/auto-update/instances", h.UpdaterInstances)
		})
	})
}
