package http

import (
	"net/http"

	"github.com/Strob0t/GowaManager/internal/middleware"
)

// AuthHandlers serves the session login/logout endpoints.
type AuthHandlers struct {
	Auth *middleware.AdminAuth
}

// Login handles POST /api/auth/login: verifies the shared credential and
// sets the session cookie.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}](w, r)
	if !ok {
		return
	}

	if !h.Auth.Verify(req.Username, req.Password) {
		w.Header().Set("WWW-Authenticate", `Basic realm="GOWA Manager"`)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	http.SetCookie(w, h.Auth.IssueCookie())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Logout handles POST /api/auth/logout: clears the session cookie.
func (h *AuthHandlers) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, h.Auth.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
