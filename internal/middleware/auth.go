package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/GowaManager/internal/config"
)

// SessionCookie is the name of the admin session cookie.
const SessionCookie = "gowa_manager_session"

// authRealm is sent on 401 responses.
const authRealm = `Basic realm="GOWA Manager"`

// AdminAuth guards the management API with a shared credential: HTTP Basic
// on every request, or a signed session cookie issued by the login
// endpoint. When no password is configured, auth is disabled.
type AdminAuth struct {
	cfg    config.Admin
	secret []byte
}

// NewAdminAuth creates the guard. A missing session secret is generated,
// which invalidates outstanding cookies across restarts; Basic auth is
// unaffected.
func NewAdminAuth(cfg config.Admin) *AdminAuth {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	return &AdminAuth{cfg: cfg, secret: secret}
}

// Enabled reports whether a credential is configured at all.
func (a *AdminAuth) Enabled() bool {
	return a.cfg.Password != "" || a.cfg.PasswordHash != ""
}

// Middleware rejects unauthenticated requests with 401 and the Basic
// challenge.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || a.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("WWW-Authenticate", authRealm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "authentication required", "success": false,
		})
	})
}

func (a *AdminAuth) authorized(r *http.Request) bool {
	if user, pass, ok := r.BasicAuth(); ok && a.Verify(user, pass) {
		return true
	}
	if c, err := r.Cookie(SessionCookie); err == nil && a.checkToken(c.Value) {
		return true
	}
	return false
}

// Verify checks the shared credential. The bcrypt hash takes precedence
// over the plaintext password when both are set.
func (a *AdminAuth) Verify(username, password string) bool {
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.cfg.Username)) != 1 {
		return false
	}
	if a.cfg.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.Password)) == 1
}

// IssueCookie returns a session cookie valid for the configured TTL.
func (a *AdminAuth) IssueCookie() *http.Cookie {
	exp := time.Now().Add(a.cfg.SessionTTL).Unix()
	payload := a.cfg.Username + "|" + strconv.FormatInt(exp, 10)
	token := payload + "|" + a.sign(payload)

	return &http.Cookie{
		Name:     SessionCookie,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(token)),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.cfg.SessionTTL.Seconds()),
	}
}

// ClearCookie returns an expired cookie for logout.
func (a *AdminAuth) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
}

// checkToken validates signature and expiry of a session cookie value.
func (a *AdminAuth) checkToken(raw string) bool {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return false
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 3 {
		return false
	}
	payload := parts[0] + "|" + parts[1]
	if !hmac.Equal([]byte(a.sign(payload)), []byte(parts[2])) {
		return false
	}

	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || time.Now().Unix() > exp {
		return false
	}
	return parts[0] == a.cfg.Username
}

func (a *AdminAuth) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	_, _ = fmt.Fprint(mac, payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
