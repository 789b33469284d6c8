package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/GowaManager/internal/config"
)

func adminCfg() config.Admin {
	return config.Admin{
		Username:   "admin",
		Password:   "s3cret",
		SessionTTL: time.Hour,
	}
}

func protected(a *AdminAuth) http.Handler {
	return a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRejectsWithoutCredentials(t *testing.T) {
	a := NewAdminAuth(adminCfg())

	req := httptest.NewRequest(http.MethodGet, "/api/instances", http.NoBody)
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="GOWA Manager"` {
		t.Errorf("challenge = %q", got)
	}
}

func TestBasicAuthAccepted(t *testing.T) {
	a := NewAdminAuth(adminCfg())

	req := httptest.NewRequest(http.MethodGet, "/api/instances", http.NoBody)
	req.SetBasicAuth("admin", "s3cret")
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBasicAuthWrongPassword(t *testing.T) {
	a := NewAdminAuth(adminCfg())

	req := httptest.NewRequest(http.MethodGet, "/api/instances", http.NoBody)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestSessionCookieAccepted(t *testing.T) {
	a := NewAdminAuth(adminCfg())
	cookie := a.IssueCookie()

	req := httptest.NewRequest(http.MethodGet, "/api/instances", http.NoBody)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTamperedCookieRejected(t *testing.T) {
	a := NewAdminAuth(adminCfg())
	cookie := a.IssueCookie()
	cookie.Value += "x"

	req := httptest.NewRequest(http.MethodGet, "/api/instances", http.NoBody)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCookieFromOtherSecretRejected(t *testing.T) {
	a := NewAdminAuth(adminCfg())
	b := NewAdminAuth(adminCfg()) // different generated secret
	cookie := b.IssueCookie()

	req := httptest.NewRequest(http.MethodGet, "/api/instances", http.NoBody)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDisabledWithoutPassword(t *testing.T) {
	a := NewAdminAuth(config.Admin{Username: "admin"})

	req := httptest.NewRequest(http.MethodGet, "/api/instances", http.NoBody)
	rec := httptest.NewRecorder()
	protected(a).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, auth should be disabled", rec.Code)
	}
}

func TestBcryptHashTakesPrecedence(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("fromhash"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAdminAuth(config.Admin{
		Username:     "admin",
		Password:     "plaintext",
		PasswordHash: string(hash),
		SessionTTL:   time.Hour,
	})

	if !a.Verify("admin", "fromhash") {
		t.Error("hash credential rejected")
	}
	if a.Verify("admin", "plaintext") {
		t.Error("plaintext accepted although a hash is configured")
	}
}
