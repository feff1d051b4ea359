package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"whalescope/internal/config"
)

func adminTestServer(secret string) *Server {
	return &Server{cfg: &config.Config{AdminJWTSecret: secret}}
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestAdminOnlyPassThroughWithoutSecret(t *testing.T) {
	t.Parallel()

	s := adminTestServer("")
	rec := httptest.NewRecorder()
	s.adminOnly(okHandler)(rec, httptest.NewRequest(http.MethodPost, "/v1/wallets", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestAdminOnlyRejectsMissingAndBadTokens(t *testing.T) {
	t.Parallel()

	s := adminTestServer("test-secret")
	h := s.adminOnly(okHandler)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/wallets", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d", rec.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/wallets", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	h(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status=%d", rec.Code)
	}

	// Token signed with a different secret.
	wrong, err := jwt.New(jwt.SigningMethodHS256).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	r = httptest.NewRequest(http.MethodPost, "/v1/wallets", nil)
	r.Header.Set("Authorization", "Bearer "+wrong)
	rec = httptest.NewRecorder()
	h(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status=%d", rec.Code)
	}
}

func TestAdminOnlyAcceptsSignedToken(t *testing.T) {
	t.Parallel()

	s := adminTestServer("test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/v1/wallets", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.adminOnly(okHandler)(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}
