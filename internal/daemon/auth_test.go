package daemon

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddlewareNoToken(t *testing.T) {
	called := false
	handler := authMiddleware("", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status/rep-1", nil)
	handler(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected handler to be called without a configured token")
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	handler := authMiddleware("secret", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/status/rep-1", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareRejectsWrongToken(t *testing.T) {
	handler := authMiddleware("secret", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status/rep-1", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuthMiddlewareAcceptsToken(t *testing.T) {
	called := false
	handler := authMiddleware("secret", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status/rep-1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	handler(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected handler to be called with the correct token")
	}
}

func TestAuthMiddlewareRejectsTokenPrefix(t *testing.T) {
	handler := authMiddleware("secret", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status/rep-1", nil)
	req.Header.Set("Authorization", "Bearer secre")
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
