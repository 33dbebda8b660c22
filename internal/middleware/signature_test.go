package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSignatureMiddleware_ValidSignature(t *testing.T) {
	m := NewSignatureMiddleware("test-secret")

	body := []byte(`{"user_id":1}`)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true

		got, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("body = %q, want %q after verification", got, body)
		}
	})

	r := httptest.NewRequest(http.MethodPost, "/api/updates", bytes.NewReader(body))
	r.Header.Set(SignatureHeader, m.Sign(body))

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestSignatureMiddleware_MissingSignature(t *testing.T) {
	m := NewSignatureMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/updates", bytes.NewReader([]byte("{}")))

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestSignatureMiddleware_WrongSignature(t *testing.T) {
	m := NewSignatureMiddleware("test-secret")
	other := NewSignatureMiddleware("other-secret")

	body := []byte(`{"user_id":1}`)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/updates", bytes.NewReader(body))
	r.Header.Set(SignatureHeader, other.Sign(body))

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
