// Package middleware содержит HTTP middleware сервиса кликер-бота.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

// SignatureHeader содержит HMAC-подпись тела запроса.
const SignatureHeader = "X-Clicker-Signature"

// SignatureMiddleware проверяет подпись запросов от доверенных коллабораторов
// (чат-моста и платёжного провайдера).
type SignatureMiddleware struct {
	secretKey []byte
}

// NewSignatureMiddleware создаёт middleware с указанным секретным ключом.
func NewSignatureMiddleware(secret string) *SignatureMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SignatureMiddleware{
		secretKey: key,
	}
}

// Middleware сверяет подпись тела запроса и отклоняет неподписанные запросы.
func (m *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		if !hmac.Equal([]byte(signature), []byte(m.Sign(body))) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Sign возвращает hex-подпись HMAC-SHA256 для указанного тела запроса.
func (m *SignatureMiddleware) Sign(body []byte) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
