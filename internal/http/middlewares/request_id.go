package middlewares

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

const headerRequestID = "X-Request-ID"

// WithRequestID asegura que cada request tenga un id de correlación.
// Se respeta el que manda el cliente (proxies upstream suelen ponerlo);
// si viene vacío se genera uno de 16 bytes random en hex.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get(headerRequestID))
			if rid == "" {
				rid = newRequestID()
			}
			w.Header().Set(headerRequestID, rid)
			next.ServeHTTP(w, r.WithContext(setRequestID(r.Context(), rid)))
		})
	}
}

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
