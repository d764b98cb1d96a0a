// Package handlers implementa los endpoints del API de auth.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/dropDatabas3/vendhub/internal/http/errors"
)

// WriteJSON: respuesta JSON estándar.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodifica el body de forma tolerante (no falla por campos
// desconocidos). Valida Content-Type y limita el body a 1MB.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		apierrors.WriteError(w, apierrors.ErrInvalidJSON.WithDetail("Content-Type debe ser application/json"))
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		apierrors.WriteError(w, apierrors.ErrInvalidJSON)
		return false
	}
	return true
}
