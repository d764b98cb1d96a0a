package handlers

import (
	"net/http"

	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	"github.com/dropDatabas3/vendhub/internal/security/secretbox"
)

// NewHealthzHandler: liveness plano.
func NewHealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewReadyzHandler: readiness. Exige master key cargable y control plane
// legible; sin eso el servicio no puede autenticar a nadie.
func NewReadyzHandler(provider cp.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		healthy := true

		if secretbox.Ready() {
			checks["secretbox"] = "ok"
		} else {
			checks["secretbox"] = "master key unavailable"
			healthy = false
		}

		if _, err := provider.ListTenants(r.Context()); err != nil {
			checks["control_plane"] = err.Error()
			healthy = false
		} else {
			checks["control_plane"] = "ok"
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		WriteJSON(w, status, map[string]any{"ready": healthy, "checks": checks})
	}
}
