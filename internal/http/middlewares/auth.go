package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/vendhub/internal/auth"
	"github.com/dropDatabas3/vendhub/internal/http/cookieutil"
	apierrors "github.com/dropDatabas3/vendhub/internal/http/errors"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

const (
	// HeaderTenant identifica al vendor explícitamente; si falta, se
	// resuelve por Host.
	HeaderTenant = "X-Tenant-ID"

	// HeaderFingerprint trae el fingerprint de device que el cliente calculó
	// en el login. Los tokens quedan ligados a ese valor.
	HeaderFingerprint = "X-Device-Fingerprint"
)

// GateRequest arma el auth.Request desde headers y cookies. El access sale
// del Bearer o de la cookie; el refresh sólo de la cookie http-only.
func GateRequest(r *http.Request) auth.Request {
	req := auth.Request{
		TenantSlug:  strings.TrimSpace(r.Header.Get(HeaderTenant)),
		Host:        r.Host,
		Fingerprint: strings.TrimSpace(r.Header.Get(HeaderFingerprint)),
		UserAgent:   r.UserAgent(),
	}
	if ah := strings.TrimSpace(r.Header.Get("Authorization")); ah != "" {
		if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			req.AccessToken = strings.TrimSpace(ah[len("Bearer "):])
		}
	}
	if req.AccessToken == "" {
		if ck, err := r.Cookie(cookieutil.AccessCookie); err == nil {
			req.AccessToken = ck.Value
		}
	}
	if ck, err := r.Cookie(cookieutil.RefreshCookie); err == nil {
		req.RefreshToken = ck.Value
	}
	return req
}

// RequireAuth pasa el request por el gate. En éxito inyecta la identidad en
// el contexto; si hubo rotación silenciosa, re-setea las cookies antes de
// seguir. Cualquier rechazo corta acá con la taxonomía del API.
func RequireAuth(gate *auth.Gate, cookies cookieutil.Config) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := gate.Authenticate(r.Context(), GateRequest(r))
			switch result.Kind {
			case auth.KindAuthenticated:
				if result.Refreshed != nil {
					cookieutil.SetTokens(w, cookies, result.Refreshed)
				}
				next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), result.Identity)))

			case auth.KindTenantUnresolved:
				apierrors.WriteError(w, apierrors.ErrTenantUnresolved)

			case auth.KindConfigurationError:
				// el detalle ya se logueó a error dentro del gate
				apierrors.WriteError(w, apierrors.ErrConfiguration)

			default: // KindUnauthenticated
				logger.From(r.Context()).Info("request rechazado",
					logger.String("reason", result.Reason))
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				apierrors.WriteError(w, apierrors.ErrInvalidToken)
			}
		})
	}
}
