package middlewares

import (
	"net/http"
	"runtime/debug"

	apierrors "github.com/dropDatabas3/vendhub/internal/http/errors"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

// WithRecover atrapa panics de los handlers y responde 500 en vez de tirar
// la conexión.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.From(r.Context()).Error("panic en handler",
						logger.Path(r.URL.Path),
						logger.String("panic", toString(rec)),
						logger.String("stack", string(debug.Stack())),
					)
					apierrors.WriteError(w, apierrors.ErrInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}
