package auth

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/vendhub/internal/session"
)

// CurrentSession devuelve el registro de la sesión autenticada tal como lo
// ve el data plane del tenant. Es el read-path de introspección: pasa por
// el store decorado (cache read-through cuando el tenant tiene cache), a
// diferencia de la rotación, que siempre va al store de verdad.
// Errores: session.ErrUnauthorized si la sesión no existe; ErrConfiguration
// si el store del tenant no se pudo abrir.
func (r *Rotator) CurrentSession(ctx context.Context, tenantSlug, sessionID string) (*session.Session, error) {
	store, err := r.Sessions.For(ctx, tenantSlug)
	if err != nil {
		return nil, fmt.Errorf("%w: session store: %v", ErrConfiguration, err)
	}
	return store.Get(ctx, sessionID)
}
