// Package auth implementa el gate de autenticación que cruza todo request
// protegido y el rotator de refresh tokens.
package auth

import (
	"errors"
	"time"
)

// Kind discrimina el resultado del gate. Es una variante etiquetada: los
// handlers hacen switch exhaustivo en vez de null-checkear campos sueltos.
type Kind int

const (
	// KindAuthenticated: identidad verificada; Refreshed != nil si hubo
	// rotación silenciosa y el transport debe re-setear cookies.
	KindAuthenticated Kind = iota

	// KindUnauthenticated: 401 grueso. Reason es SOLO para logs server-side;
	// el cliente nunca ve por qué (expirado, forjado y fp-mismatch son
	// indistinguibles desde afuera).
	KindUnauthenticated

	// KindTenantUnresolved: el request no mapea a ningún vendor (400-class).
	KindTenantUnresolved

	// KindConfigurationError: secretos indescifrables, store caído, policy
	// rota (500-class). Se loguea a error; al cliente nunca va el detalle.
	KindConfigurationError
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticated:
		return "authenticated"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindTenantUnresolved:
		return "tenant_unresolved"
	case KindConfigurationError:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// Identity es la identidad verificada que consumen los handlers.
type Identity struct {
	TenantID      string
	TenantSlug    string
	UserID        string
	SessionID     string
	Email         string
	EmailVerified bool
	Name          string
	Role          string
	Locale        string
}

// RefreshedTokens es el par nuevo tras una rotación; el transport lo propaga
// como cookies secure/http-only.
type RefreshedTokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Result es el resultado del gate. Exactamente uno de los caminos aplica
// según Kind.
type Result struct {
	Kind      Kind
	Identity  *Identity
	Refreshed *RefreshedTokens
	Reason    string // server-side only
	Err       error  // detalle para TenantUnresolved / ConfigurationError
}

func Authenticated(id *Identity, refreshed *RefreshedTokens) Result {
	return Result{Kind: KindAuthenticated, Identity: id, Refreshed: refreshed}
}

func Unauthenticated(reason string) Result {
	return Result{Kind: KindUnauthenticated, Reason: reason}
}

func TenantUnresolved(err error) Result {
	return Result{Kind: KindTenantUnresolved, Err: err}
}

func ConfigurationError(err error) Result {
	return Result{Kind: KindConfigurationError, Err: err}
}

var (
	// ErrConfiguration marca fallos de infraestructura/config durante la
	// rotación. Jamás debe degradar a un 401: un blip de infra no puede
	// desloguear usuarios.
	ErrConfiguration = errors.New("auth: configuration error")

	// ErrDesynchronized: el store ya rotó el nonce pero el resto del camino
	// falló. El par viejo ya no existe; al usuario le toca re-login.
	ErrDesynchronized = errors.New("auth: session desynchronized")
)
