package token

import (
	"errors"
	"fmt"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrExpired: token correctamente firmado pero vencido. Es el ÚNICO caso
	// elegible para refresh silencioso; todo lo demás es rechazo duro.
	ErrExpired = errors.New("token: expired")

	// ErrInvalid: firma inválida, malformado, clase equivocada o claims rotos.
	ErrInvalid = errors.New("token: invalid")
)

// VerifyAccess valida firma + expiración de un access token con el secreto
// del tenant. Distingue vencido-pero-auténtico (ErrExpired) de forjado o
// malformado (ErrInvalid); esa distinción gobierna la elegibilidad de refresh.
func VerifyAccess(raw string, secret []byte, iss string) (*AccessClaims, error) {
	var claims AccessClaims
	err := parseInto(raw, secret, iss, &claims)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != UseAccess {
		return nil, fmt.Errorf("%w: wrong token class %q", ErrInvalid, claims.TokenUse)
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sid/sub", ErrInvalid)
	}
	return &claims, nil
}

// VerifyAccessAllowExpired valida la firma pero tolera expiración: devuelve
// los claims y ErrExpired si el token venció. El rotator lo usa para extraer
// el sid del access vencido sin aceptar tokens forjados.
func VerifyAccessAllowExpired(raw string, secret []byte, iss string) (*AccessClaims, error) {
	claims, err := VerifyAccess(raw, secret, iss)
	if err == nil {
		return claims, nil
	}
	if !errors.Is(err, ErrExpired) {
		return nil, err
	}
	// reparse sin validar exp para recuperar claims del token auténtico
	var c AccessClaims
	if perr := parseIntoExpired(raw, secret, iss, &c); perr != nil {
		return nil, perr
	}
	if c.TokenUse != UseAccess || c.SessionID == "" || c.Subject == "" {
		return nil, fmt.Errorf("%w: malformed access claims", ErrInvalid)
	}
	// WithoutClaimsValidation saltea el check de iss; lo exigimos a mano.
	if c.Issuer != iss {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalid)
	}
	return &c, ErrExpired
}

// VerifyRefresh valida un refresh token con el secreto de refresh del tenant.
func VerifyRefresh(raw string, secret []byte, iss string) (*RefreshClaims, error) {
	var claims RefreshClaims
	err := parseInto(raw, secret, iss, &claims)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != UseRefresh {
		return nil, fmt.Errorf("%w: wrong token class %q", ErrInvalid, claims.TokenUse)
	}
	if claims.SessionID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sid/jti", ErrInvalid)
	}
	return &claims, nil
}

func parseInto(raw string, secret []byte, iss string, claims jwtv5.Claims) error {
	_, err := jwtv5.ParseWithClaims(raw, claims,
		func(t *jwtv5.Token) (any, error) { return secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(iss),
		jwtv5.WithExpirationRequired(),
	)
	return mapParseError(err)
}

// parseIntoExpired acepta tokens vencidos pero exige firma e issuer válidos.
func parseIntoExpired(raw string, secret []byte, iss string, claims jwtv5.Claims) error {
	_, err := jwtv5.ParseWithClaims(raw, claims,
		func(t *jwtv5.Token) (any, error) { return secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(iss),
		jwtv5.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// mapParseError colapsa los errores de jwt/v5 a nuestra taxonomía.
// Firma inválida SIEMPRE gana sobre expirado: un token tampered y vencido
// jamás debe verse como "expirado" (habilitaría refresh sobre un forjado).
func mapParseError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid),
		errors.Is(err, jwtv5.ErrTokenMalformed),
		errors.Is(err, jwtv5.ErrTokenUnverifiable),
		errors.Is(err, jwtv5.ErrTokenInvalidIssuer),
		errors.Is(err, jwtv5.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
}
