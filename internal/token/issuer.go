// Package token emite y verifica los pares access/refresh por tenant.
//
// Ambos tokens son HS256 firmados con el secreto simétrico del tenant
// (secretos distintos por clase: filtrar uno no permite forjar el otro).
// El access lleva un snapshot de perfil para evitar un round-trip al
// user store por request; el refresh lleva el mínimo (sid + jti + fp)
// para reducir el blast radius si se filtra.
package token

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	tokens "github.com/dropDatabas3/vendhub/internal/security/token"
)

const (
	// Clases de token; van en el claim "token_use" y el parser las exige.
	UseAccess  = "access"
	UseRefresh = "refresh"

	nonceBytes = 16 // jti aleatorio por token (hex => 32 chars)
)

// UserClaims es el snapshot de perfil que viaja dentro del access token.
type UserClaims struct {
	UserID        string
	Name          string
	Email         string
	EmailVerified bool
	Role          string
	Locale        string
}

// Policy define los TTLs efectivos del par.
type Policy struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Pair es el resultado de una emisión: ambos tokens firmados, sus expiraciones
// absolutas y el nonce de refresh en claro para que el caller lo hashee y
// persista. El nonce de access no se persiste nunca.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RefreshNonce     string
}

// AccessClaims son los claims del access token.
type AccessClaims struct {
	jwtv5.RegisteredClaims

	TokenUse    string `json:"token_use"`
	TenantID    string `json:"tid"`
	SessionID   string `json:"sid"`
	Fingerprint string `json:"fp,omitempty"`

	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Role          string `json:"role,omitempty"`
	Locale        string `json:"locale,omitempty"`
}

// RefreshClaims son los claims (mínimos) del refresh token.
type RefreshClaims struct {
	jwtv5.RegisteredClaims

	TokenUse    string `json:"token_use"`
	TenantID    string `json:"tid"`
	SessionID   string `json:"sid"`
	Fingerprint string `json:"fp,omitempty"`
}

// Issuer firma pares de tokens con los secretos del tenant resuelto.
type Issuer struct {
	Iss string           // claim "iss" (URL base del servicio)
	Now func() time.Time // clock inyectable; default time.Now
}

// NewIssuer crea un Issuer.
func NewIssuer(iss string) *Issuer {
	return &Issuer{Iss: iss, Now: time.Now}
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now().UTC()
	}
	return time.Now().UTC()
}

// IssuePair emite el par access+refresh ligado a una sesión y fingerprint.
// Genera dos nonces independientes; el de refresh se devuelve en claro
// dentro del Pair para su hash+persistencia inmediata.
func (i *Issuer) IssuePair(tenantID, tenantSlug, sessionID, fingerprint string, user UserClaims, accessSecret, refreshSecret []byte, pol Policy) (*Pair, error) {
	return i.issuePair(tenantID, tenantSlug, sessionID, fingerprint, user, accessSecret, refreshSecret, pol, "")
}

// IssuePairWithRefreshNonce emite el par con un nonce de refresh ya elegido.
// El rotator lo usa: el nonce debe persistirse (hasheado) en el store ANTES
// de firmar, así una firma fallida nunca deja un token en vuelo sin registro.
func (i *Issuer) IssuePairWithRefreshNonce(tenantID, tenantSlug, sessionID, fingerprint string, user UserClaims, accessSecret, refreshSecret []byte, pol Policy, refreshNonce string) (*Pair, error) {
	if refreshNonce == "" {
		return nil, errors.New("token: empty refresh nonce")
	}
	return i.issuePair(tenantID, tenantSlug, sessionID, fingerprint, user, accessSecret, refreshSecret, pol, refreshNonce)
}

func (i *Issuer) issuePair(tenantID, tenantSlug, sessionID, fingerprint string, user UserClaims, accessSecret, refreshSecret []byte, pol Policy, refreshNonce string) (*Pair, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("token: missing signing secrets")
	}
	if pol.AccessTTL <= 0 || pol.RefreshTTL <= 0 {
		return nil, errors.New("token: invalid ttl policy")
	}

	now := i.now()
	accessExp := now.Add(pol.AccessTTL)
	refreshExp := now.Add(pol.RefreshTTL)

	accessNonce, err := tokens.GenerateNonce(nonceBytes)
	if err != nil {
		return nil, err
	}
	if refreshNonce == "" {
		refreshNonce, err = tokens.GenerateNonce(nonceBytes)
		if err != nil {
			return nil, err
		}
	}

	ac := AccessClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.Iss,
			Subject:   user.UserID,
			Audience:  jwtv5.ClaimStrings{tenantSlug},
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(accessExp),
			ID:        accessNonce,
		},
		TokenUse:      UseAccess,
		TenantID:      tenantID,
		SessionID:     sessionID,
		Fingerprint:   fingerprint,
		Name:          user.Name,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Role:          user.Role,
		Locale:        user.Locale,
	}

	rc := RefreshClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.Iss,
			Audience:  jwtv5.ClaimStrings{tenantSlug},
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(refreshExp),
			ID:        refreshNonce,
		},
		TokenUse:    UseRefresh,
		TenantID:    tenantID,
		SessionID:   sessionID,
		Fingerprint: fingerprint,
	}

	at := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, ac)
	at.Header["typ"] = "JWT"
	signedAccess, err := at.SignedString(accessSecret)
	if err != nil {
		return nil, err
	}

	rt := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, rc)
	rt.Header["typ"] = "JWT"
	signedRefresh, err := rt.SignedString(refreshSecret)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:      signedAccess,
		RefreshToken:     signedRefresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RefreshNonce:     refreshNonce,
	}, nil
}
