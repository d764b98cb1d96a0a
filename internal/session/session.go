// Package session define el registro persistido de sesiones de login por
// tenant y el contrato de rotación atómica del refresh nonce.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized es deliberadamente uniforme: "no existe", "nonce
	// equivocado", "revocada", "vencida" y "fingerprint distinto" son
	// indistinguibles para el caller (no regalar un oráculo). La causa real
	// se loguea server-side.
	ErrUnauthorized = errors.New("session: unauthorized")

	// ErrRotationConflict: el hash presentado no coincide con el almacenado
	// (nonce equivocado, o una rotación concurrente ya lo consumió). Envuelve
	// ErrUnauthorized: hacia el cliente se ve idéntico; server-side se loguea
	// distinto.
	ErrRotationConflict = fmt.Errorf("session: rotation conflict: %w", ErrUnauthorized)
)

// Session es una sesión de login (un device/browser de un usuario bajo un tenant).
type Session struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenantId"`
	UserID           string    `json:"userId"`
	RefreshHash      string    `json:"refreshHash"` // sha256(salt||nonce) hex; nunca el nonce en claro
	Salt             string    `json:"salt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	Fingerprint      string    `json:"fingerprint"`
	UserAgent        string    `json:"userAgent,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	Revoked          bool      `json:"revoked"`
}

// Live reporta si la sesión sigue siendo válida a un instante dado.
func (s *Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.RefreshExpiresAt)
}

// CreateInput: datos para crear la sesión en el login.
type CreateInput struct {
	TenantID         string
	UserID           string
	Fingerprint      string
	UserAgent        string
	RefreshNonce     string // en claro; el store lo hashea con sal fresca
	RefreshExpiresAt time.Time

	// MaxSessions es el tope de sesiones concurrentes del tenant (0 = sin tope).
	// Al excederlo se evictan las más viejas (FIFO por creación).
	MaxSessions int
}

// RotateInput: datos para validar y rotar el refresh nonce.
type RotateInput struct {
	SessionID      string
	PresentedNonce string
	Fingerprint    string
	NewNonce       string
	NewExpiresAt   time.Time
}

// Store es el único dueño del write-path de la colección de sesiones.
type Store interface {
	// Create persiste la sesión y aplica la evicción FIFO si el usuario
	// excede el tope. La evicción es best-effort: su fallo no aborta el login.
	Create(ctx context.Context, in CreateInput) (*Session, error)

	// Get devuelve la sesión por id, o ErrUnauthorized si no existe.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// ValidateAndRotate exige: existe, hash(salt||nonce) coincide exacto, no
	// revocada, no vencida, fingerprint coincide (si la sesión registró uno).
	// En éxito reemplaza hash+expiry de forma ATÓMICA condicionada al hash
	// viejo: de dos rotaciones concurrentes con el mismo nonce stale, exactamente
	// una gana; la otra recibe ErrRotationConflict.
	ValidateAndRotate(ctx context.Context, in RotateInput) (*Session, error)

	// Revoke marca la sesión como revocada (logout).
	Revoke(ctx context.Context, sessionID string) error

	// RevokeAll revoca todas las sesiones del usuario ("log out everywhere").
	RevokeAll(ctx context.Context, userID string) (int, error)

	// DeleteExpired barre sesiones vencidas. Lo llama el sweeper periódico.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
