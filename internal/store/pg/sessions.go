package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	tokens "github.com/dropDatabas3/vendhub/internal/security/token"
	"github.com/dropDatabas3/vendhub/internal/session"
)

// Sessions implementa session.Store sobre la tabla sessions del tenant.
type Sessions struct{ store *Store }

func NewSessions(store *Store) *Sessions { return &Sessions{store: store} }

const sessionCols = `id, tenant_id, user_id, refresh_hash, salt, refresh_expires_at, fingerprint, user_agent, created_at, revoked`

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &s.RefreshHash, &s.Salt,
		&s.RefreshExpiresAt, &s.Fingerprint, &s.UserAgent, &s.CreatedAt, &s.Revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrUnauthorized
		}
		return nil, err
	}
	return &s, nil
}

func (r *Sessions) Create(ctx context.Context, in session.CreateInput) (*session.Session, error) {
	salt, err := tokens.GenerateSalt(16)
	if err != nil {
		return nil, err
	}
	const q = `
		INSERT INTO sessions (id, tenant_id, user_id, refresh_hash, salt, refresh_expires_at, fingerprint, user_agent, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), FALSE)
		RETURNING ` + sessionCols
	id := uuid.NewString()
	hash := tokens.HashNonce(salt, in.RefreshNonce)
	sess, err := scanSession(r.store.pool.QueryRow(ctx, q,
		id, in.TenantID, in.UserID, hash, salt, in.RefreshExpiresAt, in.Fingerprint, in.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("sessions: create: %w", err)
	}

	if in.MaxSessions > 0 {
		if err := r.evictOverCap(ctx, in.UserID, in.MaxSessions); err != nil {
			// best-effort: el login ya tiene su sesión; el tope se vuelve a
			// aplicar en el próximo login
			logger.Named("store.pg").Warn("evicción de sesiones falló",
				logger.UserID(in.UserID), logger.Err(err))
		}
	}
	return sess, nil
}

// evictOverCap borra las sesiones vivas más viejas del usuario que exceden el
// tope. Las vencidas/revocadas no cuentan; las barre el sweeper.
func (r *Sessions) evictOverCap(ctx context.Context, userID string, max int) error {
	const q = `
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			WHERE user_id = $1 AND NOT revoked AND refresh_expires_at > NOW()
			ORDER BY created_at DESC
			OFFSET $2
		)`
	ct, err := r.store.pool.Exec(ctx, q, userID, max)
	if err != nil {
		return err
	}
	if n := ct.RowsAffected(); n > 0 {
		logger.Named("store.pg").Info("sesiones evictadas por tope",
			logger.UserID(userID), logger.Count(int(n)))
	}
	return nil
}

func (r *Sessions) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	const q = `SELECT ` + sessionCols + ` FROM sessions WHERE id = $1`
	return scanSession(r.store.pool.QueryRow(ctx, q, sessionID))
}

// ValidateAndRotate valida el estado de la sesión y hace el swap del hash con
// un UPDATE condicionado al hash viejo. Si dos rotaciones corren con el mismo
// nonce stale, el WHERE garantiza que exactamente una afecta filas; la otra
// recibe ErrRotationConflict.
func (r *Sessions) ValidateAndRotate(ctx context.Context, in session.RotateInput) (*session.Session, error) {
	cur, err := r.Get(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if cur.Revoked || !time.Now().Before(cur.RefreshExpiresAt) {
		return nil, session.ErrUnauthorized
	}
	if cur.Fingerprint != "" && cur.Fingerprint != in.Fingerprint {
		return nil, session.ErrUnauthorized
	}
	presented := tokens.HashNonce(cur.Salt, in.PresentedNonce)
	if !tokens.HashEqual(presented, cur.RefreshHash) {
		return nil, session.ErrRotationConflict
	}

	newSalt, err := tokens.GenerateSalt(16)
	if err != nil {
		return nil, err
	}
	const q = `
		UPDATE sessions
		SET refresh_hash = $1, salt = $2, refresh_expires_at = $3
		WHERE id = $4 AND refresh_hash = $5 AND NOT revoked AND refresh_expires_at > NOW()
		RETURNING ` + sessionCols
	sess, err := scanSession(r.store.pool.QueryRow(ctx, q,
		tokens.HashNonce(newSalt, in.NewNonce), newSalt, in.NewExpiresAt,
		in.SessionID, cur.RefreshHash))
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			// alguien rotó (o revocó) entre nuestro read y el update
			return nil, session.ErrRotationConflict
		}
		return nil, fmt.Errorf("sessions: rotate: %w", err)
	}
	return sess, nil
}

func (r *Sessions) Revoke(ctx context.Context, sessionID string) error {
	const q = `UPDATE sessions SET revoked = TRUE WHERE id = $1`
	ct, err := r.store.pool.Exec(ctx, q, sessionID)
	if err != nil {
		return fmt.Errorf("sessions: revoke: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return session.ErrUnauthorized
	}
	return nil
}

func (r *Sessions) RevokeAll(ctx context.Context, userID string) (int, error) {
	const q = `UPDATE sessions SET revoked = TRUE WHERE user_id = $1 AND NOT revoked`
	ct, err := r.store.pool.Exec(ctx, q, userID)
	if err != nil {
		return 0, fmt.Errorf("sessions: revoke all: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (r *Sessions) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	const q = `DELETE FROM sessions WHERE refresh_expires_at <= $1 OR revoked`
	ct, err := r.store.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("sessions: delete expired: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

var _ session.Store = (*Sessions)(nil)
