package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/vendhub/internal/user"
)

// Users implementa user.Directory sobre la tabla users del tenant.
type Users struct{ store *Store }

func NewUsers(store *Store) *Users { return &Users{store: store} }

const userCols = `id, email, email_verified, name, role, locale, password_hash, disabled, created_at, updated_at`

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Name, &u.Role,
		&u.Locale, &u.PasswordHash, &u.Disabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("users: %w", err)
	}
	return &u, nil
}

func (r *Users) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1`
	return scanUser(r.store.pool.QueryRow(ctx, q, email))
}

func (r *Users) GetByID(ctx context.Context, id string) (*user.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE id = $1`
	return scanUser(r.store.pool.QueryRow(ctx, q, id))
}

// Create inserta un usuario. Lo usa el seed administrativo (vendhubctl),
// no el camino de autenticación.
func (r *Users) Create(ctx context.Context, in user.CreateInput) (*user.User, error) {
	role := in.Role
	if role == "" {
		role = "customer"
	}
	const q = `
		INSERT INTO users (email, email_verified, name, role, locale, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userCols
	return scanUser(r.store.pool.QueryRow(ctx, q,
		in.Email, in.EmailVerified, in.Name, role, in.Locale, in.PasswordHash))
}

var _ user.Directory = (*Users)(nil)
