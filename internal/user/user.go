// Package user define el modelo de usuario del user store por tenant y el
// contrato de lectura que consumen login y rotación.
package user

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("user: not found")

// User es el registro de usuario tal como vive en la base del tenant.
type User struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	Role          string
	Locale        string
	PasswordHash  string
	Disabled      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Directory es el read-path de usuarios. El rotator relee role y
// email_verified acá en cada refresh para que los claims no queden stale.
type Directory interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
}

// CreateInput es el alta de un usuario (seed administrativo).
type CreateInput struct {
	Email         string
	EmailVerified bool
	Name          string
	Role          string
	Locale        string
	PasswordHash  string
}
