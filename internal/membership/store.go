// internal/membership/store.go
package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const userColumns = `id, id_rol, nombre, apellidos, genero, correo, telefono, foto, creado_en`

// LoadUser reads a user through any sqlx queryer, so callers can use it
// inside their own transaction.
func LoadUser(ctx context.Context, q sqlx.QueryerContext, id int64) (*User, error) {
	user := &User{}
	err := sqlx.GetContext(ctx, q, user, `SELECT `+userColumns+` FROM usuarios WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return user, nil
}

// LoadUserForUpdate is LoadUser with a row lock held until tx ends.
func LoadUserForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*User, error) {
	user := &User{}
	err := tx.GetContext(ctx, user, `SELECT `+userColumns+` FROM usuarios WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user %d: %w", id, err)
	}
	return user, nil
}

// LoadCredential returns the password hash of a user.
func LoadCredential(ctx context.Context, q sqlx.QueryerContext, id int64) (*Credential, error) {
	cred := &Credential{}
	err := sqlx.GetContext(ctx, q, cred, `SELECT id, correo, contrasenya FROM usuarios WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load credential of user %d: %w", id, err)
	}
	return cred, nil
}

func loadCredentialByEmail(ctx context.Context, q sqlx.QueryerContext, email string) (*Credential, error) {
	cred := &Credential{}
	err := sqlx.GetContext(ctx, q, cred, `SELECT id, correo, contrasenya FROM usuarios WHERE correo = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
