package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUnknownUser = errors.New("unknown user")

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

type User struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Directory resolves an already-authenticated actor id to a user record.
// The caller is responsible for authentication; this is lookup only.
type Directory interface {
	Resolve(ctx context.Context, id string) (*User, error)
}

type PgDirectory struct{ DB *pgxpool.Pool }

func (d *PgDirectory) Resolve(ctx context.Context, id string) (*User, error) {
	row := d.DB.QueryRow(ctx, `
		SELECT id, full_name, role FROM users WHERE id = $1 AND is_active`, id)
	var u User
	err := row.Scan(&u.ID, &u.FullName, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
