package storage

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/models"
	"github.com/wallet-gateway/internal/types"
)

// pgUniqueViolation is the Postgres error code for unique constraint
// violations; the registrations table carries unique indexes on identity and
// on non-empty usernames.
const pgUniqueViolation = "23505"

// RegistrationRepository handles the registrations table.
type RegistrationRepository struct {
	db *PostgresDB
}

// NewRegistrationRepository creates a new registration repository
func NewRegistrationRepository(db *PostgresDB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Create inserts a registration row. A duplicate identity maps to
// ErrAlreadyRegistered, a duplicate username to ErrUsernameNotAvailable.
func (r *RegistrationRepository) Create(ctx context.Context, reg *models.Registration) error {
	query := `
		INSERT INTO registrations (identity, username)
		VALUES ($1, $2)
		RETURNING id
	`

	err := r.db.Pool().QueryRow(ctx, query, reg.Identity, reg.Username).Scan(&reg.ID)
	if err != nil {
		if constraint := uniqueViolation(err); constraint != "" {
			if constraint == "registrations_username_key" {
				return gwerrors.Wrap(gwerrors.ErrUsernameNotAvailable, err)
			}
			return gwerrors.Wrap(gwerrors.ErrAlreadyRegistered, err)
		}
		return fmt.Errorf("failed to create registration: %w", err)
	}

	return nil
}

// Delete removes the registration of an identity and returns the number of
// rows deleted. The caller decides what zero or more than one row means.
func (r *RegistrationRepository) Delete(ctx context.Context, identity types.Identity) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM registrations WHERE identity = $1`, identity)
	if err != nil {
		return 0, fmt.Errorf("failed to delete registration: %w", err)
	}
	return result.RowsAffected(), nil
}

// Exists checks if an identity is registered
func (r *RegistrationRepository) Exists(ctx context.Context, identity types.Identity) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM registrations WHERE identity = $1)`

	err := r.db.Pool().QueryRow(ctx, query, identity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check registration existence: %w", err)
	}

	return exists, nil
}

// UsernameOf returns the username of an identity, empty when the identity is
// unregistered or has not chosen one.
func (r *RegistrationRepository) UsernameOf(ctx context.Context, identity types.Identity) (string, error) {
	var username string
	query := `SELECT username FROM registrations WHERE identity = $1`

	err := r.db.Pool().QueryRow(ctx, query, identity).Scan(&username)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get username: %w", err)
	}

	return username, nil
}

// IdentityByUsername resolves a username to the registered identity owning
// it; a miss yields ErrUnknownUser.
func (r *RegistrationRepository) IdentityByUsername(ctx context.Context, username string) (types.Identity, error) {
	var identity types.Identity
	query := `SELECT identity FROM registrations WHERE username = $1 AND username <> ''`

	err := r.db.Pool().QueryRow(ctx, query, username).Scan(&identity)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return "", gwerrors.WithMessage(gwerrors.ErrUnknownUser, "no user named %q", username)
		}
		return "", fmt.Errorf("failed to resolve username: %w", err)
	}

	return identity, nil
}

// UsernameTaken reports whether a username belongs to an identity other than
// the given one.
func (r *RegistrationRepository) UsernameTaken(ctx context.Context, username string, except types.Identity) (bool, error) {
	var taken bool
	query := `SELECT EXISTS(SELECT 1 FROM registrations WHERE username = $1 AND identity <> $2)`

	err := r.db.Pool().QueryRow(ctx, query, username, except).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}

	return taken, nil
}

// UpdateUsername persists a username change. The unique index on usernames
// serializes concurrent claims; the loser gets ErrUsernameNotAvailable.
// Updating an unregistered identity is a no-op at this layer.
func (r *RegistrationRepository) UpdateUsername(ctx context.Context, identity types.Identity, username string) error {
	query := `UPDATE registrations SET username = $2 WHERE identity = $1`

	_, err := r.db.Pool().Exec(ctx, query, identity, username)
	if err != nil {
		if uniqueViolation(err) != "" {
			return gwerrors.Wrap(gwerrors.ErrUsernameNotAvailable, err)
		}
		return fmt.Errorf("failed to update username: %w", err)
	}

	return nil
}

// ListIdentities returns all registered identities.
func (r *RegistrationRepository) ListIdentities(ctx context.Context) ([]types.Identity, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT identity FROM registrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var identities []types.Identity
	for rows.Next() {
		var identity types.Identity
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		identities = append(identities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registrations: %w", err)
	}

	return identities, nil
}

// Count returns the total number of registrations.
func (r *RegistrationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM registrations`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

// uniqueViolation returns the violated constraint name when err is a unique
// violation, empty otherwise.
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}
