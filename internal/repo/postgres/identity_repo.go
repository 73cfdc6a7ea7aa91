package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// IdentityRepository is the credential store. Finders return (nil, nil) when nothing matches.
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.Identity) (*domain.Identity, error)
	FindByID(ctx context.Context, id string) (*domain.Identity, error)
	FindByEmail(ctx context.Context, email string) (*domain.Identity, error)
	FindByPhone(ctx context.Context, phone string) (*domain.Identity, error)
	Save(ctx context.Context, identity *domain.Identity) (*domain.Identity, error)
	Delete(ctx context.Context, id string) error
	ListByRole(ctx context.Context, role domain.Role, limit, offset int) ([]domain.Identity, error)
	ExistsWithRole(ctx context.Context, role domain.Role) (bool, error)
}

// DBTX is the query surface the repository needs. *pgxpool.Pool satisfies it.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type identityRepository struct {
	db DBTX
}

func NewIdentityRepository(db DBTX) IdentityRepository {
	return &identityRepository{db: db}
}

const identityCols = `id::text, first_name, last_name, email, phone_number, password_hash, role, otp, otp_expiry, is_verified, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*domain.Identity, error) {
	var (
		u    domain.Identity
		role string
	)
	if err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash,
		&role, &u.OTP, &u.OTPExpiry, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := domain.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("identity %s: %w", u.ID, err)
	}
	u.Role = parsed
	return &u, nil
}

func (r *identityRepository) Create(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	const q = `
		INSERT INTO identities (id, first_name, last_name, email, phone_number, password_hash, role, otp, otp_expiry, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + identityCols

	id := identity.ID
	if id == "" {
		id = uuid.NewString()
	}
	role := identity.Role
	if role == "" {
		role = domain.RoleUser
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanIdentity(r.db.QueryRow(ctx, q,
		id, identity.FirstName, identity.LastName, identity.Email, identity.Phone, identity.PasswordHash,
		role.String(), identity.OTP, identity.OTPExpiry, identity.IsVerified,
	))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return u, nil
}

func (r *identityRepository) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.findOne(ctx, `SELECT `+identityCols+` FROM identities WHERE id = $1`, id)
}

func (r *identityRepository) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityCols+` FROM identities WHERE email = $1`, email)
}

func (r *identityRepository) FindByPhone(ctx context.Context, phone string) (*domain.Identity, error) {
	return r.findOne(ctx, `SELECT `+identityCols+` FROM identities WHERE phone_number = $1`, phone)
}

func (r *identityRepository) findOne(ctx context.Context, q string, arg any) (*domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanIdentity(r.db.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// Save overwrites every mutable column. Last write wins.
func (r *identityRepository) Save(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	const q = `
		UPDATE identities
		SET
			first_name = $2,
			last_name = $3,
			email = $4,
			phone_number = $5,
			password_hash = $6,
			role = $7,
			otp = $8,
			otp_expiry = $9,
			is_verified = $10,
			updated_at = now()
		WHERE id = $1
		RETURNING ` + identityCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := scanIdentity(r.db.QueryRow(ctx, q,
		identity.ID, identity.FirstName, identity.LastName, identity.Email, identity.Phone, identity.PasswordHash,
		identity.Role.String(), identity.OTP, identity.OTPExpiry, identity.IsVerified,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	return u, nil
}

func (r *identityRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	const q = `DELETE FROM identities WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *identityRepository) ListByRole(ctx context.Context, role domain.Role, limit, offset int) ([]domain.Identity, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	const q = `
		SELECT ` + identityCols + `
		FROM identities
		WHERE role = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, q, role.String(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	identities := []domain.Identity{}
	for rows.Next() {
		u, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, *u)
	}
	return identities, rows.Err()
}

func (r *identityRepository) ExistsWithRole(ctx context.Context, role domain.Role) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM identities WHERE role = $1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var exists bool
	err := r.db.QueryRow(ctx, q, role.String()).Scan(&exists)
	return exists, err
}

// mapWriteError turns unique violations into domain.ErrConflict naming the field.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "identities_email_key":
			return fmt.Errorf("email: %w", domain.ErrConflict)
		case "identities_phone_number_key":
			return fmt.Errorf("phoneNumber: %w", domain.ErrConflict)
		default:
			return domain.ErrConflict
		}
	}
	return err
}
