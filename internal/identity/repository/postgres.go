package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"serreconnect/backend/internal/identity/domain"
)

const identityColumns = "id, username, email, password_digest, role, is_active, created_at, updated_at"

// Querier is the subset of pgxpool.Pool the repository uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads and writes the identities table.
type PostgresRepository struct {
	db      Querier
	builder sq.StatementBuilderType
}

// NewPostgresRepository returns an identity repository that uses db for persistence.
func NewPostgresRepository(db Querier) *PostgresRepository {
	return &PostgresRepository{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// FindByLoginKey returns the identity whose email equals the normalized key, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByLoginKey(ctx context.Context, loginKey string) (*domain.Identity, error) {
	key := domain.NormalizeLoginKey(loginKey)
	if key == "" {
		return nil, nil
	}
	return r.findOne(ctx, sq.Eq{"email": key})
}

// FindByID returns the identity for id, or nil if not found.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	if id == "" {
		return nil, nil
	}
	return r.findOne(ctx, sq.Eq{"id": id})
}

func (r *PostgresRepository) findOne(ctx context.Context, where sq.Eq) (*domain.Identity, error) {
	query, args, err := r.builder.Select(identityColumns).From("identities").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select identity sql: %w", err)
	}
	var i domain.Identity
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&i.ID, &i.Username, &i.Email, &i.PasswordDigest, &i.Role, &i.IsActive, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select identity: %w", err)
	}
	return &i, nil
}

// Create validates and inserts i. The identity must have ID set. A duplicate email yields ErrEmailTaken.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	if i.ID == "" {
		return errors.New("identity id is required")
	}
	if err := i.Validate(); err != nil {
		return err
	}
	query, args, err := r.builder.Insert("identities").
		Columns("id", "username", "email", "password_digest", "role", "is_active", "created_at", "updated_at").
		Values(i.ID, i.Username, i.Email, i.PasswordDigest, i.Role, i.IsActive, i.CreatedAt, i.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert identity sql: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}
