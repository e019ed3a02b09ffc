package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"serreconnect/backend/internal/session/domain"
)

const (
	sessionsTable   = "sessions"
	sessionColumns  = "session_id, user_id, is_active, last_activity, created_at"
	uniqueViolation = "23505"
	maxCreateTries  = 3
)

// Querier is the subset of pgxpool.Pool the repository uses; pgxmock pools satisfy it too.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores sessions in the sessions table. session_id carries a unique
// constraint, and touch/invalidate are single conditional UPDATE statements.
type PostgresRepository struct {
	db      Querier
	builder sq.StatementBuilderType
	newID   func() string
}

// NewPostgresRepository returns a session repository backed by db.
func NewPostgresRepository(db Querier) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		newID:   uuid.NewString,
	}
}

// Create inserts an active session. A duplicate id (unique violation) is retried with a new id.
func (r *PostgresRepository) Create(ctx context.Context, userID string, at time.Time) (*domain.Session, error) {
	at = at.UTC()
	var lastErr error
	for range maxCreateTries {
		s := &domain.Session{ID: r.newID(), UserID: userID, IsActive: true, LastActivity: at, CreatedAt: at}
		query, args, err := r.builder.Insert(sessionsTable).
			Columns("session_id", "user_id", "is_active", "last_activity", "created_at").
			Values(s.ID, s.UserID, s.IsActive, s.LastActivity, s.CreatedAt).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build insert session sql: %w", err)
		}
		_, err = r.db.Exec(ctx, query, args...)
		if err == nil {
			return s, nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
			return nil, fmt.Errorf("insert session: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("insert session: %w", lastErr)
}

// GetActive returns the session if it exists and is active, or nil.
func (r *PostgresRepository) GetActive(ctx context.Context, id string) (*domain.Session, error) {
	query, args, err := r.builder.Select(sessionColumns).
		From(sessionsTable).
		Where("session_id = ? AND is_active", id).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}
	s, err := scanSession(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// Touch advances last_activity in one statement guarded by is_active. GREATEST keeps the
// value from moving backwards when concurrent requests commit out of order.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	query, args, err := r.builder.Update(sessionsTable).
		Set("last_activity", sq.Expr("GREATEST(last_activity, ?)", at.UTC())).
		Where("session_id = ? AND is_active", id).
		Suffix("RETURNING " + sessionColumns).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build touch session sql: %w", err)
	}
	s, err := scanSession(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return s, nil
}

// Invalidate flips is_active to false if it is still true.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string) (bool, error) {
	query, args, err := r.builder.Update(sessionsTable).
		Set("is_active", false).
		Where("session_id = ? AND is_active", id).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build invalidate session sql: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("invalidate session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// scanSession returns (nil, nil) for pgx.ErrNoRows.
func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.IsActive, &s.LastActivity, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.LastActivity = s.LastActivity.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}
