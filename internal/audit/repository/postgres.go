package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"serreconnect/backend/internal/audit/domain"
)

const auditColumns = "id, user_id, session_id, action, resource, ip, metadata, created_at"

// Querier is the subset of pgxpool.Pool the repository uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository reads and writes the audit_logs table.
type PostgresRepository struct {
	db      Querier
	builder sq.StatementBuilderType
}

// NewPostgresRepository returns an audit log repository that uses db for persistence.
func NewPostgresRepository(db Querier) *PostgresRepository {
	return &PostgresRepository{db: db, builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Create persists the audit log. The audit log must have ID set. Empty optional fields are stored as NULL.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	query, args, err := r.builder.Insert("audit_logs").
		Columns("id", "user_id", "session_id", "action", "resource", "ip", "metadata", "created_at").
		Values(a.ID, nullable(a.UserID), nullable(a.SessionID), a.Action, a.Resource, a.IP, nullable(a.Metadata), a.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit sql: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByUser returns audit logs for userID (all users when empty), newest first, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	q := r.builder.Select(auditColumns).From("audit_logs").OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).Offset(uint64(offset))
	if userID != "" {
		q = q.Where(sq.Eq{"user_id": userID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list audit sql: %w", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var userIDCol, sessionID, metaCol *string
		if err := rows.Scan(&a.ID, &userIDCol, &sessionID, &a.Action, &a.Resource, &a.IP, &metaCol, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		a.UserID, a.SessionID, a.Metadata = deref(userIDCol), deref(sessionID), deref(metaCol)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
