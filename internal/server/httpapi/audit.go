package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"serreconnect/backend/internal/audit/domain"
	"serreconnect/backend/internal/auth"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditLister reads audit log entries, newest first.
type AuditLister interface {
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error)
}

// AuditEntry is one row of GET /api/v1/admin/audit.
type AuditEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type auditHandler struct {
	lister AuditLister
}

func (h *auditHandler) list(c *gin.Context) {
	limit, err := queryInt32(c, "limit", defaultAuditLimit)
	if err != nil || limit <= 0 || limit > maxAuditLimit {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", RequestID: requestID(c)})
		return
	}
	offset, err := queryInt32(c, "offset", 0)
	if err != nil || offset < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset", RequestID: requestID(c)})
		return
	}
	logs, err := h.lister.ListByUser(c.Request.Context(), c.Query("user_id"), limit, offset)
	if err != nil {
		abortWithError(c, auth.E("audit.list", auth.KindStoreUnavailable, err))
		return
	}
	out := make([]AuditEntry, 0, len(logs))
	for _, a := range logs {
		out = append(out, AuditEntry{
			ID:        a.ID,
			UserID:    a.UserID,
			SessionID: a.SessionID,
			Action:    a.Action,
			Resource:  a.Resource,
			IP:        a.IP,
			Metadata:  a.Metadata,
			CreatedAt: a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func queryInt32(c *gin.Context, key string, fallback int32) (int32, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	return int32(n), err
}
