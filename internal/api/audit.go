package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/cardpass-core/internal/audit"
)

// AuditStore records and lists operator actions.
// *audit.SQLiteRepository satisfies it.
type AuditStore interface {
	Create(ctx context.Context, log *audit.AuditLog) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// recordAudit writes an audit entry for a successful operator action.
// Failures are logged and never fail the request.
func (s *Server) recordAudit(ctx context.Context, action, entityType string, readerID int, details map[string]any) {
	if s.audit == nil {
		return
	}

	entry := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		Source:     audit.SourceAPI,
		Details:    details,
	}
	if readerID > 0 {
		entry.EntityID = strconv.Itoa(readerID)
	}
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok && id != "" {
		if entry.Details == nil {
			entry.Details = map[string]any{}
		}
		entry.Details["request_id"] = id
	}

	if err := s.audit.Create(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("failed to record audit log",
			"action", action,
			"entity_type", entityType,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}

// handleListAudit returns audit entries, newest first.
//
// Query parameters:
//   - action, entity_type, entity_id, source: optional exact-match filters
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Source:     q.Get("source"),
	}

	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
