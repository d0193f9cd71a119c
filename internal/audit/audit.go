package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hrkit/secgate/model"
)

var auditRepo AuditEventRepository
var initOnce sync.Once

// Initialize installs the event sink. Before initialization every Record
// call is a no-op, so request handling never depends on a database.
func Initialize(repo AuditEventRepository) {
	initOnce.Do(func() {
		auditRepo = repo
	})
}

const (
	EventTypeRequestBlocked  = "request_blocked"
	EventTypeRateLimited     = "rate_limited"
	EventTypeIPBlocked       = "ip_blocked"
	EventTypeCSRFRejected    = "csrf_rejected"
	EventTypeLoginSuccess    = "login_success"
	EventTypeLoginFailure    = "login_failure"
	EventTypePasswordChanged = "password_changed"
)

// RequestRecord describes a request-scoped security event.
type RequestRecord struct {
	UserID    uint
	Username  string
	IP        string
	Path      string
	Method    string
	UserAgent string
	RequestID string
	Reason    string
}

func record(ctx context.Context, eventType string, rec RequestRecord) {
	if auditRepo == nil {
		return
	}
	event := &model.AuditEvent{
		UserID:    rec.UserID,
		Username:  rec.Username,
		EventType: eventType,
		Path:      rec.Path,
		Method:    rec.Method,
		RequestID: rec.RequestID,
		Reason:    rec.Reason,
		IP:        rec.IP,
		UserAgent: rec.UserAgent,
	}
	if err := auditRepo.RecordEvent(ctx, event); err != nil {
		slog.Error("Failed to record audit event", "eventType", eventType, "error", err)
	}
}

func RecordRequestBlocked(ctx context.Context, rec RequestRecord) {
	record(ctx, EventTypeRequestBlocked, rec)
}

func RecordRateLimited(ctx context.Context, rec RequestRecord) {
	record(ctx, EventTypeRateLimited, rec)
}

func RecordIPBlocked(ctx context.Context, rec RequestRecord) {
	record(ctx, EventTypeIPBlocked, rec)
}

func RecordCSRFRejected(ctx context.Context, rec RequestRecord) {
	record(ctx, EventTypeCSRFRejected, rec)
}

func RecordLogin(ctx context.Context, success bool, rec RequestRecord) {
	eventType := EventTypeLoginFailure
	if success {
		eventType = EventTypeLoginSuccess
	}
	record(ctx, eventType, rec)
}

func RecordPasswordChanged(ctx context.Context, rec RequestRecord) {
	record(ctx, EventTypePasswordChanged, rec)
}
