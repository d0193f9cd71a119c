package model

import "time"

type AuditEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    uint      `gorm:"index"`                  // internal user id (zero for anonymous callers)
	Username  string    `gorm:"size:64;index"`          // snapshot of username at event time
	EventType string    `gorm:"size:64;not null;index"` // request_blocked, rate_limited, ip_blocked...
	Path      string    `gorm:"size:512"`               // request path
	Method    string    `gorm:"size:16"`                // request method
	RequestID string    `gorm:"size:64"`                // security context correlation id
	Reason    string    `gorm:"size:512"`               // rule name or finding summary
	IP        string    `gorm:"size:45;not null"`       // IPv4/IPv6
	UserAgent string    `gorm:"size:512"`               // user agent string
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (AuditEvent) TableName() string {
	return "audit"
}
