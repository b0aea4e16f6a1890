package domain

import "time"

// AuditLog represents an audit event. Subject is the login identifier the event
// concerns, or SentinelSubject when none is known.
type AuditLog struct {
	ID         string
	Subject    string
	AccountKey string
	Action     string
	Resource   string
	IP         string
	Metadata   string
	CreatedAt  time.Time
}
