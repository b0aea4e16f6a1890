package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lab-access/backend/internal/audit/domain"
	auditrepo "lab-access/backend/internal/audit/repository"
)

// SentinelSubject is the subject used for audit events that have no login identifier.
const SentinelSubject = "_system"

// Actions recorded by the provisioning workflow.
const (
	ActionAccountProvisioned      = "account_provisioned"
	ActionProvisioningFailed      = "provisioning_failed"
	ActionProvisioningCompensated = "provisioning_compensated"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, subject, accountKey, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	log         logrus.FieldLogger
	nowF        func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{repo: repo, ipExtractor: ipExtractor, log: log, nowF: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, subject, accountKey, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if subject == "" {
		subject = SentinelSubject
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		Subject:    subject,
		AccountKey: accountKey,
		Action:     action,
		Resource:   resource,
		IP:         ip,
		Metadata:   metadata,
		CreatedAt:  l.nowF().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"action":   action,
			"resource": resource,
		}).Warn("audit: failed to log event")
	}
}
