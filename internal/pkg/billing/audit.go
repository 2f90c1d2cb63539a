package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
	"github.com/ManuelReschke/SignalFox/internal/pkg/verifier"
	"github.com/gofiber/fiber/v2/log"
)

// AuditEntry describes one inbound notification as far as it was understood.
type AuditEntry struct {
	Provider       string
	Event          string
	Reference      string
	Outcome        verifier.Outcome
	ProviderTxnID  string
	SignatureValid bool
	Payload        []byte
}

// EntryFromNotification fills an entry from a verified notification.
func EntryFromNotification(n *verifier.Notification) AuditEntry {
	return AuditEntry{
		Provider:       n.Provider,
		Event:          n.Event,
		Reference:      n.Reference,
		Outcome:        n.Outcome,
		ProviderTxnID:  n.ProviderTxnID,
		SignatureValid: true,
		Payload:        n.RawPayload,
	}
}

// AuditLog writes the append-only webhook attempt log.
type AuditLog struct {
	repo     repository.WebhookAttemptRepository
	archiver ArchiveScheduler
	now      func() time.Time
}

func NewAuditLog(repo repository.WebhookAttemptRepository, archiver ArchiveScheduler) *AuditLog {
	return &AuditLog{repo: repo, archiver: archiver, now: time.Now}
}

func (a *AuditLog) Processed(ctx context.Context, entry AuditEntry) (*models.WebhookAttempt, error) {
	at := a.now().UTC()
	attempt := a.build(entry)
	attempt.Processed = true
	attempt.ProcessedAt = &at
	return attempt, a.repo.Create(ctx, attempt)
}

func (a *AuditLog) Ignored(ctx context.Context, entry AuditEntry, reason string) (*models.WebhookAttempt, error) {
	attempt := a.build(entry)
	attempt.Ignored = true
	attempt.Reason = reason
	return attempt, a.repo.Create(ctx, attempt)
}

// Errored records a failed attempt and schedules its payload for archival.
func (a *AuditLog) Errored(ctx context.Context, entry AuditEntry, code string) (*models.WebhookAttempt, error) {
	attempt := a.build(entry)
	attempt.Error = code
	if err := a.repo.Create(ctx, attempt); err != nil {
		return nil, err
	}
	if a.archiver != nil && len(attempt.PayloadJSON) > 0 {
		if err := a.archiver.ScheduleArchive(ctx, attempt); err != nil {
			log.Warnf("[Audit] Failed to schedule payload archive for attempt %d: %v", attempt.ID, err)
		}
	}
	return attempt, nil
}

var ErrAttemptNotFound = apperror.NotFound("attempt_not_found", "webhook attempt not found")

func (a *AuditLog) Get(ctx context.Context, id uint) (*models.WebhookAttempt, error) {
	attempt, err := a.repo.GetByID(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, apperror.Internal("attempt_lookup_failed", err)
	}
	return attempt, nil
}

func (a *AuditLog) List(ctx context.Context, filter repository.WebhookAttemptFilter) ([]models.WebhookAttempt, error) {
	attempts, err := a.repo.List(ctx, filter)
	if err != nil {
		return nil, apperror.Internal("attempt_list_failed", err)
	}
	return attempts, nil
}

// Resolved marks an errored attempt as handled after a successful replay.
func (a *AuditLog) Resolved(ctx context.Context, attemptID uint) error {
	return a.repo.MarkProcessed(ctx, attemptID, a.now().UTC())
}

func (a *AuditLog) build(entry AuditEntry) *models.WebhookAttempt {
	return &models.WebhookAttempt{
		Provider:       entry.Provider,
		Event:          truncate(entry.Event, 100),
		Reference:      truncate(entry.Reference, 64),
		Outcome:        string(entry.Outcome),
		ProviderTxnID:  truncate(entry.ProviderTxnID, 191),
		SignatureValid: entry.SignatureValid,
		PayloadJSON:    string(entry.Payload),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
