package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/app/repository"
	"github.com/ManuelReschke/SignalFox/internal/pkg/archive"
	"github.com/ManuelReschke/SignalFox/internal/pkg/mail"
)

// NotifyProcessor delivers notify_user jobs by email.
type NotifyProcessor struct {
	users  repository.UserRepository
	sender mail.Sender
}

func NewNotifyProcessor(users repository.UserRepository, sender mail.Sender) *NotifyProcessor {
	return &NotifyProcessor{users: users, sender: sender}
}

func (p *NotifyProcessor) Handle(ctx context.Context, job *Job) error {
	payload, err := NotifyUserPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: bad notify payload: %v", ErrPermanent, err)
	}

	user, err := p.users.GetByID(ctx, payload.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return fmt.Errorf("%w: user %d not found", ErrPermanent, payload.UserID)
		}
		return err
	}
	if !user.IsActive() {
		log.Debugf("[Notify] Skipping %s for inactive user %d", payload.Kind, user.ID)
		return nil
	}

	data := make(map[string]string, len(payload.Data)+1)
	for k, v := range payload.Data {
		data[k] = v
	}
	data["name"] = user.Name

	subject, body, err := mail.RenderNotification(payload.Kind, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return p.sender.Send(ctx, user.Email, subject, body)
}

// ArchiveProcessor copies the raw body of an audit entry to object storage.
type ArchiveProcessor struct {
	attempts repository.WebhookAttemptRepository
	archiver *archive.Archiver
}

func NewArchiveProcessor(attempts repository.WebhookAttemptRepository, archiver *archive.Archiver) *ArchiveProcessor {
	return &ArchiveProcessor{attempts: attempts, archiver: archiver}
}

func (p *ArchiveProcessor) Handle(ctx context.Context, job *Job) error {
	payload, err := ArchivePayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("%w: bad archive payload: %v", ErrPermanent, err)
	}

	attempt, err := p.attempts.GetByID(ctx, payload.AttemptID)
	if err != nil {
		if repository.IsNotFound(err) {
			return fmt.Errorf("%w: webhook attempt %d not found", ErrPermanent, payload.AttemptID)
		}
		return err
	}

	_, err = p.archiver.Archive(ctx, attempt)
	return err
}
